package repository

import (
	"context"

	"github.com/oksasatya/student-records-api/internal/domain/entity"
)

// StudentRepository defines the persistence operations for student profiles.
// Returned students carry their owning Account.
type StudentRepository interface {
	Create(ctx context.Context, s *entity.Student) error
	GetByID(ctx context.Context, id int64) (*entity.Student, error)
	// ListActive returns profiles whose account is active, ordered by profile id.
	ListActive(ctx context.Context) ([]entity.Student, error)
	Update(ctx context.Context, s *entity.Student) error
}
