package repository

import (
	"context"

	"github.com/oksasatya/student-records-api/internal/domain/entity"
)

// AccountRepository defines the persistence operations for accounts and role groups.
type AccountRepository interface {
	Create(ctx context.Context, a *entity.Account) error
	GetByID(ctx context.Context, id int64) (*entity.Account, error)
	GetByEmail(ctx context.Context, email string) (*entity.Account, error)
	Update(ctx context.Context, a *entity.Account) error
	// Delete removes the account; its student profile goes with it.
	Delete(ctx context.Context, id int64) error

	GetOrCreateGroup(ctx context.Context, name string) (*entity.Group, error)
	AddMember(ctx context.Context, groupID, accountID int64) error
	Groups(ctx context.Context, accountID int64) ([]string, error)
}
