package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/oksasatya/student-records-api/internal/domain/entity"
	"github.com/oksasatya/student-records-api/internal/domain/repository"
)

type StudentRepository struct {
	q querier
}

func selectStudents() sq.SelectBuilder {
	return psql.Select(
		"s.id", "s.account_id", "s.enrollment", "s.national_id", "s.tax_id", "s.birth_date",
		"s.age", "s.phone", "s.occupation", "s.photo_url", "s.created_at", "s.updated_at",
		"a.username", "a.email", "a.first_name", "a.last_name", "a.avatar_url", "a.is_active",
		"a.created_at", "a.updated_at",
	).
		From("students s").
		Join("accounts a ON a.id = s.account_id")
}

func scanStudent(row pgx.Row) (*entity.Student, error) {
	s := &entity.Student{Account: &entity.Account{}}
	a := s.Account
	err := row.Scan(
		&s.ID, &s.AccountID, &s.Enrollment, &s.NationalID, &s.TaxID, &s.BirthDate,
		&s.Age, &s.Phone, &s.Occupation, &s.PhotoURL, &s.CreatedAt, &s.UpdatedAt,
		&a.Username, &a.Email, &a.FirstName, &a.LastName, &a.AvatarURL, &a.IsActive,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ID = s.AccountID
	return s, nil
}

func (r *StudentRepository) Create(ctx context.Context, s *entity.Student) error {
	query, args, err := psql.Insert("students").
		Columns("account_id", "enrollment", "national_id", "tax_id", "birth_date", "age", "phone", "occupation", "photo_url").
		Values(s.AccountID, s.Enrollment, s.NationalID, s.TaxID, s.BirthDate, s.Age, s.Phone, s.Occupation, s.PhotoURL).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert student: %w", err)
	}
	if err := r.q.QueryRow(ctx, query, args...).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

func (r *StudentRepository) GetByID(ctx context.Context, id int64) (*entity.Student, error) {
	query, args, err := selectStudents().Where(sq.Eq{"s.id": id}).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select student: %w", err)
	}
	s, err := scanStudent(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select student %d: %w", id, err)
	}
	return s, nil
}

func (r *StudentRepository) ListActive(ctx context.Context) ([]entity.Student, error) {
	query, args, err := selectStudents().Where(sq.Eq{"a.is_active": true}).OrderBy("s.id ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list students: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	students := make([]entity.Student, 0)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return students, nil
}

func (r *StudentRepository) Update(ctx context.Context, s *entity.Student) error {
	s.UpdatedAt = time.Now()

	query, args, err := psql.Update("students").
		SetMap(map[string]any{
			"enrollment":  s.Enrollment,
			"national_id": s.NationalID,
			"tax_id":      s.TaxID,
			"birth_date":  s.BirthDate,
			"age":         s.Age,
			"phone":       s.Phone,
			"occupation":  s.Occupation,
			"photo_url":   s.PhotoURL,
			"updated_at":  s.UpdatedAt,
		}).
		Where(sq.Eq{"id": s.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update student: %w", err)
	}

	res, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update student %d: %w", s.ID, err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.StudentRepository = (*StudentRepository)(nil)
