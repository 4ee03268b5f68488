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

var accountColumns = []string{
	"id", "username", "email", "first_name", "last_name", "password",
	"avatar_url", "is_active", "created_at", "updated_at",
}

type AccountRepository struct {
	q querier
}

func (r *AccountRepository) Create(ctx context.Context, a *entity.Account) error {
	query, args, err := psql.Insert("accounts").
		Columns("username", "email", "first_name", "last_name", "password", "avatar_url", "is_active").
		Values(a.Username, a.Email, a.FirstName, a.LastName, a.Password, a.AvatarURL, a.IsActive).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account: %w", err)
	}

	if err := r.q.QueryRow(ctx, query, args...).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err, "accounts_email_key", "accounts_username_key") {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*entity.Account, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return r.getOne(ctx, sq.Eq{"email": email})
}

func (r *AccountRepository) getOne(ctx context.Context, where sq.Eq) (*entity.Account, error) {
	query, args, err := psql.Select(accountColumns...).From("accounts").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account: %w", err)
	}

	a := &entity.Account{}
	err = r.q.QueryRow(ctx, query, args...).Scan(&a.ID, &a.Username, &a.Email, &a.FirstName, &a.LastName,
		&a.Password, &a.AvatarURL, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	if a.Groups, err = r.Groups(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AccountRepository) Update(ctx context.Context, a *entity.Account) error {
	a.UpdatedAt = time.Now()

	query, args, err := psql.Update("accounts").
		SetMap(map[string]any{
			"username":   a.Username,
			"email":      a.Email,
			"first_name": a.FirstName,
			"last_name":  a.LastName,
			"password":   a.Password,
			"avatar_url": a.AvatarURL,
			"is_active":  a.IsActive,
			"updated_at": a.UpdatedAt,
		}).
		Where(sq.Eq{"id": a.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update account: %w", err)
	}

	res, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err, "accounts_email_key", "accounts_username_key") {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("update account: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("accounts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete account: %w", err)
	}
	res, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetOrCreateGroup upserts the group by name and returns the stored row.
func (r *AccountRepository) GetOrCreateGroup(ctx context.Context, name string) (*entity.Group, error) {
	query, args, err := psql.Insert("groups").
		Columns("name").
		Values(name).
		Suffix("ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name RETURNING id, name, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build upsert group: %w", err)
	}

	g := &entity.Group{}
	if err := r.q.QueryRow(ctx, query, args...).Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert group %q: %w", name, err)
	}
	return g, nil
}

func (r *AccountRepository) AddMember(ctx context.Context, groupID, accountID int64) error {
	query, args, err := psql.Insert("account_groups").
		Columns("account_id", "group_id").
		Values(accountID, groupID).
		Suffix("ON CONFLICT (account_id, group_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build add member: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (r *AccountRepository) Groups(ctx context.Context, accountID int64) ([]string, error) {
	query, args, err := psql.Select("g.name").
		From("groups g").
		Join("account_groups ag ON ag.group_id = g.id").
		Where(sq.Eq{"ag.account_id": accountID}).
		OrderBy("g.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select groups: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan groups: %w", err)
	}
	return names, nil
}

var _ repository.AccountRepository = (*AccountRepository)(nil)
