package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/oksasatya/student-records-api/internal/domain/repository"
)

type AuditRepository struct {
	q querier
}

func (r *AuditRepository) Record(ctx context.Context, e repository.AuditEntry) error {
	md, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	if e.Metadata == nil {
		md = []byte("{}")
	}

	var accountID pgtype.Int8
	if e.AccountID != 0 {
		accountID = pgtype.Int8{Int64: e.AccountID, Valid: true}
	}

	query, args, err := psql.Insert("audit_logs").
		Columns("account_id", "email", "action", "ip", "user_agent", "metadata").
		Values(accountID, text(e.Email), e.Action, text(e.IP), text(e.UserAgent), md).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit: %w", err)
	}
	if _, err := r.q.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func text(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

var _ repository.AuditRepository = (*AuditRepository)(nil)
