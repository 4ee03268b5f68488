package repository

import "context"

// Store groups the repositories that must change together.
// WithTx runs fn against a Store bound to a single transaction; it commits when
// fn returns nil and rolls back otherwise.
type Store interface {
	Accounts() AccountRepository
	Students() StudentRepository
	Audit() AuditRepository
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// AuditRepository records who did what to which student.
type AuditRepository interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditEntry is a single audit_logs row.
type AuditEntry struct {
	AccountID int64
	Email     string
	Action    string
	IP        string
	UserAgent string
	Metadata  map[string]any
}
