// Package memory provides an in-process repository.Store used for local
// development (STORAGE_DRIVER=memory) and tests. Transactions are serialized
// and work on a copy of the data that replaces the committed state on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oksasatya/student-records-api/internal/domain/entity"
	"github.com/oksasatya/student-records-api/internal/domain/repository"
)

type state struct {
	accounts map[int64]entity.Account
	groups   map[string]entity.Group
	members  map[int64]map[int64]struct{} // account id -> group ids
	students map[int64]entity.Student
	audit    []repository.AuditEntry

	nextAccount int64
	nextGroup   int64
	nextStudent int64
}

func newState() *state {
	return &state{
		accounts: map[int64]entity.Account{},
		groups:   map[string]entity.Group{},
		members:  map[int64]map[int64]struct{}{},
		students: map[int64]entity.Student{},
	}
}

func (st *state) clone() *state {
	c := &state{
		accounts:    make(map[int64]entity.Account, len(st.accounts)),
		groups:      make(map[string]entity.Group, len(st.groups)),
		members:     make(map[int64]map[int64]struct{}, len(st.members)),
		students:    make(map[int64]entity.Student, len(st.students)),
		audit:       append([]repository.AuditEntry(nil), st.audit...),
		nextAccount: st.nextAccount,
		nextGroup:   st.nextGroup,
		nextStudent: st.nextStudent,
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.groups {
		c.groups[k] = v
	}
	for k, v := range st.members {
		m := make(map[int64]struct{}, len(v))
		for g := range v {
			m[g] = struct{}{}
		}
		c.members[k] = m
	}
	for k, v := range st.students {
		c.students[k] = v
	}
	return c
}

func (st *state) groupNames(accountID int64) []string {
	names := make([]string, 0, len(st.members[accountID]))
	for _, g := range st.groups {
		if _, ok := st.members[accountID][g.ID]; ok {
			names = append(names, g.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (st *state) emailTaken(email string, except int64) bool {
	for id, a := range st.accounts {
		if id != except && (a.Email == email || a.Username == email) {
			return true
		}
	}
	return false
}

type db struct {
	mu        sync.RWMutex
	committed *state
	faults    map[string]error
}

// Store is a repository.Store kept in memory.
type Store struct {
	db *db
	tx *state
}

func NewStore() *Store {
	return &Store{db: &db{committed: newState(), faults: map[string]error{}}}
}

// FailOn makes the named operation (for example "accounts.AddMember") return err.
// Passing a nil err clears the fault.
func (s *Store) FailOn(op string, err error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err == nil {
		delete(s.db.faults, op)
		return
	}
	s.db.faults[op] = err
}

// AuditEntries returns the committed audit trail.
func (s *Store) AuditEntries() []repository.AuditEntry {
	var out []repository.AuditEntry
	s.read(func(st *state) { out = append(out, st.audit...) })
	return out
}

func (s *Store) read(fn func(st *state)) {
	if s.tx != nil {
		fn(s.tx)
		return
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	fn(s.db.committed)
}

func (s *Store) write(op string, fn func(st *state) error) error {
	if s.tx != nil {
		if err := s.db.faults[op]; err != nil {
			return err
		}
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := s.db.faults[op]; err != nil {
		return err
	}
	work := s.db.committed.clone()
	if err := fn(work); err != nil {
		return err
	}
	s.db.committed = work
	return nil
}

func (s *Store) Accounts() repository.AccountRepository { return &accounts{s: s} }
func (s *Store) Students() repository.StudentRepository { return &students{s: s} }
func (s *Store) Audit() repository.AuditRepository      { return &audit{s: s} }

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	work := s.db.committed.clone()
	if err := fn(&Store{db: s.db, tx: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.committed = work
	return nil
}

type accounts struct{ s *Store }

func (r *accounts) Create(_ context.Context, a *entity.Account) error {
	return r.s.write("accounts.Create", func(st *state) error {
		if st.emailTaken(a.Email, 0) || st.emailTaken(a.Username, 0) {
			return repository.ErrDuplicateEmail
		}
		st.nextAccount++
		now := time.Now()
		a.ID, a.CreatedAt, a.UpdatedAt = st.nextAccount, now, now
		stored := *a
		stored.Groups = nil
		st.accounts[a.ID] = stored
		return nil
	})
}

func (r *accounts) GetByID(_ context.Context, id int64) (*entity.Account, error) {
	var out *entity.Account
	r.s.read(func(st *state) {
		if a, ok := st.accounts[id]; ok {
			a.Groups = st.groupNames(id)
			out = &a
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (r *accounts) GetByEmail(_ context.Context, email string) (*entity.Account, error) {
	var out *entity.Account
	r.s.read(func(st *state) {
		for id, a := range st.accounts {
			if a.Email == email {
				a.Groups = st.groupNames(id)
				out = &a
				return
			}
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (r *accounts) Update(_ context.Context, a *entity.Account) error {
	return r.s.write("accounts.Update", func(st *state) error {
		if _, ok := st.accounts[a.ID]; !ok {
			return repository.ErrNotFound
		}
		if st.emailTaken(a.Email, a.ID) || st.emailTaken(a.Username, a.ID) {
			return repository.ErrDuplicateEmail
		}
		a.UpdatedAt = time.Now()
		stored := *a
		stored.Groups = nil
		st.accounts[a.ID] = stored
		return nil
	})
}

func (r *accounts) Delete(_ context.Context, id int64) error {
	return r.s.write("accounts.Delete", func(st *state) error {
		if _, ok := st.accounts[id]; !ok {
			return repository.ErrNotFound
		}
		delete(st.accounts, id)
		delete(st.members, id)
		for sid, s := range st.students {
			if s.AccountID == id {
				delete(st.students, sid)
			}
		}
		return nil
	})
}

func (r *accounts) GetOrCreateGroup(_ context.Context, name string) (*entity.Group, error) {
	var out entity.Group
	err := r.s.write("accounts.GetOrCreateGroup", func(st *state) error {
		g, ok := st.groups[name]
		if !ok {
			st.nextGroup++
			g = entity.Group{ID: st.nextGroup, Name: name, CreatedAt: time.Now()}
			st.groups[name] = g
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *accounts) AddMember(_ context.Context, groupID, accountID int64) error {
	return r.s.write("accounts.AddMember", func(st *state) error {
		if _, ok := st.accounts[accountID]; !ok {
			return repository.ErrNotFound
		}
		if st.members[accountID] == nil {
			st.members[accountID] = map[int64]struct{}{}
		}
		st.members[accountID][groupID] = struct{}{}
		return nil
	})
}

func (r *accounts) Groups(_ context.Context, accountID int64) ([]string, error) {
	var out []string
	r.s.read(func(st *state) { out = st.groupNames(accountID) })
	return out, nil
}

type students struct{ s *Store }

func withAccount(st *state, s entity.Student) entity.Student {
	if a, ok := st.accounts[s.AccountID]; ok {
		a.Groups = st.groupNames(a.ID)
		s.Account = &a
	}
	return s
}

func (r *students) Create(_ context.Context, s *entity.Student) error {
	return r.s.write("students.Create", func(st *state) error {
		if _, ok := st.accounts[s.AccountID]; !ok {
			return repository.ErrNotFound
		}
		for _, existing := range st.students {
			if existing.AccountID == s.AccountID {
				return repository.ErrDuplicateEmail
			}
		}
		st.nextStudent++
		now := time.Now()
		s.ID, s.CreatedAt, s.UpdatedAt = st.nextStudent, now, now
		stored := *s
		stored.Account = nil
		st.students[s.ID] = stored
		return nil
	})
}

func (r *students) GetByID(_ context.Context, id int64) (*entity.Student, error) {
	var out *entity.Student
	r.s.read(func(st *state) {
		if s, ok := st.students[id]; ok {
			s = withAccount(st, s)
			out = &s
		}
	})
	if out == nil {
		return nil, repository.ErrNotFound
	}
	return out, nil
}

func (r *students) ListActive(_ context.Context) ([]entity.Student, error) {
	out := make([]entity.Student, 0)
	r.s.read(func(st *state) {
		for _, s := range st.students {
			if a, ok := st.accounts[s.AccountID]; ok && a.IsActive {
				out = append(out, withAccount(st, s))
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *students) Update(_ context.Context, s *entity.Student) error {
	return r.s.write("students.Update", func(st *state) error {
		if _, ok := st.students[s.ID]; !ok {
			return repository.ErrNotFound
		}
		s.UpdatedAt = time.Now()
		stored := *s
		stored.Account = nil
		st.students[s.ID] = stored
		return nil
	})
}

type audit struct{ s *Store }

func (r *audit) Record(_ context.Context, e repository.AuditEntry) error {
	return r.s.write("audit.Record", func(st *state) error {
		st.audit = append(st.audit, e)
		return nil
	})
}

var _ repository.Store = (*Store)(nil)
