package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/student-records-api/internal/domain/entity"
	"github.com/oksasatya/student-records-api/internal/domain/repository"
)

func newAccount(email string) *entity.Account {
	return &entity.Account{Username: email, Email: email, FirstName: "Ana", LastName: "Lopez", IsActive: true}
}

func TestAccountsRejectDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Accounts().Create(ctx, newAccount("a@x.com")))
	err := s.Accounts().Create(ctx, newAccount("a@x.com"))
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx repository.Store) error {
		a := newAccount("a@x.com")
		require.NoError(t, tx.Accounts().Create(ctx, a))
		g, err := tx.Accounts().GetOrCreateGroup(ctx, "alumno")
		require.NoError(t, err)
		require.NoError(t, tx.Accounts().AddMember(ctx, g.ID, a.ID))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Accounts().GetByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	groups, err := s.Accounts().Groups(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestWithTxCommits(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var accountID int64
	err := s.WithTx(ctx, func(tx repository.Store) error {
		a := newAccount("a@x.com")
		if err := tx.Accounts().Create(ctx, a); err != nil {
			return err
		}
		accountID = a.ID
		g, err := tx.Accounts().GetOrCreateGroup(ctx, "alumno")
		if err != nil {
			return err
		}
		return tx.Accounts().AddMember(ctx, g.ID, a.ID)
	})
	require.NoError(t, err)

	a, err := s.Accounts().GetByID(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alumno"}, a.Groups)
}

func TestDeleteAccountCascadesToStudent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	a := newAccount("a@x.com")
	require.NoError(t, s.Accounts().Create(ctx, a))
	st := &entity.Student{AccountID: a.ID, Enrollment: "2024001"}
	require.NoError(t, s.Students().Create(ctx, st))

	require.NoError(t, s.Accounts().Delete(ctx, a.ID))

	_, err := s.Students().GetByID(ctx, st.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestListActiveSkipsInactiveAndSortsByID(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	var ids []int64
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		a := newAccount(email)
		require.NoError(t, s.Accounts().Create(ctx, a))
		st := &entity.Student{AccountID: a.ID}
		require.NoError(t, s.Students().Create(ctx, st))
		ids = append(ids, st.ID)
	}

	b, err := s.Accounts().GetByEmail(ctx, "b@x.com")
	require.NoError(t, err)
	b.IsActive = false
	require.NoError(t, s.Accounts().Update(ctx, b))

	list, err := s.Students().ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[0], list[0].ID)
	assert.Equal(t, ids[2], list[1].ID)
	assert.Equal(t, "c@x.com", list[1].Account.Email)
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	injected := errors.New("disk full")

	s.FailOn("accounts.Create", injected)
	assert.ErrorIs(t, s.Accounts().Create(ctx, newAccount("a@x.com")), injected)

	s.FailOn("accounts.Create", nil)
	assert.NoError(t, s.Accounts().Create(ctx, newAccount("a@x.com")))
}

func TestConcurrentTxCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const n = 16
	var (
		wg  sync.WaitGroup
		ok  atomic.Int32
		dup atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx repository.Store) error {
				return tx.Accounts().Create(ctx, newAccount("same@x.com"))
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, repository.ErrDuplicateEmail):
				dup.Add(1)
			}
		}()
		// toggling faults while transactions run must not race
		s.FailOn("accounts.Delete", errors.New("blocked"))
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), dup.Load())
}
