package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/store"
)

func txn(user, ref string, date time.Time) *api.Transaction {
	return &api.Transaction{
		UserID:       user,
		Type:         api.Debit,
		Amount:       decimal.RequireFromString("10.00"),
		Account:      "1234",
		Counterparty: "SHOP (" + ref + "@upi)",
		Date:         date,
		Reference:    ref,
		SourceID:     "msg-" + ref,
	}
}

func TestSaveAndFind(t *testing.T) {
	ctx := context.Background()
	s := New()

	in := txn("u1", "0001", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	saved, err := s.Save(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.Empty(t, in.ID, "input must not be mutated")

	found, err := s.FindByReference(ctx, "u1", "0001")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)

	_, err = s.FindByReference(ctx, "u2", "0001")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindByReference(ctx, "u1", "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	_, err := s.Save(ctx, txn("u1", "42", date))
	require.NoError(t, err)

	_, err = s.Save(ctx, txn("u1", "42", date))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.Save(ctx, txn("u2", "42", date))
	assert.NoError(t, err, "references are unique per user")
}

func TestSaveConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	saved := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Save(ctx, txn("u1", "7", date)); err == nil {
				mu.Lock()
				saved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, saved)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := New()

	older := txn("u1", "1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := txn("u1", "2", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	credit := txn("u1", "3", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	credit.Type = api.Credit
	other := txn("u2", "4", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	for _, in := range []*api.Transaction{older, newer, credit, other} {
		_, err := s.Save(ctx, in)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, "u1", store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"2", "3", "1"}, []string{all[0].Reference, all[1].Reference, all[2].Reference})

	credits, err := s.List(ctx, "u1", store.Filter{Type: api.Credit})
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "3", credits[0].Reference)
}

func TestUpdateCategory(t *testing.T) {
	ctx := context.Background()
	s := New()

	saved, err := s.Save(ctx, txn("u1", "9", time.Now()))
	require.NoError(t, err)

	require.NoError(t, s.UpdateCategory(ctx, "u1", saved.ID, api.Dining))
	found, err := s.FindByReference(ctx, "u1", "9")
	require.NoError(t, err)
	assert.Equal(t, api.Dining, found.Category)

	assert.ErrorIs(t, s.UpdateCategory(ctx, "u2", saved.ID, api.Dining), store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateCategory(ctx, "u1", "missing", api.Dining), store.ErrNotFound)
}

func TestReferences(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, ref := range []string{"a", "b"} {
		_, err := s.Save(ctx, txn("u1", ref, time.Now()))
		require.NoError(t, err)
	}
	_, err := s.Save(ctx, txn("u2", "c", time.Now()))
	require.NoError(t, err)

	refs, err := s.References(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, refs)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Save(ctx, txn("u1", "1", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}
