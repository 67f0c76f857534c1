// Package memory provides an in-process transaction store.
//
// Data is lost when the process exits. It backs the CLI when no database is
// configured and serves as the store in tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ArionMiles/upiledger/pkg/api"
	"github.com/ArionMiles/upiledger/pkg/store"
)

type key struct {
	userID    string
	reference string
}

// Store is a store.Store held in memory. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	byRef map[key]*api.Transaction
	byID  map[string]*api.Transaction

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		byRef: make(map[key]*api.Transaction),
		byID:  make(map[string]*api.Transaction),
		now:   time.Now,
	}
}

// FindByReference implements store.Store.
func (s *Store) FindByReference(ctx context.Context, userID, reference string) (*api.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	txn, ok := s.byRef[key{userID, reference}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

// Save implements store.Store.
func (s *Store) Save(ctx context.Context, txn *api.Transaction) (*api.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if txn.Reference == "" {
		return nil, errors.New("transaction reference is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{txn.UserID, txn.Reference}
	if _, exists := s.byRef[k]; exists {
		return nil, store.ErrDuplicate
	}

	saved := *txn
	saved.ID = uuid.NewString()
	saved.CreatedAt = s.now().UTC()

	s.byRef[k] = &saved
	s.byID[saved.ID] = &saved

	out := saved
	return &out, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, userID string, f store.Filter) ([]*api.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Transaction
	for k, txn := range s.byRef {
		if k.userID != userID || !f.Match(txn) {
			continue
		}
		cp := *txn
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Reference > result[j].Reference
	})

	return result, nil
}

// UpdateCategory implements store.Store.
func (s *Store) UpdateCategory(ctx context.Context, userID, id string, category api.Category) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.byID[id]
	if !ok || txn.UserID != userID {
		return store.ErrNotFound
	}
	txn.Category = category
	return nil
}

// References implements store.Store.
func (s *Store) References(ctx context.Context, userID string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make(map[string]struct{})
	for k := range s.byRef {
		if k.userID == userID {
			refs[k.reference] = struct{}{}
		}
	}
	return refs, nil
}
