// Package memory implements an in-process domain.StateStore.
// Used by tests and by `store.backend = "memory"`.
package memory

import (
	"context"
	"sync"

	"github.com/tandem-app/tandem/internal/domain"
)

// Store keeps values in a map guarded by a RWMutex.
type Store struct {
	mu    sync.RWMutex
	items map[string][]byte
	fail  error
}

var _ domain.StateStore = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{items: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail != nil {
		return nil, false, s.fail
	}
	v, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.SetMany(ctx, map[string][]byte{key: value})
}

// SetMany validates every key before writing any of them.
func (s *Store) SetMany(ctx context.Context, entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for k := range entries {
		if k == "" {
			return domain.ErrInvalidKey
		}
	}
	for k, v := range entries {
		s.items[k] = append([]byte(nil), v...)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fail
}

func (s *Store) Close() error { return nil }

// Fail makes every subsequent call return err (nil restores service).
// Lets tests simulate an unavailable store.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
