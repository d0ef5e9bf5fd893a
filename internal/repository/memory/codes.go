package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/model"
	"github.com/and161185/callrelay/internal/repository"
)

// CodeStore implements repository.CodeStore. One mutex covers the map; every
// operation is a short critical section and never calls out.
type CodeStore struct {
	mu      sync.Mutex
	entries map[string]model.Verification
}

// NewCodeStore constructs an empty code store.
func NewCodeStore() *CodeStore {
	return &CodeStore{entries: make(map[string]model.Verification)}
}

// Put stores v, replacing any previous entry for the same number.
func (s *CodeStore) Put(_ context.Context, v model.Verification) error {
	v.CodeHash = append([]byte(nil), v.CodeHash...)
	s.mu.Lock()
	s.entries[v.PhoneNumber] = v
	s.mu.Unlock()
	return nil
}

// Resolve runs fn against the entry for phone while holding the lock, so
// check-and-consume is a single step.
func (s *CodeStore) Resolve(_ context.Context, phone string, fn repository.ResolveFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries[phone]
	if !ok {
		return fmt.Errorf("verification for %s: %w", phone, errs.ErrNotFound)
	}
	drop, err := fn(v)
	if drop {
		delete(s.entries, phone)
	}
	return err
}

// DeleteExpired removes entries expired at now.
func (s *CodeStore) DeleteExpired(_ context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, v := range s.entries {
		if v.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Count returns the number of pending entries.
func (s *CodeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
