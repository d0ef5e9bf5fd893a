package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/model"
)

// CallStore implements repository.CallStore. The map lock is held only for
// lookups and inserts; mutations take the per-call lock, so work on
// different calls never serializes.
type CallStore struct {
	mu    sync.RWMutex
	calls map[string]*callSlot
}

type callSlot struct {
	mu   sync.Mutex
	call model.Call
}

// NewCallStore constructs an empty call store.
func NewCallStore() *CallStore {
	return &CallStore{calls: make(map[string]*callSlot)}
}

// Create inserts c, failing with errs.ErrConflict on a duplicate id.
func (s *CallStore) Create(_ context.Context, c model.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[c.ID]; exists {
		return fmt.Errorf("call %s: %w", c.ID, errs.ErrConflict)
	}
	s.calls[c.ID] = &callSlot{call: c}
	return nil
}

// Get loads a call by id.
func (s *CallStore) Get(_ context.Context, id string) (model.Call, error) {
	slot, err := s.slot(id)
	if err != nil {
		return model.Call{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.call, nil
}

// Update runs fn on a copy of the call under its lock and keeps the copy
// only when fn succeeds.
func (s *CallStore) Update(_ context.Context, id string, fn func(c *model.Call) error) error {
	slot, err := s.slot(id)
	if err != nil {
		return err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	c := slot.call
	if err := fn(&c); err != nil {
		return err
	}
	slot.call = c
	return nil
}

// Count returns the number of calls.
func (s *CallStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

func (s *CallStore) slot(id string) (*callSlot, error) {
	s.mu.RLock()
	slot, ok := s.calls[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("call %s: %w", id, errs.ErrNotFound)
	}
	return slot, nil
}
