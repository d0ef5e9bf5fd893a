package repository

import (
	"context"

	"github.com/and161185/callrelay/internal/model"
)

// CallStore keeps call records keyed by call identifier.
type CallStore interface {
	// Create inserts c. Returns errs.ErrConflict if the id is taken.
	Create(ctx context.Context, c model.Call) error
	// Get loads a call by id.
	Get(ctx context.Context, id string) (model.Call, error)
	// Update runs fn under the call's own lock. Changes fn makes to the record
	// are kept only when fn returns nil.
	Update(ctx context.Context, id string, fn func(c *model.Call) error) error
	// Count returns the number of calls.
	Count() int
}

// Mailbox is the per-phone-number queue of pending relay events.
type Mailbox interface {
	// Enqueue appends ev to the tail of phone's queue.
	Enqueue(ctx context.Context, phone string, ev model.Event)
	// Drain returns and clears phone's queue in enqueue order.
	Drain(ctx context.Context, phone string) []model.Event
	// Wait drains phone's queue, blocking until it is non-empty or ctx is done.
	Wait(ctx context.Context, phone string) ([]model.Event, error)
	// Pending returns the number of queued events across all numbers.
	Pending() int
}
