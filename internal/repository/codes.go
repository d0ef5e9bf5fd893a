package repository

import (
	"context"
	"time"

	"github.com/and161185/callrelay/internal/model"
)

// ResolveFunc inspects a pending entry and decides its fate. Returning
// drop=true removes the entry; the returned error is passed back to the caller.
type ResolveFunc func(v model.Verification) (drop bool, err error)

// CodeStore keeps at most one pending verification per phone number.
type CodeStore interface {
	// Put stores v, replacing any previous entry for the same number.
	Put(ctx context.Context, v model.Verification) error
	// Resolve runs fn atomically against the entry for phone.
	// Returns errs.ErrNotFound when no entry exists.
	Resolve(ctx context.Context, phone string, fn ResolveFunc) error
	// DeleteExpired removes entries expired at now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) int
	// Count returns the number of pending entries.
	Count() int
}
