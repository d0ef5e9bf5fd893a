package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/callrelay/internal/errs"
	"github.com/and161185/callrelay/internal/model"
	"github.com/and161185/callrelay/internal/repository"
	"github.com/stretchr/testify/require"
)

var _ repository.CodeStore = (*CodeStore)(nil)

func TestCodeStore_PutOverwritesAndResolve(t *testing.T) {
	t.Parallel()
	s := NewCodeStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	require.NoError(t, s.Put(ctx, model.Verification{PhoneNumber: "p", CodeHash: []byte("a"), ExpiresAt: exp}))
	require.NoError(t, s.Put(ctx, model.Verification{PhoneNumber: "p", CodeHash: []byte("b"), ExpiresAt: exp}))
	require.Equal(t, 1, s.Count())

	var seen []byte
	err := s.Resolve(ctx, "p", func(v model.Verification) (bool, error) {
		seen = v.CodeHash
		return false, errs.ErrMismatch
	})
	require.ErrorIs(t, err, errs.ErrMismatch)
	require.Equal(t, []byte("b"), seen)
	require.Equal(t, 1, s.Count(), "entry kept when drop=false")

	require.NoError(t, s.Resolve(ctx, "p", func(model.Verification) (bool, error) { return true, nil }))
	require.Equal(t, 0, s.Count())

	err = s.Resolve(ctx, "p", func(model.Verification) (bool, error) { return true, nil })
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCodeStore_ResolveIsAtomic(t *testing.T) {
	t.Parallel()
	s := NewCodeStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, model.Verification{PhoneNumber: "p", ExpiresAt: time.Now().Add(time.Minute)}))

	var wins, notFound atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Resolve(ctx, "p", func(model.Verification) (bool, error) { return true, nil })
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, errs.ErrNotFound):
				notFound.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(31), notFound.Load())
}

func TestCodeStore_DeleteExpired(t *testing.T) {
	t.Parallel()
	s := NewCodeStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, model.Verification{PhoneNumber: "old", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, s.Put(ctx, model.Verification{PhoneNumber: "new", ExpiresAt: now.Add(time.Minute)}))

	require.Equal(t, 1, s.DeleteExpired(ctx, now))
	require.Equal(t, 1, s.Count())
}
