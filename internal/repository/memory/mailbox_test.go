package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/and161185/callrelay/internal/model"
	"github.com/and161185/callrelay/internal/repository"
	"github.com/stretchr/testify/require"
)

var _ repository.Mailbox = (*Mailbox)(nil)

func TestMailbox_DrainFIFOAndClears(t *testing.T) {
	t.Parallel()
	m := NewMailbox()
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		m.Enqueue(ctx, "p", model.Event{Kind: model.EventCandidate, CallID: id})
	}
	require.Equal(t, 3, m.Pending())

	got := m.Drain(ctx, "p")
	require.Len(t, got, 3)
	require.Equal(t, "A", got[0].CallID)
	require.Equal(t, "B", got[1].CallID)
	require.Equal(t, "C", got[2].CallID)
	require.Less(t, got[0].Seq, got[1].Seq)
	require.Less(t, got[1].Seq, got[2].Seq)
	require.False(t, got[0].EnqueuedAt.IsZero())

	again := m.Drain(ctx, "p")
	require.NotNil(t, again)
	require.Empty(t, again)
	require.Equal(t, 0, m.Pending())
}

func TestMailbox_DrainUnknownIsEmpty(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	got := m.Drain(context.Background(), "+4700000000")
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestMailbox_QueuesAreIndependent(t *testing.T) {
	t.Parallel()
	m := NewMailbox()
	ctx := context.Background()

	m.Enqueue(ctx, "a", model.Event{CallID: "1"})
	m.Enqueue(ctx, "b", model.Event{CallID: "2"})

	require.Len(t, m.Drain(ctx, "a"), 1)
	got := m.Drain(ctx, "b")
	require.Len(t, got, 1)
	require.Equal(t, "2", got[0].CallID)
}

func TestMailbox_ConcurrentEnqueueDrain_NoLossNoDuplicates(t *testing.T) {
	t.Parallel()
	m := NewMailbox()
	ctx := context.Background()

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Enqueue(ctx, "p", model.Event{CallID: fmt.Sprintf("%d-%d", p, i)})
			}
		}(p)
	}

	seen := make(map[string]bool)
	var lastSeq uint64
	collect := func(evs []model.Event) {
		for _, ev := range evs {
			require.False(t, seen[ev.CallID], "duplicate %s", ev.CallID)
			seen[ev.CallID] = true
			require.Greater(t, ev.Seq, lastSeq, "drains must preserve enqueue order")
			lastSeq = ev.Seq
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
loop:
	for {
		select {
		case <-done:
			break loop
		default:
			collect(m.Drain(ctx, "p"))
		}
	}
	collect(m.Drain(ctx, "p"))
	require.Len(t, seen, producers*perProducer)
}

func TestMailbox_WaitReturnsQueuedImmediately(t *testing.T) {
	t.Parallel()
	m := NewMailbox()
	ctx := context.Background()
	m.Enqueue(ctx, "p", model.Event{CallID: "x"})

	got, err := m.Wait(ctx, "p")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMailbox_WaitWakesOnEnqueue(t *testing.T) {
	t.Parallel()
	m := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := make(chan []model.Event, 1)
	go func() {
		evs, _ := m.Wait(ctx, "p")
		res <- evs
	}()

	time.Sleep(20 * time.Millisecond)
	m.Enqueue(context.Background(), "p", model.Event{CallID: "late"})

	select {
	case evs := <-res:
		require.Len(t, evs, 1)
		require.Equal(t, "late", evs[0].CallID)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter was not woken")
	}
	require.Empty(t, m.Drain(context.Background(), "p"))
}

func TestMailbox_WaitTimesOutEmpty(t *testing.T) {
	t.Parallel()
	m := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := m.Wait(ctx, "p")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestMailbox_WaitOnUnknownNumberLeavesNothingBehind(t *testing.T) {
	t.Parallel()
	m := NewMailbox()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			got, err := m.Wait(ctx, fmt.Sprintf("+4790%06d", i%10))
			if err != nil || len(got) != 0 {
				t.Errorf("Wait: %v %v", got, err)
			}
		}(i)
	}
	wg.Wait()

	m.mu.RLock()
	defer m.mu.RUnlock()
	require.Empty(t, m.queues)
	require.Empty(t, m.parked)
}

func TestMailbox_ParkedWaitersWakeOnFirstEnqueue(t *testing.T) {
	t.Parallel()
	m := NewMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const waiters = 3
	res := make(chan []model.Event, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			evs, _ := m.Wait(ctx, "p")
			res <- evs
		}()
	}
	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		p, ok := m.parked["p"]
		return ok && p.waiters == waiters
	}, 3*time.Second, 5*time.Millisecond)

	m.Enqueue(context.Background(), "p", model.Event{CallID: "first"})

	// exactly one waiter takes the event; the others keep waiting on the queue
	select {
	case evs := <-res:
		require.Len(t, evs, 1)
		require.Equal(t, "first", evs[0].CallID)
	case <-time.After(3 * time.Second):
		t.Fatal("parked waiter was not woken")
	}
	m.mu.RLock()
	require.Empty(t, m.parked)
	m.mu.RUnlock()

	cancel()
	for i := 0; i < waiters-1; i++ {
		require.Empty(t, <-res)
	}
}
