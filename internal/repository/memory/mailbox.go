package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/and161185/callrelay/internal/model"
)

// Mailbox implements repository.Mailbox with one queue and one lock per
// phone number. Queues are kept for the process lifetime once created.
type Mailbox struct {
	now func() time.Time
	seq atomic.Uint64

	mu     sync.RWMutex
	queues map[string]*queue
	// parked holds waiters on numbers that have no queue yet. Entries live
	// only while someone waits, so polling unknown numbers allocates nothing
	// lasting.
	parked map[string]*parking
}

type parking struct {
	woken   chan struct{}
	waiters int
}

type queue struct {
	mu     sync.Mutex
	events []model.Event
	// signal is closed and replaced on every enqueue to wake waiters.
	signal chan struct{}
}

// NewMailbox constructs an empty mailbox router.
func NewMailbox() *Mailbox {
	return &Mailbox{now: time.Now, queues: make(map[string]*queue), parked: make(map[string]*parking)}
}

// Enqueue appends ev to phone's queue, stamping Seq and EnqueuedAt.
func (m *Mailbox) Enqueue(_ context.Context, phone string, ev model.Event) {
	q := m.queue(phone, true)

	q.mu.Lock()
	// Seq is drawn under the queue lock so per-queue order matches Seq order.
	ev.Seq = m.seq.Add(1)
	ev.EnqueuedAt = m.now()
	q.events = append(q.events, ev)
	close(q.signal)
	q.signal = make(chan struct{})
	q.mu.Unlock()
}

// Drain returns phone's queued events in enqueue order and leaves the queue
// empty. Unknown numbers yield an empty slice.
func (m *Mailbox) Drain(_ context.Context, phone string) []model.Event {
	q := m.queue(phone, false)
	if q == nil {
		return []model.Event{}
	}
	events, _ := q.take()
	return events
}

// Wait drains phone's queue, blocking until at least one event is queued or
// ctx is done. On ctx done it returns an empty slice and nil.
func (m *Mailbox) Wait(ctx context.Context, phone string) ([]model.Event, error) {
	q := m.queue(phone, false)
	if q == nil {
		if q = m.park(ctx, phone); q == nil {
			return []model.Event{}, nil
		}
	}
	for {
		events, signal := q.take()
		if len(events) > 0 {
			return events, nil
		}
		select {
		case <-ctx.Done():
			return []model.Event{}, nil
		case <-signal:
		}
	}
}

// park blocks until the first enqueue creates phone's queue or ctx is done.
// It returns nil on ctx done.
func (m *Mailbox) park(ctx context.Context, phone string) *queue {
	m.mu.Lock()
	if q, ok := m.queues[phone]; ok {
		m.mu.Unlock()
		return q
	}
	p, ok := m.parked[phone]
	if !ok {
		p = &parking{woken: make(chan struct{})}
		m.parked[phone] = p
	}
	p.waiters++
	m.mu.Unlock()

	select {
	case <-p.woken:
		return m.queue(phone, false)
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		p.waiters--
		if p.waiters == 0 && m.parked[phone] == p {
			delete(m.parked, phone)
		}
		return nil
	}
}

// Pending returns the number of queued events across all numbers.
func (m *Mailbox) Pending() int {
	m.mu.RLock()
	qs := make([]*queue, 0, len(m.queues))
	for _, q := range m.queues {
		qs = append(qs, q)
	}
	m.mu.RUnlock()

	n := 0
	for _, q := range qs {
		q.mu.Lock()
		n += len(q.events)
		q.mu.Unlock()
	}
	return n
}

// take swaps the queue contents for an empty slice. When the queue is empty
// it returns the current wake-up channel instead.
func (q *queue) take() ([]model.Event, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return []model.Event{}, q.signal
	}
	events := q.events
	q.events = nil
	return events, nil
}

func (m *Mailbox) queue(phone string, create bool) *queue {
	m.mu.RLock()
	q, ok := m.queues[phone]
	m.mu.RUnlock()
	if ok || !create {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok = m.queues[phone]; ok {
		return q
	}
	q = &queue{signal: make(chan struct{})}
	m.queues[phone] = q
	if p, ok := m.parked[phone]; ok {
		close(p.woken)
		delete(m.parked, phone)
	}
	return q
}
