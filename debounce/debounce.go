// Package debounce coalesces bursts of per-entity mutations into a single
// flush carrying the latest payload.
package debounce

import (
	"context"
	"sync"
	"time"
)

// DELAY is the default quiet period before a scheduled mutation is flushed.
const DELAY = 300 * time.Millisecond

// FlushFunc receives the latest payload scheduled for an entity after its
// quiet period elapses. It runs on a timer goroutine and should treat the
// work as fire-and-forget.
type FlushFunc[T any] func(ctx context.Context, id string, payload T)

type pending[T any] struct {
	timer   *time.Timer
	payload T
}

// Queue debounces mutations per entity id. Scheduling an id that already has
// a pending mutation supersedes its payload and restarts its timer; distinct
// ids debounce independently.
type Queue[T any] struct {
	ctx   context.Context
	delay time.Duration
	flush FlushFunc[T]

	mu      sync.Mutex
	pending map[string]*pending[T]
	closed  bool
}

// NewQueue returns a queue flushing through fn after delay. ctx is the base
// context handed to flushes; pass one that outlives pointer interactions so
// an already-fired persistence call is not cancelled by unmount.
func NewQueue[T any](ctx context.Context, delay time.Duration, fn FlushFunc[T]) *Queue[T] {
	if delay <= 0 {
		delay = DELAY
	}
	return &Queue[T]{
		ctx:     ctx,
		delay:   delay,
		flush:   fn,
		pending: make(map[string]*pending[T]),
	}
}

// Schedule records payload as the latest mutation for id and restarts its
// quiet-period timer.
func (q *Queue[T]) Schedule(id string, payload T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	if p, ok := q.pending[id]; ok {
		p.payload = payload
		p.timer.Reset(q.delay)
		return
	}

	p := &pending[T]{payload: payload}
	p.timer = time.AfterFunc(q.delay, func() {
		q.fire(id, p)
	})
	q.pending[id] = p
}

func (q *Queue[T]) fire(id string, p *pending[T]) {
	q.mu.Lock()
	// A Reset racing the timer firing can run this callback for a pending
	// record that was since superseded or cancelled.
	if q.pending[id] != p {
		q.mu.Unlock()
		return
	}
	delete(q.pending, id)
	payload := p.payload
	q.mu.Unlock()

	q.flush(q.ctx, id, payload)
}

// Cancel discards the pending mutation for id, if any.
func (q *Queue[T]) Cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.pending[id]; ok {
		p.timer.Stop()
		delete(q.pending, id)
	}
}

// CancelAll discards every pending mutation and refuses further scheduling.
// Used on unmount and diagram switch.
func (q *Queue[T]) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, p := range q.pending {
		p.timer.Stop()
		delete(q.pending, id)
	}
	q.closed = true
}

// Len reports how many entities have a pending mutation.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
