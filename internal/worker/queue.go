package worker

import (
	"sync"

	errs "github.com/kvloop/lmdbhost/internal/errors"
)

// Queue is the Command Channel of spec.md §4.4: a multi-producer,
// single-consumer FIFO. Adapted from the teacher's
// rkeyMu/rkeyCond/rkeyAvail condvar-guarded slice (there, "available
// reader slot indices"; here, "pending commands") rather than a native Go
// channel, because spec.md §4.4 calls for an *unbounded* baseline with an
// optional capacity bound — a bare `chan *Command` can only ever be one
// or the other at construction time, while a condvar-guarded slice can
// grow without limit when capacity is zero and block producers once it
// isn't.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []*Command
	capacity int // 0 means unbounded
	closed   bool
}

// NewQueue builds a Queue. capacity <= 0 means unbounded (spec.md §4.4
// baseline); a positive capacity makes Push block once that many commands
// are pending, applying backpressure to the host's enqueue call.
func NewQueue(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Push enqueues cmd, blocking only if the queue is bounded and full.
// Ordering is strict FIFO across all producers (spec.md §4.4).
func (q *Queue) Push(cmd *Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errs.Closed()
	}
	for q.capacity > 0 && len(q.items) >= q.capacity {
		q.notFull.Wait()
		if q.closed {
			return errs.Closed()
		}
	}
	q.items = append(q.items, cmd)
	q.notEmpty.Signal()
	return nil
}

// Pop blocks until a command is available or the queue is closed and
// drained, in which case it returns (nil, false).
func (q *Queue) Pop() (*Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return cmd, true
}

// TryPop returns immediately: (cmd, true) if one was waiting, (nil,
// false) if the queue was momentarily empty. The Worker's auto-batching
// policy (spec.md §4.3.1) uses this to detect the "channel is momentarily
// empty" commit boundary without blocking.
func (q *Queue) TryPop() (*Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return cmd, true
}

// Len returns the current queue depth, used by metrics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked Push/Pop. Commands already queued remain
// poppable (Pop keeps returning them until the queue drains) so the
// Worker can drain or abort them on shutdown per spec.md §3 invariant 5.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}
