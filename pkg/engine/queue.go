package engine

import (
	"sync"

	"github.com/guilhermelhr/TOBLamport/pkg/model"
)

// originQueue holds one peer's not-yet-applied messages in arrival order.
// Each queue carries its own lock so enqueueing for one peer never
// serializes against draining another, and a one-slot ready channel the
// Poking step waits on instead of spinning.
//
// Only the engine's ordering goroutine removes messages; the dispatch loop
// only appends. A queue observed non-empty by the ordering goroutine
// therefore stays non-empty until it pops the head itself.
type originQueue struct {
	mu   sync.Mutex
	msgs []model.Message
	// ready is pulsed on every insert. Stale pulses only cause the waiter
	// to re-check emptiness, never to miss an insert.
	ready chan struct{}
}

func newOriginQueue() *originQueue {
	return &originQueue{ready: make(chan struct{}, 1)}
}

func (q *originQueue) pulse() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// append adds m at the tail. Messages are never reordered on insert; only
// the cross-queue removal order is decided by clock comparison.
func (q *originQueue) append(m model.Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
	q.pulse()
}

// appendIfEmpty adds m only when the queue is currently empty. This is the
// Ack gate: an Ack is a placeholder to unblock ordering and must never
// overtake or duplicate a real, already-queued message. The check and the
// insert run under the queue lock.
//
// Known race, inherited from the design this models: if a real message
// lands in the same instant an Ack is being gated elsewhere, a legitimate
// Ack can be dropped. The poker re-pokes on a backoff schedule, so progress
// does not depend on any single Ack surviving.
//
// An Ack can also carry the same (counter, owner) stamp as a later real
// message from the same origin; both live in this one FIFO where arrival
// order decides and the Ack applies as a no-op, so the tie is harmless.
func (q *originQueue) appendIfEmpty(m model.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) > 0 {
		return false
	}
	q.msgs = append(q.msgs, m)
	q.pulse()
	return true
}

func (q *originQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs) == 0
}

// head returns the oldest message without removing it.
func (q *originQueue) head() (model.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return model.Message{}, false
	}
	return q.msgs[0], true
}

// popHead removes and returns the oldest message.
func (q *originQueue) popHead() (model.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return model.Message{}, false
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	return m, true
}

func (q *originQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
