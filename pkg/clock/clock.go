// Package clock implements the Lamport logical clock that orders every
// operation in the replicated store.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (internal/send event): Before the event, increment the clock.
//	IR2 (message receipt): On receiving a message with counter t,
//	     set the clock to max(own, t) + 1.
//
// Ties between equal counters are broken by replica id, so Less defines a
// strict total order over all stamps ever produced: no two distinct
// (counter, owner) pairs compare equal. The tie-break is what turns
// Lamport's partial causal order into the single global order every replica
// drains its queues by.
//
// A replica's Clock is shared between its dispatch loop (stamping client
// requests, observing peer counters) and its ordering loops (ticking on
// Poke sends), so Clock is goroutine-safe. The Stamp values it hands out
// are plain value copies and may be embedded in messages freely.
package clock

import "sync"

// Stamp is an immutable (counter, owner) pair carried inside messages.
// Owner is the id of the replica whose clock produced the stamp.
type Stamp struct {
	Counter uint64 `json:"counter"`
	Owner   int    `json:"owner"`
}

// Less reports whether a orders strictly before b: counter ascending,
// ties broken by owner ascending. For distinct stamps it never answers
// "equal", which is what guarantees one agreed linear order across
// replicas even when counters collide.
func Less(a, b Stamp) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Owner < b.Owner
}

// Clock is a replica's mutable Lamport clock. The counter is monotonically
// non-decreasing for the life of the replica and is never reset.
type Clock struct {
	mu sync.Mutex
	s  Stamp
}

// New returns a clock owned by the given replica id, starting at zero.
func New(owner int) *Clock {
	return &Clock{s: Stamp{Owner: owner}}
}

// Tick implements IR1: increment the counter before a send or internal
// event. Returns the new stamp.
func (c *Clock) Tick() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Counter++
	return c.s
}

// Observe implements IR2: on processing a message carrying a remote
// counter, advance to max(own, remote) + 1. Returns the new stamp.
func (c *Clock) Observe(remote uint64) Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.s.Counter {
		c.s.Counter = remote
	}
	c.s.Counter++
	return c.s
}

// Current returns a value copy of the clock's state without advancing it.
func (c *Clock) Current() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
