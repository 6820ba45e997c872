// Package engine implements the per-key delivery and ordering machine of a
// replica: one origin queue per peer, the Poke/Ack liveness protocol, and
// the lowest-stamp-first selection that turns arbitrarily interleaved
// arrivals into one global total order.
//
// Every replica runs one Engine per key. The engine owns the key's value
// exclusively; reads and writes reach it only through the apply-in-order
// path, so the value can never be observed between two positions of the
// agreed order.
//
// The engine cycles between two phases:
//
//	Poking:   while some origin queue is empty, send that peer a Poke and
//	          wait (bounded, backoff-scheduled, cancellable) for any
//	          message to land in its queue. A peer with no real traffic
//	          answers with an Ack placeholder, so ordering never starves
//	          on a silent peer.
//	Draining: while every queue is non-empty, pop the globally lowest
//	          head and apply it.
//
// Draining only while every queue holds a message is what makes the pop
// safe: each queue is FIFO from one origin whose stamps increase, so the
// lowest head among all *non-empty* queues is globally next — no message
// with a smaller stamp can still arrive.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/guilhermelhr/TOBLamport/pkg/clock"
	"github.com/guilhermelhr/TOBLamport/pkg/model"
)

// Sender is the slice of the transport the engine needs: point-to-point
// delivery for Pokes and Replies.
type Sender interface {
	SendTo(m model.Message, id int) error
}

// Recorder observes every applied message, in apply order. Implementations
// must be safe for concurrent use by the engines of one replica. A nil
// Recorder disables recording.
type Recorder interface {
	RecordApplied(replicaID int, key string, seq uint64, m model.Message) error
}

// Config assembles an Engine.
type Config struct {
	// Key this engine orders operations for.
	Key string
	// Self is the owning replica's id.
	Self int
	// Peers is the fixed replica count; ids 0..Peers-1 each get a queue,
	// the owning replica included.
	Peers int
	// Clock is the replica's shared Lamport clock.
	Clock *clock.Clock
	// Sender delivers Pokes and Replies.
	Sender Sender
	// Recorder, if non-nil, observes applied messages.
	Recorder Recorder

	// PokeInitialWait seeds the backoff schedule for re-poking a still-
	// empty queue. Zero means DefaultPokeInitialWait.
	PokeInitialWait time.Duration
	// PokeMaxWait caps the backoff schedule. Zero means DefaultPokeMaxWait.
	PokeMaxWait time.Duration
	// CycleRest is the pause between Poking/Draining cycles. Zero means
	// DefaultCycleRest.
	CycleRest time.Duration
}

// Defaults for the engine's timing knobs.
const (
	DefaultPokeInitialWait = 20 * time.Millisecond
	DefaultPokeMaxWait     = 500 * time.Millisecond
	DefaultCycleRest       = 10 * time.Millisecond
)

// Engine is the ordering machine for one (replica, key) pair.
type Engine struct {
	cfg    Config
	queues []*originQueue

	// value and seq are written only by the ordering goroutine; the lock
	// covers cross-goroutine reads (Value after shutdown, tests).
	mu    sync.Mutex
	value int64
	seq   uint64
}

// New builds an engine with every queue empty and the key's value Unset.
func New(cfg Config) (*Engine, error) {
	if cfg.Peers <= 0 {
		return nil, fmt.Errorf("engine: need at least one peer, got %d", cfg.Peers)
	}
	if cfg.Self < 0 || cfg.Self >= cfg.Peers {
		return nil, fmt.Errorf("engine: self id %d outside peer set of %d", cfg.Self, cfg.Peers)
	}
	if cfg.Clock == nil || cfg.Sender == nil {
		return nil, fmt.Errorf("engine: clock and sender are required")
	}
	if cfg.PokeInitialWait <= 0 {
		cfg.PokeInitialWait = DefaultPokeInitialWait
	}
	if cfg.PokeMaxWait <= 0 {
		cfg.PokeMaxWait = DefaultPokeMaxWait
	}
	if cfg.CycleRest <= 0 {
		cfg.CycleRest = DefaultCycleRest
	}
	e := &Engine{
		cfg:   cfg,
		value: model.Unset,
	}
	for i := 0; i < cfg.Peers; i++ {
		e.queues = append(e.queues, newOriginQueue())
	}
	return e, nil
}

// Key returns the key this engine orders.
func (e *Engine) Key() string { return e.cfg.Key }

// Value returns the key's current value (model.Unset before any Write).
func (e *Engine) Value() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Applied returns how many messages this engine has applied.
func (e *Engine) Applied() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Enqueue appends m to the queue of its stamp's owner. It never blocks on
// draining. The caller must have run clock.Observe on the stamp already.
func (e *Engine) Enqueue(m model.Message) error {
	q, err := e.queueFor(m.Clock.Owner)
	if err != nil {
		return err
	}
	q.append(m)
	return nil
}

// InsertAckIfEmpty gates an Ack into its owner's queue only if the queue is
// still empty, so two racing Pokes yield at most one queued placeholder.
// Returns whether the Ack was inserted.
func (e *Engine) InsertAckIfEmpty(m model.Message) (bool, error) {
	q, err := e.queueFor(m.Clock.Owner)
	if err != nil {
		return false, err
	}
	return q.appendIfEmpty(m), nil
}

func (e *Engine) queueFor(id int) (*originQueue, error) {
	if id < 0 || id >= len(e.queues) {
		return nil, fmt.Errorf("engine %q: no queue for peer id %d", e.cfg.Key, id)
	}
	return e.queues[id], nil
}

// QueueLen reports the pending count for one origin. Test and status hook.
func (e *Engine) QueueLen(id int) int {
	if id < 0 || id >= len(e.queues) {
		return 0
	}
	return e.queues[id].len()
}

// emptyQueue returns the id of some empty origin queue, or -1 if all are
// populated.
func (e *Engine) emptyQueue() int {
	for id, q := range e.queues {
		if q.empty() {
			return id
		}
	}
	return -1
}

// lowestHead returns the id of the queue whose head carries the globally
// lowest stamp. Valid only while every queue is non-empty.
func (e *Engine) lowestHead() (int, error) {
	best := -1
	var bestStamp clock.Stamp
	for id, q := range e.queues {
		h, ok := q.head()
		if !ok {
			return -1, fmt.Errorf("engine %q: queue %d emptied during selection", e.cfg.Key, id)
		}
		if best == -1 || clock.Less(h.Clock, bestStamp) {
			best, bestStamp = id, h.Clock
		}
	}
	return best, nil
}

// poke ensures liveness: for every empty queue, send its peer a Poke and
// wait for any message to land. The wait follows an exponential backoff
// schedule, re-poking on every timeout, and aborts when ctx is cancelled.
// A peer that never answers stalls this key alone; that is the designed
// failure mode, not something the engine works around.
func (e *Engine) poke(ctx context.Context) error {
	for {
		id := e.emptyQueue()
		if id < 0 {
			return nil
		}
		q := e.queues[id]

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = e.cfg.PokeInitialWait
		bo.MaxInterval = e.cfg.PokeMaxWait
		bo.MaxElapsedTime = 0 // wait forever; only ctx cancels

		for q.empty() {
			if err := e.cfg.Sender.SendTo(model.NewPoke(e.cfg.Clock.Current(), e.cfg.Key), id); err != nil {
				return fmt.Errorf("poke peer %d: %w", id, err)
			}
			e.cfg.Clock.Tick()

			timer := time.NewTimer(bo.NextBackOff())
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-q.ready:
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

// drain applies messages in global order while every queue holds one.
// When any queue empties the engine falls back to Poking.
func (e *Engine) drain() error {
	for e.emptyQueue() < 0 {
		id, err := e.lowestHead()
		if err != nil {
			return err
		}
		m, ok := e.queues[id].popHead()
		if !ok {
			return fmt.Errorf("engine %q: queue %d lost its head", e.cfg.Key, id)
		}
		if err := e.apply(m); err != nil {
			return err
		}
	}
	return nil
}

// apply dispatches one message popped in global order.
func (e *Engine) apply(m model.Message) error {
	e.mu.Lock()
	switch m.Action {
	case model.ShallowRead, model.DeepRead:
		rep := model.NewReply(m, e.value)
		e.mu.Unlock()
		// The reply goes to the replica that stamped the request, which
		// forwards it to the external client.
		if err := e.cfg.Sender.SendTo(rep, m.Clock.Owner); err != nil {
			return fmt.Errorf("reply to peer %d: %w", m.Clock.Owner, err)
		}
		e.mu.Lock()
	case model.Write:
		e.value = m.Payload
	case model.Poke, model.Ack:
		// Placeholders: consumed with no state effect beyond having
		// unblocked Poking.
	}
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	if e.cfg.Recorder != nil {
		if err := e.cfg.Recorder.RecordApplied(e.cfg.Self, e.cfg.Key, seq, m); err != nil {
			return fmt.Errorf("record applied: %w", err)
		}
	}
	return nil
}

// RunCycle executes one Poking pass followed by one Draining pass.
func (e *Engine) RunCycle(ctx context.Context) error {
	if err := e.poke(ctx); err != nil {
		return err
	}
	return e.drain()
}

// Run cycles Poking and Draining until ctx is cancelled, resting briefly
// between cycles. It returns ctx.Err() on cancellation or the first
// unrecoverable error (configuration errors surfaced by the transport).
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.RunCycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.CycleRest):
		}
	}
}
