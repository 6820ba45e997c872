// Package replica wires one replica of the store together: a Lamport
// clock, one ordering engine per key, and a transport handle.
//
// A running replica is two kinds of loop sharing only the clock and the
// engines' queues:
//
//	dispatch:  receive the next inbound message and route it — client
//	           requests get stamped and sent out (unicast or broadcast),
//	           peer messages advance the clock and feed the engines.
//	ordering:  one goroutine per key running that key's engine cycle
//	           (Poking, then Draining in global order).
//
// Dispatch never waits for an engine to drain; enqueueing is append-only.
// The client protocol follows the message's kind:
//
//   - ShallowRead: stamped, sent to this replica alone. It still passes
//     through the ordering engine, so it is consistent with every Write
//     that sorts before it, but only this replica answers.
//   - DeepRead, Write: stamped, broadcast to every replica (this one
//     included), so all replicas order them identically.
//
// After stamping, the clock ticks exactly once — the send event.
package replica

import (
	"context"
	"fmt"
	"time"

	"github.com/guilhermelhr/TOBLamport/pkg/bus"
	"github.com/guilhermelhr/TOBLamport/pkg/clock"
	"github.com/guilhermelhr/TOBLamport/pkg/engine"
	"github.com/guilhermelhr/TOBLamport/pkg/model"
)

// Config assembles a Replica.
type Config struct {
	// Name is a human label used in errors; the transport id is assigned
	// at registration.
	Name string
	// Keys is the fixed key set, known to all participants in advance.
	Keys []string
	// Peers is the fixed replica count.
	Peers int
	// Transport connects the replica to its peers and the client.
	Transport bus.Transport
	// Recorder, if non-nil, observes every applied message.
	Recorder engine.Recorder
	// OnError receives configuration errors hit by the loops (unknown key,
	// unknown peer id). Optional; errors also stop the offending loop.
	OnError func(error)

	// PollInterval is the dispatch loop's rest when the inbox is empty.
	// Zero means DefaultPollInterval.
	PollInterval time.Duration
	// Engine timing knobs, passed through to every key's engine.
	PokeInitialWait time.Duration
	PokeMaxWait     time.Duration
	CycleRest       time.Duration
}

// DefaultPollInterval is the dispatch loop's empty-inbox rest.
const DefaultPollInterval = time.Millisecond

// Replica is one member of the replicated store.
type Replica struct {
	id      int
	name    string
	clk     *clock.Clock
	engines map[string]*engine.Engine
	tr      bus.Transport
	poll    time.Duration
	onError func(error)
}

// New registers the replica on the transport and builds one ordering
// engine per key. Register assigns ids sequentially, so replicas must be
// constructed in id order before any messaging starts.
func New(cfg Config) (*Replica, error) {
	if len(cfg.Keys) == 0 {
		return nil, fmt.Errorf("replica %q: need at least one key", cfg.Name)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("replica %q: transport is required", cfg.Name)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	id := cfg.Transport.Register(cfg.Name)
	clk := clock.New(id)

	r := &Replica{
		id:      id,
		name:    cfg.Name,
		clk:     clk,
		engines: make(map[string]*engine.Engine, len(cfg.Keys)),
		tr:      cfg.Transport,
		poll:    cfg.PollInterval,
		onError: cfg.OnError,
	}
	for _, key := range cfg.Keys {
		if _, dup := r.engines[key]; dup {
			return nil, fmt.Errorf("replica %q: duplicate key %q", cfg.Name, key)
		}
		e, err := engine.New(engine.Config{
			Key:             key,
			Self:            id,
			Peers:           cfg.Peers,
			Clock:           clk,
			Sender:          cfg.Transport,
			Recorder:        cfg.Recorder,
			PokeInitialWait: cfg.PokeInitialWait,
			PokeMaxWait:     cfg.PokeMaxWait,
			CycleRest:       cfg.CycleRest,
		})
		if err != nil {
			return nil, fmt.Errorf("replica %q: %w", cfg.Name, err)
		}
		r.engines[key] = e
	}
	return r, nil
}

// ID returns the transport id assigned at registration.
func (r *Replica) ID() int { return r.id }

// Name returns the replica's label.
func (r *Replica) Name() string { return r.name }

// Clock returns the replica's stamp without advancing it.
func (r *Replica) Clock() clock.Stamp { return r.clk.Current() }

// Value returns the current value of key (model.Unset before any Write),
// and whether the key exists.
func (r *Replica) Value(key string) (int64, bool) {
	e, ok := r.engines[key]
	if !ok {
		return 0, false
	}
	return e.Value(), true
}

// Values returns the current value of every key.
func (r *Replica) Values() map[string]int64 {
	out := make(map[string]int64, len(r.engines))
	for key, e := range r.engines {
		out[key] = e.Value()
	}
	return out
}

// Start launches the dispatch loop and one ordering loop per key. All
// loops stop when ctx is cancelled.
func (r *Replica) Start(ctx context.Context) {
	go r.dispatch(ctx)
	for _, e := range r.engines {
		go func(e *engine.Engine) {
			if err := e.Run(ctx); err != nil && ctx.Err() == nil {
				r.fail(fmt.Errorf("replica %q key %q: %w", r.name, e.Key(), err))
			}
		}(e)
	}
}

func (r *Replica) fail(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

// dispatch receives inbound messages and routes them until ctx is
// cancelled. Receiving is non-blocking by the transport contract, so an
// empty inbox costs one short rest per poll.
func (r *Replica) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m, ok := r.tr.ReceiveNextFor(r.id)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.poll):
			}
			continue
		}
		var err error
		if m.FromClient() {
			err = r.handleClient(m)
		} else {
			err = r.handlePeer(m)
		}
		if err != nil {
			r.fail(fmt.Errorf("replica %q: %w", r.name, err))
		}
	}
}

// handleClient stamps a client request with this replica's clock — the
// replica's own id becomes the stamp's owner — then sends it on its way
// and ticks once for the send event.
func (r *Replica) handleClient(m model.Message) error {
	if _, ok := r.engines[m.Key]; !ok {
		return fmt.Errorf("client %s for unknown key %q", m.Action, m.Key)
	}

	stamped := m
	stamped.Clock = r.clk.Current()

	var err error
	switch m.Action {
	case model.ShallowRead:
		// Unicast path: queued only here, answered only here.
		err = r.tr.SendTo(stamped, r.id)
	case model.DeepRead, model.Write:
		err = r.tr.Broadcast(stamped)
	default:
		return fmt.Errorf("client sent non-request action %s", m.Action)
	}
	if err != nil {
		return err
	}
	r.clk.Tick()
	return nil
}

// handlePeer processes a message from another replica (or from this one,
// looped back through the transport). The clock observes the carried
// counter before anything else, whatever the action.
func (r *Replica) handlePeer(m model.Message) error {
	stamp := r.clk.Observe(m.Clock.Counter)

	switch m.Action {
	case model.ShallowRead, model.DeepRead, model.Write:
		e, ok := r.engines[m.Key]
		if !ok {
			return fmt.Errorf("peer %d sent %s for unknown key %q", m.Clock.Owner, m.Action, m.Key)
		}
		return e.Enqueue(m)

	case model.Poke:
		// Answer immediately so the poker's queue for us becomes
		// non-empty even though we have no real traffic for this key.
		return r.tr.SendTo(model.NewAck(stamp, m.Key), m.Clock.Owner)

	case model.Ack:
		e, ok := r.engines[m.Key]
		if !ok {
			return fmt.Errorf("peer %d acked unknown key %q", m.Clock.Owner, m.Key)
		}
		_, err := e.InsertAckIfEmpty(m)
		return err

	case model.Reply:
		// We stamped the original request, so the answer is owed to the
		// external client through us.
		return r.tr.SendTo(m, model.ClientID)
	}
	return fmt.Errorf("peer %d sent unknown action %d", m.Clock.Owner, m.Action)
}
