// Package model defines the message types exchanged between the client,
// the transport, and the replicas.
//
// A Message is a value type: once constructed it is never mutated. When the
// protocol turns a request into its Reply, a new Message is built from the
// request's fields (NewReply) rather than rewriting the request in place,
// so a value already handed to the transport can never change under its
// receiver.
//
// The stamp's Owner doubles as the message's provenance tag: a message
// whose stamp is owned by ClientID came from the external client and has
// not been ordered yet; once a replica stamps it, Owner names the replica
// that admitted it into the total order, and that id selects the origin
// queue it is held in at every replica.
package model

import (
	"math"

	"github.com/google/uuid"

	"github.com/guilhermelhr/TOBLamport/pkg/clock"
)

// ClientID is the reserved transport id of the external client. It is never
// a member of the peer set and never owns a queued message's stamp.
const ClientID = -1

// Unset is the initial value of every key, before any Write is applied.
const Unset int64 = math.MaxInt64

// Action enumerates the message kinds of the protocol.
type Action uint8

const (
	// ShallowRead is answered by the one replica that received it; it is
	// still queued there so it orders against concurrent Writes.
	ShallowRead Action = iota
	// DeepRead is broadcast and ordered at every replica; each replica
	// answers it, so agreement is observable from the outside.
	DeepRead
	// Write is broadcast and applied at every replica at the same position
	// in the total order.
	Write
	// Reply carries a read result back toward the client.
	Reply
	// Poke asks a silent peer to produce some traffic so ordering can
	// proceed past its empty queue.
	Poke
	// Ack is the placeholder a poked peer answers with.
	Ack
)

func (a Action) String() string {
	switch a {
	case ShallowRead:
		return "ShallowRead"
	case DeepRead:
		return "DeepRead"
	case Write:
		return "Write"
	case Reply:
		return "Reply"
	case Poke:
		return "Poke"
	case Ack:
		return "Ack"
	}
	return "INVALID"
}

// ParseAction maps the script/trace spelling of an action back to its
// Action. The second result is false for unknown spellings.
func ParseAction(s string) (Action, bool) {
	for _, a := range []Action{ShallowRead, DeepRead, Write, Reply, Poke, Ack} {
		if a.String() == s {
			return a, true
		}
	}
	return 0, false
}

// Message is one protocol message. Ownership transfers at each hop: the
// sender, then the transport, then the receiver hold it one at a time.
type Message struct {
	Action    Action      `json:"action"`
	Clock     clock.Stamp `json:"clock"`
	Key       string      `json:"key"`
	Payload   int64       `json:"payload"`
	RequestID string      `json:"request_id,omitempty"`
}

// FromClient reports whether the message is a not-yet-stamped client
// request.
func (m Message) FromClient() bool { return m.Clock.Owner == ClientID }

// NewWrite builds a client Write request for key. The stamp is empty apart
// from the client sentinel; the receiving replica assigns the real stamp.
func NewWrite(key string, value int64) Message {
	return Message{
		Action:    Write,
		Clock:     clock.Stamp{Owner: ClientID},
		Key:       key,
		Payload:   value,
		RequestID: uuid.NewString(),
	}
}

// NewShallowRead builds a client ShallowRead request for key.
func NewShallowRead(key string) Message {
	return Message{
		Action:    ShallowRead,
		Clock:     clock.Stamp{Owner: ClientID},
		Key:       key,
		RequestID: uuid.NewString(),
	}
}

// NewDeepRead builds a client DeepRead request for key.
func NewDeepRead(key string) Message {
	return Message{
		Action:    DeepRead,
		Clock:     clock.Stamp{Owner: ClientID},
		Key:       key,
		RequestID: uuid.NewString(),
	}
}

// NewReply builds the Reply for a read request. It keeps the request's
// stamp (so the receiver can still observe its counter and route by its
// owner), key and request id, and carries the value read.
func NewReply(req Message, value int64) Message {
	return Message{
		Action:    Reply,
		Clock:     req.Clock,
		Key:       req.Key,
		Payload:   value,
		RequestID: req.RequestID,
	}
}

// NewPoke builds a Poke carrying the poker's stamp.
func NewPoke(s clock.Stamp, key string) Message {
	return Message{Action: Poke, Clock: s, Key: key}
}

// NewAck builds the Ack a poked replica answers with, carrying the poked
// replica's own stamp.
func NewAck(s clock.Stamp, key string) Message {
	return Message{Action: Ack, Clock: s, Key: key}
}
