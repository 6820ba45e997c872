// Package bus provides the in-process message transport connecting the
// client and the replicas.
//
// The transport is deliberately thin: lossless and order-preserving per
// replica→replica pair, with no protocol logic of its own. Per-link FIFO is
// a precondition the ordering algorithm depends on — a transport that can
// reorder two messages on the same link breaks the total-order argument,
// so any replacement implementation must preserve it. The client reply
// stream sits outside that guarantee: it is a bounded channel that drops
// replies once the external reader falls replyBuffer messages behind.
package bus

import (
	"fmt"
	"sync"

	"github.com/guilhermelhr/TOBLamport/pkg/model"
)

// Transport is the only boundary the ordering core depends on. The concrete
// *Bus type satisfies it; tests inject recording fakes instead.
type Transport interface {
	// Register assigns the next sequential non-negative id. Must be called
	// once per replica before any messaging.
	Register(name string) int

	// SendTo delivers m to participant id, or surfaces it on the client
	// reply stream when id is model.ClientID. Replica-to-replica delivery
	// is lossless; the client stream is bounded and silently drops replies
	// when its buffer is full. Referencing an unknown id is a configuration
	// error and fails fast.
	SendTo(m model.Message, id int) error

	// Broadcast delivers m to every registered participant (not the
	// client).
	Broadcast(m model.Message) error

	// ReceiveNextFor pops the oldest pending inbound message for id
	// without blocking. The second result is false when the inbox is
	// empty.
	ReceiveNextFor(id int) (model.Message, bool)
}

// Bus is the in-memory Transport. One FIFO inbox per participant, each
// guarded by its own lock so unrelated links never serialize on each other.
type Bus struct {
	mu      sync.RWMutex // guards the inbox slice itself, not its elements
	inboxes []*inbox
	names   []string
	replies chan model.Message
}

// inbox is one participant's pending-message FIFO.
type inbox struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (in *inbox) push(m model.Message) {
	in.mu.Lock()
	in.msgs = append(in.msgs, m)
	in.mu.Unlock()
}

func (in *inbox) pop() (model.Message, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.msgs) == 0 {
		return model.Message{}, false
	}
	m := in.msgs[0]
	in.msgs = in.msgs[1:]
	return m, true
}

// replyBuffer bounds the client reply stream. Replies beyond an unread
// buffer of this size are dropped rather than blocking a replica's
// ordering loop on a slow external reader.
const replyBuffer = 1024

// New returns an empty bus with no registered participants.
func New() *Bus {
	return &Bus{replies: make(chan model.Message, replyBuffer)}
}

// Register assigns the next sequential id, starting at 0.
func (b *Bus) Register(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxes = append(b.inboxes, &inbox{})
	b.names = append(b.names, name)
	return len(b.inboxes) - 1
}

// NumPeers returns the number of registered participants.
func (b *Bus) NumPeers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.inboxes)
}

// Name returns the registered name for id, or "" for unknown ids.
func (b *Bus) Name(id int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id < 0 || id >= len(b.names) {
		return ""
	}
	return b.names[id]
}

func (b *Bus) inboxFor(id int) (*inbox, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id < 0 || id >= len(b.inboxes) {
		return nil, fmt.Errorf("bus: unknown participant id %d (registered: %d)", id, len(b.inboxes))
	}
	return b.inboxes[id], nil
}

// SendTo delivers m to participant id. A send to model.ClientID surfaces
// the message on Replies, the only observable output of the simulated
// world; when the reply buffer is full the message is dropped so a slow
// external reader never stalls a replica.
func (b *Bus) SendTo(m model.Message, id int) error {
	if id == model.ClientID {
		select {
		case b.replies <- m:
		default:
		}
		return nil
	}
	in, err := b.inboxFor(id)
	if err != nil {
		return err
	}
	in.push(m)
	return nil
}

// Broadcast delivers m to every registered participant, the sender's own
// inbox included.
func (b *Bus) Broadcast(m model.Message) error {
	b.mu.RLock()
	targets := b.inboxes
	b.mu.RUnlock()
	for _, in := range targets {
		in.push(m)
	}
	return nil
}

// ReceiveNextFor pops the oldest pending message for id without blocking.
// An unknown id has no pending messages.
func (b *Bus) ReceiveNextFor(id int) (model.Message, bool) {
	in, err := b.inboxFor(id)
	if err != nil {
		return model.Message{}, false
	}
	return in.pop()
}

// Replies is the stream of messages addressed to the external client.
func (b *Bus) Replies() <-chan model.Message {
	return b.replies
}

// Compile-time check that *Bus implements Transport.
var _ Transport = (*Bus)(nil)
