package bus

import (
	"testing"

	"github.com/guilhermelhr/TOBLamport/pkg/clock"
	"github.com/guilhermelhr/TOBLamport/pkg/model"
)

func stamped(action model.Action, counter uint64, owner int) model.Message {
	return model.Message{Action: action, Clock: clock.Stamp{Counter: counter, Owner: owner}, Key: "x"}
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	b := New()
	for want := 0; want < 4; want++ {
		if got := b.Register("r"); got != want {
			t.Fatalf("Register #%d: got id %d, want %d", want, got, want)
		}
	}
	if n := b.NumPeers(); n != 4 {
		t.Fatalf("NumPeers: got %d, want 4", n)
	}
}

func TestSendToPreservesPerLinkFIFO(t *testing.T) {
	b := New()
	id := b.Register("r0")
	for i := uint64(1); i <= 5; i++ {
		if err := b.SendTo(stamped(model.Write, i, 1), id); err != nil {
			t.Fatalf("SendTo: %v", err)
		}
	}
	for i := uint64(1); i <= 5; i++ {
		m, ok := b.ReceiveNextFor(id)
		if !ok {
			t.Fatalf("message %d missing", i)
		}
		if m.Clock.Counter != i {
			t.Fatalf("FIFO violated: got counter %d, want %d", m.Clock.Counter, i)
		}
	}
	if _, ok := b.ReceiveNextFor(id); ok {
		t.Fatal("inbox should be drained")
	}
}

func TestReceiveNextForIsNonBlocking(t *testing.T) {
	b := New()
	id := b.Register("r0")
	if _, ok := b.ReceiveNextFor(id); ok {
		t.Fatal("empty inbox returned a message")
	}
}

func TestBroadcastReachesEveryReplicaButNotClient(t *testing.T) {
	b := New()
	ids := []int{b.Register("r0"), b.Register("r1"), b.Register("r2")}

	if err := b.Broadcast(stamped(model.Write, 3, 0)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for _, id := range ids {
		m, ok := b.ReceiveNextFor(id)
		if !ok {
			t.Fatalf("replica %d did not receive the broadcast", id)
		}
		if m.Action != model.Write || m.Clock.Counter != 3 {
			t.Fatalf("replica %d: got %+v", id, m)
		}
	}
	select {
	case m := <-b.Replies():
		t.Fatalf("broadcast leaked to the client: %+v", m)
	default:
	}
}

func TestSendToClientSurfacesReply(t *testing.T) {
	b := New()
	b.Register("r0")

	rep := model.NewReply(stamped(model.ShallowRead, 2, 0), 7)
	if err := b.SendTo(rep, model.ClientID); err != nil {
		t.Fatalf("SendTo(client): %v", err)
	}
	select {
	case m := <-b.Replies():
		if m.Payload != 7 || m.Action != model.Reply {
			t.Fatalf("client reply: got %+v", m)
		}
	default:
		t.Fatal("reply not surfaced to client")
	}
}

// The client reply stream is bounded: once the buffer fills, further
// replies are dropped instead of blocking the sender.
func TestClientReplyStreamBoundedNotBlocking(t *testing.T) {
	b := New()
	b.Register("r0")

	rep := model.NewReply(stamped(model.ShallowRead, 2, 0), 7)
	for i := 0; i < replyBuffer+5; i++ {
		if err := b.SendTo(rep, model.ClientID); err != nil {
			t.Fatalf("SendTo(client) #%d: %v", i, err)
		}
	}

	received := 0
	for {
		select {
		case <-b.Replies():
			received++
			continue
		default:
		}
		break
	}
	if received != replyBuffer {
		t.Fatalf("surfaced %d replies, want buffer size %d", received, replyBuffer)
	}
}

func TestSendToUnknownIDFailsFast(t *testing.T) {
	b := New()
	b.Register("r0")
	if err := b.SendTo(stamped(model.Write, 1, 0), 7); err == nil {
		t.Fatal("SendTo(unknown id): expected error")
	}
}

func TestNames(t *testing.T) {
	b := New()
	b.Register("alpha")
	b.Register("beta")
	if got := b.Name(1); got != "beta" {
		t.Fatalf("Name(1): got %q, want beta", got)
	}
	if got := b.Name(9); got != "" {
		t.Fatalf("Name(9): got %q, want empty", got)
	}
}
