package chat_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Tyrowin/openchatroom/internal/chat"
	"github.com/Tyrowin/openchatroom/internal/metrics"
)

type fakePeer struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	full     bool
	closed   bool
	code     int
	reason   string
	done     chan struct{}
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id, done: make(chan struct{})} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full || p.closed {
		return false
	}
	p.received = append(p.received, payload)
	return true
}

func (p *fakePeer) Close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.code = code
	p.reason = reason
	close(p.done)
}

func (p *fakePeer) Done() <-chan struct{} { return p.done }

func (p *fakePeer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.received))
	for i, m := range p.received {
		out[i] = string(m)
	}
	return out
}

func (p *fakePeer) closeInfo() (bool, int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.code, p.reason
}

// TestRegistryBroadcastReachesOnlyRegisteredPeers verifies that a broadcast
// reaches exactly the peers registered to the room at call time.
func TestRegistryBroadcastReachesOnlyRegisteredPeers(t *testing.T) {
	reg := chat.NewRegistry(nil, nil)
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")
	other := newFakePeer("other")

	reg.Register(1, a)
	reg.Register(1, b)
	reg.Register(1, c)
	reg.Register(2, other)
	reg.Unregister(1, c)

	if got := reg.Broadcast(1, []byte("hello")); got != 2 {
		t.Errorf("Expected 2 deliveries, got %d", got)
	}

	for _, p := range []*fakePeer{a, b} {
		if msgs := p.messages(); len(msgs) != 1 || msgs[0] != "hello" {
			t.Errorf("Peer %s expected [hello], got %v", p.id, msgs)
		}
	}
	if msgs := c.messages(); len(msgs) != 0 {
		t.Errorf("Unregistered peer received %v", msgs)
	}
	if msgs := other.messages(); len(msgs) != 0 {
		t.Errorf("Peer of another room received %v", msgs)
	}
}

// TestRegistryRegisterIsIdempotent verifies that registering a peer twice
// leaves a single entry.
func TestRegistryRegisterIsIdempotent(t *testing.T) {
	reg := chat.NewRegistry(nil, nil)
	p := newFakePeer("p")

	reg.Register(5, p)
	reg.Register(5, p)

	if got := reg.Len(5); got != 1 {
		t.Errorf("Expected 1 peer, got %d", got)
	}
	if got := reg.Broadcast(5, []byte("x")); got != 1 {
		t.Errorf("Expected 1 delivery, got %d", got)
	}
}

// TestRegistryUnregisterIdempotence verifies that unregistering twice, or
// unregistering an unknown peer, is harmless and leaves other rooms alone.
func TestRegistryUnregisterIdempotence(t *testing.T) {
	reg := chat.NewRegistry(nil, nil)
	p := newFakePeer("p")
	q := newFakePeer("q")
	reg.Register(1, p)
	reg.Register(2, q)

	t.Run("first unregister removes", func(t *testing.T) {
		if !reg.Unregister(1, p) {
			t.Error("Expected first unregister to report removal")
		}
	})

	t.Run("second unregister is a no-op", func(t *testing.T) {
		if reg.Unregister(1, p) {
			t.Error("Expected second unregister to report nothing removed")
		}
	})

	t.Run("unknown peer and room", func(t *testing.T) {
		if reg.Unregister(99, newFakePeer("ghost")) {
			t.Error("Expected unregister of unknown peer to report nothing removed")
		}
	})

	if got := reg.Len(2); got != 1 {
		t.Errorf("Room 2 expected 1 peer, got %d", got)
	}
}

// TestRegistryDropsEmptyRooms verifies that no empty room entries survive.
func TestRegistryDropsEmptyRooms(t *testing.T) {
	reg := chat.NewRegistry(nil, nil)
	p := newFakePeer("p")
	reg.Register(3, p)
	reg.Unregister(3, p)

	if rooms := reg.Rooms(); len(rooms) != 0 {
		t.Errorf("Expected no rooms, got %v", rooms)
	}
}

// TestRegistryRemovesFailingPeers verifies that a peer that cannot accept a
// payload does not prevent delivery to others and is removed and closed.
func TestRegistryRemovesFailingPeers(t *testing.T) {
	reg := chat.NewRegistry(nil, nil)
	ok := newFakePeer("ok")
	slow := newFakePeer("slow")
	slow.full = true
	reg.Register(1, ok)
	reg.Register(1, slow)

	if got := reg.Broadcast(1, []byte("m")); got != 1 {
		t.Errorf("Expected 1 delivery, got %d", got)
	}
	if got := reg.Len(1); got != 1 {
		t.Errorf("Expected failing peer to be removed, room has %d peers", got)
	}

	closed, code, reason := slow.closeInfo()
	if !closed {
		t.Fatal("Expected failing peer to be closed")
	}
	if code != websocket.CloseTryAgainLater || reason != chat.ReasonSlowConsumer {
		t.Errorf("Expected close %d %q, got %d %q", websocket.CloseTryAgainLater, chat.ReasonSlowConsumer, code, reason)
	}
	if msgs := ok.messages(); len(msgs) != 1 {
		t.Errorf("Healthy peer expected one message, got %v", msgs)
	}
}

// TestRegistryClosingPeerIsNotASlowConsumer verifies that a peer refusing
// payloads because it is already closing is unregistered without being
// counted or closed again as a slow consumer.
func TestRegistryClosingPeerIsNotASlowConsumer(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := chat.NewRegistry(metrics.New(promReg), nil)
	closing := newFakePeer("closing")
	closing.Close(websocket.CloseNormalClosure, "")
	slow := newFakePeer("slow")
	slow.full = true
	reg.Register(1, closing)
	reg.Register(1, slow)

	if got := reg.Broadcast(1, []byte("m")); got != 0 {
		t.Errorf("Expected no deliveries, got %d", got)
	}
	if got := reg.Len(1); got != 0 {
		t.Errorf("Expected both peers removed, room has %d peers", got)
	}
	if _, code, reason := closing.closeInfo(); code != websocket.CloseNormalClosure || reason != "" {
		t.Errorf("Closing peer should keep its own close frame, got %d %q", code, reason)
	}
	if _, code, _ := slow.closeInfo(); code != websocket.CloseTryAgainLater {
		t.Errorf("Expected slow peer closed with %d, got %d", websocket.CloseTryAgainLater, code)
	}

	want := `
# HELP openchatroom_broadcast_drops_total Deliveries dropped because a connection could not accept them
# TYPE openchatroom_broadcast_drops_total counter
openchatroom_broadcast_drops_total 1
`
	if err := testutil.GatherAndCompare(promReg, strings.NewReader(want), "openchatroom_broadcast_drops_total"); err != nil {
		t.Error(err)
	}
}

// TestRegistryCloseRoom verifies that closing a room leaves other rooms open.
func TestRegistryCloseRoom(t *testing.T) {
	reg := chat.NewRegistry(nil, nil)
	a, b := newFakePeer("a"), newFakePeer("b")
	reg.Register(1, a)
	reg.Register(2, b)

	if n := reg.CloseRoom(1, websocket.CloseInternalServerErr, chat.ReasonBusUnavailable); n != 1 {
		t.Errorf("Expected 1 closed peer, got %d", n)
	}
	if closed, _, _ := a.closeInfo(); !closed {
		t.Error("Expected room 1 peer to be closed")
	}
	if closed, _, _ := b.closeInfo(); closed {
		t.Error("Room 2 peer should stay open")
	}
}

// TestRegistryConcurrentOperations exercises concurrent register, broadcast
// and unregister across rooms.
func TestRegistryConcurrentOperations(t *testing.T) {
	reg := chat.NewRegistry(nil, nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			room := chat.RoomID(id%3 + 1)
			p := newFakePeer(fmt.Sprintf("peer-%d", id))
			reg.Register(room, p)
			reg.Broadcast(room, []byte("concurrent"))
			reg.Unregister(room, p)
		}(i)
	}
	wg.Wait()

	if rooms := reg.Rooms(); len(rooms) != 0 {
		t.Errorf("Expected registry to be empty, got rooms %v", rooms)
	}
}
