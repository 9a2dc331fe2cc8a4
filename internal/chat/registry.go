package chat

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/openchatroom/internal/metrics"
)

// Peer is a locally reachable connection as seen by the Registry.
type Peer interface {
	ID() string
	// Send queues payload without blocking and reports whether it was queued.
	Send(payload []byte) bool
	// Close ends the connection with a close frame. Safe to call repeatedly.
	Close(code int, reason string)
	// Done is closed once the connection has started closing.
	Done() <-chan struct{}
}

type roomSet struct {
	mu    sync.Mutex
	peers map[Peer]struct{}
}

// Registry maps each room to the live local connections subscribed to it.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[RoomID]*roomSet
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry. m may be nil.
func NewRegistry(m *metrics.Metrics, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:   make(map[RoomID]*roomSet),
		metrics: m,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Register adds peer to room. Registering the same peer twice is a no-op.
func (r *Registry) Register(room RoomID, peer Peer) {
	if peer == nil {
		r.logger.Warn("received nil peer registration; skipping", slog.Int64("room", int64(room)))
		return
	}

	r.mu.Lock()
	set, ok := r.rooms[room]
	if !ok {
		set = &roomSet{peers: make(map[Peer]struct{})}
		r.rooms[room] = set
	}
	set.mu.Lock()
	_, existed := set.peers[peer]
	set.peers[peer] = struct{}{}
	count := len(set.peers)
	set.mu.Unlock()
	r.mu.Unlock()

	if existed {
		return
	}
	r.metrics.ConnectionOpened()
	r.logger.Debug("peer registered",
		slog.Int64("room", int64(room)), slog.String("conn", peer.ID()), slog.Int("room_peers", count))
}

// Unregister removes peer from room and reports whether it was registered.
// The room key is dropped with its last peer.
func (r *Registry) Unregister(room RoomID, peer Peer) bool {
	r.mu.Lock()
	set, ok := r.rooms[room]
	if !ok {
		r.mu.Unlock()
		return false
	}
	set.mu.Lock()
	_, existed := set.peers[peer]
	delete(set.peers, peer)
	count := len(set.peers)
	set.mu.Unlock()
	if count == 0 {
		delete(r.rooms, room)
	}
	r.mu.Unlock()

	if existed {
		r.metrics.ConnectionClosed()
		r.logger.Debug("peer unregistered",
			slog.Int64("room", int64(room)), slog.String("conn", peer.ID()), slog.Int("room_peers", count))
	}
	return existed
}

// Broadcast delivers payload to every peer registered under room when the
// call starts and returns how many accepted it. Peers that cannot accept
// are removed and closed.
func (r *Registry) Broadcast(room RoomID, payload []byte) int {
	peers := r.snapshot(room)
	if len(peers) == 0 {
		return 0
	}

	var failed []Peer
	delivered := 0
	for _, peer := range peers {
		if peer.Send(payload) {
			delivered++
			continue
		}
		failed = append(failed, peer)
	}
	r.removeFailed(room, failed)
	return delivered
}

// CloseRoom closes every local peer of room.
func (r *Registry) CloseRoom(room RoomID, code int, reason string) int {
	peers := r.snapshot(room)
	for _, peer := range peers {
		peer.Close(code, reason)
	}
	return len(peers)
}

// CloseAll closes every local peer in every room.
func (r *Registry) CloseAll(code int, reason string) int {
	closed := 0
	for _, room := range r.Rooms() {
		closed += r.CloseRoom(room, code, reason)
	}
	r.logger.Info("closed peer connections", slog.Int("count", closed))
	return closed
}

// Len returns the number of peers registered under room.
func (r *Registry) Len(room RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.rooms[room]
	if !ok {
		return 0
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.peers)
}

// Rooms returns the rooms that currently have at least one peer.
func (r *Registry) Rooms() []RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]RoomID, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// snapshot returns the peers of room at call time.
func (r *Registry) snapshot(room RoomID) []Peer {
	r.mu.RLock()
	set, ok := r.rooms[room]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	peers := make([]Peer, 0, len(set.peers))
	for peer := range set.peers {
		peers = append(peers, peer)
	}
	return peers
}

// removeFailed drops peers that refused a payload and closes the slow ones
// after the locks are released. A peer that is already closing is only
// unregistered.
func (r *Registry) removeFailed(room RoomID, failed []Peer) {
	for _, peer := range failed {
		if !r.Unregister(room, peer) {
			continue
		}
		select {
		case <-peer.Done():
			continue
		default:
		}
		r.metrics.BroadcastDropped()
		r.logger.Warn("peer removed due to full send buffer",
			slog.Int64("room", int64(room)), slog.String("conn", peer.ID()))
		peer.Close(websocket.CloseTryAgainLater, ReasonSlowConsumer)
	}
}
