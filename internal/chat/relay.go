package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/openchatroom/internal/metrics"
)

// relay forwards one room's bus subscription to the local registry. All
// local sessions of a room share one relay; it subscribes on the first
// acquire and unsubscribes on the last release.
type relay struct {
	room  RoomID
	refs  int
	ready chan struct{}

	// set before ready is closed
	sub Subscription
	err error

	stopped bool
}

type relaySet struct {
	mu       sync.Mutex
	relays   map[RoomID]*relay
	bus      Bus
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func newRelaySet(bus Bus, registry *Registry, m *metrics.Metrics, logger *slog.Logger) *relaySet {
	return &relaySet{
		relays:   make(map[RoomID]*relay),
		bus:      bus,
		registry: registry,
		metrics:  m,
		logger:   logger.With(slog.String("component", "relay")),
	}
}

// acquire returns the live relay of room, subscribing if there is none.
// The subscribe call happens outside the lock; concurrent acquirers of the
// same room wait for its outcome.
func (s *relaySet) acquire(ctx context.Context, room RoomID) (*relay, error) {
	s.mu.Lock()
	r, ok := s.relays[room]
	if ok {
		r.refs++
		s.mu.Unlock()
		select {
		case <-r.ready:
		case <-ctx.Done():
			s.release(r)
			return nil, ctx.Err()
		}
		if r.err != nil {
			s.release(r)
			return nil, r.err
		}
		return r, nil
	}

	r = &relay{room: room, refs: 1, ready: make(chan struct{})}
	s.relays[room] = r
	s.mu.Unlock()

	sub, err := s.bus.Subscribe(ctx, room)
	if err != nil {
		s.metrics.BusError("subscribe")
		s.mu.Lock()
		if s.relays[room] == r {
			delete(s.relays, room)
		}
		s.mu.Unlock()
		r.err = err
		close(r.ready)
		s.release(r)
		return nil, err
	}

	r.sub = sub
	close(r.ready)
	s.metrics.RelayStarted()
	s.logger.Debug("room subscription started", slog.Int64("room", int64(room)))

	s.wg.Add(1)
	go s.pump(r)
	return r, nil
}

// release drops one reference and unsubscribes with the last one.
func (s *relaySet) release(r *relay) {
	s.mu.Lock()
	r.refs--
	last := r.refs == 0
	if last {
		if s.relays[r.room] == r {
			delete(s.relays, r.room)
		}
		r.stopped = true
	}
	s.mu.Unlock()

	if !last || r.sub == nil {
		return
	}
	if err := r.sub.Close(); err != nil {
		s.logger.Warn("error closing room subscription", slog.Int64("room", int64(r.room)), slog.Any("error", err))
	}
	s.metrics.RelayStopped()
	s.logger.Debug("room subscription stopped", slog.Int64("room", int64(r.room)))
}

func (s *relaySet) pump(r *relay) {
	defer s.wg.Done()

	for payload := range r.sub.C() {
		s.registry.Broadcast(r.room, payload)
	}

	s.mu.Lock()
	stopped := r.stopped
	if !stopped && s.relays[r.room] == r {
		delete(s.relays, r.room)
	}
	s.mu.Unlock()
	if stopped {
		return
	}

	s.metrics.BusError("subscribe")
	s.logger.Error("room subscription broke; closing local sessions",
		slog.Int64("room", int64(r.room)), slog.Any("error", r.sub.Err()))
	s.registry.CloseRoom(r.room, websocket.CloseInternalServerErr, ReasonBusUnavailable)
}

// active returns the number of rooms with a live relay.
func (s *relaySet) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.relays)
}
