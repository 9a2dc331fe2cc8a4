package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/openchatroom/internal/metrics"
)

// TracerName is the instrumentation name of the session spans.
const TracerName = "openchatroom/chat"

// HubConfig wires a Hub to its collaborators. Bus, Presence, Store and Auth
// are required.
type HubConfig struct {
	Bus      Bus
	Presence Presence
	Filter   *Filter
	Store    MessageStore
	Auth     Authenticator
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Conn     ConnConfig
	Tracer   trace.Tracer
}

// Hub owns the local connection registry and room relays of one process
// and runs a Session for every admitted connection.
type Hub struct {
	bus      Bus
	presence Presence
	filter   *Filter
	store    MessageStore
	auth     Authenticator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	connCfg  ConnConfig
	tracer   trace.Tracer

	registry *Registry
	relays   *relaySet

	closing atomic.Bool
	wg      sync.WaitGroup
}

// NewHub builds a Hub. A nil Filter gets one backed by an in-process counter.
func NewHub(cfg HubConfig) (*Hub, error) {
	switch {
	case cfg.Bus == nil:
		return nil, errors.New("chat: hub requires a bus")
	case cfg.Presence == nil:
		return nil, errors.New("chat: hub requires a presence store")
	case cfg.Store == nil:
		return nil, errors.New("chat: hub requires a message store")
	case cfg.Auth == nil:
		return nil, errors.New("chat: hub requires an authenticator")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Filter == nil {
		cfg.Filter = NewFilter(NewMemoryCounter(), FilterConfig{}, logger)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(TracerName)
	}

	registry := NewRegistry(cfg.Metrics, logger)
	return &Hub{
		bus:      cfg.Bus,
		presence: cfg.Presence,
		filter:   cfg.Filter,
		store:    cfg.Store,
		auth:     cfg.Auth,
		metrics:  cfg.Metrics,
		logger:   logger.With(slog.String("component", "hub")),
		connCfg:  cfg.Conn.sanitize(),
		tracer:   cfg.Tracer,
		registry: registry,
		relays:   newRelaySet(cfg.Bus, registry, cfg.Metrics, logger),
	}, nil
}

// Registry exposes the local connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// ActiveRelays returns the number of rooms with a live bus subscription.
func (h *Hub) ActiveRelays() int { return h.relays.active() }

// Serve runs a session for ws in room and blocks until it is closed. token
// is the session credential presented with the upgrade request. The
// returned error explains why the session ended; a peer disconnect is nil.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, room RoomID, token string) error {
	h.wg.Add(1)
	defer h.wg.Done()

	conn := newConn(ws, h.connCfg, h.logger.With(slog.Int64("room", int64(room))))
	conn.start()

	s := &Session{
		hub:    h,
		conn:   conn,
		room:   room,
		logger: conn.logger,
	}

	if h.closing.Load() {
		err := &CloseError{Code: websocket.CloseGoingAway, Reason: ReasonShutdown}
		h.reject(ctx, s, err)
		return err
	}

	if err := s.admit(ctx, token); err != nil {
		h.reject(ctx, s, err)
		return err
	}

	err := s.activate(ctx)
	if err == nil {
		err = s.readLoop(ctx)
	}
	if err != nil {
		s.closeWith(err)
	}
	s.teardown(ctx)
	h.metrics.SessionEnded(sessionOutcome(err))
	return err
}

// reject closes a connection that never became active.
func (h *Hub) reject(ctx context.Context, s *Session, err error) {
	s.logger.Info("connection refused", slog.Any("error", err))
	s.closeWith(err)
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	_ = s.conn.wait(waitCtx)
	s.setState(StateClosed)
	h.metrics.SessionEnded("denied")
}

// ActiveUserCount returns the number of distinct users connected to room.
// Presence is advisory: a failing store reads as zero.
func (h *Hub) ActiveUserCount(ctx context.Context, room RoomID) int64 {
	n, err := h.presence.CountActive(ctx, room)
	if err != nil {
		h.metrics.PresenceError()
		h.logger.Warn("presence count failed", slog.Int64("room", int64(room)), slog.Any("error", err))
		return 0
	}
	return n
}

// ActiveUserCountGlobal returns the number of distinct users connected to
// any room.
func (h *Hub) ActiveUserCountGlobal(ctx context.Context) int64 {
	n, err := h.presence.CountActiveGlobal(ctx)
	if err != nil {
		h.metrics.PresenceError()
		h.logger.Warn("global presence count failed", slog.Any("error", err))
		return 0
	}
	return n
}

// Shutdown refuses new sessions, closes every live connection and waits for
// their sessions to finish tearing down or for ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info("initiating hub shutdown")
	h.closing.Store(true)
	h.registry.CloseAll(websocket.CloseGoingAway, ReasonShutdown)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.relays.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-ctx.Done():
		h.logger.Warn("hub shutdown timed out; some sessions may still be running")
		return ctx.Err()
	}
}

func sessionOutcome(err error) string {
	switch {
	case err == nil:
		return "closed"
	case errors.Is(err, ErrAbuseRejected):
		return "rejected"
	case errors.Is(err, ErrBus):
		return "bus_failure"
	default:
		return "error"
	}
}
