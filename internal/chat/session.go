package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	StateAdmitting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAdmitting:
		return "admitting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const teardownTimeout = 5 * time.Second

// Session drives one client connection to one room through admission,
// the inbound loop and teardown.
type Session struct {
	hub    *Hub
	conn   *Conn
	room   RoomID
	user   Author
	state  atomic.Int32
	logger *slog.Logger

	present bool
	relay   *relay
}

// State returns the current lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// admit resolves the credential and checks room membership. Nothing is
// registered until it succeeds.
func (s *Session) admit(ctx context.Context, token string) error {
	if token == "" {
		return policyViolation(ReasonNotAuthenticated, ErrAdmissionDenied)
	}
	author, err := s.hub.auth.Authenticate(ctx, token)
	if err != nil {
		return policyViolation(ReasonInvalidSession, errors.Join(ErrAdmissionDenied, err))
	}
	member, err := s.hub.store.IsMember(ctx, s.room, author.ID)
	if err != nil {
		return &CloseError{Code: websocket.CloseInternalServerErr, Reason: ReasonMembershipFailed, Err: err}
	}
	if !member {
		return policyViolation(ReasonNotMember, ErrAdmissionDenied)
	}

	s.user = author
	s.logger = s.logger.With(slog.Int64("user", int64(author.ID)))
	return nil
}

// activate registers the connection, records presence and joins the room
// relay. Presence failures are logged and do not stop the session.
func (s *Session) activate(ctx context.Context) error {
	s.setState(StateActive)
	s.hub.registry.Register(s.room, s.conn)
	if s.hub.closing.Load() {
		return &CloseError{Code: websocket.CloseGoingAway, Reason: ReasonShutdown}
	}

	if err := s.hub.presence.AddActive(ctx, s.room, s.user.ID); err != nil {
		s.hub.metrics.PresenceError()
		s.logger.Warn("presence add failed", slog.Any("error", errors.Join(ErrPresence, err)))
	} else {
		s.present = true
	}

	r, err := s.hub.relays.acquire(ctx, s.room)
	if err != nil {
		return busFailure(err)
	}
	s.relay = r

	if err := s.hub.store.ResetUnread(ctx, s.room, s.user.ID); err != nil {
		s.logger.Warn("unread reset failed", slog.Any("error", err))
	}
	s.logger.Info("session active")
	return nil
}

// readLoop processes inbound frames until the peer goes away or a message
// ends the session.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		raw, err := s.conn.readMessage()
		if err != nil {
			s.conn.logReadError(err)
			return nil
		}
		if err := s.handle(ctx, raw); err != nil {
			return err
		}
	}
}

// handle runs one inbound payload through decode, filter, persist and
// publish. Only abuse and bus failures end the session.
func (s *Session) handle(ctx context.Context, raw []byte) error {
	ctx, span := s.hub.tracer.Start(ctx, "chat.message", trace.WithAttributes(
		attribute.Int64("chat.room", int64(s.room)),
		attribute.Int64("chat.user", int64(s.user.ID)),
	))
	defer span.End()

	outcome := func(o string) {
		span.SetAttributes(attribute.String("chat.outcome", o))
		s.hub.metrics.Message(o)
	}

	req, err := DecodeCreateRequest(raw)
	if err != nil {
		outcome("invalid")
		s.logger.Info("invalid message payload; skipping", slog.Any("error", err))
		return nil
	}

	if decision := s.hub.filter.Evaluate(ctx, s.user.ID, req.Content); !decision.Accepted {
		outcome("rejected")
		s.logger.Info("message rejected", slog.String("reason", string(decision.Reason)))
		return policyViolation(ReasonSpam, fmt.Errorf("%w: %s", ErrAbuseRejected, decision.Reason))
	}

	msg, err := s.hub.store.CreateMessage(ctx, s.room, s.user.ID, req)
	if err != nil {
		outcome("persist_failed")
		span.RecordError(err)
		s.logger.Error("message dropped", slog.Any("error", fmt.Errorf("%w: %w", ErrPersistence, err)))
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		outcome("persist_failed")
		s.logger.Error("error encoding message", slog.Int64("message", msg.ID), slog.Any("error", err))
		return nil
	}

	if err := s.hub.bus.Publish(ctx, s.room, payload); err != nil {
		outcome("publish_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		s.hub.metrics.BusError("publish")
		return busFailure(err)
	}

	outcome("accepted")
	return nil
}

// teardown releases everything activate acquired. Each step runs even when
// an earlier one fails.
func (s *Session) teardown(ctx context.Context) {
	s.setState(StateClosing)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	s.conn.Close(websocket.CloseNormalClosure, "")
	s.hub.registry.Unregister(s.room, s.conn)

	if s.present {
		if err := s.hub.presence.RemoveActive(ctx, s.room, s.user.ID); err != nil {
			s.hub.metrics.PresenceError()
			s.logger.Warn("presence remove failed", slog.Any("error", errors.Join(ErrPresence, err)))
		}
	}
	if s.relay != nil {
		s.hub.relays.release(s.relay)
	}
	if err := s.hub.store.ResetUnread(ctx, s.room, s.user.ID); err != nil {
		s.logger.Warn("unread reset failed", slog.Any("error", err))
	}
	if err := s.conn.wait(ctx); err != nil {
		s.logger.Warn("write pump did not finish", slog.Any("error", err))
	}

	s.setState(StateClosed)
	s.logger.Info("session closed")
}

// closeWith ends the connection with the frame carried by err, if any.
func (s *Session) closeWith(err error) {
	var ce *CloseError
	if errors.As(err, &ce) {
		s.conn.Close(ce.Code, ce.Reason)
		return
	}
	s.conn.Close(websocket.CloseInternalServerErr, "")
}
