// Package auth issues and verifies session tokens. A token is an HS256 JWT
// naming a server-side session row, so revoking or expiring the row revokes
// the token.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/openchatroom/internal/chat"
	"github.com/Tyrowin/openchatroom/internal/store"
)

// DefaultSessionTTL is how long a started session stays valid.
const DefaultSessionTTL = 30 * 24 * time.Hour

var (
	// ErrInvalidSession is returned for bad signatures, expired tokens and
	// unknown or expired session rows.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidName is returned when a session is started without a name.
	ErrInvalidName = errors.New("name is required")
)

// UserStore is the persistence the manager needs.
type UserStore interface {
	GetUserByName(ctx context.Context, name string) (store.User, error)
	CreateUser(ctx context.Context, name string) (store.User, error)
	CreateSession(ctx context.Context, id string, user chat.UserID, expiresAt time.Time) error
	GetUserBySession(ctx context.Context, id string, now time.Time) (store.User, error)
}

// Claims are the token claims. Subject holds the user id.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Session is a freshly started session.
type Session struct {
	User      store.User
	Token     string
	ExpiresAt time.Time
}

// Manager starts and verifies sessions.
type Manager struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a manager signing with secret. A non-positive ttl
// means DefaultSessionTTL.
func NewManager(users UserStore, secret string, ttl time.Duration, logger *slog.Logger) (*Manager, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if secret == "" {
		return nil, errors.New("auth: session secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		users:  users,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "auth")),
	}, nil
}

// Start looks up the user by name, creating it on first use, and opens a
// new session for it.
func (m *Manager) Start(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, ErrInvalidName
	}

	user, err := m.findOrCreate(ctx, name)
	if err != nil {
		return Session{}, err
	}

	sid, err := newSessionID()
	if err != nil {
		return Session{}, err
	}
	now := m.now()
	expiresAt := now.Add(m.ttl)
	if err := m.users.CreateSession(ctx, sid, user.ID, expiresAt); err != nil {
		return Session{}, err
	}

	token, err := m.sign(sid, user.ID, now, expiresAt)
	if err != nil {
		return Session{}, err
	}

	m.logger.Info("session started", slog.Int64("user", int64(user.ID)))
	return Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (m *Manager) findOrCreate(ctx context.Context, name string) (store.User, error) {
	user, err := m.users.GetUserByName(ctx, name)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	user, err = m.users.CreateUser(ctx, name)
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent start for the same name.
		return m.users.GetUserByName(ctx, name)
	}
	return user, err
}

func (m *Manager) sign(sid string, user chat.UserID, now, expiresAt time.Time) (string, error) {
	claims := Claims{
		SessionID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(int64(user), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// User resolves a token to the user owning its live session.
func (m *Manager) User(ctx context.Context, token string) (store.User, error) {
	if token == "" {
		return store.User{}, ErrInvalidSession
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid || claims.SessionID == "" {
		return store.User{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	user, err := m.users.GetUserBySession(ctx, claims.SessionID, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidSession
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup session: %w", err)
	}
	if claims.Subject != strconv.FormatInt(int64(user.ID), 10) {
		return store.User{}, ErrInvalidSession
	}
	return user, nil
}

// Authenticate implements chat.Authenticator.
func (m *Manager) Authenticate(ctx context.Context, token string) (chat.Author, error) {
	user, err := m.User(ctx, token)
	if err != nil {
		return chat.Author{}, err
	}
	return user.Author(), nil
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
