package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Tyrowin/openchatroom/internal/chat"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account identified by its unique name.
type User struct {
	ID   chat.UserID `json:"id"`
	Name string      `json:"name"`
	Role string      `json:"role"`
}

// Author returns the identity attached to the user's messages.
func (u User) Author() chat.Author {
	return chat.Author{ID: u.ID, Name: u.Name, Role: u.Role}
}

// IsAdmin reports whether the user creates community rooms.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

func (s *Store) GetUser(ctx context.Context, id chat.UserID) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, role FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.Name, &u.Role)
	if err != nil {
		return User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, role FROM users WHERE name = ?`), name).
		Scan(&u.ID, &u.Name, &u.Role)
	if err != nil {
		return User{}, mapError(err)
	}
	return u, nil
}

// CreateUser inserts a user with the default role. A taken name yields
// ErrConflict.
func (s *Store) CreateUser(ctx context.Context, name string) (User, error) {
	id, err := s.insert(ctx, s.db, `INSERT INTO users (name, role) VALUES (?, ?)`, name, RoleUser)
	if err != nil {
		return User{}, fmt.Errorf("create user %q: %w", name, err)
	}
	return User{ID: chat.UserID(id), Name: name, Role: RoleUser}, nil
}

// CreateSession records a session id for user valid until expiresAt.
func (s *Store) CreateSession(ctx context.Context, id string, user chat.UserID, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)`),
		id, user, expiresAt.UTC().Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("create session: %w", mapError(err))
	}
	return nil
}

// GetUserBySession returns the owner of a session that has not expired at now.
func (s *Store) GetUserBySession(ctx context.Context, id string, now time.Time) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT u.id, u.name, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ? AND s.expires_at > ?`), id, now.UTC()).
		Scan(&u.ID, &u.Name, &u.Role)
	if err != nil {
		return User{}, mapError(err)
	}
	return u, nil
}

// DeleteExpiredSessions removes sessions that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
