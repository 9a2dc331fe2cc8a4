package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Tyrowin/openchatroom/internal/chat"
)

// Invite is a shareable token resolving to a room.
type Invite struct {
	Token  string      `json:"token"`
	RoomID chat.RoomID `json:"room_id"`
}

// CreateInvite issues a new random invite token for room.
func (s *Store) CreateInvite(ctx context.Context, room chat.RoomID) (Invite, error) {
	token := uuid.NewString()
	if _, err := s.insert(ctx, s.db, `INSERT INTO room_invites (room_id, token) VALUES (?, ?)`, room, token); err != nil {
		return Invite{}, fmt.Errorf("create invite: %w", err)
	}
	return Invite{Token: token, RoomID: room}, nil
}

// GetRoomByInvite resolves an invite token. Malformed tokens are
// ErrNotFound.
func (s *Store) GetRoomByInvite(ctx context.Context, token string) (Room, error) {
	parsed, err := uuid.Parse(token)
	if err != nil {
		return Room{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+roomColumns+`
		FROM room_invites i
		JOIN rooms r ON r.id = i.room_id
		JOIN users o ON o.id = r.owner_id
		WHERE i.token = ?`), parsed.String())
	room, err := scanRoom(row)
	if err != nil {
		return Room{}, mapError(err)
	}
	return room, nil
}
