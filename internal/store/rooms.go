package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Tyrowin/openchatroom/internal/chat"
)

// Room is a chat room with its owner.
type Room struct {
	ID          chat.RoomID `json:"id"`
	Name        string      `json:"name"`
	IsPublic    bool        `json:"is_public"`
	IsCommunity bool        `json:"is_community"`
	OwnerID     chat.UserID `json:"owner_id"`
	Owner       User        `json:"owner"`
}

// RoomMember is a membership with the member's unread counter.
type RoomMember struct {
	User        User `json:"user"`
	UnreadCount int  `json:"unread_count"`
}

// RoomDetails is a room with its members.
type RoomDetails struct {
	Room
	Members []RoomMember `json:"members"`
}

// MemberRoom is a room as seen by one of its members.
type MemberRoom struct {
	Room
	UnreadCount int `json:"unread_count"`
}

const roomColumns = `r.id, r.name, r.is_public, r.is_community, r.owner_id, o.id, o.name, o.role`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner, extra ...any) (Room, error) {
	var r Room
	dest := append([]any{&r.ID, &r.Name, &r.IsPublic, &r.IsCommunity, &r.OwnerID, &r.Owner.ID, &r.Owner.Name, &r.Owner.Role}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Room{}, err
	}
	return r, nil
}

// CreateRoom creates a room owned by owner and makes the owner its first
// member. Rooms created by admins are community rooms.
func (s *Store) CreateRoom(ctx context.Context, name string, isPublic bool, owner User) (Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, fmt.Errorf("begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	community := owner.IsAdmin()
	id, err := s.insert(ctx, tx,
		`INSERT INTO rooms (name, is_public, is_community, owner_id) VALUES (?, ?, ?, ?)`,
		name, isPublic, community, owner.ID)
	if err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	if _, err := s.insert(ctx, tx,
		`INSERT INTO room_members (room_id, user_id, unread_count) VALUES (?, ?, 0)`, id, owner.ID); err != nil {
		return Room{}, fmt.Errorf("add room owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Room{}, fmt.Errorf("commit create room: %w", err)
	}

	return Room{
		ID:          chat.RoomID(id),
		Name:        name,
		IsPublic:    isPublic,
		IsCommunity: community,
		OwnerID:     owner.ID,
		Owner:       owner,
	}, nil
}

func (s *Store) GetRoom(ctx context.Context, id chat.RoomID) (Room, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+roomColumns+`
		FROM rooms r
		JOIN users o ON o.id = r.owner_id
		WHERE r.id = ?`), id)
	room, err := scanRoom(row)
	if err != nil {
		return Room{}, mapError(err)
	}
	return room, nil
}

// GetRoomDetails returns the room and all its members.
func (s *Store) GetRoomDetails(ctx context.Context, id chat.RoomID) (RoomDetails, error) {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return RoomDetails{}, err
	}
	members, err := s.ListMembers(ctx, id)
	if err != nil {
		return RoomDetails{}, err
	}
	return RoomDetails{Room: room, Members: members}, nil
}

// ListMembers returns the members of a room in join order.
func (s *Store) ListMembers(ctx context.Context, room chat.RoomID) ([]RoomMember, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT u.id, u.name, u.role, m.unread_count
		FROM room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.id`), room)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []RoomMember{}
	for rows.Next() {
		var m RoomMember
		if err := rows.Scan(&m.User.ID, &m.User.Name, &m.User.Role, &m.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListCommunityRooms pages through rooms created by admins.
func (s *Store) ListCommunityRooms(ctx context.Context, offset, limit int) ([]Room, error) {
	return s.listRooms(ctx, `WHERE r.is_community = ?`, offset, limit, true)
}

// ListUserspaceRooms pages through public rooms created by regular users.
func (s *Store) ListUserspaceRooms(ctx context.Context, offset, limit int) ([]Room, error) {
	return s.listRooms(ctx, `WHERE r.is_public = ? AND r.is_community = ?`, offset, limit, true, false)
}

func (s *Store) listRooms(ctx context.Context, where string, offset, limit int, args ...any) ([]Room, error) {
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+roomColumns+`
		FROM rooms r
		JOIN users o ON o.id = r.owner_id
		`+where+`
		ORDER BY r.id
		LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	return collectRooms(rows)
}

func collectRooms(rows *sql.Rows) ([]Room, error) {
	rooms := []Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ListUserRooms returns every room user belongs to with their unread count.
func (s *Store) ListUserRooms(ctx context.Context, user chat.UserID) ([]MemberRoom, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+roomColumns+`, m.unread_count
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		JOIN users o ON o.id = r.owner_id
		WHERE m.user_id = ?
		ORDER BY r.id`), user)
	if err != nil {
		return nil, fmt.Errorf("list user rooms: %w", err)
	}
	defer rows.Close()

	rooms := []MemberRoom{}
	for rows.Next() {
		var unread int
		room, err := scanRoom(rows, &unread)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, MemberRoom{Room: room, UnreadCount: unread})
	}
	return rooms, rows.Err()
}

// DeleteRoom removes a room with its members, messages and invites.
func (s *Store) DeleteRoom(ctx context.Context, id chat.RoomID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM messages WHERE room_id = ?`,
		`DELETE FROM room_members WHERE room_id = ?`,
		`DELETE FROM room_invites WHERE room_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), id); err != nil {
			return fmt.Errorf("delete room %d: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM rooms WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete room %d: %w", id, err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

// AddMember joins user to room. An existing membership yields ErrConflict.
func (s *Store) AddMember(ctx context.Context, room chat.RoomID, user chat.UserID) error {
	if _, err := s.insert(ctx, s.db,
		`INSERT INTO room_members (room_id, user_id, unread_count) VALUES (?, ?, 0)`, room, user); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember removes user from room. A missing membership yields
// ErrNotFound.
func (s *Store) RemoveMember(ctx context.Context, room chat.RoomID, user chat.UserID) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM room_members WHERE room_id = ? AND user_id = ?`), room, user)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) IsMember(ctx context.Context, room chat.RoomID, user chat.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?`), room, user).Scan(&one)
	switch mapError(err) {
	case nil:
		return true, nil
	case ErrNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check membership: %w", err)
	}
}

// ResetUnread zeroes the member's unread counter.
func (s *Store) ResetUnread(ctx context.Context, room chat.RoomID, user chat.UserID) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE room_members SET unread_count = 0 WHERE room_id = ? AND user_id = ?`), room, user)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}
