package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Tyrowin/openchatroom/internal/chat"
)

// CreateMessage stores a message and bumps the unread counter of every
// other member of the room in the same transaction.
func (s *Store) CreateMessage(ctx context.Context, room chat.RoomID, user chat.UserID, req chat.CreateRequest) (chat.Message, error) {
	kind := req.Type
	if kind == "" {
		kind = chat.KindText
	}
	createdAt := s.timestamp()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, fmt.Errorf("begin create message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := s.insert(ctx, tx,
		`INSERT INTO messages (room_id, user_id, content, type, file_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		room, user, req.Content, string(kind), req.FileURL, createdAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE room_members SET unread_count = unread_count + 1 WHERE room_id = ? AND user_id <> ?`),
		room, user); err != nil {
		return chat.Message{}, fmt.Errorf("bump unread: %w", err)
	}

	var author chat.Author
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT id, name, role FROM users WHERE id = ?`), user).
		Scan(&author.ID, &author.Name, &author.Role); err != nil {
		return chat.Message{}, fmt.Errorf("load author: %w", mapError(err))
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, fmt.Errorf("commit message: %w", err)
	}

	return chat.Message{
		ID:        id,
		RoomID:    room,
		Author:    author,
		Content:   req.Content,
		Type:      kind,
		FileURL:   req.FileURL,
		CreatedAt: createdAt,
	}, nil
}

// ListMessages returns a page of a room's history, newest first.
func (s *Store) ListMessages(ctx context.Context, room chat.RoomID, offset, limit int) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT m.id, m.room_id, m.content, m.type, m.file_url, m.created_at, u.id, u.name, u.role
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?`), room, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []chat.Message{}
	for rows.Next() {
		var (
			m       chat.Message
			kind    string
			fileURL sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Content, &kind, &fileURL, &m.CreatedAt,
			&m.Author.ID, &m.Author.Name, &m.Author.Role); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Type = chat.MessageKind(kind)
		if fileURL.Valid {
			url := fileURL.String
			m.FileURL = &url
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
