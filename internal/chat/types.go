// Package chat defines the room fan-out core: message payload types and the
// collaborator contracts the room sessions depend on.
package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RoomID identifies a room. Rooms are owned by the persistence layer.
type RoomID int64

// UserID identifies an authenticated user.
type UserID int64

// ParseRoomID parses the decimal room identifier used in URLs.
func ParseRoomID(s string) (RoomID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid room id %q", s)
	}
	return RoomID(id), nil
}

// MessageKind distinguishes plain text messages from file references.
type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

// Author is the public identity attached to a message.
type Author struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Message is a persisted chat message as delivered to clients.
type Message struct {
	ID        int64       `json:"id"`
	RoomID    RoomID      `json:"room_id"`
	Author    Author      `json:"author"`
	Content   string      `json:"content"`
	Type      MessageKind `json:"type"`
	FileURL   *string     `json:"file_url"`
	CreatedAt time.Time   `json:"created_at"`
}

// CreateRequest is the payload a client sends to post a message.
type CreateRequest struct {
	Content string      `json:"content"`
	Type    MessageKind `json:"type"`
	FileURL *string     `json:"file_url,omitempty"`
}

// DecodeCreateRequest parses an inbound frame. A missing type means text.
func DecodeCreateRequest(raw []byte) (CreateRequest, error) {
	var req CreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return CreateRequest{}, fmt.Errorf("decode message: %w", err)
	}
	if req.Type == "" {
		req.Type = KindText
	}
	switch req.Type {
	case KindText, KindFile:
	default:
		return CreateRequest{}, fmt.Errorf("unsupported message type %q", req.Type)
	}
	return req, nil
}
