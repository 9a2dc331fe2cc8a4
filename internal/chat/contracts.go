package chat

import (
	"context"
	"time"
)

// Bus is the cross-process publish/subscribe channel keyed by room.
type Bus interface {
	// Publish makes payload available to every current subscriber of room.
	Publish(ctx context.Context, room RoomID, payload []byte) error
	// Subscribe returns once the subscription is live. ctx bounds only the
	// handshake; the subscription lasts until Close.
	Subscribe(ctx context.Context, room RoomID) (Subscription, error)
}

// Subscription is a live stream of payloads published to one room.
// C is closed after Close or when the subscription breaks; Err reports the
// break and is nil after a plain Close.
type Subscription interface {
	C() <-chan []byte
	Err() error
	Close() error
}

// Presence tracks which users hold live connections, per room and globally.
type Presence interface {
	AddActive(ctx context.Context, room RoomID, user UserID) error
	RemoveActive(ctx context.Context, room RoomID, user UserID) error
	CountActive(ctx context.Context, room RoomID) (int64, error)
	CountActiveGlobal(ctx context.Context) (int64, error)
}

// Counter is a fixed-window counter. Incr returns the count after increment
// and starts the window's expiry on the first increment.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Authenticator resolves a session token to the user it was issued to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Author, error)
}

// MessageStore is the slice of the persistence layer a room session needs.
type MessageStore interface {
	IsMember(ctx context.Context, room RoomID, user UserID) (bool, error)
	CreateMessage(ctx context.Context, room RoomID, user UserID, req CreateRequest) (Message, error)
	ResetUnread(ctx context.Context, room RoomID, user UserID) error
}
