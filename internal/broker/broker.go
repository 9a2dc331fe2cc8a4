// Package broker implements the shared chat services on Redis: the room
// pub/sub bus, the presence store and the abuse counter. Every server
// instance points at the same Redis so they stay consistent.
package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/openchatroom/internal/chat"
)

// Options selects the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect opens a client and verifies the server answers.
func Connect(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

func roomChannel(room chat.RoomID) string {
	return fmt.Sprintf("room:%d", room)
}

func roomPresenceKey(room chat.RoomID) string {
	return fmt.Sprintf("room:%d:active_users", room)
}

const globalPresenceKey = "global:active_users"

func instancePresenceKey(instance string) string {
	return "presence:instance:" + instance
}
