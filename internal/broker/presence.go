package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/openchatroom/internal/chat"
)

// Presence hashes map a user to the number of connections they hold. The
// instance hash records what this process added so a restarted process can
// undo counts left behind by a crash.
var (
	addActiveScript = redis.NewScript(`
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
redis.call('HINCRBY', KEYS[3], ARGV[2], 1)
return 1
`)

	removeActiveScript = redis.NewScript(`
local held = tonumber(redis.call('HGET', KEYS[3], ARGV[2]) or '0')
if held <= 0 then
  return 0
end
if redis.call('HINCRBY', KEYS[3], ARGV[2], -1) <= 0 then
  redis.call('HDEL', KEYS[3], ARGV[2])
end
if redis.call('HINCRBY', KEYS[1], ARGV[1], -1) <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
end
if redis.call('HINCRBY', KEYS[2], ARGV[1], -1) <= 0 then
  redis.call('HDEL', KEYS[2], ARGV[1])
end
return 1
`)

	// reclaimScript derives the room hash names from the instance ledger
	// at run time, so it requires a single-node Redis (or one where every
	// presence key lives on the same shard) and the room:{id}:active_users
	// layout of roomPresenceKey.
	reclaimScript = redis.NewScript(`
local entries = redis.call('HGETALL', KEYS[1])
local reclaimed = 0
for i = 1, #entries, 2 do
  local field = entries[i]
  local n = tonumber(entries[i + 1])
  local sep = string.find(field, ':', 1, true)
  if sep and n and n > 0 then
    local user = string.sub(field, sep + 1)
    local roomKey = 'room:' .. string.sub(field, 1, sep - 1) .. ':active_users'
    if redis.call('HINCRBY', roomKey, user, -n) <= 0 then
      redis.call('HDEL', roomKey, user)
    end
    if redis.call('HINCRBY', KEYS[2], user, -n) <= 0 then
      redis.call('HDEL', KEYS[2], user)
    end
    reclaimed = reclaimed + n
  end
end
redis.call('DEL', KEYS[1])
return reclaimed
`)
)

// Presence is a chat.Presence on Redis hashes shared by every instance.
type Presence struct {
	client   *redis.Client
	instance string
	logger   *slog.Logger
}

// NewPresence returns a presence store recording under instance. Each
// running process needs a distinct, stable instance name.
func NewPresence(client *redis.Client, instance string, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{
		client:   client,
		instance: instance,
		logger:   logger.With(slog.String("component", "presence"), slog.String("instance", instance)),
	}
}

func (p *Presence) keys(room chat.RoomID) []string {
	return []string{roomPresenceKey(room), globalPresenceKey, instancePresenceKey(p.instance)}
}

func instanceField(room chat.RoomID, user chat.UserID) string {
	return fmt.Sprintf("%d:%d", room, user)
}

func (p *Presence) AddActive(ctx context.Context, room chat.RoomID, user chat.UserID) error {
	err := addActiveScript.Run(ctx, p.client, p.keys(room), strconv.FormatInt(int64(user), 10), instanceField(room, user)).Err()
	if err != nil {
		return fmt.Errorf("add presence room %d user %d: %w", room, user, err)
	}
	return nil
}

// RemoveActive undoes one AddActive made by this instance. Removing a
// connection this instance never added is a no-op.
func (p *Presence) RemoveActive(ctx context.Context, room chat.RoomID, user chat.UserID) error {
	err := removeActiveScript.Run(ctx, p.client, p.keys(room), strconv.FormatInt(int64(user), 10), instanceField(room, user)).Err()
	if err != nil {
		return fmt.Errorf("remove presence room %d user %d: %w", room, user, err)
	}
	return nil
}

func (p *Presence) CountActive(ctx context.Context, room chat.RoomID) (int64, error) {
	n, err := p.client.HLen(ctx, roomPresenceKey(room)).Result()
	if err != nil {
		return 0, fmt.Errorf("count presence room %d: %w", room, err)
	}
	return n, nil
}

func (p *Presence) CountActiveGlobal(ctx context.Context) (int64, error) {
	n, err := p.client.HLen(ctx, globalPresenceKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count global presence: %w", err)
	}
	return n, nil
}

// Reclaim removes every connection this instance recorded and never
// removed. Call it at startup, before serving.
func (p *Presence) Reclaim(ctx context.Context) (int64, error) {
	n, err := reclaimScript.Run(ctx, p.client, []string{instancePresenceKey(p.instance), globalPresenceKey}).Int64()
	if err != nil {
		return 0, fmt.Errorf("reclaim presence: %w", err)
	}
	if n > 0 {
		p.logger.Info("reclaimed stale presence", slog.Int64("connections", n))
	}
	return n, nil
}
