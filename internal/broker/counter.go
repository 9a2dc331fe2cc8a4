package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments the window counter and gives it an expiry in the
// same step. A key found without a TTL gets one too, so a window can never
// outlive its length.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Counter is a chat.Counter on Redis INCR. The expiry is set by the
// increment that creates the key, so the window is fixed at the first hit.
type Counter struct {
	client *redis.Client
}

// NewCounter wraps client.
func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

func (c *Counter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrScript.Run(ctx, c.client, []string{key}, strconv.FormatInt(window.Milliseconds(), 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}
