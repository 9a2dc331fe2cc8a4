package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/openchatroom/internal/chat"
)

// Bus is a chat.Bus over Redis pub/sub. Each subscription holds its own
// pubsub connection and reads it with a blocking receive loop.
type Bus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewBus wraps client.
func NewBus(client *redis.Client, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{client: client, logger: logger.With(slog.String("component", "bus"))}
}

func (b *Bus) Publish(ctx context.Context, room chat.RoomID, payload []byte) error {
	if err := b.client.Publish(ctx, roomChannel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", roomChannel(room), err)
	}
	return nil
}

// Subscribe returns after Redis has confirmed the subscription, so nothing
// published after it returns is missed.
func (b *Bus) Subscribe(ctx context.Context, room chat.RoomID) (chat.Subscription, error) {
	channel := roomChannel(room)
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		pubsub: ps,
		ch:     make(chan []byte, 64),
		cancel: cancel,
		logger: b.logger.With(slog.String("channel", channel)),
	}
	go s.loop(loopCtx)
	return s, nil
}

type subscription struct {
	pubsub *redis.PubSub
	ch     chan []byte
	cancel context.CancelFunc
	logger *slog.Logger

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) loop(ctx context.Context) {
	defer close(s.ch)
	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.setErr(err)
				s.logger.Warn("subscription receive failed", slog.Any("error", err))
			}
			return
		}
		select {
		case s.ch <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *subscription) C() <-chan []byte { return s.ch }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the receive loop and drops the pubsub connection. It does not
// wait for the loop to drain.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if err := s.pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
