package chat

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed is returned by a LocalBus after Close.
var ErrBusClosed = errors.New("bus closed")

const localBufferSize = 256

// LocalBus is an in-process Bus for single-instance deployments and tests.
// A subscriber whose buffer is full misses the payload; the bus never blocks
// a publisher on a slow subscriber.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[RoomID]map[*localSub]struct{}
	closed bool
}

// NewLocalBus returns an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[RoomID]map[*localSub]struct{})}
}

func (b *LocalBus) Publish(ctx context.Context, room RoomID, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*localSub, 0, len(b.subs[room]))
	for sub := range b.subs[room] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, room RoomID) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &localSub{bus: b, room: room, ch: make(chan []byte, localBufferSize)}
	set, ok := b.subs[room]
	if !ok {
		set = make(map[*localSub]struct{})
		b.subs[room] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Close ends every subscription with ErrBusClosed.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*localSub
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[RoomID]map[*localSub]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.finish(ErrBusClosed)
	}
	return nil
}

func (b *LocalBus) remove(sub *localSub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.room]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.room)
		}
	}
}

type localSub struct {
	bus  *LocalBus
	room RoomID

	mu   sync.Mutex
	ch   chan []byte
	done bool
	err  error
}

func (s *localSub) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- payload:
	default:
	}
}

func (s *localSub) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.ch)
}

func (s *localSub) C() <-chan []byte { return s.ch }

func (s *localSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *localSub) Close() error {
	s.bus.remove(s)
	s.finish(nil)
	return nil
}
