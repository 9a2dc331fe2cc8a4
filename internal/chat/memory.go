package chat

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-process fixed-window Counter.
type MemoryCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*counterWindow
}

type counterWindow struct {
	count   int64
	expires time.Time
}

// NewMemoryCounter returns an empty counter using the wall clock.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{now: time.Now, windows: make(map[string]*counterWindow)}
}

// Incr increments key. The first increment of a window fixes its expiry;
// later increments never extend it.
func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.expires) {
		w = &counterWindow{expires: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// MemoryPresence is an in-process Presence with per-connection reference
// counting: a user stays present in a room until the last of their
// connections to it is removed.
type MemoryPresence struct {
	mu     sync.Mutex
	rooms  map[RoomID]map[UserID]int
	global map[UserID]int
}

// NewMemoryPresence returns an empty presence set.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		rooms:  make(map[RoomID]map[UserID]int),
		global: make(map[UserID]int),
	}
}

func (p *MemoryPresence) AddActive(_ context.Context, room RoomID, user UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.rooms[room]
	if !ok {
		users = make(map[UserID]int)
		p.rooms[room] = users
	}
	users[user]++
	p.global[user]++
	return nil
}

func (p *MemoryPresence) RemoveActive(_ context.Context, room RoomID, user UserID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.rooms[room]
	if !ok || users[user] == 0 {
		return nil
	}
	if users[user]--; users[user] == 0 {
		delete(users, user)
		if len(users) == 0 {
			delete(p.rooms, room)
		}
	}
	if p.global[user]--; p.global[user] <= 0 {
		delete(p.global, user)
	}
	return nil
}

func (p *MemoryPresence) CountActive(_ context.Context, room RoomID) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.rooms[room])), nil
}

func (p *MemoryPresence) CountActiveGlobal(_ context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.global)), nil
}
