package chat

import (
	"context"
	"testing"
	"time"
)

// TestMemoryCounterFixedWindow verifies that the window is fixed at the
// first increment and resets only after it expires.
func TestMemoryCounterFixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryCounter()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if got, _ := c.Incr(ctx, "k", 10*time.Second); got != i {
			t.Fatalf("Expected count %d, got %d", i, got)
		}
		now = now.Add(3 * time.Second)
	}

	// 9s after the first increment the window is still open.
	if got, _ := c.Incr(ctx, "k", 10*time.Second); got != 4 {
		t.Errorf("Expected count 4 inside the window, got %d", got)
	}

	now = now.Add(time.Second)
	if got, _ := c.Incr(ctx, "k", 10*time.Second); got != 1 {
		t.Errorf("Expected reset to 1 after the window, got %d", got)
	}
}

// TestMemoryPresenceRoomsAndGlobal covers a user connected to two rooms who
// then leaves one of them.
func TestMemoryPresenceRoomsAndGlobal(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()

	_ = p.AddActive(ctx, 7, 1)
	_ = p.AddActive(ctx, 9, 1)

	assertCount(t, p, 7, 1)
	assertCount(t, p, 9, 1)
	assertGlobal(t, p, 1)

	_ = p.RemoveActive(ctx, 7, 1)

	assertCount(t, p, 7, 0)
	assertCount(t, p, 9, 1)
	assertGlobal(t, p, 1)

	_ = p.RemoveActive(ctx, 9, 1)
	assertGlobal(t, p, 0)
}

// TestMemoryPresenceReferenceCounting verifies that duplicate connections
// count once and the user stays present until the last one closes.
func TestMemoryPresenceReferenceCounting(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()

	_ = p.AddActive(ctx, 7, 1)
	_ = p.AddActive(ctx, 7, 1)
	_ = p.AddActive(ctx, 7, 2)
	assertCount(t, p, 7, 2)

	_ = p.RemoveActive(ctx, 7, 1)
	assertCount(t, p, 7, 2)

	_ = p.RemoveActive(ctx, 7, 1)
	assertCount(t, p, 7, 1)
	assertGlobal(t, p, 1)

	// Removing more than was added must not go negative.
	_ = p.RemoveActive(ctx, 7, 1)
	_ = p.RemoveActive(ctx, 8, 1)
	assertCount(t, p, 7, 1)
	assertGlobal(t, p, 1)
}

func assertCount(t *testing.T, p *MemoryPresence, room RoomID, want int64) {
	t.Helper()
	got, err := p.CountActive(context.Background(), room)
	if err != nil {
		t.Fatalf("CountActive(%d) failed: %v", room, err)
	}
	if got != want {
		t.Errorf("Expected %d active in room %d, got %d", want, room, got)
	}
}

func assertGlobal(t *testing.T, p *MemoryPresence, want int64) {
	t.Helper()
	got, err := p.CountActiveGlobal(context.Background())
	if err != nil {
		t.Fatalf("CountActiveGlobal failed: %v", err)
	}
	if got != want {
		t.Errorf("Expected %d active globally, got %d", want, got)
	}
}
