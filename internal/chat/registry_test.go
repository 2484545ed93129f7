package chat

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRegistry_CreateGetClose(t *testing.T) {
	r := NewRegistry(SessionConfig{Responder: &stubResponder{}}, time.Minute, testLogger())
	s := r.Create(nil)
	if len(s.Messages()) != 1 {
		t.Error("created session should carry the greeting")
	}
	got, err := r.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("Get: %v", err)
	}
	if err := r.Close(s.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if err := r.Close(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double close: %v", err)
	}
}

func TestRegistry_CleanupEvictsIdle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	r := NewRegistry(SessionConfig{Responder: &stubResponder{}, Now: clock.Now}, 10*time.Minute, testLogger())

	stale := r.Create(nil)
	clock.Advance(8 * time.Minute)
	fresh := r.Create(nil)
	clock.Advance(5 * time.Minute)

	if n := r.Cleanup(); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if _, err := r.Get(stale.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Error("stale session should be gone")
	}
	if _, err := r.Get(fresh.ID()); err != nil {
		t.Error("fresh session should survive")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestRegistry_GetKeepsSessionAlive(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	r := NewRegistry(SessionConfig{Responder: &stubResponder{}, Now: clock.Now}, 10*time.Minute, testLogger())
	s := r.Create(nil)
	for i := 0; i < 3; i++ {
		clock.Advance(6 * time.Minute)
		if _, err := r.Get(s.ID()); err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		r.Cleanup()
	}
}

func TestRegistry_OnCloseHooks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	r := NewRegistry(SessionConfig{Responder: &stubResponder{}, Now: clock.Now}, time.Minute, testLogger())

	var closed []string
	r.OnClose(func(id string) { closed = append(closed, id) })

	a := r.Create(nil)
	b := r.Create(nil)
	if err := r.Close(a.ID()); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)
	r.Cleanup()

	if len(closed) != 2 || closed[0] != a.ID() || closed[1] != b.ID() {
		t.Errorf("closed = %v, want [%s %s]", closed, a.ID(), b.ID())
	}
}
