package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var received int32
	eb.On(EventPickupChanged, func(e Event) {
		if e.Payload["pickup_id"] == "p1" {
			atomic.AddInt32(&received, 1)
		}
	})
	eb.On("other", func(Event) { t.Error("handler for another type was called") })

	eb.Emit(Event{Type: EventPickupChanged, Payload: map[string]any{"pickup_id": "p1"}})

	if atomic.LoadInt32(&received) != 1 {
		t.Errorf("expected 1 event received, got %d", received)
	}
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var count int32
	id := eb.On(EventPickupChanged, func(e Event) {
		atomic.AddInt32(&count, 1)
	})

	eb.Emit(Event{Type: EventPickupChanged})
	eb.Off(EventPickupChanged, id)
	eb.Emit(Event{Type: EventPickupChanged})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestEventBus_OffKeepsOtherHandlers(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	var a, b int
	idA := eb.On("x", func(Event) { a++ })
	eb.Off("x", idA)
	idB := eb.On("x", func(Event) { b++ })
	idC := eb.On("x", func(Event) {})
	if idB == idC {
		t.Fatalf("duplicate handler ids %q", idB)
	}
	eb.Off("x", idC)
	eb.Emit(Event{Type: "x"})
	if a != 0 || b != 1 {
		t.Errorf("a=%d b=%d", a, b)
	}
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	eb.Emit(Event{Type: EventPickupChanged, Timestamp: base})
	eb.Emit(Event{Type: "other", Timestamp: base.Add(time.Second)})
	eb.Emit(Event{Type: EventPickupChanged, Timestamp: base.Add(2 * time.Second)})

	if got := eb.Replay(EventPickupChanged, time.Time{}); len(got) != 2 {
		t.Errorf("expected 2 pickup events, got %d", len(got))
	}
	got := eb.Replay(EventPickupChanged, base.Add(2*time.Second))
	if len(got) != 1 || !got[0].Timestamp.Equal(base.Add(2*time.Second)) {
		t.Errorf("since is inclusive: %+v", got)
	}
}

func TestEventBus_HistoryLimit(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: EventPickupChanged, Payload: map[string]any{"n": i}})
	}

	got := eb.Replay(EventPickupChanged, time.Time{})
	if len(got) != 5 || got[0].Payload["n"] != 5 {
		t.Errorf("expected the newest 5 events, got %d starting at %v", len(got), got[0].Payload["n"])
	}
}

func TestEventBus_PanicRecovery(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var after int32
	eb.On(EventPickupChanged, func(e Event) {
		panic("subscriber bug")
	})
	eb.On(EventPickupChanged, func(e Event) {
		atomic.AddInt32(&after, 1)
	})

	eb.Emit(Event{Type: EventPickupChanged})
	if atomic.LoadInt32(&after) != 1 {
		t.Error("handler after the panicking one was skipped")
	}
}

func TestEventBus_EmitAsync(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	done := make(chan struct{})
	eb.On(EventPickupChanged, func(e Event) { close(done) })

	eb.EmitAsync(Event{Type: EventPickupChanged})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async event not delivered")
	}
}

func TestEventBus_TimestampAutoSet(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	eb.now = func() time.Time { return fixed }

	eb.Emit(Event{Type: EventPickupChanged})

	events := eb.Replay(EventPickupChanged, time.Time{})
	if len(events) != 1 || !events[0].Timestamp.Equal(fixed) {
		t.Fatalf("timestamp should be set from the clock: %+v", events)
	}
}
