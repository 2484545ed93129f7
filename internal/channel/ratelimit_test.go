package channel

import (
	"net/http"
	"testing"
	"time"
)

func newClockedLimiter(burst int, perMinute float64) (*RateLimiter, *time.Time) {
	clock := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(burst, perMinute)
	rl.now = func() time.Time { return clock }
	return rl, &clock
}

func TestRateLimiter_Burst(t *testing.T) {
	rl, _ := newClockedLimiter(3, 60)
	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatalf("burst send %d rejected", i)
		}
	}
	ok, wait := rl.Allow("a")
	if ok {
		t.Fatal("fourth send should be limited")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("retry after = %v, want (0, 1s]", wait)
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Error("buckets are per client")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, clock := newClockedLimiter(1, 60) // one token per second
	rl.Allow("a")
	if ok, _ := rl.Allow("a"); ok {
		t.Fatal("bucket should be empty")
	}
	*clock = clock.Add(1500 * time.Millisecond)
	if ok, _ := rl.Allow("a"); !ok {
		t.Error("bucket should have refilled")
	}
}

func TestRateLimiter_PrunesFullBuckets(t *testing.T) {
	rl, clock := newClockedLimiter(2, 60)
	rl.Allow("a")
	rl.Allow("b")
	if rl.Len() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", rl.Len())
	}
	*clock = clock.Add(2 * time.Minute)
	rl.Allow("c")
	if rl.Len() != 1 {
		t.Errorf("idle buckets should be pruned, %d left", rl.Len())
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(5, 0)
	if rl != nil {
		t.Fatal("zero rate should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatal("nil limiter must allow everything")
		}
	}
}

func TestWeb_SendRateLimited(t *testing.T) {
	w := newTestWeb(t, &echoResponder{}, func(c *WebConfig) {
		c.Limiter = NewRateLimiter(1, 1)
	})
	h := w.Handler()
	v := createSession(t, h, nil)
	path := "/api/chat/sessions/" + v.SessionID + "/messages"

	if rec := do(t, h, http.MethodPost, path, `{"text":"one"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("first send: expected 200, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, path, `{"text":"two"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second send: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 should carry Retry-After")
	}

	// a signed-in user has their own bucket
	auth := map[string]string{"Authorization": "Bearer gc_good"}
	if rec := do(t, h, http.MethodPost, path, `{"text":"three"}`, auth); rec.Code != http.StatusOK {
		t.Errorf("authenticated send: expected 200, got %d", rec.Code)
	}
}
