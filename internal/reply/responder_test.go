package reply

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"greencycle/internal/domain"
	"greencycle/internal/lookup"
)

// spyLookups records every call and returns canned results.
type spyLookups struct {
	mu     sync.Mutex
	calls  []string
	next   *domain.Pickup
	last   *domain.Pickup
	missed []domain.Pickup
	err    error
	panic  bool
}

func (s *spyLookups) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if s.panic {
		panic("store exploded")
	}
}

func (s *spyLookups) Next(_ context.Context, _ string) (*domain.Pickup, error) {
	s.record("next")
	return s.next, s.err
}

func (s *spyLookups) LastCompleted(_ context.Context, _ string) (*domain.Pickup, error) {
	s.record("last")
	return s.last, s.err
}

func (s *spyLookups) Missed(_ context.Context, _ string) ([]domain.Pickup, error) {
	s.record("missed")
	return s.missed, s.err
}

func (s *spyLookups) Status(_ context.Context, _ string) (lookup.Report, error) {
	s.record("status")
	return lookup.Report{Next: s.next, Last: s.last, Missed: s.missed}, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newResponder(spy *spyLookups) *Responder {
	return NewResponder(ResponderConfig{Lookups: spy, Logger: testLogger()})
}

func TestRespond_GuestNeverTriggersLookup(t *testing.T) {
	spy := &spyLookups{}
	r := newResponder(spy)
	for _, text := range []string{"what's my next pickup?", "pickup status", "you missed my pickup", "my last pickup"} {
		rep := r.Respond(context.Background(), text, nil)
		if !strings.Contains(rep.Text, "log in") {
			t.Errorf("%q: expected login prompt, got %q", text, rep.Text)
		}
	}
	if len(spy.calls) != 0 {
		t.Errorf("expected zero lookups, got %v", spy.calls)
	}
}

func TestRespond_DispatchesOneLookupPerIntent(t *testing.T) {
	cases := map[string]string{
		"what's my next pickup?":  "next",
		"when was my last pickup": "last",
		"you missed my pickup":    "missed",
		"track my pickups":        "status",
	}
	for text, want := range cases {
		spy := &spyLookups{}
		newResponder(spy).Respond(context.Background(), text, member)
		if len(spy.calls) != 1 || spy.calls[0] != want {
			t.Errorf("%q: calls = %v, want [%s]", text, spy.calls, want)
		}
	}
}

func TestRespond_TemplatesSkipLookup(t *testing.T) {
	spy := &spyLookups{}
	r := newResponder(spy)
	for _, text := range []string{"hi", "what are your prices", "can i recycle glass", "How do I schedule a pickup?"} {
		r.Respond(context.Background(), text, member)
	}
	if len(spy.calls) != 0 {
		t.Errorf("expected zero lookups, got %v", spy.calls)
	}
}

func TestRespond_LookupErrorSurfacesVerbatim(t *testing.T) {
	spy := &spyLookups{err: &lookup.Error{Op: lookup.KindMissed, Err: errors.New("503 service unavailable")}}
	rep := newResponder(spy).Respond(context.Background(), "did you miss my pickup", member)
	if !strings.HasPrefix(rep.Text, "Sorry") || !strings.Contains(rep.Text, "503 service unavailable") {
		t.Errorf("got %q", rep.Text)
	}
}

func TestRespond_PanicBecomesReply(t *testing.T) {
	spy := &spyLookups{panic: true}
	rep := newResponder(spy).Respond(context.Background(), "next pickup", member)
	if !strings.Contains(rep.Text, "store exploded") {
		t.Errorf("got %q", rep.Text)
	}
	if rep.Intent != domain.IntentNextPickup {
		t.Errorf("intent = %s", rep.Intent)
	}
	if len(rep.QuickReplies) != 1 || rep.QuickReplies[0].Navigate != domain.DestDashboard {
		t.Errorf("quick replies = %+v", rep.QuickReplies)
	}
}

func TestRespond_NoLookupsConfigured(t *testing.T) {
	r := NewResponder(ResponderConfig{Logger: testLogger()})
	rep := r.Respond(context.Background(), "next pickup", member)
	if !strings.Contains(rep.Text, "not available") {
		t.Errorf("got %q", rep.Text)
	}
}

func TestRespond_AlwaysReturnsText(t *testing.T) {
	r := newResponder(&spyLookups{})
	for _, text := range []string{"", "   ", "?!?", strings.Repeat("x", 5000), "hello", "next pickup"} {
		for _, id := range []*domain.Identity{nil, member} {
			if rep := r.Respond(context.Background(), text, id); rep.Text == "" {
				t.Errorf("%q: empty reply", text)
			}
		}
	}
}
