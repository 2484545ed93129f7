package lookup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"greencycle/internal/domain"
)

// memStore evaluates queries against an in-memory slice.
type memStore struct {
	mu      sync.Mutex
	rows    []domain.Pickup
	err     error
	queries []domain.Query
}

func (m *memStore) QueryRecords(_ context.Context, q domain.Query) ([]domain.Pickup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Pickup
	for _, p := range m.rows {
		if matchAll(p, q.Filters) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.Order {
			a, b := column(out[i], o.Column), column(out[j], o.Column)
			if a == b {
				continue
			}
			if o.Descending {
				return a > b
			}
			return a < b
		}
		return false
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func column(p domain.Pickup, name string) string {
	switch name {
	case "user_id":
		return p.UserID
	case "pickup_date":
		return p.Date
	case "pickup_time":
		return p.TimeWindow
	case "status":
		return string(p.Status)
	}
	return ""
}

func matchAll(p domain.Pickup, filters []domain.Filter) bool {
	for _, f := range filters {
		v := column(p, f.Column)
		switch f.Op {
		case domain.OpEq:
			if v != f.Value.(string) {
				return false
			}
		case domain.OpGte:
			if v < f.Value.(string) {
				return false
			}
		case domain.OpLt:
			if v >= f.Value.(string) {
				return false
			}
		case domain.OpIn:
			found := false
			for _, s := range f.Value.([]string) {
				if s == v {
					found = true
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)
}

func pickup(id, user, date, tw string, status domain.PickupStatus) domain.Pickup {
	return domain.Pickup{ID: id, UserID: user, Date: date, TimeWindow: tw, Address: "1 Elm St", ServiceType: "residential", Status: status}
}

func seeded() *memStore {
	return &memStore{rows: []domain.Pickup{
		pickup("p1", "u1", "2025-06-20", "09:00-12:00", domain.StatusScheduled),
		pickup("p2", "u1", "2025-06-17", "13:00-17:00", domain.StatusScheduled),
		pickup("p3", "u1", "2025-06-15", "08:00-10:00", domain.StatusCancelled),
		pickup("p4", "u1", "2025-06-10", "09:00-12:00", domain.StatusCompleted),
		pickup("p5", "u1", "2025-06-12", "09:00-12:00", domain.StatusCompleted),
		pickup("p6", "u1", "2025-06-11", "09:00-12:00", domain.StatusScheduled),
		pickup("p7", "u1", "2025-06-08", "09:00-12:00", domain.StatusInProgress),
		pickup("p8", "u2", "2025-06-16", "09:00-12:00", domain.StatusScheduled),
	}}
}

func newLookup(s domain.RecordStore) *Lookup {
	return New(Config{Store: s, Now: fixedNow, Logger: testLogger()})
}

func TestNext_EarliestOpenOnOrAfterToday(t *testing.T) {
	l := newLookup(seeded())
	p, err := l.Next(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if p == nil || p.ID != "p2" {
		t.Fatalf("expected p2, got %+v", p)
	}
}

func TestNext_TodayCounts(t *testing.T) {
	s := &memStore{rows: []domain.Pickup{
		pickup("a", "u1", "2025-06-15", "13:00-15:00", domain.StatusScheduled),
		pickup("b", "u1", "2025-06-15", "08:00-10:00", domain.StatusInProgress),
	}}
	p, err := newLookup(s).Next(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.ID != "b" {
		t.Fatalf("expected earliest time window today, got %+v", p)
	}
}

func TestNext_NoneReturnsNil(t *testing.T) {
	p, err := newLookup(&memStore{}).Next(context.Background(), "u1")
	if err != nil || p != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", p, err)
	}
}

func TestLastCompleted(t *testing.T) {
	p, err := newLookup(seeded()).LastCompleted(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.ID != "p5" {
		t.Fatalf("expected p5, got %+v", p)
	}
}

func TestMissed_ExcludesCompletedAndCancelled(t *testing.T) {
	ps, err := newLookup(seeded()).Missed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 {
		t.Fatalf("expected 2 missed, got %d: %+v", len(ps), ps)
	}
	if ps[0].ID != "p6" || ps[1].ID != "p7" {
		t.Errorf("expected most recent first [p6 p7], got [%s %s]", ps[0].ID, ps[1].ID)
	}
	for _, p := range ps {
		if p.Status == domain.StatusCompleted || p.Status == domain.StatusCancelled {
			t.Errorf("closed pickup %s reported as missed", p.ID)
		}
	}
}

func TestQueriesScopedToUser(t *testing.T) {
	s := seeded()
	l := newLookup(s)
	if _, err := l.Status(context.Background(), "u2"); err != nil {
		t.Fatal(err)
	}
	if len(s.queries) != 3 {
		t.Fatalf("expected 3 queries, got %d", len(s.queries))
	}
	for _, q := range s.queries {
		if q.Table != domain.TablePickups {
			t.Errorf("unexpected table %q", q.Table)
		}
		scoped := false
		for _, f := range q.Filters {
			if f.Column == "user_id" && f.Op == domain.OpEq && f.Value == "u2" {
				scoped = true
			}
		}
		if !scoped {
			t.Errorf("query not scoped to user: %+v", q)
		}
	}
}

func TestStatus_JoinsAllThree(t *testing.T) {
	rep, err := newLookup(seeded()).Status(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Next == nil || rep.Next.ID != "p2" {
		t.Errorf("next: %+v", rep.Next)
	}
	if rep.Last == nil || rep.Last.ID != "p5" {
		t.Errorf("last: %+v", rep.Last)
	}
	if len(rep.Missed) != 2 {
		t.Errorf("missed: %d", len(rep.Missed))
	}
}

func TestStatus_ErrorIsSingleLookupError(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := newLookup(&memStore{err: boom}).Status(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected error")
	}
	var le *Error
	if !errors.As(err, &le) {
		t.Fatalf("expected *lookup.Error, got %T", err)
	}
	if !errors.Is(err, boom) {
		t.Error("expected wrapped cause")
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: KindNext, Err: errors.New("timeout")}
	want := "could not load your upcoming pickups: timeout"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}
