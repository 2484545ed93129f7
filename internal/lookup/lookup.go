// Package lookup answers pickup questions for a signed-in user by querying the record store.
package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"greencycle/internal/domain"
	"greencycle/internal/metrics"
)

// Kind names one of the lookup operations.
type Kind string

const (
	KindNone   Kind = ""
	KindNext   Kind = "next"
	KindLast   Kind = "last-completed"
	KindMissed Kind = "missed"
	KindStatus Kind = "status"
)

// Error is the single failure condition surfaced to the reply crafter.
type Error struct {
	Op  Kind
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("could not load your %s pickups: %v", describe(e.Op), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func describe(k Kind) string {
	switch k {
	case KindNext:
		return "upcoming"
	case KindLast:
		return "completed"
	case KindMissed:
		return "missed"
	default:
		return "recent"
	}
}

// Report is the joined result of a status lookup.
type Report struct {
	Next   *domain.Pickup
	Last   *domain.Pickup
	Missed []domain.Pickup
}

// Lookup runs read-only pickup queries scoped to one user.
type Lookup struct {
	store  domain.RecordStore
	now    func() time.Time
	logger *slog.Logger
}

// Config holds Lookup dependencies.
type Config struct {
	Store  domain.RecordStore
	Now    func() time.Time // defaults to time.Now
	Logger *slog.Logger
}

func New(cfg Config) *Lookup {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Lookup{store: cfg.Store, now: cfg.Now, logger: cfg.Logger}
}

func (l *Lookup) today() string {
	return l.now().Format(domain.DateLayout)
}

func openStatuses() []string {
	out := make([]string, len(domain.OpenStatuses))
	for i, s := range domain.OpenStatuses {
		out[i] = string(s)
	}
	return out
}

// Next returns the earliest open pickup dated today or later, or nil.
func (l *Lookup) Next(ctx context.Context, userID string) (*domain.Pickup, error) {
	rows, err := l.query(ctx, KindNext, domain.Query{
		Table: domain.TablePickups,
		Filters: []domain.Filter{
			{Column: "user_id", Op: domain.OpEq, Value: userID},
			{Column: "pickup_date", Op: domain.OpGte, Value: l.today()},
			{Column: "status", Op: domain.OpIn, Value: openStatuses()},
		},
		Order: []domain.Order{{Column: "pickup_date"}, {Column: "pickup_time"}},
		Limit: 1,
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// LastCompleted returns the most recent completed pickup, or nil.
func (l *Lookup) LastCompleted(ctx context.Context, userID string) (*domain.Pickup, error) {
	rows, err := l.query(ctx, KindLast, domain.Query{
		Table: domain.TablePickups,
		Filters: []domain.Filter{
			{Column: "user_id", Op: domain.OpEq, Value: userID},
			{Column: "status", Op: domain.OpEq, Value: string(domain.StatusCompleted)},
		},
		Order: []domain.Order{{Column: "pickup_date", Descending: true}, {Column: "pickup_time", Descending: true}},
		Limit: 1,
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// Missed returns past pickups that never left an open status, most recent first.
func (l *Lookup) Missed(ctx context.Context, userID string) ([]domain.Pickup, error) {
	return l.query(ctx, KindMissed, domain.Query{
		Table: domain.TablePickups,
		Filters: []domain.Filter{
			{Column: "user_id", Op: domain.OpEq, Value: userID},
			{Column: "pickup_date", Op: domain.OpLt, Value: l.today()},
			{Column: "status", Op: domain.OpIn, Value: openStatuses()},
		},
		Order: []domain.Order{{Column: "pickup_date", Descending: true}, {Column: "pickup_time", Descending: true}},
	})
}

// Status runs Next, LastCompleted and Missed concurrently and joins the results.
// The first failure cancels the others and is returned as a single *Error.
func (l *Lookup) Status(ctx context.Context, userID string) (Report, error) {
	var rep Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := l.Next(gctx, userID)
		rep.Next = p
		return err
	})
	g.Go(func() error {
		p, err := l.LastCompleted(gctx, userID)
		rep.Last = p
		return err
	})
	g.Go(func() error {
		ps, err := l.Missed(gctx, userID)
		rep.Missed = ps
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return rep, nil
}

func (l *Lookup) query(ctx context.Context, kind Kind, q domain.Query) ([]domain.Pickup, error) {
	start := time.Now()
	rows, err := l.store.QueryRecords(ctx, q)
	metrics.LookupLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LookupErrors.Inc()
		l.logger.Warn("pickup lookup failed", "op", kind, "err", err)
		return nil, &Error{Op: kind, Err: err}
	}
	l.logger.Debug("pickup lookup", "op", kind, "rows", len(rows))
	return rows, nil
}
