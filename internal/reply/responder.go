package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"greencycle/internal/domain"
	"greencycle/internal/lookup"
	"greencycle/internal/metrics"
)

var errNoRecords = errors.New("pickup records are not available right now")

// Lookups is the record lookup surface a Responder needs.
type Lookups interface {
	Next(ctx context.Context, userID string) (*domain.Pickup, error)
	LastCompleted(ctx context.Context, userID string) (*domain.Pickup, error)
	Missed(ctx context.Context, userID string) ([]domain.Pickup, error)
	Status(ctx context.Context, userID string) (lookup.Report, error)
}

// Responder is the "handle user input" entry point shared by every channel.
type Responder struct {
	crafter *Crafter
	lookups Lookups
	logger  *slog.Logger
}

// ResponderConfig holds Responder dependencies.
type ResponderConfig struct {
	Crafter *Crafter
	Lookups Lookups
	Logger  *slog.Logger
}

func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.Crafter == nil {
		cfg.Crafter = NewCrafter(CrafterConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Responder{crafter: cfg.Crafter, lookups: cfg.Lookups, logger: cfg.Logger}
}

// Respond always returns exactly one reply. Lookup failures and panics in
// collaborators become an apologetic reply instead of an error.
func (r *Responder) Respond(ctx context.Context, text string, id *domain.Identity) (rep domain.Reply) {
	plan := Plan{Text: text, Intent: domain.IntentFallback}
	defer func() {
		if v := recover(); v != nil {
			metrics.ResponderPanics.Inc()
			r.logger.Error("reply panicked", "intent", plan.Intent, "panic", v)
			rep = domain.Reply{
				Text:         fmt.Sprintf("%sunexpected failure: %v", textApology, v),
				QuickReplies: []domain.QuickReply{qrDashboard},
				Intent:       plan.Intent,
			}
		}
	}()

	plan = r.crafter.Plan(text, id)
	res := r.fetch(ctx, plan, id)
	rep = r.crafter.Craft(plan, id, res)

	switch {
	case rep.FAQ:
		metrics.FAQHits.Inc()
	case rep.Intent == domain.IntentFallback:
		metrics.FallbackReplies.Inc()
	}
	r.logger.Debug("reply crafted", "intent", rep.Intent, "faq", rep.FAQ, "lookup", plan.Lookup)
	return rep
}

func (r *Responder) fetch(ctx context.Context, plan Plan, id *domain.Identity) Results {
	if plan.Lookup == lookup.KindNone || id == nil {
		return Results{}
	}
	if r.lookups == nil {
		return Results{Err: errNoRecords}
	}
	var res Results
	switch plan.Lookup {
	case lookup.KindNext:
		res.Next, res.Err = r.lookups.Next(ctx, id.UserID)
	case lookup.KindLast:
		res.Last, res.Err = r.lookups.LastCompleted(ctx, id.UserID)
	case lookup.KindMissed:
		res.Missed, res.Err = r.lookups.Missed(ctx, id.UserID)
	case lookup.KindStatus:
		rep, err := r.lookups.Status(ctx, id.UserID)
		res = Results{Next: rep.Next, Last: rep.Last, Missed: rep.Missed, Err: err}
	}
	return res
}
