// Package reply turns user text into the assistant's answer and quick replies.
//
// Crafter.Plan and Crafter.Craft are pure: given the same text, identity and
// lookup results they always produce the same reply. Responder wires them to
// the record lookups.
package reply

import (
	"fmt"
	"strings"

	"greencycle/internal/domain"
	"greencycle/internal/faq"
	"greencycle/internal/intent"
	"greencycle/internal/lookup"
)

// Plan is the decision made from text and authentication state alone,
// before any record is read.
type Plan struct {
	Text   string
	Intent domain.Intent
	// FAQ is set on a confident corpus match; its answer is the reply.
	FAQ *faq.Result
	// Lookup is the record query the reply needs, KindNone if any.
	Lookup lookup.Kind
}

// Results carries what the lookups returned for a plan.
type Results struct {
	Next   *domain.Pickup
	Last   *domain.Pickup
	Missed []domain.Pickup
	Err    error
}

// Crafter holds the matcher and classifier the plan is built from.
type Crafter struct {
	matcher    *faq.Matcher
	classifier *intent.Classifier
	dateLayout string
}

// CrafterConfig configures a Crafter. Nil fields use the built-in defaults.
type CrafterConfig struct {
	Matcher    *faq.Matcher
	Classifier *intent.Classifier
	DateLayout string
}

func NewCrafter(cfg CrafterConfig) *Crafter {
	if cfg.Matcher == nil {
		cfg.Matcher = faq.NewMatcher(faq.DefaultEntries, faq.DefaultThreshold)
	}
	if cfg.Classifier == nil {
		cfg.Classifier = intent.New(nil)
	}
	if cfg.DateLayout == "" {
		cfg.DateLayout = DefaultDateLayout
	}
	return &Crafter{matcher: cfg.Matcher, classifier: cfg.Classifier, dateLayout: cfg.DateLayout}
}

// LookupFor maps an identity-gated intent to its record query.
func LookupFor(in domain.Intent) lookup.Kind {
	switch in {
	case domain.IntentNextPickup:
		return lookup.KindNext
	case domain.IntentLastPickup:
		return lookup.KindLast
	case domain.IntentMissedPickup:
		return lookup.KindMissed
	case domain.IntentStatus:
		return lookup.KindStatus
	}
	return lookup.KindNone
}

// Plan decides how to answer text. A confident FAQ match wins over the
// classifier; lookups are only planned for a signed-in user.
func (c *Crafter) Plan(text string, id *domain.Identity) Plan {
	p := Plan{Text: text}
	if r, ok := c.matcher.MatchConfident(text); ok {
		p.FAQ = &r
		p.Intent = r.Entry.Intent
		return p
	}
	p.Intent = c.classifier.Classify(text)
	if id != nil && p.Intent.NeedsIdentity() {
		p.Lookup = LookupFor(p.Intent)
	}
	return p
}

// Craft builds the reply for a plan from the lookup results.
func (c *Crafter) Craft(p Plan, id *domain.Identity, res Results) domain.Reply {
	authed := id != nil
	out := domain.Reply{Intent: p.Intent}

	if p.FAQ != nil {
		out.Text = p.FAQ.Entry.Answer
		out.QuickReplies = quickReplies(p.Intent, authed)
		out.FAQ = true
		return out
	}

	if p.Intent.NeedsIdentity() {
		if !authed {
			out.Text = textLoginRequired
			out.QuickReplies = []domain.QuickReply{qrLogin, qrRegister}
			return out
		}
		if res.Err != nil {
			out.Text = textApology + res.Err.Error()
			out.QuickReplies = []domain.QuickReply{qrDashboard}
			return out
		}
		return c.craftLookup(p.Intent, res, out)
	}

	out.Text = templateText(p.Intent, id)
	out.QuickReplies = quickReplies(p.Intent, authed)
	return out
}

// Compose plans and crafts in one step for callers that already hold results.
func (c *Crafter) Compose(text string, id *domain.Identity, res Results) domain.Reply {
	return c.Craft(c.Plan(text, id), id, res)
}

func (c *Crafter) craftLookup(in domain.Intent, res Results, out domain.Reply) domain.Reply {
	switch in {
	case domain.IntentNextPickup:
		if res.Next == nil {
			out.Text = textNextNone
			out.QuickReplies = []domain.QuickReply{qrOpenSched, qrDashboard}
			return out
		}
		out.Text = fmt.Sprintf(textNextFound, FormatPickup(*res.Next, c.dateLayout))
		out.QuickReplies = []domain.QuickReply{qrDashboard, qrOpenSched}

	case domain.IntentLastPickup:
		if res.Last == nil {
			out.Text = textLastNone
			out.QuickReplies = []domain.QuickReply{qrOpenSched, qrDashboard}
			return out
		}
		out.Text = fmt.Sprintf(textLastFound, FormatPickup(*res.Last, c.dateLayout))
		out.QuickReplies = []domain.QuickReply{qrDashboard, qrNextPickup}

	case domain.IntentMissedPickup:
		if len(res.Missed) == 0 {
			out.Text = textMissedNone
			out.QuickReplies = []domain.QuickReply{qrDashboard, qrNextPickup}
			return out
		}
		out.Text = fmt.Sprintf(textMissedSome, len(res.Missed), joinPickups(res.Missed, c.dateLayout))
		out.QuickReplies = []domain.QuickReply{qrContact, qrDashboard}

	case domain.IntentStatus:
		lines := []string{textStatusHeader}
		next := textStatusNoNext
		if res.Next != nil {
			next = FormatPickup(*res.Next, c.dateLayout)
		}
		lines = append(lines, "Next: "+next)
		last := textStatusNoLast
		if res.Last != nil {
			last = FormatPickup(*res.Last, c.dateLayout)
		}
		lines = append(lines, "Last completed: "+last)
		if len(res.Missed) > 0 {
			lines = append(lines, fmt.Sprintf("Missed (%d): %s", len(res.Missed), joinPickups(res.Missed, c.dateLayout)))
		}
		out.Text = strings.Join(lines, "\n")
		out.QuickReplies = []domain.QuickReply{qrDashboard, qrOpenSched}
		if len(res.Missed) > 0 {
			out.QuickReplies = append(out.QuickReplies, qrContact)
		}
	}
	return out
}

func templateText(in domain.Intent, id *domain.Identity) string {
	switch in {
	case domain.IntentGreeting:
		return textGreeting
	case domain.IntentServices:
		return textServices
	case domain.IntentPricing:
		return textPricing
	case domain.IntentRecycling:
		return textRecycle
	case domain.IntentContact:
		return textContact
	case domain.IntentSchedule:
		if id != nil {
			return textScheduleUser
		}
		return textScheduleGuest
	case domain.IntentAccount:
		if id != nil {
			return fmt.Sprintf(textAccountUser, displayName(id))
		}
		return textAccountGuest
	}
	return textFallback
}

func displayName(id *domain.Identity) string {
	switch {
	case id.FullName != "":
		return id.FullName
	case id.Email != "":
		return id.Email
	}
	return id.UserID
}
