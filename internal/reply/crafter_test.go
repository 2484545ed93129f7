package reply

import (
	"errors"
	"strings"
	"testing"

	"greencycle/internal/domain"
	"greencycle/internal/lookup"
)

var member = &domain.Identity{UserID: "u1", Email: "ana@example.com", FullName: "Ana"}

func samplePickup(date, status string) *domain.Pickup {
	return &domain.Pickup{
		ID:          "p1",
		UserID:      "u1",
		Date:        date,
		TimeWindow:  "09:00-12:00",
		Address:     "12 Oak Ave",
		ServiceType: "residential",
		Status:      domain.PickupStatus(status),
	}
}

func hasQuickReply(qrs []domain.QuickReply, id string) bool {
	for _, q := range qrs {
		if q.ID == id {
			return true
		}
	}
	return false
}

func TestPlan_ConfidentFAQWins(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	p := c.Plan("How do I schedule a pickup?", nil)
	if p.FAQ == nil {
		t.Fatal("expected confident FAQ match")
	}
	if p.Intent != domain.IntentSchedule || p.Lookup != lookup.KindNone {
		t.Errorf("unexpected plan: %+v", p)
	}
}

func TestPlan_LookupOnlyWhenSignedIn(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	if p := c.Plan("what's my next pickup?", nil); p.Lookup != lookup.KindNone || p.Intent != domain.IntentNextPickup {
		t.Errorf("anonymous plan: %+v", p)
	}
	if p := c.Plan("what's my next pickup?", member); p.Lookup != lookup.KindNext {
		t.Errorf("member plan: %+v", p)
	}
	if p := c.Plan("show me my pickup status", member); p.Lookup != lookup.KindStatus {
		t.Errorf("status plan: %+v", p)
	}
}

func TestCraft_FAQAnswerVerbatim(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("How do I schedule a pickup?", nil, Results{})
	if rep.Text != "Log in and go to the Schedule page. I can open it for you." {
		t.Errorf("got %q", rep.Text)
	}
	if !rep.FAQ {
		t.Error("expected FAQ flag")
	}
	if !hasQuickReply(rep.QuickReplies, "login") {
		t.Errorf("expected schedule quick replies for a guest, got %+v", rep.QuickReplies)
	}
}

func TestCraft_GuestAskingForRecordsIsPromptedToLogIn(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("what's my next pickup?", nil, Results{})
	if !strings.Contains(rep.Text, "log in") {
		t.Errorf("expected login prompt, got %q", rep.Text)
	}
	if !hasQuickReply(rep.QuickReplies, "login") || !hasQuickReply(rep.QuickReplies, "register") {
		t.Errorf("expected login/register quick replies, got %+v", rep.QuickReplies)
	}
}

func TestCraft_NextNone(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("next pickup", member, Results{})
	if rep.Text != textNextNone {
		t.Errorf("got %q", rep.Text)
	}
	var sched bool
	for _, q := range rep.QuickReplies {
		if q.Navigate == domain.DestSchedule {
			sched = true
		}
	}
	if !sched {
		t.Errorf("expected a schedule action, got %+v", rep.QuickReplies)
	}
}

func TestCraft_NextFoundFormatsRecord(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("next pickup", member, Results{Next: samplePickup("2025-06-17", "scheduled")})
	want := "Your next pickup is Residential on 6/17/2025 at 09:00-12:00 — 12 Oak Ave."
	if rep.Text != want {
		t.Errorf("got %q, want %q", rep.Text, want)
	}
}

func TestCraft_LastCompleted(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("when was my last pickup", member, Results{Last: samplePickup("2025-06-02", "completed")})
	if !strings.HasPrefix(rep.Text, "Your last completed pickup was Residential on 6/2/2025") {
		t.Errorf("got %q", rep.Text)
	}
	rep = c.Compose("when was my last pickup", member, Results{})
	if rep.Text != textLastNone {
		t.Errorf("got %q", rep.Text)
	}
}

func TestCraft_Missed(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("you missed my pickup", member, Results{Missed: []domain.Pickup{*samplePickup("2025-06-10", "scheduled")}})
	if rep.Intent != domain.IntentMissedPickup {
		t.Fatalf("intent = %s", rep.Intent)
	}
	if !strings.Contains(rep.Text, "1 of your pickups") || !strings.Contains(rep.Text, "6/10/2025") {
		t.Errorf("got %q", rep.Text)
	}
	if !hasQuickReply(rep.QuickReplies, "contact") {
		t.Errorf("expected contact quick reply, got %+v", rep.QuickReplies)
	}

	rep = c.Compose("you missed my pickup", member, Results{})
	if rep.Text != textMissedNone {
		t.Errorf("got %q", rep.Text)
	}
}

func TestCraft_StatusSegments(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("pickup status", member, Results{
		Next: samplePickup("2025-06-17", "scheduled"),
		Last: samplePickup("2025-06-02", "completed"),
	})
	if !strings.Contains(rep.Text, "Next:") || !strings.Contains(rep.Text, "Last completed:") {
		t.Errorf("missing segments: %q", rep.Text)
	}
	if strings.Contains(rep.Text, "Missed") {
		t.Errorf("unexpected missed segment: %q", rep.Text)
	}

	rep = c.Compose("pickup status", member, Results{Missed: []domain.Pickup{*samplePickup("2025-06-01", "scheduled")}})
	if !strings.Contains(rep.Text, "Missed (1):") || !strings.Contains(rep.Text, "Next: nothing scheduled") {
		t.Errorf("got %q", rep.Text)
	}
}

func TestCraft_LookupErrorIsApologyWithDashboard(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	err := &lookup.Error{Op: lookup.KindNext, Err: errors.New("timeout")}
	rep := c.Compose("next pickup", member, Results{Err: err})
	if rep.Text != "Sorry, something went wrong: could not load your upcoming pickups: timeout" {
		t.Errorf("got %q", rep.Text)
	}
	if len(rep.QuickReplies) != 1 || rep.QuickReplies[0].Navigate != domain.DestDashboard {
		t.Errorf("expected dashboard quick reply, got %+v", rep.QuickReplies)
	}
}

func TestCraft_TemplatesBranchOnAuth(t *testing.T) {
	c := NewCrafter(CrafterConfig{})

	guest := c.Compose("can i book a collection", nil, Results{})
	user := c.Compose("can i book a collection", member, Results{})
	if guest.Text == user.Text {
		t.Error("schedule reply should differ by auth state")
	}
	if !hasQuickReply(user.QuickReplies, "open-schedule") || hasQuickReply(user.QuickReplies, "login") {
		t.Errorf("member schedule quick replies: %+v", user.QuickReplies)
	}

	acct := c.Compose("update my profile", member, Results{})
	if !strings.Contains(acct.Text, "Ana") {
		t.Errorf("account reply should name the user: %q", acct.Text)
	}
	if c.Compose("update my profile", nil, Results{}).Text != textAccountGuest {
		t.Error("guest account reply")
	}
}

func TestCraft_ServicesBeatsGreeting(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("hello, what are your services", nil, Results{})
	if rep.Intent != domain.IntentServices || rep.Text != textServices {
		t.Errorf("got %s %q", rep.Intent, rep.Text)
	}
}

func TestCraft_Fallback(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	rep := c.Compose("tell me the weather", nil, Results{})
	if rep.Intent != domain.IntentFallback || rep.Text != textFallback {
		t.Errorf("got %s %q", rep.Intent, rep.Text)
	}
	if len(rep.QuickReplies) == 0 {
		t.Error("fallback should offer quick replies")
	}
}

func TestCraft_EveryIntentHasText(t *testing.T) {
	c := NewCrafter(CrafterConfig{})
	for _, in := range domain.Intents {
		for _, id := range []*domain.Identity{nil, member} {
			rep := c.Craft(Plan{Intent: in, Lookup: LookupFor(in)}, id, Results{})
			if rep.Text == "" {
				t.Errorf("intent %s (auth=%v): empty reply", in, id != nil)
			}
			for _, q := range rep.QuickReplies {
				if (q.Payload == "") == (q.Navigate == "") {
					t.Errorf("intent %s: quick reply %q must have exactly one action", in, q.ID)
				}
			}
		}
	}
}

func TestFormatPickup(t *testing.T) {
	p := domain.Pickup{Date: "2025-12-01", TimeWindow: "morning", Address: "5 Pine Rd", ServiceType: "commercial"}
	if got := FormatPickup(p, ""); got != "Commercial on 12/1/2025 at morning — 5 Pine Rd" {
		t.Errorf("got %q", got)
	}
	if got := FormatPickup(p, "2 Jan 2006"); got != "Commercial on 1 Dec 2025 at morning — 5 Pine Rd" {
		t.Errorf("got %q", got)
	}
	p.Date = "soon"
	p.ServiceType = ""
	if got := FormatPickup(p, ""); got != "Pickup on soon at morning — 5 Pine Rd" {
		t.Errorf("got %q", got)
	}
}
