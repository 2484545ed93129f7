package intent

import (
	"regexp"
	"testing"

	"greencycle/internal/domain"
)

func TestClassify(t *testing.T) {
	c := New(nil)

	tests := []struct {
		text string
		want domain.Intent
	}{
		{"hello, what are your services", domain.IntentServices},
		{"Hi there", domain.IntentGreeting},
		{"good morning", domain.IntentGreeting},
		{"what's my next pickup?", domain.IntentNextPickup},
		{"When is my pickup", domain.IntentNextPickup},
		{"next pickup", domain.IntentNextPickup},
		{"when was my last pickup", domain.IntentLastPickup},
		{"show my previous collection", domain.IntentLastPickup},
		{"you missed my pickup", domain.IntentMissedPickup},
		{"the truck didn't come", domain.IntentMissedPickup},
		{"pickup status please", domain.IntentStatus},
		{"track my pickups", domain.IntentStatus},
		{"I want to schedule a pickup", domain.IntentSchedule},
		{"can I book a collection", domain.IntentSchedule},
		{"how much does it cost", domain.IntentPricing},
		{"what are your prices", domain.IntentPricing},
		{"can I recycle glass", domain.IntentRecycling},
		{"tell me about recycling", domain.IntentRecycling},
		{"what's your phone number", domain.IntentContact},
		{"I forgot my password", domain.IntentAccount},
		{"how do I sign up", domain.IntentAccount},
		{"do you offer commercial service", domain.IntentServices},
		{"what's the weather", domain.IntentFallback},
		{"", domain.IntentFallback},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestClassify_WordBoundaries(t *testing.T) {
	c := New(nil)

	// "this" contains "hi", "price" inside "priceless" must not count.
	if got := c.Classify("this is priceless"); got != domain.IntentFallback {
		t.Errorf("expected fallback for substring-only hits, got %s", got)
	}
	if got := c.Classify("whitepaper"); got != domain.IntentFallback {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestClassify_OrderIsPrecedence(t *testing.T) {
	c := New(nil)

	// Mentions both schedule and services keywords: schedule is earlier.
	if got := c.Classify("schedule a residential service"); got != domain.IntentSchedule {
		t.Errorf("expected schedule, got %s", got)
	}
	// Mentions next pickup and schedule: next-pickup is earlier.
	if got := c.Classify("is my next pickup scheduled"); got != domain.IntentNextPickup {
		t.Errorf("expected next-pickup, got %s", got)
	}
}

func TestClassify_ReorderingChangesOutcome(t *testing.T) {
	greetingFirst := []Rule{
		{domain.IntentGreeting, regexp.MustCompile(`\bhello\b`)},
		{domain.IntentServices, regexp.MustCompile(`\bservices\b`)},
	}
	servicesFirst := []Rule{greetingFirst[1], greetingFirst[0]}

	text := "hello, what are your services"
	if got := New(greetingFirst).Classify(text); got != domain.IntentGreeting {
		t.Errorf("greeting-first: got %s", got)
	}
	if got := New(servicesFirst).Classify(text); got != domain.IntentServices {
		t.Errorf("services-first: got %s", got)
	}
}

func TestDefaultRules_PrecedenceOrder(t *testing.T) {
	rules := DefaultRules()
	pos := make(map[domain.Intent]int, len(rules))
	for i, r := range rules {
		pos[r.Intent] = i
	}
	if pos[domain.IntentRecycling] > pos[domain.IntentServices] {
		t.Error("recycling must be evaluated before services")
	}
	if pos[domain.IntentGreeting] != len(rules)-1 {
		t.Error("greeting must be the last rule before fallback")
	}
	for _, specific := range []domain.Intent{domain.IntentNextPickup, domain.IntentLastPickup, domain.IntentMissedPickup, domain.IntentStatus} {
		if pos[specific] > pos[domain.IntentServices] {
			t.Errorf("%s must be evaluated before services", specific)
		}
	}
}
