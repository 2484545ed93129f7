// Package intent maps free text to a closed set of intent labels.
package intent

import (
	"regexp"
	"strings"

	"greencycle/internal/domain"
)

// Rule pairs a pattern with the intent it signals.
type Rule struct {
	Intent  domain.Intent
	Pattern *regexp.Regexp
}

// Classifier evaluates rules in order; the first match wins.
// Rule order is a precedence policy: specific pickup queries come before the
// broad services group, and greetings are checked last.
type Classifier struct {
	rules []Rule
}

// DefaultRules returns the built-in precedence list.
//
// The services group also matches "recycling"; the recycling rule runs first,
// so recycling questions keep their own intent.
func DefaultRules() []Rule {
	return []Rule{
		{domain.IntentNextPickup, regexp.MustCompile(`\b(next|upcoming)\s+(pickup|pick-up|collection)s?\b|\bwhen\s+is\s+my\s+(pickup|collection)\b|\bwhen\s+(are|is)\s+you\s+coming\b`)},
		{domain.IntentLastPickup, regexp.MustCompile(`\b(last|previous|latest|recent)\s+(pickup|pick-up|collection)s?\b|\bwhen\s+did\s+you\s+(last\s+)?(come|collect|pick)\b`)},
		{domain.IntentMissedPickup, regexp.MustCompile(`\bmiss(ed|ing)?\b|\b(did\s*n[o']?t|never)\s+(come|show|pick|collect)`)},
		{domain.IntentStatus, regexp.MustCompile(`\bstatus\b|\btrack(ing)?\b|\bmy\s+(pickups|collections|orders)\b|\bwhere\s+is\s+(my|the)\s+truck\b`)},
		{domain.IntentSchedule, regexp.MustCompile(`\bschedul(e|ed|ing)\b|\bbook(ing)?\b|\bappointment\b|\breserve\b|\bset\s+up\s+a\s+(pickup|collection)\b`)},
		{domain.IntentPricing, regexp.MustCompile(`\bprices?\b|\bpricing\b|\bcosts?\b|\bfees?\b|\brates?\b|\bquote\b|\bhow\s+much\b`)},
		{domain.IntentRecycling, regexp.MustCompile(`\brecycl(e|es|ed|ing|able)\b|\bdisposal\b|\bdispose\b|\bhazardous\b|\belectronics\b|\be-?waste\b`)},
		{domain.IntentContact, regexp.MustCompile(`\bcontact\b|\bphone\b|\bcall\b|\be-?mail\b|\bsupport\b|\breach\s+you\b|\bspeak\s+to\b`)},
		{domain.IntentAccount, regexp.MustCompile(`\baccount\b|\blog\s?in\b|\bsign\s?(in|up)\b|\bregister\b|\bpassword\b|\bprofile\b`)},
		{domain.IntentServices, regexp.MustCompile(`\bservices?\b|\bpickups?\b|\bcollections?\b|\bresidential\b|\bcommercial\b|\brecycling\b|\bwhat\s+do\s+you\s+(do|offer)\b`)},
		{domain.IntentGreeting, regexp.MustCompile(`\b(hello|hi|hey|hiya|howdy|greetings)\b|\bgood\s+(morning|afternoon|evening)\b`)},
	}
}

// New returns a classifier over rules. A nil slice uses DefaultRules.
func New(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the intent of the first matching rule, or IntentFallback.
func (c *Classifier) Classify(text string) domain.Intent {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		if r.Pattern.MatchString(lower) {
			return r.Intent
		}
	}
	return domain.IntentFallback
}

// Rules returns the precedence list in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
