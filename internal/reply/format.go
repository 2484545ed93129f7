package reply

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"greencycle/internal/domain"
)

// DefaultDateLayout renders dates the way the site does (en-US short form).
const DefaultDateLayout = "1/2/2006"

// FormatPickup renders a record as "<Service> on <date> at <time> — <address>".
func FormatPickup(p domain.Pickup, dateLayout string) string {
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}
	date := p.Date
	if t, err := time.Parse(domain.DateLayout, p.Date); err == nil {
		date = t.Format(dateLayout)
	}
	return capitalize(p.ServiceType) + " on " + date + " at " + p.TimeWindow + " — " + p.Address
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Pickup"
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

func joinPickups(ps []domain.Pickup, dateLayout string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = FormatPickup(p, dateLayout)
	}
	return strings.Join(parts, "; ")
}
