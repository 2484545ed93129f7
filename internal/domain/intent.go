package domain

// Intent is the conversational goal derived from free text.
type Intent string

const (
	IntentGreeting     Intent = "greeting"
	IntentServices     Intent = "services"
	IntentPricing      Intent = "pricing"
	IntentSchedule     Intent = "schedule"
	IntentRecycling    Intent = "recycling"
	IntentContact      Intent = "contact"
	IntentAccount      Intent = "account"
	IntentStatus       Intent = "status"
	IntentNextPickup   Intent = "next-pickup"
	IntentLastPickup   Intent = "last-pickup"
	IntentMissedPickup Intent = "missed-pickup"
	IntentFallback     Intent = "fallback"
)

// Intents is the closed set of intent labels.
var Intents = []Intent{
	IntentGreeting, IntentServices, IntentPricing, IntentSchedule, IntentRecycling,
	IntentContact, IntentAccount, IntentStatus, IntentNextPickup, IntentLastPickup,
	IntentMissedPickup, IntentFallback,
}

// Valid reports whether i belongs to the closed intent set.
func (i Intent) Valid() bool {
	for _, v := range Intents {
		if i == v {
			return true
		}
	}
	return false
}

// NeedsIdentity reports whether answering the intent requires a signed-in user.
func (i Intent) NeedsIdentity() bool {
	switch i {
	case IntentStatus, IntentNextPickup, IntentLastPickup, IntentMissedPickup:
		return true
	}
	return false
}
