package reply

import "greencycle/internal/domain"

// Canned texts. One variant per intent keeps replies deterministic.
const (
	textGreeting = "Hello! I'm your Greencycle assistant. How can I help you with waste management today?"
	textServices = "We offer residential pickup (starting at $29/month), commercial services (starting at $199/month), and specialized recycling programs. Which service interests you?"
	textPricing  = "Our residential service starts at $29/month with weekly pickup and recycling included. Commercial services start at $199/month. Would you like a custom quote?"
	textRecycle  = "We accept paper, plastic, glass, metals, electronics, and hazardous materials. Our Recycling Plus service handles specialized items. What would you like to recycle?"
	textContact  = "You can reach us at 1-800-GREENCYCLE, email info@greencycle.com, or visit our Contact page. We're available 24/7 for emergencies. How would you prefer to get in touch?"
	textFallback = "I'm here to help with waste management questions! You can ask me about our services, pricing, scheduling, recycling, or how to contact us."

	textScheduleGuest = "To schedule a pickup, log in to your account and open the Schedule page. You can choose your preferred date, time, and service type. Need an account? Registering takes a minute."
	textScheduleUser  = "You're signed in, so you can book right away: choose your date, time, and service type on the Schedule page. Want me to open it?"

	textAccountGuest = "You can create a free account on the Register page, or log in if you already have one. An account lets you schedule pickups and track them from your dashboard."
	textAccountUser  = "You're signed in as %s. Your dashboard shows your upcoming and past pickups."

	textLoginRequired = "I can look that up once you're logged in. Please log in or create an account to see your pickups."

	textNextFound  = "Your next pickup is %s."
	textNextNone   = "You have no upcoming pickups. Want to schedule one?"
	textLastFound  = "Your last completed pickup was %s."
	textLastNone   = "You don't have any completed pickups yet."
	textMissedNone = "Good news: none of your past pickups were missed."
	textMissedSome = "It looks like %d of your pickups didn't happen: %s. Please contact support and we'll make it right."

	textStatusHeader = "Here's your pickup status:"
	textStatusNoNext = "nothing scheduled"
	textStatusNoLast = "none yet"

	textApology = "Sorry, something went wrong: "
)

// Quick reply ids are stable so channels can echo them back.
func ask(id, label, payload string) domain.QuickReply {
	return domain.QuickReply{ID: id, Label: label, Payload: payload}
}

func goTo(id, label string, dest domain.Destination) domain.QuickReply {
	return domain.QuickReply{ID: id, Label: label, Navigate: dest}
}

var (
	qrServices    = ask("services", "Services", "What services do you offer?")
	qrPricing     = ask("pricing", "Pricing", "How much does it cost?")
	qrScheduleAsk = ask("schedule", "Schedule a pickup", "I want to schedule a pickup")
	qrNextPickup  = ask("next-pickup", "My next pickup", "When is my next pickup?")
	qrStatus      = ask("status", "My pickup status", "What's my pickup status?")

	qrLogin     = goTo("login", "Log in", domain.DestLogin)
	qrRegister  = goTo("register", "Register", domain.DestRegister)
	qrDashboard = goTo("dashboard", "Go to dashboard", domain.DestDashboard)
	qrOpenSched = goTo("open-schedule", "Schedule a pickup", domain.DestSchedule)
	qrViewSvc   = goTo("view-services", "View services", domain.DestServices)
	qrContact   = goTo("contact", "Contact us", domain.DestContact)
)

// Greeting returns the opening message shown when a session starts.
func Greeting() domain.Reply {
	return domain.Reply{Text: textGreeting, QuickReplies: starterSet(), Intent: domain.IntentGreeting}
}

func starterSet() []domain.QuickReply {
	return []domain.QuickReply{qrServices, qrPricing, qrScheduleAsk, qrNextPickup}
}

// quickReplies returns the fixed set for an intent. Lookup intents get
// their canned set here too, which a confident FAQ match relies on.
func quickReplies(in domain.Intent, authenticated bool) []domain.QuickReply {
	switch in {
	case domain.IntentGreeting, domain.IntentFallback:
		return starterSet()
	case domain.IntentServices:
		return []domain.QuickReply{qrPricing, qrScheduleAsk, qrViewSvc}
	case domain.IntentPricing:
		return []domain.QuickReply{qrScheduleAsk, qrContact}
	case domain.IntentRecycling:
		return []domain.QuickReply{qrScheduleAsk, qrViewSvc}
	case domain.IntentContact:
		return []domain.QuickReply{qrContact, qrServices}
	case domain.IntentSchedule:
		if authenticated {
			return []domain.QuickReply{qrOpenSched, qrNextPickup}
		}
		return []domain.QuickReply{qrLogin, qrRegister}
	case domain.IntentAccount:
		if authenticated {
			return []domain.QuickReply{qrDashboard, qrStatus}
		}
		return []domain.QuickReply{qrLogin, qrRegister}
	case domain.IntentStatus, domain.IntentNextPickup, domain.IntentLastPickup, domain.IntentMissedPickup:
		if authenticated {
			return []domain.QuickReply{qrDashboard, qrOpenSched}
		}
		return []domain.QuickReply{qrLogin, qrRegister}
	}
	return starterSet()
}
