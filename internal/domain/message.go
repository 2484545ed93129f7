package domain

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a single entry in a conversation log. Immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Destination is a page the site router can navigate to.
type Destination string

const (
	DestLogin     Destination = "login"
	DestRegister  Destination = "register"
	DestDashboard Destination = "dashboard"
	DestServices  Destination = "services"
	DestSchedule  Destination = "schedule"
	DestContact   Destination = "contact"
)

// Destinations lists every valid navigation target.
var Destinations = []Destination{DestLogin, DestRegister, DestDashboard, DestServices, DestSchedule, DestContact}

// Valid reports whether d is one of the known destinations.
func (d Destination) Valid() bool {
	for _, v := range Destinations {
		if d == v {
			return true
		}
	}
	return false
}

// Path returns the site path for the destination.
func (d Destination) Path() string {
	return "/" + string(d)
}

// PathFor is Path with the schedule page guarded behind login for anonymous users.
func (d Destination) PathFor(authenticated bool) string {
	if d == DestSchedule && !authenticated {
		return DestLogin.Path() + "?next=" + d.Path()
	}
	return d.Path()
}

// QuickReply is a suggested follow-up shown under a bot message.
// Exactly one of Payload or Navigate is expected to be set.
type QuickReply struct {
	ID       string      `json:"id"`
	Label    string      `json:"label"`
	Payload  string      `json:"payload,omitempty"`
	Navigate Destination `json:"navigate,omitempty"`
}

// IsNavigation reports whether selecting the quick reply leaves the chat.
func (q QuickReply) IsNavigation() bool {
	return q.Payload == "" && q.Navigate != ""
}

// Reply is what the assistant produces for one user turn.
type Reply struct {
	Text         string       `json:"text"`
	QuickReplies []QuickReply `json:"quick_replies"`
	Intent       Intent       `json:"intent"`
	FAQ          bool         `json:"faq,omitempty"`
}
