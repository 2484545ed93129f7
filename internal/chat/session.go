// Package chat holds the conversation state of one open assistant widget.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"greencycle/internal/domain"
	"greencycle/internal/metrics"
	"greencycle/internal/reply"
)

var (
	ErrEmptyMessage      = errors.New("chat: message is empty")
	ErrBusy              = errors.New("chat: still composing a reply")
	ErrUnknownQuickReply = errors.New("chat: quick reply is not offered")
	ErrSessionNotFound   = errors.New("chat: session not found")
	ErrMessageTooLong    = errors.New("chat: message too long")
)

// Responder produces exactly one reply for a user turn.
type Responder interface {
	Respond(ctx context.Context, text string, id *domain.Identity) domain.Reply
}

// EventType names a session change pushed to subscribers.
type EventType string

const (
	EventMessage      EventType = "message"
	EventTyping       EventType = "typing"
	EventQuickReplies EventType = "quick_replies"
	EventNavigate     EventType = "navigate"
)

// Event is a change to the session as seen by a presentation layer.
type Event struct {
	Type         EventType
	Message      *domain.Message
	Composing    bool
	QuickReplies []domain.QuickReply
	Destination  domain.Destination

	seq int // log position of Message
}

// Turn is one completed send: the user's message and the bot's answer.
type Turn struct {
	User         domain.Message      `json:"user"`
	Bot          domain.Message      `json:"message"`
	QuickReplies []domain.QuickReply `json:"quick_replies"`
	Intent       domain.Intent       `json:"intent"`
}

// Selection is the outcome of picking a quick reply. Exactly one field is set.
type Selection struct {
	Turn     *Turn
	Navigate domain.Destination
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Responder Responder
	Identity  domain.IdentitySource // nil means anonymous
	Greeting  *domain.Reply         // defaults to reply.Greeting()

	ThinkMin time.Duration
	ThinkMax time.Duration
	// SingleFlight rejects a send while a reply is still being composed.
	SingleFlight     bool
	MaxMessageLength int // 0 = unlimited

	Now    func() time.Time
	Logger *slog.Logger
}

// Session is an append-only message log plus the composing flag and the
// quick replies of the latest bot message. Safe for concurrent use.
type Session struct {
	id  string
	cfg SessionConfig

	mu           sync.Mutex
	messages     []domain.Message
	composing    int
	quickReplies []domain.QuickReply
	lastStamp    time.Time
	lastSeen     time.Time
	subs         map[int]subscriber
	nextSub      int
}

// subscriber skips message events for log positions below from; those
// were handed over as history when it attached.
type subscriber struct {
	fn   func(Event)
	from int
}

// NewSession creates an empty session. Call Open to seed the greeting.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ThinkMax < cfg.ThinkMin {
		cfg.ThinkMax = cfg.ThinkMin
	}
	s := &Session{
		id:   newID(),
		cfg:  cfg,
		subs: make(map[int]subscriber),
	}
	s.lastSeen = cfg.Now()
	s.cfg.Logger = cfg.Logger.With("session", s.id)
	return s
}

func (s *Session) ID() string { return s.id }

// Open seeds the greeting. It is a no-op once the log has any message.
func (s *Session) Open() domain.Message {
	g := reply.Greeting()
	if s.cfg.Greeting != nil {
		g = *s.cfg.Greeting
	}

	s.mu.Lock()
	if len(s.messages) > 0 {
		first := s.messages[0]
		s.mu.Unlock()
		return first
	}
	msg, seq := s.appendLocked(g.Text, domain.SenderBot)
	s.quickReplies = cloneQR(g.QuickReplies)
	s.mu.Unlock()

	s.emit(Event{Type: EventMessage, Message: &msg, seq: seq})
	s.emit(Event{Type: EventQuickReplies, QuickReplies: cloneQR(g.QuickReplies)})
	return msg
}

// Send appends the user's text, waits the thinking delay, asks the responder
// and appends its answer. Every accepted send produces exactly one bot message.
func (s *Session) Send(ctx context.Context, text string) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}
	if s.cfg.MaxMessageLength > 0 && len([]rune(text)) > s.cfg.MaxMessageLength {
		return Turn{}, ErrMessageTooLong
	}

	s.mu.Lock()
	if s.cfg.SingleFlight && s.composing > 0 {
		s.mu.Unlock()
		metrics.BusyRejections.Inc()
		return Turn{}, ErrBusy
	}
	user, userSeq := s.appendLocked(text, domain.SenderUser)
	s.composing++
	s.mu.Unlock()

	metrics.MessagesTotal.Inc()
	s.emit(Event{Type: EventMessage, Message: &user, seq: userSeq})
	s.emit(Event{Type: EventTyping, Composing: true})

	start := time.Now()
	s.think(ctx)

	var id *domain.Identity
	if s.cfg.Identity != nil {
		id = s.cfg.Identity.CurrentUser()
	}
	rep := s.respond(ctx, text, id)

	s.mu.Lock()
	bot, botSeq := s.appendLocked(rep.Text, domain.SenderBot)
	s.composing--
	s.quickReplies = cloneQR(rep.QuickReplies)
	composing := s.composing > 0
	s.mu.Unlock()

	metrics.RepliesTotal.Inc()
	metrics.ReplyLatency.Observe(time.Since(start).Seconds())
	s.cfg.Logger.Debug("bot replied", "intent", rep.Intent, "faq", rep.FAQ)

	s.emit(Event{Type: EventMessage, Message: &bot, seq: botSeq})
	s.emit(Event{Type: EventTyping, Composing: composing})
	s.emit(Event{Type: EventQuickReplies, QuickReplies: cloneQR(rep.QuickReplies)})

	return Turn{User: user, Bot: bot, QuickReplies: cloneQR(rep.QuickReplies), Intent: rep.Intent}, nil
}

// SelectQuickReply acts on a quick reply from the current set: it either
// resubmits the payload as a send or emits EventNavigate for the page router.
func (s *Session) SelectQuickReply(ctx context.Context, qrID string) (Selection, error) {
	s.mu.Lock()
	var (
		qr    domain.QuickReply
		found bool
	)
	for _, q := range s.quickReplies {
		if q.ID == qrID {
			qr, found = q, true
			break
		}
	}
	s.touchLocked()
	s.mu.Unlock()
	if !found {
		return Selection{}, ErrUnknownQuickReply
	}

	if qr.IsNavigation() {
		s.emit(Event{Type: EventNavigate, Destination: qr.Navigate})
		s.cfg.Logger.Debug("quick reply navigation", "destination", qr.Navigate)
		return Selection{Navigate: qr.Navigate}, nil
	}

	turn, err := s.Send(ctx, qr.Payload)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Turn: &turn}, nil
}

// Messages returns a copy of the log in append order.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Composing reports whether a reply is in flight.
func (s *Session) Composing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composing > 0
}

// QuickReplies returns the set attached to the latest bot message.
func (s *Session) QuickReplies() []domain.QuickReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneQR(s.quickReplies)
}

// Identity returns the signed-in user as seen by this session, or nil.
func (s *Session) Identity() *domain.Identity {
	if s.cfg.Identity == nil {
		return nil
	}
	return s.cfg.Identity.CurrentUser()
}

// Subscribe registers fn for session events. Events are delivered
// synchronously from the goroutine that caused them.
func (s *Session) Subscribe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeLocked(fn, 0)
}

// Attach returns the log and the current quick replies, and subscribes fn
// to everything after them, in one step. Every message reaches fn's caller
// exactly once: either in history or as an event.
func (s *Session) Attach(fn func(Event)) (history []domain.Message, quickReplies []domain.QuickReply, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history = make([]domain.Message, len(s.messages))
	copy(history, s.messages)
	return history, cloneQR(s.quickReplies), s.subscribeLocked(fn, len(s.messages))
}

func (s *Session) subscribeLocked(fn func(Event), from int) func() {
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber{fn: fn, from: from}
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// LastSeen is the time of the latest activity on the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) respond(ctx context.Context, text string, id *domain.Identity) (rep domain.Reply) {
	defer func() {
		if v := recover(); v != nil {
			s.cfg.Logger.Error("responder panicked", "panic", v)
			rep = domain.Reply{Text: "Sorry, something went wrong. Please try again.", Intent: domain.IntentFallback}
		}
	}()
	if s.cfg.Responder == nil {
		return domain.Reply{Text: "Sorry, the assistant is not available right now.", Intent: domain.IntentFallback}
	}
	return s.cfg.Responder.Respond(ctx, text, id)
}

// think waits a random delay in [ThinkMin, ThinkMax]. Cancellation cuts it
// short but the reply is still produced.
func (s *Session) think(ctx context.Context) {
	d := s.cfg.ThinkMin
	if span := s.cfg.ThinkMax - s.cfg.ThinkMin; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// appendLocked adds a message with a timestamp strictly after the previous
// one and returns it with its log position.
func (s *Session) appendLocked(text string, sender domain.Sender) (domain.Message, int) {
	ts := s.cfg.Now()
	if !ts.After(s.lastStamp) {
		ts = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = ts
	s.lastSeen = ts
	msg := domain.Message{ID: newID(), Text: text, Sender: sender, Timestamp: ts}
	s.messages = append(s.messages, msg)
	return msg, len(s.messages) - 1
}

func (s *Session) touchLocked() {
	if now := s.cfg.Now(); now.After(s.lastSeen) {
		s.lastSeen = now
	}
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, sub := range s.subs {
		if ev.Type == EventMessage && ev.seq < sub.from {
			continue
		}
		fns = append(fns, sub.fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func cloneQR(in []domain.QuickReply) []domain.QuickReply {
	if in == nil {
		return []domain.QuickReply{}
	}
	out := make([]domain.QuickReply, len(in))
	copy(out, in)
	return out
}
