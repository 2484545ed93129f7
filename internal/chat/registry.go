package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"greencycle/internal/domain"
	"greencycle/internal/metrics"
)

// DefaultIdleTimeout is how long an untouched session survives in a Registry.
const DefaultIdleTimeout = 30 * time.Minute

// Registry keeps live sessions for channels that outlive a single request.
// Sessions are never persisted; eviction discards them.
type Registry struct {
	base   SessionConfig
	idle   time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	onClose  []func(id string)
}

// NewRegistry creates a registry whose sessions start from base.
// An idle timeout <= 0 uses DefaultIdleTimeout.
func NewRegistry(base SessionConfig, idle time.Duration, logger *slog.Logger) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if base.Now == nil {
		base.Now = time.Now
	}
	if base.Logger == nil {
		base.Logger = logger
	}
	return &Registry{base: base, idle: idle, logger: logger, sessions: make(map[string]*Session)}
}

// Create opens a new session bound to identity (nil keeps the base one).
func (r *Registry) Create(identity domain.IdentitySource) *Session {
	cfg := r.base
	if identity != nil {
		cfg.Identity = identity
	}
	s := NewSession(cfg)
	s.Open()

	r.mu.Lock()
	r.sessions[s.ID()] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(int64(n))
	r.logger.Info("chat session opened", "session", s.ID())
	return s
}

// OnClose registers fn to run after a session leaves the registry, either
// through Close or idle eviction.
func (r *Registry) OnClose(fn func(id string)) {
	r.mu.Lock()
	r.onClose = append(r.onClose, fn)
	r.mu.Unlock()
}

// Get returns the session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.mu.Lock()
	s.touchLocked()
	s.mu.Unlock()
	return s, nil
}

// Close drops a session. Closing an unknown id returns ErrSessionNotFound.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	hooks := r.onClose
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	metrics.ActiveSessions.Set(int64(n))
	r.logger.Info("chat session closed", "session", id)
	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Cleanup evicts sessions idle for longer than the timeout. Sessions that
// are still composing a reply are kept. Returns the number evicted.
func (r *Registry) Cleanup() int {
	now := r.base.Now()
	r.mu.Lock()
	var evicted []string
	for id, s := range r.sessions {
		if s.Composing() {
			continue
		}
		if now.Sub(s.LastSeen()) > r.idle {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	n := len(r.sessions)
	hooks := r.onClose
	r.mu.Unlock()

	if len(evicted) > 0 {
		metrics.ActiveSessions.Set(int64(n))
		r.logger.Info("evicted idle chat sessions", "count", len(evicted), "remaining", n)
	}
	for _, id := range evicted {
		for _, fn := range hooks {
			fn(id)
		}
	}
	return len(evicted)
}

// Run calls Cleanup on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Cleanup()
		}
	}
}
