// Package auth supplies the signed-in identity to chat sessions.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"greencycle/internal/domain"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Anonymous is an IdentitySource with nobody signed in.
type Anonymous struct{}

func (Anonymous) CurrentUser() *domain.Identity { return nil }

// Static always reports the same identity.
type Static struct{ Identity *domain.Identity }

func (s Static) CurrentUser() *domain.Identity { return s.Identity }

// Switchable is an IdentitySource whose identity can change during a
// session, e.g. when a Telegram user sends /login.
type Switchable struct {
	mu sync.RWMutex
	id *domain.Identity
}

func NewSwitchable(id *domain.Identity) *Switchable {
	return &Switchable{id: id}
}

func (s *Switchable) CurrentUser() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.id == nil {
		return nil
	}
	cp := *s.id
	return &cp
}

func (s *Switchable) Set(id *domain.Identity) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

func (s *Switchable) Clear() { s.Set(nil) }

// UserLookup resolves bearer tokens to users.
type UserLookup interface {
	UserByToken(ctx context.Context, token string) (*domain.Identity, error)
}

// TokenAuthenticator validates bearer tokens against the user store.
type TokenAuthenticator struct {
	users  UserLookup
	logger *slog.Logger
}

func NewTokenAuthenticator(users UserLookup, logger *slog.Logger) *TokenAuthenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenAuthenticator{users: users, logger: logger}
}

// Authenticate returns the identity for token or ErrInvalidToken.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || a.users == nil {
		return nil, ErrInvalidToken
	}
	id, err := a.users.UserByToken(ctx, token)
	if err != nil || id == nil {
		a.logger.Debug("token rejected", "err", err)
		return nil, ErrInvalidToken
	}
	return id, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
