package auth

import (
	"context"
	"errors"
	"testing"

	"greencycle/internal/domain"
)

type mapUsers map[string]domain.Identity

func (m mapUsers) UserByToken(_ context.Context, token string) (*domain.Identity, error) {
	id, ok := m[token]
	if !ok {
		return nil, errors.New("not found")
	}
	return &id, nil
}

func TestSources(t *testing.T) {
	if (Anonymous{}).CurrentUser() != nil {
		t.Error("anonymous should have no user")
	}
	u := &domain.Identity{UserID: "u1"}
	if (Static{u}).CurrentUser() != u {
		t.Error("static should return its identity")
	}

	s := NewSwitchable(nil)
	if s.CurrentUser() != nil {
		t.Error("expected nil")
	}
	s.Set(u)
	if got := s.CurrentUser(); got == nil || got.UserID != "u1" {
		t.Errorf("got %+v", got)
	}
	s.Clear()
	if s.CurrentUser() != nil {
		t.Error("expected nil after Clear")
	}
}

func TestAuthenticate(t *testing.T) {
	a := NewTokenAuthenticator(mapUsers{"gc_good": {UserID: "u1", Email: "a@b.c"}}, nil)

	id, err := a.Authenticate(context.Background(), " gc_good ")
	if err != nil || id.UserID != "u1" {
		t.Fatalf("got %+v, %v", id, err)
	}
	for _, tok := range []string{"", "gc_bad"} {
		if _, err := a.Authenticate(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"BEARER x":     "x",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for in, want := range tests {
		if got := BearerToken(in); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}
