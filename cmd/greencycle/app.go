package main

import (
	"fmt"
	"time"

	"greencycle/internal/auth"
	"greencycle/internal/bus"
	"greencycle/internal/chat"
	"greencycle/internal/config"
	"greencycle/internal/faq"
	"greencycle/internal/lookup"
	"greencycle/internal/reply"
	"greencycle/internal/store"
)

// app is the wired assistant core shared by every command.
type app struct {
	cfg       *config.Config
	events    *bus.EventBus
	store     *store.SQLiteStore
	matcher   *faq.Matcher
	lookup    *lookup.Lookup
	responder *reply.Responder
	auth      *auth.TokenAuthenticator
}

func newApp(cfg *config.Config) (*app, error) {
	events := bus.NewEventBus(logger)

	st, err := store.Open(store.Config{
		Path:     cfg.Store.DBPath,
		Notifier: events,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("pickup store: %w", err)
	}

	matcher, err := newMatcher(cfg.Chat)
	if err != nil {
		st.Close()
		return nil, err
	}

	lk := lookup.New(lookup.Config{Store: st, Logger: logger})
	crafter := reply.NewCrafter(reply.CrafterConfig{
		Matcher:    matcher,
		DateLayout: cfg.Chat.DateLayout,
	})

	return &app{
		cfg:     cfg,
		events:  events,
		store:   st,
		matcher: matcher,
		lookup:  lk,
		responder: reply.NewResponder(reply.ResponderConfig{
			Crafter: crafter,
			Lookups: lk,
			Logger:  logger,
		}),
		auth: auth.NewTokenAuthenticator(st, logger),
	}, nil
}

// newMatcher loads the FAQ corpus. A threshold set in the corpus file wins
// over the config value.
func newMatcher(c config.ChatConfig) (*faq.Matcher, error) {
	entries, threshold, err := faq.Load(c.FAQPath, logger)
	if err != nil {
		return nil, err
	}
	if threshold == 0 {
		threshold = c.FAQThreshold
	}
	return faq.NewMatcher(entries, threshold), nil
}

// sessionConfig is the base configuration for new chat sessions.
func (a *app) sessionConfig() chat.SessionConfig {
	return chat.SessionConfig{
		Responder:        a.responder,
		ThinkMin:         time.Duration(a.cfg.Chat.ThinkDelayMinMs) * time.Millisecond,
		ThinkMax:         time.Duration(a.cfg.Chat.ThinkDelayMaxMs) * time.Millisecond,
		SingleFlight:     a.cfg.Chat.SingleFlight,
		MaxMessageLength: a.cfg.Chat.MaxMessageLength,
		Logger:           logger,
	}
}

// newRegistry builds the session registry used by long-running channels.
func (a *app) newRegistry() *chat.Registry {
	idle := time.Duration(a.cfg.Chat.SessionIdleMinutes) * time.Minute
	return chat.NewRegistry(a.sessionConfig(), idle, logger)
}

func (a *app) Close() error {
	return a.store.Close()
}
