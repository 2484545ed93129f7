package domain

import "context"

// Channel is a user-facing surface that embeds the chat assistant (Web, CLI, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
