package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"greencycle/internal/auth"
	"greencycle/internal/channel"
	"greencycle/internal/chat"
	"greencycle/internal/domain"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web API and the enabled channels",
		Long:  "Starts all enabled channels (Web API + websocket, Telegram). Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions := a.newRegistry()
	limiter := channel.NewRateLimiter(cfg.Chat.RateLimitBurst, float64(cfg.Chat.RateLimitPerMinute))

	var channels []domain.Channel
	if cfg.Channels.Web.Enabled {
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Path
		}
		channels = append(channels, channel.NewWeb(channel.WebConfig{
			Host:           cfg.Channels.Web.Host,
			Port:           cfg.Channels.Web.Port,
			Sessions:       sessions,
			Auth:           a.auth,
			Health:         a.store,
			Pickups:        a.events,
			RequireAuth:    cfg.Channels.Web.RequireAuth,
			AllowedOrigins: cfg.Channels.Web.AllowedOrigins,
			MetricsPath:    metricsPath,
			WebhookSecret:  cfg.Channels.Web.WebhookSecret,
			Limiter:        limiter,
			Logger:         logger,
		}))
	} else {
		logger.Info("web channel disabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			BaseURL:   cfg.General.BaseURL,
			Sessions:  sessions,
			Auth:      a.auth,
			Limiter:   limiter,
			Logger:    logger,
		}))
	} else {
		logger.Info("telegram channel disabled")
	}

	if len(channels) == 0 {
		return errors.New("no channels enabled; enable channels.web or channels.telegram")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions.Run(gctx, time.Minute)
		return nil
	})
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			if err := ch.Start(gctx); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
	}

	logger.Info("greencycle started. Press Ctrl+C to stop.", "version", version, "channels", len(channels))

	err = g.Wait()
	for _, ch := range channels {
		ch.Stop()
	}
	if err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func chatCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			identity, err := a.identity(ctx, token)
			if err != nil {
				return err
			}

			sc := a.sessionConfig()
			sc.Identity = identity
			s := chat.NewSession(sc)
			s.Open()

			cli := channel.NewCLI(channel.CLIConfig{
				Session: s,
				BaseURL: cfg.General.BaseURL,
				Spinner: true,
				Logger:  logger,
				In:      cmd.InOrStdin(),
				Out:     cmd.OutOrStdout(),
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "chat as the user owning this access token")
	return cmd
}

func askCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask a single question and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			identity, err := a.identity(ctx, token)
			if err != nil {
				return err
			}

			rep := a.responder.Respond(ctx, strings.Join(args, " "), identity.CurrentUser())
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, rep.Text)
			for i, q := range rep.QuickReplies {
				target := q.Payload
				if q.IsNavigation() {
					target = cfg.General.BaseURL + q.Navigate.PathFor(identity.CurrentUser() != nil)
				}
				fmt.Fprintf(out, "  [%d] %s -> %s\n", i+1, q.Label, target)
			}
			logger.Debug("answered", "intent", rep.Intent, "faq", rep.FAQ)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "ask as the user owning this access token")
	return cmd
}

// identity resolves an optional access token into the session's identity source.
func (a *app) identity(ctx context.Context, token string) (domain.IdentitySource, error) {
	if token == "" {
		return auth.Anonymous{}, nil
	}
	id, err := a.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	logger.Info("signed in", "user", id.UserID)
	return auth.Static{Identity: id}, nil
}
