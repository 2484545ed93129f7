package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"greencycle/internal/chat"
	"greencycle/internal/domain"
)

// CLI implements domain.Channel for interactive terminal chat.
type CLI struct {
	session *chat.Session
	baseURL string
	spinner bool
	logger  *slog.Logger
	in      io.Reader

	outMu     sync.Mutex
	out       io.Writer
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Session *chat.Session
	BaseURL string // prefix for navigation links
	Spinner bool   // animate while the bot is composing
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		session: cfg.Session,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		spinner: cfg.Spinner,
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until input ends, the user
// quits, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	if c.spinner {
		cancel := c.session.Subscribe(func(ev chat.Event) {
			if ev.Type != chat.EventTyping {
				return
			}
			if ev.Composing {
				c.startThinking()
			} else {
				c.stopThinking()
			}
		})
		defer cancel()
	}

	c.printf("Greencycle assistant. Type a message, /<n> to pick a suggestion, /quit to exit.\n\n")
	for _, m := range c.session.Messages() {
		if m.Sender == domain.SenderBot {
			c.printBot(m.Text)
		}
	}
	c.printQuickReplies(c.session.QuickReplies())
	c.printf("You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		case strings.HasPrefix(line, "/"):
			c.selectQuickReply(ctx, strings.TrimPrefix(line, "/"))
		default:
			turn, err := c.session.Send(ctx, line)
			c.stopThinking()
			if err != nil {
				c.printf("! %v\n", err)
				break
			}
			c.printBot(turn.Bot.Text)
			c.printQuickReplies(turn.QuickReplies)
		}
		c.printf("You> ")
	}
}

func (c *CLI) selectQuickReply(ctx context.Context, arg string) {
	qrs := c.session.QuickReplies()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(qrs) {
		c.printf("! unknown command /%s\n", arg)
		return
	}

	sel, err := c.session.SelectQuickReply(ctx, qrs[n-1].ID)
	c.stopThinking()
	if err != nil {
		c.printf("! %v\n", err)
		return
	}
	if sel.Turn != nil {
		c.printf("You> %s\n", sel.Turn.User.Text)
		c.printBot(sel.Turn.Bot.Text)
		c.printQuickReplies(sel.Turn.QuickReplies)
		return
	}
	c.printf("-> Open %s%s\n", c.baseURL, sel.Navigate.PathFor(c.session.Identity() != nil))
}

func (c *CLI) printBot(text string) {
	c.printf("--- Greencycle ---\n%s\n------------------\n", text)
}

func (c *CLI) printQuickReplies(qrs []domain.QuickReply) {
	if len(qrs) == 0 {
		return
	}
	parts := make([]string, len(qrs))
	for i, q := range qrs {
		parts[i] = fmt.Sprintf("[/%d] %s", i+1, q.Label)
	}
	c.printf("%s\n", strings.Join(parts, "  "))
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				c.printf("\r\033[K")
				return
			case <-ticker.C:
				c.printf("\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	if !c.thinking {
		c.thinkMu.Unlock()
		return
	}
	c.thinking = false
	close(c.thinkStop)
	done := c.thinkDone
	c.thinkMu.Unlock()
	<-done
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
