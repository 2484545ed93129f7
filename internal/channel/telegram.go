package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"greencycle/internal/auth"
	"greencycle/internal/chat"
	"greencycle/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramButtonsPerRow  = 2
	callbackPrefix         = "qr:"
)

// Telegram implements domain.Channel for a Telegram bot. Each Telegram chat
// gets its own chat session; /login <token> binds it to a Greencycle account.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	baseURL   string

	bot      *tgbotapi.BotAPI
	sessions *chat.Registry
	auth     *auth.TokenAuthenticator
	limiter  *RateLimiter
	logger   *slog.Logger

	mu    sync.Mutex
	chats map[int64]*tgChat
}

type tgChat struct {
	sessionID string
	identity  *auth.Switchable
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	BaseURL   string
	Sessions  *chat.Registry
	Auth      *auth.TokenAuthenticator
	Limiter   *RateLimiter
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: parseAllowFrom(cfg.AllowFrom),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		sessions:  cfg.Sessions,
		auth:      cfg.Auth,
		limiter:   cfg.Limiter,
		logger:    cfg.Logger,
		chats:     make(map[int64]*tgChat),
	}
}

func parseAllowFrom(in []string) []int64 {
	var allowed []int64
	for _, s := range in {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return allowed
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			// Replies wait out the thinking delay; don't hold up other chats.
			go t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: StopReceivingUpdates is called when Start's context is
// cancelled, and calling it twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.", nil)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	if ok, _ := t.limiter.Allow(telegramKey(userID)); !ok {
		t.sendMessage(chatID, t.describeError(ErrRateLimited), nil)
		return
	}

	s, _ := t.session(chatID)
	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"session", s.ID(),
		"text_len", len(text),
	)

	_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	turn, err := s.Send(ctx, text)
	if err != nil {
		t.sendMessage(chatID, t.describeError(err), nil)
		return
	}
	t.sendMessage(chatID, turn.Bot.Text, turn.QuickReplies)
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	_, _ = t.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	if cq.From != nil {
		if !t.isAllowed(cq.From.ID) {
			return
		}
		if ok, _ := t.limiter.Allow(telegramKey(cq.From.ID)); !ok {
			t.sendMessage(chatID, t.describeError(ErrRateLimited), nil)
			return
		}
	}
	qrID, ok := strings.CutPrefix(cq.Data, callbackPrefix)
	if !ok {
		return
	}

	s, _ := t.session(chatID)

	// Buttons under older messages no longer match the current set.
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Send(edit)

	sel, err := s.SelectQuickReply(ctx, qrID)
	if err != nil {
		t.sendMessage(chatID, t.describeError(err), s.QuickReplies())
		return
	}
	if sel.Turn != nil {
		t.sendMessage(chatID, sel.Turn.Bot.Text, sel.Turn.QuickReplies)
		return
	}
	t.sendMessage(chatID, "Open "+t.baseURL+sel.Navigate.PathFor(s.Identity() != nil), nil)
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		s := t.restart(chatID)
		greeting := s.Messages()[0]
		t.sendMessage(chatID, greeting.Text, s.QuickReplies())
	case "help":
		t.sendMessage(chatID, "Ask me about our services, pricing or your pickups.\n\n"+
			"Commands:\n/start - Start a new conversation\n/login <token> - Link your Greencycle account\n"+
			"/logout - Unlink your account\n/help - Show this message", nil)
	case "login":
		token := strings.TrimSpace(msg.CommandArguments())
		if token == "" {
			t.sendMessage(chatID, "Usage: /login <token>", nil)
			return
		}
		if t.auth == nil {
			t.sendMessage(chatID, "Account linking is not enabled.", nil)
			return
		}
		id, err := t.auth.Authenticate(ctx, token)
		if err != nil {
			t.sendMessage(chatID, "That token was not accepted.", nil)
			return
		}
		_, c := t.session(chatID)
		c.identity.Set(id)
		t.logger.Info("telegram chat signed in", "chat_id", chatID, "user", id.UserID)
		name := id.FullName
		if name == "" {
			name = id.Email
		}
		t.sendMessage(chatID, "Signed in as "+name+".", nil)
	case "logout":
		_, c := t.session(chatID)
		c.identity.Clear()
		t.sendMessage(chatID, "Signed out.", nil)
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.", nil)
	}
}

// session returns the chat's live session, opening a fresh one when the chat
// is new or its previous session was evicted. The identity survives eviction.
func (t *Telegram) session(chatID int64) (*chat.Session, *tgChat) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.chats[chatID]
	if ok {
		if s, err := t.sessions.Get(c.sessionID); err == nil {
			return s, c
		}
	} else {
		c = &tgChat{identity: auth.NewSwitchable(nil)}
		t.chats[chatID] = c
	}
	s := t.sessions.Create(c.identity)
	c.sessionID = s.ID()
	return s, c
}

// restart closes the chat's session and opens a new one.
func (t *Telegram) restart(chatID int64) *chat.Session {
	t.mu.Lock()
	if c, ok := t.chats[chatID]; ok {
		_ = t.sessions.Close(c.sessionID)
	}
	t.mu.Unlock()
	s, _ := t.session(chatID)
	return s
}

func (t *Telegram) describeError(err error) string {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return "Still working on your last message, one moment."
	case errors.Is(err, chat.ErrUnknownQuickReply):
		return "That option has expired. Pick one of these instead."
	case errors.Is(err, chat.ErrMessageTooLong):
		return "That message is too long."
	case errors.Is(err, ErrRateLimited):
		return "You're sending messages too quickly. Please wait a moment."
	default:
		return "Sorry, something went wrong: " + err.Error()
	}
}

func telegramKey(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// keyboardFor lays quick replies out as callback buttons. Navigation buttons
// also go through the callback so the session decides where they lead.
func keyboardFor(qrs []domain.QuickReply) *tgbotapi.InlineKeyboardMarkup {
	if len(qrs) == 0 {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, q := range qrs {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(q.Label, callbackPrefix+q.ID))
		if len(row) == telegramButtonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// sendMessage splits text at Telegram's length limit. The keyboard rides on
// the last chunk.
func (t *Telegram) sendMessage(chatID int64, text string, qrs []domain.QuickReply) {
	kb := keyboardFor(qrs)
	chunks := splitMessage(text, telegramMaxMsgLen)
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if i == len(chunks)-1 && kb != nil {
			msg.ReplyMarkup = *kb
		}
		t.sendChunk(msg)
	}
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring a
// newline in the second half of the window and never splitting a rune.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// sendChunk sends one message, backing off on rate limits and transient errors.
func (t *Telegram) sendChunk(msg tgbotapi.MessageConfig) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
