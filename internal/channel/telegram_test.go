package channel

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"greencycle/internal/chat"
	"greencycle/internal/domain"
)

func TestKeyboardFor(t *testing.T) {
	if keyboardFor(nil) != nil {
		t.Error("no quick replies should mean no keyboard")
	}

	qrs := append([]domain.QuickReply{{ID: "contact", Label: "Contact us", Navigate: domain.DestContact}}, testQuickReplies...)
	kb := keyboardFor(qrs)
	if kb == nil || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("expected 2 rows, got %+v", kb)
	}
	if len(kb.InlineKeyboard[0]) != 2 || len(kb.InlineKeyboard[1]) != 1 {
		t.Errorf("unexpected row sizes: %d, %d", len(kb.InlineKeyboard[0]), len(kb.InlineKeyboard[1]))
	}
	btn := kb.InlineKeyboard[0][0]
	if btn.Text != "Contact us" || btn.CallbackData == nil || *btn.CallbackData != "qr:contact" {
		t.Errorf("unexpected button: %+v", btn)
	}
}

func TestTelegram_AllowFrom(t *testing.T) {
	tg := NewTelegram(TelegramConfig{AllowFrom: []string{"42", " 7 ", "not-a-number"}, Logger: testLogger()})
	if !tg.isAllowed(42) || !tg.isAllowed(7) {
		t.Error("listed users should be allowed")
	}
	if tg.isAllowed(8) {
		t.Error("unlisted user should be rejected")
	}

	open := NewTelegram(TelegramConfig{Logger: testLogger()})
	if !open.isAllowed(8) {
		t.Error("empty allow list should allow everyone")
	}
}

func TestTelegram_SessionPerChatSurvivesEviction(t *testing.T) {
	clock := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	reg := chat.NewRegistry(chat.SessionConfig{Responder: &echoResponder{}, Now: now}, time.Minute, testLogger())
	tg := NewTelegram(TelegramConfig{Sessions: reg, Logger: testLogger()})

	a, chatA := tg.session(1)
	b, _ := tg.session(2)
	if a.ID() == b.ID() {
		t.Fatal("each telegram chat needs its own session")
	}
	again, _ := tg.session(1)
	if again != a {
		t.Error("same chat should reuse its session")
	}

	chatA.identity.Set(&domain.Identity{UserID: "u1"})
	clock = clock.Add(5 * time.Minute)
	reg.Cleanup()

	fresh, _ := tg.session(1)
	if fresh == a {
		t.Fatal("evicted session should be replaced")
	}
	if id := fresh.Identity(); id == nil || id.UserID != "u1" {
		t.Errorf("sign-in should survive eviction, got %+v", id)
	}

	restarted := tg.restart(1)
	if restarted == fresh || len(restarted.Messages()) != 1 {
		t.Error("restart should open a new session with just the greeting")
	}
}

func TestTelegram_DescribeError(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: testLogger()})
	if got := tg.describeError(chat.ErrBusy); got != "Still working on your last message, one moment." {
		t.Errorf("busy: %q", got)
	}
	if got := tg.describeError(ErrRateLimited); got != "You're sending messages too quickly. Please wait a moment." {
		t.Errorf("rate limited: %q", got)
	}
	if got := tg.describeError(errors.New("boom")); got != "Sorry, something went wrong: boom" {
		t.Errorf("generic: %q", got)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text: %q", got)
	}
	if got := splitMessage("", 10); len(got) != 0 {
		t.Errorf("empty text: %q", got)
	}

	// the em dash is three bytes and straddles the 10-byte limit
	text := "abcdefgh—ijklmnop"
	got := splitMessage(text, 10)
	if strings.Join(got, "") != text {
		t.Fatalf("chunks do not reassemble: %q", got)
	}
	for _, c := range got {
		if len(c) > 10 || !utf8.ValidString(c) {
			t.Errorf("bad chunk %q", c)
		}
	}
	if got[0] != "abcdefgh" {
		t.Errorf("first chunk = %q, want cut before the dash", got[0])
	}

	got = splitMessage("line one\nline two and more", 16)
	if got[0] != "line one" {
		t.Errorf("expected a cut at the newline, got %q", got)
	}
}
