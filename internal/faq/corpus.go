package faq

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"greencycle/internal/domain"
)

// DefaultEntries is the built-in corpus used when no FAQ file is configured.
var DefaultEntries = []Entry{
	{
		Question: "How do I schedule a pickup?",
		Answer:   "Log in and go to the Schedule page. I can open it for you.",
		Intent:   domain.IntentSchedule,
	},
	{
		Question: "How much does residential pickup cost?",
		Answer:   "Residential pickup starts at $29/month with weekly collection and recycling included. Commercial plans start at $199/month.",
		Intent:   domain.IntentPricing,
	},
	{
		Question: "What materials can I recycle?",
		Answer:   "We accept paper, plastic, glass, metals and electronics. Hazardous materials go through our Recycling Plus service.",
		Intent:   domain.IntentRecycling,
	},
	{
		Question: "How can I contact customer support?",
		Answer:   "Call 1-800-GREENCYCLE or email info@greencycle.com. Emergency support is available 24/7.",
		Intent:   domain.IntentContact,
	},
	{
		Question: "How do I create an account?",
		Answer:   "Click Register at the top of the page and fill in your name, email and address. It takes about a minute.",
		Intent:   domain.IntentAccount,
	},
}

type corpusFile struct {
	Threshold float64 `yaml:"threshold"`
	Entries   []Entry `yaml:"entries"`
}

// LoadFile reads a YAML corpus. The file may override the confidence threshold;
// a zero threshold in the file means "not set".
func LoadFile(path string, logger *slog.Logger) ([]Entry, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read faq file: %w", err)
	}

	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, 0, fmt.Errorf("parse faq file %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(f.Entries))
	for i, e := range f.Entries {
		if e.Question == "" || e.Answer == "" {
			logger.Warn("skipping faq entry without question or answer", "path", path, "index", i)
			continue
		}
		if !e.Intent.Valid() {
			return nil, 0, fmt.Errorf("faq entry %d: unknown intent %q", i, e.Intent)
		}
		entries = append(entries, e)
	}
	if f.Threshold < 0 || f.Threshold > 1 {
		return nil, 0, fmt.Errorf("faq threshold must be between 0 and 1, got %g", f.Threshold)
	}

	logger.Info("loaded faq corpus", "path", path, "entries", len(entries))
	return entries, f.Threshold, nil
}

// Load returns the corpus at path, or DefaultEntries when path is empty.
func Load(path string, logger *slog.Logger) ([]Entry, float64, error) {
	if path == "" {
		return DefaultEntries, 0, nil
	}
	return LoadFile(path, logger)
}
