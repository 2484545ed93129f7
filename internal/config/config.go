package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for Greencycle.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Chat     ChatConfig     `json:"chat"`
	Store    StoreConfig    `json:"store"`
	Channels ChannelsConfig `json:"channels"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir"`
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional log file path
	BaseURL   string `json:"baseURL"`           // site root used to render navigation links
}

type ChatConfig struct {
	ThinkDelayMinMs    int     `json:"thinkDelayMinMs"`
	ThinkDelayMaxMs    int     `json:"thinkDelayMaxMs"`
	SingleFlight       bool    `json:"singleFlight"`      // reject sends while a reply is composing
	FAQPath            string  `json:"faqPath,omitempty"` // YAML corpus; empty = built-in
	FAQThreshold       float64 `json:"faqThreshold"`
	SessionIdleMinutes int     `json:"sessionIdleMinutes"`
	MaxMessageLength   int     `json:"maxMessageLength"`
	DateLayout         string  `json:"dateLayout"`         // Go layout for dates in replies
	RateLimitPerMinute int     `json:"rateLimitPerMinute"` // per-client sends; 0 disables
	RateLimitBurst     int     `json:"rateLimitBurst"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"` // websocket origin allow-list; empty = same host only
	RequireAuth    bool     `json:"requireAuth"`              // reject requests without a valid bearer token
	WebhookSecret  string   `json:"webhookSecret,omitempty"`  // HMAC secret for POST /hooks/pickups; empty disables it
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// MetricsConfig configures the Prometheus endpoint on the web channel.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DefaultConfigDir returns the default config directory (~/.greencycle).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".greencycle"
	}
	return filepath.Join(home, ".greencycle")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	if err := LoadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Chat.FAQPath = ExpandPath(cfg.Chat.FAQPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads each existing .env file into the process environment.
// Variables already set are never overridden; missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("cannot load %s: %w", p, err)
		}
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Chat.ThinkDelayMinMs < 0 || cfg.Chat.ThinkDelayMaxMs < 0 {
		errs = append(errs, "chat.thinkDelayMinMs and chat.thinkDelayMaxMs must be >= 0")
	}
	if cfg.Chat.ThinkDelayMaxMs < cfg.Chat.ThinkDelayMinMs {
		errs = append(errs, "chat.thinkDelayMaxMs must be >= chat.thinkDelayMinMs")
	}
	if cfg.Chat.FAQThreshold <= 0 || cfg.Chat.FAQThreshold > 1 {
		errs = append(errs, "chat.faqThreshold must be in (0, 1]")
	}
	if cfg.Chat.SessionIdleMinutes < 1 {
		errs = append(errs, "chat.sessionIdleMinutes must be >= 1")
	}
	if cfg.Chat.MaxMessageLength < 1 {
		errs = append(errs, "chat.maxMessageLength must be >= 1")
	}
	if cfg.Chat.DateLayout == "" {
		errs = append(errs, "chat.dateLayout must not be empty")
	}
	if cfg.Chat.RateLimitPerMinute < 0 || cfg.Chat.RateLimitBurst < 0 {
		errs = append(errs, "chat.rateLimitPerMinute and chat.rateLimitBurst must be >= 0")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath must not be empty")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
