package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PathValue is one leaf of the config tree.
type PathValue struct {
	Path  string
	Value any
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "chat.singleFlight").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets an existing leaf by dot-notation path. String values are
// coerced to the type of the current value; the result must still validate.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		parent = child
	}
	last := parts[len(parts)-1]
	current, ok := parent[last]
	if zero, optional := optionalLeaves[path]; optional && current == nil {
		current, ok = zero, true
	}
	if !ok {
		return fmt.Errorf("key not found: %s", path)
	}
	parent[last] = coerce(value, current)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	next := Defaults()
	if err := json.Unmarshal(data, next); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = *next
	return nil
}

// optionalLeaves are fields that are omitted or null in a marshalled config
// but can still be set, keyed to the zero value that fixes their type.
var optionalLeaves = map[string]any{
	"general.logFile":             "",
	"chat.faqPath":                "",
	"channels.web.allowedOrigins": []any{},
	"channels.web.webhookSecret":  "",
	"channels.telegram.allowFrom": []any{},
}

// coerce converts string input to the JSON type of the value it replaces.
// Lists take comma-separated input.
func coerce(v any, current any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch current.(type) {
	case bool:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case float64:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case []any:
		out := []any{}
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return s
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	cp := *cfg
	cp.Channels.Web.AllowedOrigins = append([]string(nil), cfg.Channels.Web.AllowedOrigins...)
	cp.Channels.Telegram.AllowFrom = append(FlexStringList(nil), cfg.Channels.Telegram.AllowFrom...)
	if cp.Channels.Web.WebhookSecret != "" {
		cp.Channels.Web.WebhookSecret = maskString(cp.Channels.Web.WebhookSecret)
	}
	if cp.Channels.Telegram.Token != "" {
		cp.Channels.Telegram.Token = maskString(cp.Channels.Telegram.Token)
	}
	return &cp
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf with its current value, sorted by path.
func ListPaths(cfg *Config) []PathValue {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	var out []PathValue
	flattenMap("", m, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func flattenMap(prefix string, m map[string]any, out *[]PathValue) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenMap(path, child, out)
			continue
		}
		*out = append(*out, PathValue{Path: path, Value: v})
	}
}
