package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Config paths are the json field names joined by dots, e.g. "gateway.dsn"
// or "providers.claude.enabled".

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

func splitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid path %q", path)
		}
	}
	return parts, nil
}

// GetByPath returns the value at path. Array elements are addressed by index.
func GetByPath(cfg *Config, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var cur any = m
	for i, key := range parts {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", strings.Join(parts[:i+1], "."))
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("invalid array index %q at %s", key, strings.Join(parts[:i], "."))
			}
			cur = node[idx]
		default:
			return nil, fmt.Errorf("%s is a leaf value", strings.Join(parts[:i], "."))
		}
	}
	return cur, nil
}

// SetByPath assigns value at path. String values are coerced to bool or
// number when they parse as one. Unknown keys are rejected except for new
// entries under providers. cfg is left untouched when the result does not
// decode.
func SetByPath(cfg *Config, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	node := m
	for i, key := range parts[:len(parts)-1] {
		child, ok := node[key]
		if !ok || child == nil {
			if !(i == 1 && parts[0] == "providers") {
				return fmt.Errorf("key not found: %s", strings.Join(parts[:i+1], "."))
			}
			child = map[string]any{}
			node[key] = child
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is a leaf value", strings.Join(parts[:i+1], "."))
		}
		node = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := node[leaf]; !ok && !(len(parts) == 3 && parts[0] == "providers") && !optionalLeaf(leaf) {
		return fmt.Errorf("key not found: %s", path)
	}
	node[leaf] = parseValue(value)

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var next Config
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = next
	return nil
}

// optionalLeaf reports fields tagged omitempty, which are absent from the
// encoded config while unset.
func optionalLeaf(key string) bool {
	switch key {
	case "logFile", "secret", "userAgent", "temperature", "fallbacks", "apiBase", "apiKey", "defaultModel":
		return true
	}
	return false
}

// parseValue coerces "true", "false" and numeric strings.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy with credentials masked. Unresolved ${VAR}
// references are left as is since they name a variable, not a secret.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	out.Gateway.APIKey = mask(out.Gateway.APIKey)
	out.Webhook.Secret = mask(out.Webhook.Secret)
	out.Notify.Telegram.Token = mask(out.Notify.Telegram.Token)
	for name, pc := range out.Providers {
		pc.APIKey = mask(pc.APIKey)
		out.Providers[name] = pc
	}
	return &out
}

// mask keeps the first and last four characters of long secrets.
func mask(s string) string {
	switch {
	case s == "" || envVarPattern.MatchString(s):
		return s
	case len(s) <= 8:
		return "***"
	default:
		return s[:4] + "****" + s[len(s)-4:]
	}
}

// ListPaths flattens cfg into path → leaf value.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok && len(child) > 0 {
				walk(p, child)
				continue
			}
			out[p] = v
		}
	}
	walk("", m)
	return out
}
