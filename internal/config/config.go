package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for dmdesk.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Server    ServerConfig              `json:"server"`
	Gateway   GatewayConfig             `json:"gateway"`
	Webhook   WebhookConfig             `json:"webhook"`
	Providers map[string]ProviderConfig `json:"providers"`
	Draft     DraftConfig               `json:"draft"`
	Identity  IdentityConfig            `json:"identity"`
	Dedup     DedupConfig               `json:"dedup"`
	Session   SessionConfig             `json:"session"`
	Retention RetentionConfig           `json:"retention"`
	Notify    NotifyConfig              `json:"notify"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	DataDir         string `json:"dataDir"`
	LogLevel        string `json:"logLevel"`
	LogFile         string `json:"logFile,omitempty"` // optional log file path
	DefaultProvider string `json:"defaultProvider"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	WriteTimeoutSeconds int    `json:"writeTimeoutSeconds"` // must exceed gateway.authTimeoutSeconds
}

// GatewayConfig configures the Unipile messaging gateway.
type GatewayConfig struct {
	DSN                   string `json:"dsn"` // e.g. api1.unipile.com:13111, scheme optional
	APIKey                string `json:"apiKey"`
	Provider              string `json:"provider"`
	UserAgent             string `json:"userAgent,omitempty"`
	AuthTimeoutSeconds    int    `json:"authTimeoutSeconds"`
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"`
}

// BaseURL returns the DSN with an https:// scheme when none was given.
func (g GatewayConfig) BaseURL() string {
	dsn := strings.TrimRight(strings.TrimSpace(g.DSN), "/")
	if dsn == "" || strings.HasPrefix(dsn, "http://") || strings.HasPrefix(dsn, "https://") {
		return dsn
	}
	return "https://" + dsn
}

func (g GatewayConfig) AuthTimeout() time.Duration {
	return time.Duration(g.AuthTimeoutSeconds) * time.Second
}

func (g GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSeconds) * time.Second
}

type WebhookConfig struct {
	Path   string `json:"path"`             // webhook URL path
	Secret string `json:"secret,omitempty"` // HMAC secret for verifying webhook signatures
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// DraftConfig controls how suggested replies are generated.
// PromptTemplate supports {platform} and {message} placeholders.
type DraftConfig struct {
	Platform       string  `json:"platform"`
	PromptTemplate string  `json:"promptTemplate"`
	MaxTokens      int     `json:"maxTokens"`
	Temperature    float64 `json:"temperature,omitempty"`
	// Fallbacks are tried in order when the default provider fails.
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// IdentityConfig holds the sender-resolution heuristics and the bot's own identity.
type IdentityConfig struct {
	BotName            string `json:"botName"`
	BotProviderID      string `json:"botProviderId"`
	PlaceholderPattern string `json:"placeholderPattern"`
	FallbackName       string `json:"fallbackName"`
}

type DedupConfig struct {
	WindowSeconds int `json:"windowSeconds"`
}

func (d DedupConfig) Window() time.Duration {
	return time.Duration(d.WindowSeconds) * time.Second
}

type SessionConfig struct {
	Backend string `json:"backend"` // "file" | "sqlite"
	Dir     string `json:"dir"`     // file backend: one JSON file per key
	DBPath  string `json:"dbPath"`  // sqlite backend
	Key     string `json:"key"`
}

// RetentionConfig configures eviction of old state. Disabled by default:
// without it every store grows for the life of the process.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	TTLHours int    `json:"ttlHours"`
	Schedule string `json:"schedule"`
}

func (r RetentionConfig) TTL() time.Duration {
	return time.Duration(r.TTLHours) * time.Hour
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	ChatIDs   FlexStringList `json:"chatIds"`
	ParseMode string         `json:"parseMode"`
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

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.dmdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dmdesk"
	}
	return filepath.Join(home, ".dmdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func isTOML(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".toml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	switch {
	case isYAML(path):
		data, err = yamlToJSON(data)
	case isTOML(path):
		data, err = tomlToJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Prepare()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share the
// json struct tags.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

func tomlToJSON(data []byte) ([]byte, error) {
	doc := map[string]any{}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// dropNulls removes null values, which TOML cannot represent.
func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
	case []any:
		for i := range t {
			t[i] = dropNulls(t[i])
		}
	}
	return v
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
			return match
		}
		return val
	})
}

// Prepare resolves environment references and ~/ paths. Load calls it;
// callers running on Defaults() must call it themselves.
func (c *Config) Prepare() {
	c.ResolveEnv()
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Session.Dir = ExpandPath(c.Session.Dir)
	c.Session.DBPath = ExpandPath(c.Session.DBPath)
}

// ResolveEnv expands ${VAR} references left in credential fields, which is
// where Defaults() points them when no config file overrides them.
func (c *Config) ResolveEnv() {
	c.Gateway.DSN = ExpandEnvVars(c.Gateway.DSN)
	c.Gateway.APIKey = ExpandEnvVars(c.Gateway.APIKey)
	c.Notify.Telegram.Token = ExpandEnvVars(c.Notify.Telegram.Token)
	for name, pc := range c.Providers {
		pc.APIKey = ExpandEnvVars(pc.APIKey)
		pc.APIBase = ExpandEnvVars(pc.APIBase)
		c.Providers[name] = pc
	}
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

	if isYAML(path) || isTOML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if isYAML(path) {
			data, err = yaml.Marshal(doc)
		} else {
			var buf bytes.Buffer
			err = toml.NewEncoder(&buf).Encode(dropNulls(doc))
			data = buf.Bytes()
		}
		if err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// scheduleParser accepts the same expressions as the retention sweeper.
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Gateway.AuthTimeoutSeconds < 1 {
		errs = append(errs, "gateway.authTimeoutSeconds must be >= 1")
	}
	if cfg.Gateway.RequestTimeoutSeconds < 1 {
		errs = append(errs, "gateway.requestTimeoutSeconds must be >= 1")
	}
	if cfg.Server.WriteTimeoutSeconds != 0 && cfg.Server.WriteTimeoutSeconds <= cfg.Gateway.AuthTimeoutSeconds {
		errs = append(errs, "server.writeTimeoutSeconds must exceed gateway.authTimeoutSeconds")
	}
	if !strings.HasPrefix(cfg.Webhook.Path, "/") {
		errs = append(errs, "webhook.path must start with /")
	}

	if cfg.Dedup.WindowSeconds < 0 {
		errs = append(errs, "dedup.windowSeconds must be >= 0")
	}
	if _, err := regexp.Compile(cfg.Identity.PlaceholderPattern); err != nil {
		errs = append(errs, fmt.Sprintf("identity.placeholderPattern is not a valid regexp: %v", err))
	}
	if cfg.Identity.FallbackName == "" {
		errs = append(errs, "identity.fallbackName must not be empty")
	}
	if cfg.Draft.MaxTokens < 1 {
		errs = append(errs, "draft.maxTokens must be >= 1")
	}
	for _, name := range cfg.Draft.Fallbacks {
		if pc, ok := cfg.Providers[name]; !ok || !pc.Enabled {
			errs = append(errs, fmt.Sprintf("draft.fallbacks: provider %s is unknown or disabled", name))
		}
	}

	switch cfg.Session.Backend {
	case "file":
		if cfg.Session.Dir == "" {
			errs = append(errs, "session.dir is required for the file backend")
		}
	case "sqlite":
		if cfg.Session.DBPath == "" {
			errs = append(errs, "session.dbPath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "session.backend must be one of: file, sqlite")
	}
	if cfg.Session.Key == "" {
		errs = append(errs, "session.key must not be empty")
	}

	if cfg.Retention.Enabled {
		if cfg.Retention.TTLHours < 1 {
			errs = append(errs, "retention.ttlHours must be >= 1 when retention is enabled")
		}
		if _, err := scheduleParser.Parse(cfg.Retention.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("retention.schedule is invalid: %v", err))
		}
	}

	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token == "" {
		errs = append(errs, "notify.telegram.token is required when telegram is enabled")
	}

	if cfg.General.DefaultProvider != "" {
		if pc, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
		} else if !pc.Enabled {
			errs = append(errs, fmt.Sprintf("general.defaultProvider %s is disabled", cfg.General.DefaultProvider))
		}
	}
	for name, pc := range cfg.Providers {
		if pc.Enabled && pc.APIBase == "" && name != "ollama" && name != "openai" && name != "claude" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required", name))
		}
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
