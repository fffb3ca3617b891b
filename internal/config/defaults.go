package config

// DefaultPromptTemplate is the system prompt used to draft replies.
const DefaultPromptTemplate = `You are the social media manager for a restaurant brand. The user asked on {platform}: "{message}". Reply on-brand, relevant, informative, timely.`

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:         "~/.dmdesk",
			LogLevel:        "info",
			DefaultProvider: "openai",
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                7655,
			WriteTimeoutSeconds: 90,
		},
		Gateway: GatewayConfig{
			DSN:                   "${UNIPILE_DSN}",
			APIKey:                "${UNIPILE_TOKEN}",
			Provider:              "INSTAGRAM",
			UserAgent:             "Social-AI-Dashboard/1.0",
			AuthTimeoutSeconds:    60,
			RequestTimeoutSeconds: 30,
		},
		Webhook: WebhookConfig{
			Path: "/webhook/incoming",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
			},
			"claude": {
				Enabled:      false,
				APIKey:       "${ANTHROPIC_API_KEY}",
				DefaultModel: "claude-3-5-haiku-20241022",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Draft: DraftConfig{
			Platform:       "Instagram",
			PromptTemplate: DefaultPromptTemplate,
			MaxTokens:      100,
		},
		Identity: IdentityConfig{
			BotName:            "Ghost Runner",
			BotProviderID:      "17845578411552197",
			PlaceholderPattern: `^\d+$`,
			FallbackName:       "Unknown User",
		},
		Dedup: DedupConfig{
			WindowSeconds: 30,
		},
		Session: SessionConfig{
			Backend: "file",
			Dir:     "~/.dmdesk/state",
			DBPath:  "~/.dmdesk/dmdesk.db",
			Key:     "session",
		},
		Retention: RetentionConfig{
			Enabled:  false,
			TTLHours: 24 * 7,
			Schedule: "@every 10m",
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
