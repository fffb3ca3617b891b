package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dmdesk/internal/domain"
	"dmdesk/internal/metrics"
)

// DrafterConfig configures reply drafting.
type DrafterConfig struct {
	Provider domain.Provider
	// Template may use {platform} and {message}.
	Template    string
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

// Drafter turns an inbound customer message into a suggested reply by sending
// a single system prompt to the configured provider.
type Drafter struct {
	provider    domain.Provider
	template    string
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

func NewDrafter(cfg DrafterConfig) *Drafter {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Drafter{
		provider:    cfg.Provider,
		template:    cfg.Template,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger.With("component", "drafter"),
	}
}

// Prompt renders the system prompt for a message.
func (d *Drafter) Prompt(text, platform string) string {
	r := strings.NewReplacer("{platform}", platform, "{message}", text)
	return r.Replace(d.template)
}

// Draft returns the provider's first choice, or "" when it returns none.
func (d *Drafter) Draft(ctx context.Context, text, platform string) (string, error) {
	if d.provider == nil {
		return "", fmt.Errorf("no AI provider configured")
	}
	start := time.Now()
	resp, err := d.provider.Chat(ctx, domain.ChatRequest{
		Messages:    []domain.Message{{Role: "system", Content: d.Prompt(text, platform)}},
		Model:       d.model,
		MaxTokens:   d.maxTokens,
		Temperature: d.temperature,
	})
	metrics.DraftLatency.ObserveSince(start)
	if err != nil {
		metrics.DraftFailures.Inc()
		return "", fmt.Errorf("draft via %s: %w", d.provider.Name(), err)
	}
	metrics.DraftsGenerated.Inc()
	d.logger.Debug("draft generated",
		"provider", d.provider.Name(),
		"tokens", resp.Usage.TotalTokens,
		"elapsed", time.Since(start),
	)
	return resp.Content, nil
}
