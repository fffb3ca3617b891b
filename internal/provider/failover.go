package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dmdesk/internal/domain"
)

// Failover tries providers in order and returns the first successful reply.
type Failover struct {
	providers []domain.Provider
	logger    *slog.Logger
}

// NewFailover builds a chain. At least one provider is required.
func NewFailover(providers []domain.Provider, logger *slog.Logger) (*Failover, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("failover chain needs at least one provider")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{providers: providers, logger: logger.With("component", "provider.failover")}, nil
}

func (f *Failover) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Healthy succeeds when any provider in the chain is healthy.
func (f *Failover) Healthy(ctx context.Context) error {
	var lastErr error
	for _, p := range f.providers {
		if lastErr = p.Healthy(ctx); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy provider in chain: %w", lastErr)
}

// Chat stops early when ctx is done so a timed-out draft does not walk the
// rest of the chain.
func (f *Failover) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for i, p := range f.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.Info("used fallback provider", "provider", p.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		lastErr = err
		f.logger.Warn("provider failed, trying next", "provider", p.Name(), "attempt", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Chain returns the default provider followed by the named fallbacks. A single
// provider is returned as is.
func (f *Factory) Chain(fallbacks []string) (domain.Provider, error) {
	primary, err := f.DefaultProvider()
	if err != nil {
		return nil, err
	}
	if len(fallbacks) == 0 {
		return primary, nil
	}
	chain := []domain.Provider{primary}
	for _, name := range fallbacks {
		if name == f.defaultName {
			continue
		}
		p, err := f.Get(name)
		if err != nil {
			return nil, fmt.Errorf("fallback: %w", err)
		}
		chain = append(chain, p)
	}
	if len(chain) == 1 {
		return primary, nil
	}
	return NewFailover(chain, f.logger)
}
