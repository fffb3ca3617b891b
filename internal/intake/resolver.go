// Package intake holds the per-event checks run on webhook deliveries before
// anything is stored: identity resolution, deduplication and the bot's own
// echo filter.
package intake

import (
	"fmt"
	"regexp"

	"dmdesk/internal/domain"
)

// Identity is the resolved sender and conversation of an inbound event.
type Identity struct {
	SenderName       string
	SenderProviderID string
	ConversationKey  string
	Text             string
}

// ResolverConfig configures identity resolution.
type ResolverConfig struct {
	// PlaceholderPattern matches sender names that are really user ids.
	PlaceholderPattern string
	FallbackName       string
}

// Resolver derives a display name and conversation key from raw events.
type Resolver struct {
	placeholder *regexp.Regexp
	fallback    string
}

// NewResolver compiles the placeholder pattern.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	pattern := cfg.PlaceholderPattern
	if pattern == "" {
		pattern = `^\d+$`
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("placeholder pattern: %w", err)
	}
	fallback := cfg.FallbackName
	if fallback == "" {
		fallback = "Unknown User"
	}
	return &Resolver{placeholder: re, fallback: fallback}, nil
}

// Resolve never fails; missing fields fall back to defaults.
func (r *Resolver) Resolve(ev domain.InboundEvent) Identity {
	providerID := ev.SenderProviderID()

	name := ev.SenderName()
	if name == "" {
		name = providerID
	}
	if name == "" {
		name = r.fallback
	}

	if r.IsPlaceholder(name) {
		for _, a := range ev.Attendees {
			if a.ProviderID == providerID || a.Name == "" || r.IsPlaceholder(a.Name) {
				continue
			}
			name = a.Name
			break
		}
	}

	key := ev.ProviderChatID
	if key == "" {
		key = name + "_" + providerID
	}

	return Identity{
		SenderName:       name,
		SenderProviderID: providerID,
		ConversationKey:  key,
		Text:             ev.Text(),
	}
}

// IsPlaceholder reports whether name looks like a raw user id.
func (r *Resolver) IsPlaceholder(name string) bool {
	return r.placeholder.MatchString(name)
}
