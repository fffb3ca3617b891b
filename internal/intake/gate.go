package intake

import (
	"sync"
	"time"
)

// RecentFinder reports whether an inbox item with the same text and sender
// was created at or after since.
type RecentFinder interface {
	RecentMatch(text, user string, since time.Time) bool
}

// GateConfig configures the deduplication gate.
type GateConfig struct {
	Window time.Duration
	Recent RecentFinder
}

// Gate detects webhook redeliveries. IsDuplicate has no side effects;
// callers record acceptance with MarkProcessed once the message is stored.
// Callers must serialize IsDuplicate and MarkProcessed for the same event.
type Gate struct {
	mu        sync.RWMutex
	processed map[string]time.Time
	window    time.Duration
	recent    RecentFinder
}

func NewGate(cfg GateConfig) *Gate {
	return &Gate{
		processed: make(map[string]time.Time),
		window:    cfg.Window,
		recent:    cfg.Recent,
	}
}

// IsDuplicate checks the processed provider ids first, then falls back to
// same text from the same sender inside the trailing window.
// An empty providerMsgID never matches the first check.
func (g *Gate) IsDuplicate(providerMsgID, text, sender string, now time.Time) bool {
	if providerMsgID != "" {
		g.mu.RLock()
		_, seen := g.processed[providerMsgID]
		g.mu.RUnlock()
		if seen {
			return true
		}
	}
	if g.recent == nil || g.window <= 0 {
		return false
	}
	return g.recent.RecentMatch(text, sender, now.Add(-g.window))
}

// MarkProcessed records an accepted provider message id. Empty ids are ignored.
func (g *Gate) MarkProcessed(providerMsgID string, at time.Time) {
	if providerMsgID == "" {
		return
	}
	g.mu.Lock()
	g.processed[providerMsgID] = at
	g.mu.Unlock()
}

// Evict forgets ids accepted before cutoff and returns how many were removed.
func (g *Gate) Evict(cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, at := range g.processed {
		if at.Before(cutoff) {
			delete(g.processed, id)
			n++
		}
	}
	return n
}

// Len returns the number of remembered provider ids.
func (g *Gate) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.processed)
}
