// Package inbox holds inbound messages awaiting an operator-reviewed reply.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dmdesk/internal/domain"
)

// ActionRegenerated is the history entry written before a draft is replaced.
const ActionRegenerated = "Regenerated AI response"

// StoreConfig configures the inbox store.
type StoreConfig struct {
	Logger *slog.Logger
}

// Store is the ordered inbox. Items are kept in insertion order and listed
// newest first. An item leaves the inbox only through Remove or Evict.
type Store struct {
	mu     sync.RWMutex
	items  []*domain.InboxMessage
	logger *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger.With("component", "inbox")}
}

// Append adds msg as the newest item.
func (s *Store) Append(msg domain.InboxMessage) {
	m := msg.Clone()
	s.mu.Lock()
	s.items = append(s.items, &m)
	s.mu.Unlock()
}

// List returns copies of all items, newest first.
func (s *Store) List() []domain.InboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.InboxMessage, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		out = append(out, s.items[i].Clone())
	}
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Store) indexOf(id string) int {
	for i, m := range s.items {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// FindByID returns the item with the given id.
func (s *Store) FindByID(id string) (domain.InboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i].Clone(), nil
	}
	return domain.InboxMessage{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
}

// FindByChatID returns the newest item received on chatID.
func (s *Store) FindByChatID(chatID string) (domain.InboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ChatID == chatID {
			return s.items[i].Clone(), nil
		}
	}
	return domain.InboxMessage{}, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
}

// Remove deletes the item with the given id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

// SetDraft replaces the suggested reply of an item.
func (s *Store) SetDraft(id, draft string) (domain.InboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.InboxMessage{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	s.items[i].Draft = draft
	return s.items[i].Clone(), nil
}

// AppendHistory records an operator action on an item.
func (s *Store) AppendHistory(id, action string, at time.Time) (domain.InboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.InboxMessage{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	s.items[i].History = append(s.items[i].History, domain.HistoryEntry{Action: action, At: at})
	return s.items[i].Clone(), nil
}

// RecentMatch reports whether an item with the same text and user was created
// at or after since.
func (s *Store) RecentMatch(text, user string, since time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		m := s.items[i]
		if m.CreatedAt.Before(since) {
			continue
		}
		if m.Text == text && m.User == user {
			return true
		}
	}
	return false
}

// Regenerate records the regeneration in the item's history, then asks
// drafter for a new reply and stores it. The lock is not held while drafting.
func (s *Store) Regenerate(ctx context.Context, id string, drafter domain.Drafter, at time.Time) (domain.InboxMessage, error) {
	msg, err := s.AppendHistory(id, ActionRegenerated, at)
	if err != nil {
		return domain.InboxMessage{}, err
	}

	draft, err := drafter.Draft(ctx, msg.Text, msg.Platform)
	if err != nil {
		return domain.InboxMessage{}, fmt.Errorf("regenerate %s: %w", id, err)
	}
	return s.SetDraft(id, draft)
}

// Evict drops items created before cutoff and returns how many were removed.
func (s *Store) Evict(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	for _, m := range s.items {
		if !m.CreatedAt.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	n := len(s.items) - len(kept)
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = nil
	}
	s.items = kept
	if n > 0 {
		s.logger.Info("inbox items evicted", "count", n)
	}
	return n
}
