// Package conversation keeps the threaded per-customer history shown in the
// dashboard's conversation view.
package conversation

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"dmdesk/internal/domain"
)

// Incoming describes an inbound customer message to thread.
type Incoming struct {
	ChatID   string
	User     string
	Platform string
	Entry    domain.ConversationEntry
}

// StoreConfig configures the conversation store.
type StoreConfig struct {
	Logger *slog.Logger
}

type record struct {
	conv domain.Conversation
	seq  uint64 // creation order, breaks last-activity ties
}

// Store holds conversations by key plus a chat id reverse index.
// Every chat id ever recorded on a conversation resolves through the index.
type Store struct {
	mu      sync.RWMutex
	byKey   map[string]*record
	byChat  map[string]string
	nextSeq uint64
	logger  *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		byKey:  make(map[string]*record),
		byChat: make(map[string]string),
		logger: logger.With("component", "conversation"),
	}
}

// AppendIncoming creates the conversation for key on first sight, otherwise
// moves its current chat id to in.ChatID. The entry is appended and the
// last-activity time set to the entry timestamp.
func (s *Store) AppendIncoming(key string, in Incoming) domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok {
		s.nextSeq++
		rec = &record{
			seq: s.nextSeq,
			conv: domain.Conversation{
				Key:        key,
				User:       in.User,
				Platform:   in.Platform,
				Messages:   []domain.ConversationEntry{},
				AllChatIDs: []string{},
			},
		}
		s.byKey[key] = rec
		s.logger.Debug("conversation created", "key", key, "user", in.User)
	}

	rec.conv.ChatID = in.ChatID
	if !slices.Contains(rec.conv.AllChatIDs, in.ChatID) {
		rec.conv.AllChatIDs = append(rec.conv.AllChatIDs, in.ChatID)
	}
	s.index(in.ChatID, key)

	rec.conv.Messages = append(rec.conv.Messages, in.Entry)
	rec.conv.LastMessageTime = in.Entry.Timestamp
	return rec.conv.Clone()
}

// AppendOutgoing appends a bot reply to an existing conversation.
func (s *Store) AppendOutgoing(key string, entry domain.ConversationEntry) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", key, domain.ErrNotFound)
	}
	rec.conv.Messages = append(rec.conv.Messages, entry)
	rec.conv.LastMessageTime = entry.Timestamp
	return rec.conv.Clone(), nil
}

// index maps chatID to key. A chat id seen under a second key is remapped to
// the newer one and logged.
func (s *Store) index(chatID, key string) {
	if chatID == "" {
		return
	}
	if prev, ok := s.byChat[chatID]; ok && prev != key {
		s.logger.Warn("chat id moved between conversations", "chat_id", chatID, "from", prev, "to", key)
	}
	s.byChat[chatID] = key
}

// Get returns a copy of the conversation stored under key.
func (s *Store) Get(key string) (domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byKey[key]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("conversation %s: %w", key, domain.ErrNotFound)
	}
	return rec.conv.Clone(), nil
}

// FindKeyByChatID resolves a chat id to its conversation key.
func (s *Store) FindKeyByChatID(chatID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byChat[chatID]
	if !ok {
		return "", fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return key, nil
}

// List returns all conversations, most recent activity first. Ties go to the
// conversation created later.
func (s *Store) List() []domain.Conversation {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.byKey))
	for _, r := range s.byKey {
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.conv.LastMessageTime.Equal(b.conv.LastMessageTime) {
			return a.conv.LastMessageTime.After(b.conv.LastMessageTime)
		}
		return a.seq > b.seq
	})
	out := make([]domain.Conversation, len(recs))
	for i, r := range recs {
		out[i] = r.conv.Clone()
	}
	s.mu.RUnlock()
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Evict drops conversations idle since before cutoff together with their
// chat id index entries, and returns how many were removed.
func (s *Store) Evict(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.byKey {
		if !rec.conv.LastMessageTime.Before(cutoff) {
			continue
		}
		for _, chatID := range rec.conv.AllChatIDs {
			if s.byChat[chatID] == key {
				delete(s.byChat, chatID)
			}
		}
		delete(s.byKey, key)
		n++
	}
	return n
}
