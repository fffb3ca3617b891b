package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dmdesk/internal/config"
	"dmdesk/internal/domain"
)

// legacyRecord is the older session.json layout.
type legacyRecord struct {
	InstagramAccountID string `json:"instagramAccountId"`
	Timestamp          string `json:"timestamp"`
}

// Open builds the BlobStore selected by cfg.Backend.
func Open(cfg config.SessionConfig, logger *slog.Logger) (domain.BlobStore, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.DBPath, logger)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

type ManagerConfig struct {
	Store  domain.BlobStore
	Key    string
	Logger *slog.Logger
}

// Manager holds the single connected gateway account and persists it across
// restarts.
type Manager struct {
	store  domain.BlobStore
	key    string
	logger *slog.Logger

	mu     sync.RWMutex
	record *domain.SessionRecord
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Key == "" {
		cfg.Key = "session"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:  cfg.Store,
		key:    cfg.Key,
		logger: cfg.Logger.With("component", "session"),
	}
}

// Load restores the session from the store. A missing blob leaves the manager
// disconnected; an unreadable one is logged and ignored.
func (m *Manager) Load(ctx context.Context) error {
	data, err := m.store.Load(ctx, m.key)
	if errors.Is(err, domain.ErrNotFound) {
		m.logger.Info("no saved session found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		m.logger.Warn("ignoring unreadable session blob", "err", err)
		return nil
	}
	m.mu.Lock()
	m.record = rec
	m.mu.Unlock()
	m.logger.Info("session restored", "account_id", rec.AccountID)
	return nil
}

func decodeRecord(data []byte) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.AccountID != "" {
		return &rec, nil
	}
	var legacy legacyRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, err
	}
	if legacy.InstagramAccountID == "" {
		return nil, errors.New("session blob has no account id")
	}
	rec.AccountID = legacy.InstagramAccountID
	if ts, err := time.Parse(time.RFC3339, legacy.Timestamp); err == nil {
		rec.Timestamp = ts
	}
	return &rec, nil
}

// Connect records accountID as the connected account and persists it. The
// in-memory state only changes once the blob is saved.
func (m *Manager) Connect(ctx context.Context, accountID string) error {
	if accountID == "" {
		return errors.New("account id is required")
	}
	rec := &domain.SessionRecord{AccountID: accountID, Timestamp: time.Now().UTC()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.store.Save(ctx, m.key, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	m.record = rec
	m.mu.Unlock()
	m.logger.Info("session saved", "account_id", accountID)
	return nil
}

// Disconnect forgets the connected account. A failed delete is logged; the
// in-memory session is cleared regardless.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	m.record = nil
	m.mu.Unlock()
	if err := m.store.Delete(ctx, m.key); err != nil {
		m.logger.Warn("failed to delete session blob", "err", err)
		return
	}
	m.logger.Info("session cleared")
}

// AccountID returns the connected account id, or "" when disconnected.
func (m *Manager) AccountID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.record == nil {
		return ""
	}
	return m.record.AccountID
}

// Connected reports whether an account is connected.
func (m *Manager) Connected() bool {
	return m.AccountID() != ""
}

// Record returns a copy of the current session, if any.
func (m *Manager) Record() (domain.SessionRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.record == nil {
		return domain.SessionRecord{}, false
	}
	return *m.record, true
}
