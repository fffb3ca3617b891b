// Package desk is the DM desk service: it ingests webhook deliveries into the
// inbox and conversation stores, drafts replies, and dispatches operator
// replies and account actions through the messaging gateway.
package desk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"dmdesk/internal/bus"
	"dmdesk/internal/conversation"
	"dmdesk/internal/domain"
	"dmdesk/internal/gateway"
	"dmdesk/internal/inbox"
	"dmdesk/internal/intake"
	"dmdesk/internal/metrics"
	"dmdesk/internal/session"
)

// Gateway is the subset of the messaging gateway client the desk uses.
type Gateway interface {
	Authenticate(ctx context.Context, username, password string) (*gateway.AuthResult, error)
	SolveCheckpoint(ctx context.Context, accountID, code string) (*gateway.AuthResult, error)
	DeleteAccount(ctx context.Context, accountID string) error
	SendMessage(ctx context.Context, accountID, chatID, text string) (json.RawMessage, error)
	ListMessages(ctx context.Context, accountID string) (json.RawMessage, error)
}

// Config wires the desk service. Nil stores, gate and resolver are created
// with defaults; Gateway and Session are required for account operations.
type Config struct {
	Inbox         *inbox.Store
	Conversations *conversation.Store
	Gate          *intake.Gate
	DedupWindow   time.Duration // used only when Gate is nil
	Resolver      *intake.Resolver
	Self          intake.SelfFilter
	Gateway       Gateway
	Drafter       domain.Drafter // nil disables drafting
	Session       *session.Manager
	Bus           *bus.EventBus
	Platform      string
	AuthTimeout   time.Duration
	DraftTimeout  time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Service coordinates intake, drafting and reply dispatch.
type Service struct {
	inbox         *inbox.Store
	conversations *conversation.Store
	gate          *intake.Gate
	resolver      *intake.Resolver
	self          intake.SelfFilter
	gateway       Gateway
	drafter       domain.Drafter
	session       *session.Manager
	bus           *bus.EventBus
	platform      string
	authTimeout   time.Duration
	draftTimeout  time.Duration
	now           func() time.Time
	logger        *slog.Logger

	// intakeMu serializes the duplicate check with the writes that make a
	// message visible to it. Never held across network calls.
	intakeMu sync.Mutex
}

func New(cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Inbox == nil {
		cfg.Inbox = inbox.NewStore(inbox.StoreConfig{Logger: cfg.Logger})
	}
	if cfg.Conversations == nil {
		cfg.Conversations = conversation.NewStore(conversation.StoreConfig{Logger: cfg.Logger})
	}
	if cfg.Gate == nil {
		cfg.Gate = intake.NewGate(intake.GateConfig{Window: cfg.DedupWindow, Recent: cfg.Inbox})
	}
	if cfg.Resolver == nil {
		r, err := intake.NewResolver(intake.ResolverConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Resolver = r
	}
	if cfg.Bus == nil {
		cfg.Bus = bus.NewEventBus(cfg.Logger)
	}
	if cfg.Platform == "" {
		cfg.Platform = domain.PlatformInstagram
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 60 * time.Second
	}
	if cfg.DraftTimeout <= 0 {
		cfg.DraftTimeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		inbox:         cfg.Inbox,
		conversations: cfg.Conversations,
		gate:          cfg.Gate,
		resolver:      cfg.Resolver,
		self:          cfg.Self,
		gateway:       cfg.Gateway,
		drafter:       cfg.Drafter,
		session:       cfg.Session,
		bus:           cfg.Bus,
		platform:      cfg.Platform,
		authTimeout:   cfg.AuthTimeout,
		draftTimeout:  cfg.DraftTimeout,
		now:           cfg.Now,
		logger:        cfg.Logger.With("component", "desk"),
	}, nil
}

// IngestStatus is the outcome of a webhook delivery.
type IngestStatus int

const (
	StatusAccepted IngestStatus = iota
	StatusDuplicate
	StatusIgnoredSelf
)

func (s IngestStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDuplicate:
		return "duplicate"
	case StatusIgnoredSelf:
		return "ignored_self"
	default:
		return "unknown"
	}
}

// IngestResult reports what Ingest did with an event. Message is set only
// for accepted events.
type IngestResult struct {
	Status  IngestStatus
	Message domain.InboxMessage
}

// Ingest runs one webhook delivery through resolution, deduplication and the
// self filter, then stores it and attaches a draft. A draft failure leaves
// the draft empty; the message is still accepted.
func (s *Service) Ingest(ctx context.Context, ev domain.InboundEvent) (IngestResult, error) {
	metrics.WebhooksReceived.Inc()
	s.emit(bus.EventWebhookReceived, map[string]any{
		"event":      ev.Event,
		"message_id": ev.MessageID,
		"chat_id":    ev.ChatID,
	})

	if ev.AccountType != "" && ev.AccountType != domain.AccountTypeInstagram {
		return IngestResult{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, ev.AccountType)
	}

	id := s.resolver.Resolve(ev)
	now := s.now()

	s.intakeMu.Lock()
	if s.gate.IsDuplicate(ev.ProviderMessageID, id.Text, id.SenderName, now) {
		s.intakeMu.Unlock()
		metrics.Duplicates.Inc()
		s.logger.Info("duplicate message skipped", "provider_message_id", ev.ProviderMessageID, "user", id.SenderName)
		s.emit(bus.EventMessageDuplicate, map[string]any{"provider_message_id": ev.ProviderMessageID, "user": id.SenderName})
		return IngestResult{Status: StatusDuplicate}, nil
	}
	if s.self.IsSelf(id.SenderName, id.SenderProviderID) {
		s.intakeMu.Unlock()
		metrics.SelfIgnored.Inc()
		s.logger.Debug("own message ignored", "user", id.SenderName)
		s.emit(bus.EventMessageIgnored, map[string]any{"user": id.SenderName, "reason": "bot_message"})
		return IngestResult{Status: StatusIgnoredSelf}, nil
	}

	msg := domain.InboxMessage{
		ID:                newID(),
		MessageID:         ev.MessageID,
		ProviderMessageID: ev.ProviderMessageID,
		AccountID:         ev.AccountID,
		Platform:          s.platform,
		User:              id.SenderName,
		Text:              id.Text,
		ChatID:            ev.ChatID,
		History:           []domain.HistoryEntry{},
		CreatedAt:         now,
	}
	entryID := ev.MessageID
	if entryID == "" {
		entryID = msg.ID
	}
	s.inbox.Append(msg)
	s.conversations.AppendIncoming(id.ConversationKey, conversation.Incoming{
		ChatID:   ev.ChatID,
		User:     id.SenderName,
		Platform: s.platform,
		Entry: domain.ConversationEntry{
			ID:        entryID,
			Text:      id.Text,
			Sender:    domain.SenderCustomer,
			Timestamp: now,
			Type:      domain.DirectionIncoming,
		},
	})
	s.gate.MarkProcessed(ev.ProviderMessageID, now)
	s.intakeMu.Unlock()

	metrics.MessagesAccepted.Inc()
	s.updateGauges()
	s.logger.Info("message accepted",
		"id", msg.ID,
		"user", msg.User,
		"conversation", id.ConversationKey,
		"chat_id", msg.ChatID,
	)

	msg = s.attachDraft(ctx, msg)
	s.emit(bus.EventMessageAccepted, map[string]any{
		"id":              msg.ID,
		"user":            msg.User,
		"text":            msg.Text,
		"chat_id":         msg.ChatID,
		"conversation_id": id.ConversationKey,
	})
	return IngestResult{Status: StatusAccepted, Message: msg}, nil
}

// attachDraft drafts a reply for msg on a context detached from the caller,
// so a dropped webhook connection does not cancel the provider call.
func (s *Service) attachDraft(ctx context.Context, msg domain.InboxMessage) domain.InboxMessage {
	draft, ok := s.generateDraft(ctx, msg.Text, msg.Platform)
	if !ok {
		return msg
	}
	updated, err := s.inbox.SetDraft(msg.ID, draft)
	if err != nil {
		// Removed while drafting, e.g. already answered.
		s.logger.Debug("draft not attached", "id", msg.ID, "err", err)
		msg.Draft = draft
		return msg
	}
	return updated
}

func (s *Service) generateDraft(ctx context.Context, text, platform string) (string, bool) {
	if s.drafter == nil {
		return "", false
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.draftTimeout)
	defer cancel()

	draft, err := s.drafter.Draft(dctx, text, platform)
	if err != nil {
		s.logger.Warn("draft generation failed", "err", err)
		s.emit(bus.EventDraftFailed, map[string]any{"error": err.Error()})
		return "", false
	}
	s.emit(bus.EventDraftGenerated, map[string]any{"length": len(draft)})
	return draft, true
}

// Messages returns the inbox, newest first.
func (s *Service) Messages() []domain.InboxMessage {
	return s.inbox.List()
}

// Conversations returns all conversations by most recent activity.
func (s *Service) Conversations() []domain.Conversation {
	return s.conversations.List()
}

// Conversation returns one conversation by key.
func (s *Service) Conversation(key string) (domain.Conversation, error) {
	return s.conversations.Get(key)
}

// Regenerate replaces the draft of an inbox item. The history entry is kept
// even when the provider fails.
func (s *Service) Regenerate(ctx context.Context, id string) (domain.InboxMessage, error) {
	if s.drafter == nil {
		if _, err := s.inbox.FindByID(id); err != nil {
			return domain.InboxMessage{}, err
		}
		return domain.InboxMessage{}, fmt.Errorf("regenerate %s: no AI provider configured", id)
	}
	msg, err := s.inbox.Regenerate(ctx, id, s.drafter, s.now())
	if err != nil {
		return domain.InboxMessage{}, err
	}
	s.emit(bus.EventDraftGenerated, map[string]any{"id": id, "length": len(msg.Draft)})
	return msg, nil
}

// GenerateResponse drafts a reply for arbitrary text without storing it.
func (s *Service) GenerateResponse(ctx context.Context, text, platform string) (string, error) {
	if s.drafter == nil {
		return "", fmt.Errorf("no AI provider configured")
	}
	if platform == "" {
		platform = s.platform
	}
	return s.drafter.Draft(ctx, text, platform)
}

// Test message defaults.
const (
	DefaultTestText   = "Hello! What are your hours?"
	DefaultTestSender = "test_user_123"
)

// CreateTestMessage adds a synthetic message to the inbox only. It is not
// threaded into a conversation and not recorded as processed.
func (s *Service) CreateTestMessage(ctx context.Context, text, sender string) domain.InboxMessage {
	if text == "" {
		text = DefaultTestText
	}
	if sender == "" {
		sender = DefaultTestSender
	}
	now := s.now()
	msg := domain.InboxMessage{
		ID:        newID(),
		Platform:  s.platform,
		User:      sender,
		Text:      text,
		ChatID:    "test_chat_" + strconv.FormatInt(now.UnixMilli(), 10),
		History:   []domain.HistoryEntry{},
		CreatedAt: now,
	}
	if draft, ok := s.generateDraft(ctx, text, s.platform); ok {
		msg.Draft = draft
	}
	s.inbox.Append(msg)
	s.updateGauges()
	s.logger.Info("test message created", "id", msg.ID, "user", sender)
	return msg
}

// Bus returns the service event bus.
func (s *Service) Bus() *bus.EventBus {
	return s.bus
}

func (s *Service) updateGauges() {
	metrics.InboxSize.Set(int64(s.inbox.Len()))
	metrics.ConversationCount.Set(int64(s.conversations.Len()))
}

func (s *Service) emit(eventType string, payload map[string]any) {
	s.bus.Emit(bus.Event{
		Type:      eventType,
		Source:    "desk",
		Payload:   payload,
		Timestamp: s.now(),
	})
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
