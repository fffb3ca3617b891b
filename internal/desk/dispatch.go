package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dmdesk/internal/bus"
	"dmdesk/internal/domain"
	"dmdesk/internal/metrics"
)

// ErrMissingAccount is returned when an inbox item carries no account id to
// reply from.
var ErrMissingAccount = errors.New("message missing account_id")

// SendInboxReply sends finalText as the reply to an inbox item. On success
// the reply is threaded into the item's conversation and the item leaves the
// inbox. On failure nothing changes.
func (s *Service) SendInboxReply(ctx context.Context, id, finalText string) error {
	msg, err := s.inbox.FindByID(id)
	if err != nil {
		return fmt.Errorf("send %s: %w", id, err)
	}
	if strings.TrimSpace(finalText) == "" {
		return domain.NewValidationError("finalText", "finalText is required")
	}
	if msg.AccountID == "" {
		return ErrMissingAccount
	}

	if err := s.send(ctx, msg.AccountID, msg.ChatID, finalText); err != nil {
		return err
	}

	if _, err := s.inbox.AppendHistory(id, "Sent response: "+finalText, s.now()); err != nil {
		s.logger.Debug("history not recorded", "id", id, "err", err)
	}
	s.threadOutgoing(msg.ChatID, finalText)
	if err := s.inbox.Remove(id); err != nil {
		s.logger.Debug("inbox item already removed", "id", id)
	}
	s.updateGauges()
	s.emit(bus.EventReplySent, map[string]any{"id": id, "chat_id": msg.ChatID, "text": finalText})
	return nil
}

// SendConversationReply sends finalText into chatID for the conversation
// conversationKey. The account comes from the inbox item for chatID, falling
// back to the connected session.
func (s *Service) SendConversationReply(ctx context.Context, conversationKey, chatID, finalText string) error {
	if conversationKey == "" || chatID == "" || strings.TrimSpace(finalText) == "" {
		return domain.NewValidationError("conversation_id", "conversation_id, chat_id and finalText are required")
	}
	conv, err := s.conversations.Get(conversationKey)
	if err != nil {
		return fmt.Errorf("send to conversation %s: %w", conversationKey, err)
	}
	if _, ok := conv.LastCustomerEntry(); !ok {
		return domain.NewValidationError("conversation_id", "No customer messages found in conversation")
	}

	accountID := ""
	if orig, err := s.inbox.FindByChatID(chatID); err == nil {
		accountID = orig.AccountID
	}
	if accountID == "" && s.session != nil {
		accountID = s.session.AccountID()
	}
	if accountID == "" {
		return domain.NewValidationError("chat_id", "Original message data not found")
	}

	if err := s.send(ctx, accountID, chatID, finalText); err != nil {
		return err
	}
	if _, err := s.conversations.AppendOutgoing(conversationKey, s.outgoingEntry(finalText)); err != nil {
		s.logger.Warn("conversation vanished before reply was threaded", "conversation", conversationKey, "err", err)
	}
	s.emit(bus.EventReplySent, map[string]any{"conversation_id": conversationKey, "chat_id": chatID, "text": finalText})
	return nil
}

func (s *Service) send(ctx context.Context, accountID, chatID, text string) error {
	s.logger.Info("sending reply", "chat_id", chatID, "account_id", accountID)
	if _, err := s.gateway.SendMessage(ctx, accountID, chatID, text); err != nil {
		metrics.ReplyFailures.Inc()
		s.logger.Warn("reply failed", "chat_id", chatID, "err", err)
		s.emit(bus.EventReplyFailed, map[string]any{"chat_id": chatID, "error": err.Error()})
		return err
	}
	metrics.RepliesSent.Inc()
	return nil
}

// threadOutgoing appends a sent reply to the conversation that owns chatID.
// A miss is logged; the send has already succeeded.
func (s *Service) threadOutgoing(chatID, text string) {
	key, err := s.conversations.FindKeyByChatID(chatID)
	if err != nil {
		s.logger.Warn("no conversation for chat id, reply not threaded", "chat_id", chatID)
		return
	}
	if _, err := s.conversations.AppendOutgoing(key, s.outgoingEntry(text)); err != nil {
		s.logger.Warn("reply not threaded", "conversation", key, "err", err)
	}
}

func (s *Service) outgoingEntry(text string) domain.ConversationEntry {
	return domain.ConversationEntry{
		ID:        "response_" + newID(),
		Text:      text,
		Sender:    domain.SenderBot,
		Timestamp: s.now(),
		Type:      domain.DirectionOutgoing,
	}
}
