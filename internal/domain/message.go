package domain

import "time"

// Platform tags.
const (
	PlatformInstagram    = "Instagram"
	AccountTypeInstagram = "INSTAGRAM"
)

// Conversation entry roles and directions.
const (
	SenderCustomer = "customer"
	SenderBot      = "bot"

	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// MediaPlaceholder replaces the text of inbound events that carry no message body.
const MediaPlaceholder = "[Media]"

// Attendee describes one participant of a gateway chat.
type Attendee struct {
	ID         string `json:"attendee_id,omitempty"`
	Name       string `json:"attendee_name,omitempty"`
	ProviderID string `json:"attendee_provider_id,omitempty"`
}

// InboundEvent is a webhook delivery from the messaging gateway.
// Nothing in it is guaranteed to be present.
type InboundEvent struct {
	Message           string     `json:"message,omitempty"`
	Sender            *Attendee  `json:"sender,omitempty"`
	ChatID            string     `json:"chat_id,omitempty"`
	MessageID         string     `json:"message_id,omitempty"`
	Event             string     `json:"event,omitempty"`
	AccountType       string     `json:"account_type,omitempty"`
	AccountID         string     `json:"account_id,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	ProviderChatID    string     `json:"provider_chat_id,omitempty"`
	Attendees         []Attendee `json:"attendees,omitempty"`
	Timestamp         string     `json:"timestamp,omitempty"`
}

// Text returns the message body, or the media placeholder when absent.
func (e InboundEvent) Text() string {
	if e.Message == "" {
		return MediaPlaceholder
	}
	return e.Message
}

// SenderName returns the raw attendee name of the sender, if any.
func (e InboundEvent) SenderName() string {
	if e.Sender == nil {
		return ""
	}
	return e.Sender.Name
}

// SenderProviderID returns the provider id of the sender, if any.
func (e InboundEvent) SenderProviderID() string {
	if e.Sender == nil {
		return ""
	}
	return e.Sender.ProviderID
}

// HistoryEntry is one operator action recorded on an inbox message.
type HistoryEntry struct {
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

// InboxMessage is an inbound message awaiting a reviewed reply.
type InboxMessage struct {
	ID                string         `json:"id"`
	MessageID         string         `json:"message_id,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	AccountID         string         `json:"account_id,omitempty"`
	Platform          string         `json:"platform"`
	User              string         `json:"user"`
	Text              string         `json:"text"`
	ChatID            string         `json:"chat_id"`
	Draft             string         `json:"aiResponse"`
	History           []HistoryEntry `json:"history"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Clone returns a copy that shares no slices with m.
func (m InboxMessage) Clone() InboxMessage {
	out := m
	out.History = append([]HistoryEntry(nil), m.History...)
	if out.History == nil {
		out.History = []HistoryEntry{}
	}
	return out
}

// ConversationEntry is a single immutable line of a conversation.
type ConversationEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// Conversation is the threaded history for one conversation key.
type Conversation struct {
	Key             string              `json:"conversation_id"`
	ChatID          string              `json:"chat_id"`
	User            string              `json:"user"`
	Platform        string              `json:"platform"`
	LastMessageTime time.Time           `json:"last_message_time"`
	Messages        []ConversationEntry `json:"messages"`
	AllChatIDs      []string            `json:"all_chat_ids"`
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]ConversationEntry{}, c.Messages...)
	out.AllChatIDs = append([]string{}, c.AllChatIDs...)
	return out
}

// LastCustomerEntry returns the most recent incoming customer entry.
func (c Conversation) LastCustomerEntry() (ConversationEntry, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Sender == SenderCustomer {
			return c.Messages[i], true
		}
	}
	return ConversationEntry{}, false
}

// SessionRecord is the persisted form of the connected account.
type SessionRecord struct {
	AccountID string    `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
}
