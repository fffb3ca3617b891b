package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmdesk/internal/domain"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverConfig{PlaceholderPattern: `^\d+$`, FallbackName: "Unknown User"})
	require.NoError(t, err)
	return r
}

func TestResolve_NameAndProviderChatKey(t *testing.T) {
	r := newTestResolver(t)
	id := r.Resolve(domain.InboundEvent{
		Message:        "hi",
		Sender:         &domain.Attendee{Name: "Alice", ProviderID: "111"},
		ProviderChatID: "ig-conv-1",
	})
	assert.Equal(t, "Alice", id.SenderName)
	assert.Equal(t, "111", id.SenderProviderID)
	assert.Equal(t, "ig-conv-1", id.ConversationKey)
	assert.Equal(t, "hi", id.Text)
}

func TestResolve_CompositeKeyWithoutProviderChat(t *testing.T) {
	r := newTestResolver(t)
	id := r.Resolve(domain.InboundEvent{Sender: &domain.Attendee{Name: "Bob", ProviderID: "222"}})
	assert.Equal(t, "Bob_222", id.ConversationKey)
	assert.Equal(t, domain.MediaPlaceholder, id.Text)
}

func TestResolve_NumericNameUsesOtherAttendee(t *testing.T) {
	r := newTestResolver(t)
	id := r.Resolve(domain.InboundEvent{
		Sender: &domain.Attendee{Name: "998877", ProviderID: "998877"},
		Attendees: []domain.Attendee{
			{Name: "998877", ProviderID: "998877"},
			{Name: "", ProviderID: "555"},
			{Name: "Alice", ProviderID: "444"},
		},
	})
	assert.Equal(t, "Alice", id.SenderName)
	assert.Equal(t, "Alice_998877", id.ConversationKey)
}

func TestResolve_NumericNameWithoutAlternativeKept(t *testing.T) {
	r := newTestResolver(t)
	id := r.Resolve(domain.InboundEvent{
		Sender:    &domain.Attendee{Name: "998877", ProviderID: "998877"},
		Attendees: []domain.Attendee{{Name: "12345", ProviderID: "1"}},
	})
	assert.Equal(t, "998877", id.SenderName)
}

func TestResolve_FallbackChain(t *testing.T) {
	r := newTestResolver(t)

	id := r.Resolve(domain.InboundEvent{Sender: &domain.Attendee{ProviderID: "abc"}})
	assert.Equal(t, "abc", id.SenderName)

	id = r.Resolve(domain.InboundEvent{})
	assert.Equal(t, "Unknown User", id.SenderName)
	assert.Equal(t, "Unknown User_", id.ConversationKey)
}

func TestNewResolver_BadPattern(t *testing.T) {
	_, err := NewResolver(ResolverConfig{PlaceholderPattern: "(["})
	assert.Error(t, err)
}

type fakeRecent struct {
	text, user string
	at         time.Time
}

func (f fakeRecent) RecentMatch(text, user string, since time.Time) bool {
	return text == f.text && user == f.user && !f.at.Before(since)
}

func TestGate_ProcessedID(t *testing.T) {
	g := NewGate(GateConfig{Window: 30 * time.Second})
	now := time.Now()

	assert.False(t, g.IsDuplicate("p1", "hi", "Alice", now))
	// IsDuplicate alone records nothing.
	assert.False(t, g.IsDuplicate("p1", "hi", "Alice", now))

	g.MarkProcessed("p1", now)
	assert.True(t, g.IsDuplicate("p1", "other text", "Bob", now))
	assert.Equal(t, 1, g.Len())
}

func TestGate_EmptyIDNeverMatchesPrimary(t *testing.T) {
	g := NewGate(GateConfig{})
	now := time.Now()
	g.MarkProcessed("", now)
	assert.Equal(t, 0, g.Len())
	assert.False(t, g.IsDuplicate("", "hi", "Alice", now))
}

func TestGate_RecentWindow(t *testing.T) {
	now := time.Now()
	g := NewGate(GateConfig{
		Window: 30 * time.Second,
		Recent: fakeRecent{text: "hi", user: "Alice", at: now.Add(-10 * time.Second)},
	})

	assert.True(t, g.IsDuplicate("p2", "hi", "Alice", now))
	assert.False(t, g.IsDuplicate("p2", "hi", "Bob", now))
	assert.False(t, g.IsDuplicate("p2", "hi", "Alice", now.Add(25*time.Second)))
}

func TestGate_ZeroWindowDisablesFallback(t *testing.T) {
	now := time.Now()
	g := NewGate(GateConfig{Recent: fakeRecent{text: "hi", user: "Alice", at: now}})
	assert.False(t, g.IsDuplicate("", "hi", "Alice", now))
}

func TestGate_Evict(t *testing.T) {
	g := NewGate(GateConfig{})
	now := time.Now()
	g.MarkProcessed("old", now.Add(-2*time.Hour))
	g.MarkProcessed("new", now)

	assert.Equal(t, 1, g.Evict(now.Add(-time.Hour)))
	assert.False(t, g.IsDuplicate("old", "", "", now))
	assert.True(t, g.IsDuplicate("new", "", "", now))
}

func TestSelfFilter(t *testing.T) {
	f := SelfFilter{BotName: "Ghost Runner", BotProviderID: "17845578411552197"}
	assert.True(t, f.IsSelf("Ghost Runner", "x"))
	assert.True(t, f.IsSelf("Someone", "17845578411552197"))
	assert.False(t, f.IsSelf("Alice", "1"))
	assert.False(t, SelfFilter{}.IsSelf("", ""))
}
