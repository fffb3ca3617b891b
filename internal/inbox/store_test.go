package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmdesk/internal/domain"
)

type stubDrafter struct {
	reply string
	err   error
	calls int
}

func (d *stubDrafter) Draft(ctx context.Context, text, platform string) (string, error) {
	d.calls++
	return d.reply, d.err
}

func msg(id, chatID, text, user string, at time.Time) domain.InboxMessage {
	return domain.InboxMessage{
		ID:        id,
		ChatID:    chatID,
		Text:      text,
		User:      user,
		Platform:  domain.PlatformInstagram,
		CreatedAt: at,
	}
}

func TestList_NewestFirst(t *testing.T) {
	s := NewStore(StoreConfig{})
	now := time.Now()
	s.Append(msg("1", "c1", "a", "u", now))
	s.Append(msg("2", "c2", "b", "u", now))
	s.Append(msg("3", "c3", "c", "u", now))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"3", "2", "1"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.NotNil(t, list[0].History, "history must serialize as []")
}

func TestFindByID(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Append(msg("1", "c1", "a", "u", time.Now()))

	m, err := s.FindByID("1")
	require.NoError(t, err)
	assert.Equal(t, "c1", m.ChatID)

	_, err = s.FindByID("missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFindByChatID_Newest(t *testing.T) {
	s := NewStore(StoreConfig{})
	now := time.Now()
	s.Append(msg("1", "c1", "a", "u", now))
	s.Append(msg("2", "c1", "b", "u", now))

	m, err := s.FindByChatID("c1")
	require.NoError(t, err)
	assert.Equal(t, "2", m.ID)

	_, err = s.FindByChatID("c9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemove(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Append(msg("1", "c1", "a", "u", time.Now()))
	s.Append(msg("2", "c2", "b", "u", time.Now()))

	require.NoError(t, s.Remove("1"))
	assert.Equal(t, 1, s.Len())
	assert.ErrorIs(t, s.Remove("1"), domain.ErrNotFound)
}

func TestSetDraftAndHistory(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Append(msg("1", "c1", "a", "u", time.Now()))

	m, err := s.SetDraft("1", "draft")
	require.NoError(t, err)
	assert.Equal(t, "draft", m.Draft)

	m, err = s.AppendHistory("1", "Sent response: hi", time.Now())
	require.NoError(t, err)
	require.Len(t, m.History, 1)
	assert.Equal(t, "Sent response: hi", m.History[0].Action)

	_, err = s.SetDraft("x", "d")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAppend_CopiesInput(t *testing.T) {
	s := NewStore(StoreConfig{})
	in := msg("1", "c1", "a", "u", time.Now())
	in.History = []domain.HistoryEntry{{Action: "x"}}
	s.Append(in)
	in.History[0].Action = "mutated"

	m, _ := s.FindByID("1")
	assert.Equal(t, "x", m.History[0].Action)
}

func TestRecentMatch(t *testing.T) {
	s := NewStore(StoreConfig{})
	now := time.Now()
	s.Append(msg("1", "c1", "hi", "Alice", now.Add(-10*time.Second)))
	s.Append(msg("2", "c2", "old", "Alice", now.Add(-time.Minute)))

	since := now.Add(-30 * time.Second)
	assert.True(t, s.RecentMatch("hi", "Alice", since))
	assert.False(t, s.RecentMatch("hi", "Bob", since))
	assert.False(t, s.RecentMatch("old", "Alice", since))
}

func TestRegenerate(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Append(msg("1", "c1", "hours?", "u", time.Now()))
	d := &stubDrafter{reply: "We open at 9."}

	m, err := s.Regenerate(context.Background(), "1", d, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "We open at 9.", m.Draft)
	require.Len(t, m.History, 1)
	assert.Equal(t, ActionRegenerated, m.History[0].Action)

	_, err = s.Regenerate(context.Background(), "missing", d, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, d.calls)
}

func TestRegenerate_DrafterErrorKeepsHistory(t *testing.T) {
	s := NewStore(StoreConfig{})
	s.Append(msg("1", "c1", "hours?", "u", time.Now()))
	_, _ = s.SetDraft("1", "previous")

	_, err := s.Regenerate(context.Background(), "1", &stubDrafter{err: errors.New("boom")}, time.Now())
	require.Error(t, err)

	m, _ := s.FindByID("1")
	assert.Len(t, m.History, 1)
	assert.Equal(t, "previous", m.Draft)
}

func TestEvict(t *testing.T) {
	s := NewStore(StoreConfig{})
	now := time.Now()
	s.Append(msg("old", "c1", "a", "u", now.Add(-2*time.Hour)))
	s.Append(msg("new", "c2", "b", "u", now))

	assert.Equal(t, 1, s.Evict(now.Add(-time.Hour)))
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)
}
