package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmdesk/internal/config"
	"dmdesk/internal/domain"
)

func backends(t *testing.T) map[string]func() domain.BlobStore {
	dir := t.TempDir()
	return map[string]func() domain.BlobStore{
		"file": func() domain.BlobStore {
			s, err := NewFileStore(filepath.Join(dir, "state"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func() domain.BlobStore {
			s, err := NewSQLiteStore(filepath.Join(dir, "db", "dmdesk.db"), testLogger())
			require.NoError(t, err)
			return s
		},
	}
}

func TestBlobStore_LoadSaveDelete(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			_, err := s.Load(ctx, "session")
			assert.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, s.Save(ctx, "session", []byte(`{"a":1}`)))
			require.NoError(t, s.Save(ctx, "session", []byte(`{"a":2}`)))
			data, err := s.Load(ctx, "session")
			require.NoError(t, err)
			assert.JSONEq(t, `{"a":2}`, string(data))

			require.NoError(t, s.Delete(ctx, "session"))
			require.NoError(t, s.Delete(ctx, "session"))
			_, err = s.Load(ctx, "session")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Save(context.Background(), "../escape", []byte("x")))
	_, err = s.Load(context.Background(), "")
	assert.Error(t, err)
}

func TestManager_SurvivesRestart(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open()
			m := NewManager(ManagerConfig{Store: store, Logger: testLogger()})
			require.NoError(t, m.Load(ctx))
			assert.False(t, m.Connected())

			require.NoError(t, m.Connect(ctx, "acc_1"))
			assert.Equal(t, "acc_1", m.AccountID())
			require.NoError(t, store.Close())

			store = open()
			defer store.Close()
			restarted := NewManager(ManagerConfig{Store: store, Logger: testLogger()})
			require.NoError(t, restarted.Load(ctx))
			assert.Equal(t, "acc_1", restarted.AccountID())
			rec, ok := restarted.Record()
			require.True(t, ok)
			assert.False(t, rec.Timestamp.IsZero())

			restarted.Disconnect(ctx)
			assert.False(t, restarted.Connected())

			again := NewManager(ManagerConfig{Store: store, Logger: testLogger()})
			require.NoError(t, again.Load(ctx))
			assert.False(t, again.Connected())
		})
	}
}

func TestManager_LegacyLayout(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"instagramAccountId":"acc_legacy","timestamp":"2024-05-01T10:00:00Z"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte(legacy), 0o600))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	m := NewManager(ManagerConfig{Store: store, Logger: testLogger()})
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, "acc_legacy", m.AccountID())
	rec, _ := m.Record()
	assert.Equal(t, 2024, rec.Timestamp.Year())
}

func TestManager_CorruptBlobIgnored(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.json"), []byte("{not json"), 0o600))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	m := NewManager(ManagerConfig{Store: store, Logger: testLogger()})
	require.NoError(t, m.Load(context.Background()))
	assert.False(t, m.Connected())
}

func TestManager_ConnectRequiresID(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	m := NewManager(ManagerConfig{Store: store})
	assert.Error(t, m.Connect(context.Background(), ""))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(config.SessionConfig{Backend: "sqlite", DBPath: filepath.Join(dir, "x.db")}, testLogger())
	require.NoError(t, err)
	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
	s.Close()

	_, err = Open(config.SessionConfig{Backend: "redis"}, testLogger())
	assert.Error(t, err)
}
