package domain

import "context"

// Notifier delivers operator-facing alerts (Telegram).
type Notifier interface {
	Name() string
	Start(ctx context.Context) error
	Notify(ctx context.Context, text string) error
	Stop() error
}

// BlobStore is a key-value store of opaque byte blobs with load/save semantics.
// Load returns ErrNotFound when the key has never been saved or was deleted.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
