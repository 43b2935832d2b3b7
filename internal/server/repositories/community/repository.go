package community

import (
	"context"

	"github.com/e2chat/keyserver/internal/server/models"
)

// Repository persists the single-tenant legacy community state: wrapped
// community keys, bootstrap/migration flags, and the message migration
// projection.
type Repository interface {
	GetFlag(ctx context.Context, key string) (string, error)
	SetFlag(ctx context.Context, key, value string) error

	UpsertKey(ctx context.Context, k *models.CommunityKey) error
	GetKey(ctx context.Context, userPubkey string) (*models.CommunityKey, error)

	// PendingMessageCount counts messages not yet migrated (key_version = 0).
	PendingMessageCount(ctx context.Context) (int64, error)
	// FetchMessageBatch returns up to limit unmigrated messages with id >
	// afterID, ascending.
	FetchMessageBatch(ctx context.Context, limit int, afterID int64) ([]*models.LegacyMessage, error)
	// OverwriteMessage replaces the body with ciphertext at key_version 1.
	// Re-overwriting an already-migrated id is harmless. Returns false when
	// the id does not exist.
	OverwriteMessage(ctx context.Context, id int64, ciphertext []byte) (bool, error)
}
