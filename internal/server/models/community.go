package models

import "time"

// Community state flag keys (single-tenant legacy mode).
const (
	CommunityFlagBootstrapped      = "bootstrapped"
	CommunityFlagMigrationComplete = "message_migration_complete"
)

// CommunityKey is the community symmetric key wrapped to one user's public
// key, written during the one-time legacy bootstrap.
type CommunityKey struct {
	UserPubkey   string
	EncryptedKey []byte
	CreatedAt    time.Time
}

// LegacyMessage is the migration projection of a historical public-channel
// message: key_version 0 means still plaintext, 1 means migrated ciphertext.
type LegacyMessage struct {
	ID         int64
	ChannelID  string
	Body       []byte
	KeyVersion int64
	CreatedAt  time.Time
}
