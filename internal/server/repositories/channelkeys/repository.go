package channelkeys

import (
	"context"

	"github.com/e2chat/keyserver/internal/server/models"
)

// Repository is the append-only wrapped channel key log. The current key for
// a (channel, user) pair is the row with the highest version.
type Repository interface {
	// GetCurrent returns the highest-version key for the pair.
	GetCurrent(ctx context.Context, channelID, userPubkey string) (*models.ChannelKey, error)
	// Append writes one key generation. Writing the same (channel, user,
	// version) again overwrites the ciphertext: last write wins at the
	// version the writer chose.
	Append(ctx context.Context, key *models.ChannelKey) error
	// ChannelVersion returns the highest version any member holds for the
	// channel, or 0 when no key has been distributed yet.
	ChannelVersion(ctx context.Context, channelID string) (int64, error)
	// VersionsByUser maps each member pubkey to the highest version it holds.
	VersionsByUser(ctx context.Context, channelID string) (map[string]int64, error)
}
