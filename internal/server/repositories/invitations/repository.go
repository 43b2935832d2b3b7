package invitations

import (
	"context"
	"time"

	"github.com/e2chat/keyserver/internal/server/models"
)

// Repository persists the invitation ledger. Raw invite codes never reach
// this layer; lookups go through the code hash.
type Repository interface {
	Create(ctx context.Context, inv *models.Invitation) error
	AddGroups(ctx context.Context, invitationID string, groupIDs []string) error
	GetByCodeHash(ctx context.Context, codeHash string) (*models.Invitation, error)
	// AttachKey sets the wrapped team key once. Returns ErrNotFound when no
	// invitation matches and ErrInvalidInput when a key is already attached.
	AttachKey(ctx context.Context, codeHash string, encryptedTeamKey []byte, creatorPubkey string) error
	// ConsumeRedemption atomically increments redeemed_count, re-checking
	// expiry and single-use exhaustion in the same statement. Returns false
	// when the guarded update matched no row.
	ConsumeRedemption(ctx context.Context, codeHash string, now time.Time) (bool, error)
}
