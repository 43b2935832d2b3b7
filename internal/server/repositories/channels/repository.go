package channels

import (
	"context"

	"github.com/e2chat/keyserver/internal/server/models"
)

// Repository reads and flags the minimal channel projection this subsystem
// owns: the encrypted flag and the needs_rotation rotation signal. Channel
// creation and general metadata are owned elsewhere.
type Repository interface {
	Get(ctx context.Context, channelID string) (*models.Channel, error)
	SetEncrypted(ctx context.Context, channelID string, encrypted bool) error
	SetNeedsRotation(ctx context.Context, channelID string, needs bool) error
	ListNeedingRotation(ctx context.Context, teamID string) ([]*models.Channel, error)
}
