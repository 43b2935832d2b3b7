package teams

import (
	"context"

	"github.com/e2chat/keyserver/internal/server/models"
)

// Repository persists team encryption state, escrowed user team keys, and the
// minimal membership projection used for authorization.
type Repository interface {
	GetEncryptionState(ctx context.Context, teamID string) (*models.TeamEncryptionState, error)
	// CreateEncryptionState inserts the state row unless one already exists.
	// Returns false without error when the row was already present.
	CreateEncryptionState(ctx context.Context, st *models.TeamEncryptionState) (bool, error)

	GetUserTeamKey(ctx context.Context, teamID, userPubkey string) (*models.UserTeamKey, error)
	UpsertUserTeamKey(ctx context.Context, key *models.UserTeamKey) error

	GetMember(ctx context.Context, teamID, npub string) (*models.TeamMember, error)
	// AddMember inserts a membership row; returns false when the user is
	// already a member.
	AddMember(ctx context.Context, m *models.TeamMember) (bool, error)
}
