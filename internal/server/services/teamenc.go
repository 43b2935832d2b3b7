// Package services contains the server-side business logic of the key
// distribution subsystem: the encryption registry, the invitation ledger,
// the key request workflow, the revocation coordinator, and the legacy
// community migration.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/models"
	"github.com/e2chat/keyserver/internal/server/repositories/repomanager"
)

// TeamService tracks whether a team has bootstrapped end-to-end encryption
// and escrows the per-member wrapped team keys.
type TeamService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewTeamService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *TeamService {
	return &TeamService{db: db, repomanager: m, logger: l.With("module", "team_service")}
}

// InitResult reports the outcome of an InitEncryption call.
type InitResult struct {
	AlreadyInitialized bool
	TeamPubkey         string
}

// InitEncryption is idempotent: the first call creates the state row, any
// later call returns the existing row unchanged.
func (s *TeamService) InitEncryption(ctx context.Context, teamID, teamPubkey, initiatorNpub string) (*InitResult, error) {
	if teamID == "" || teamPubkey == "" {
		return nil, fmt.Errorf("%w: team id and pubkey are required", common.ErrInvalidInput)
	}

	repo := s.repomanager.Teams(s.db)

	created, err := repo.CreateEncryptionState(ctx, &models.TeamEncryptionState{
		TeamID:        teamID,
		TeamPubkey:    teamPubkey,
		InitializedBy: initiatorNpub,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating encryption state: %w", err)
	}
	if created {
		s.logger.Info(ctx, "team encryption initialized", "team_id", teamID, "by", initiatorNpub)
		return &InitResult{AlreadyInitialized: false, TeamPubkey: teamPubkey}, nil
	}

	st, err := repo.GetEncryptionState(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("error reading encryption state: %w", err)
	}
	return &InitResult{AlreadyInitialized: true, TeamPubkey: st.TeamPubkey}, nil
}

// EncryptionStatus describes whether a team has encryption enabled.
type EncryptionStatus struct {
	Initialized bool
	TeamPubkey  string
}

func (s *TeamService) Status(ctx context.Context, teamID string) (*EncryptionStatus, error) {
	st, err := s.repomanager.Teams(s.db).GetEncryptionState(ctx, teamID)
	if err != nil {
		if isNotFound(err) {
			return &EncryptionStatus{Initialized: false}, nil
		}
		return nil, fmt.Errorf("error reading encryption state: %w", err)
	}
	return &EncryptionStatus{Initialized: true, TeamPubkey: st.TeamPubkey}, nil
}

// TeamKeyInfo is the caller's view of their escrowed wrapped team key.
type TeamKeyInfo struct {
	Initialized      bool
	TeamPubkey       string
	HasKey           bool
	EncryptedTeamKey []byte
}

// GetTeamKey returns the caller's wrapped team key along with the team
// encryption status.
func (s *TeamService) GetTeamKey(ctx context.Context, caller *auth.Identity) (*TeamKeyInfo, error) {
	repo := s.repomanager.Teams(s.db)

	info := &TeamKeyInfo{}

	st, err := repo.GetEncryptionState(ctx, caller.TeamID)
	switch {
	case err == nil:
		info.Initialized = true
		info.TeamPubkey = st.TeamPubkey
	case isNotFound(err):
		return info, nil
	default:
		return nil, fmt.Errorf("error reading encryption state: %w", err)
	}

	key, err := repo.GetUserTeamKey(ctx, caller.TeamID, caller.Pubkey)
	if err != nil {
		if isNotFound(err) {
			return info, nil
		}
		return nil, fmt.Errorf("error reading team key: %w", err)
	}
	info.HasKey = true
	info.EncryptedTeamKey = key.EncryptedTeamKey
	return info, nil
}

// PutTeamKey escrows the caller's wrapped team key. Only the owning user
// writes their row; storing before the team initialized encryption fails.
func (s *TeamService) PutTeamKey(ctx context.Context, caller *auth.Identity, encryptedTeamKey []byte) error {
	if len(encryptedTeamKey) == 0 {
		return fmt.Errorf("%w: encrypted team key is required", common.ErrInvalidInput)
	}

	repo := s.repomanager.Teams(s.db)

	if _, err := repo.GetEncryptionState(ctx, caller.TeamID); err != nil {
		if isNotFound(err) {
			return common.ErrNotInitialized
		}
		return fmt.Errorf("error reading encryption state: %w", err)
	}

	err := repo.UpsertUserTeamKey(ctx, &models.UserTeamKey{
		TeamID:           caller.TeamID,
		UserPubkey:       caller.Pubkey,
		EncryptedTeamKey: encryptedTeamKey,
		WrappedBy:        caller.Npub,
	})
	if err != nil {
		return fmt.Errorf("error storing team key: %w", err)
	}
	return nil
}
