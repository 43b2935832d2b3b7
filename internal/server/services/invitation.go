package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/cryptox"
	"github.com/e2chat/keyserver/internal/dbx"
	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/config"
	"github.com/e2chat/keyserver/internal/server/models"
	"github.com/e2chat/keyserver/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// InviteService owns the invite code lifecycle: creation, hashed-code
// storage, expiry, single-use consumption, attached group grants, and the
// optional attached wrapped team key.
type InviteService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	keyRequests *KeyRequestService
	ttlMin      time.Duration
	ttlMax      time.Duration
	logger      logging.Logger
	now         func() time.Time
}

func NewInviteService(db *sql.DB, m repomanager.RepositoryManager, kr *KeyRequestService, cfg *config.Config, l logging.Logger) *InviteService {
	return &InviteService{
		db:          db,
		repomanager: m,
		keyRequests: kr,
		ttlMin:      cfg.InviteTTLMin,
		ttlMax:      cfg.InviteTTLMax,
		logger:      l.With("module", "invite_service"),
		now:         time.Now,
	}
}

// CreateInviteInput describes a new invitation.
type CreateInviteInput struct {
	TeamID    string
	Role      string
	SingleUse bool
	TTLHours  int
	GroupIDs  []string
}

// CreateInviteResult carries the raw code back to the creator. This is the
// only time the code exists server-side; storage holds only its hash.
type CreateInviteResult struct {
	Code       string
	Invitation *models.Invitation
}

// Create generates an opaque invite code, persists its hash, and attaches
// group grants. The TTL is clamped into the configured bounds.
func (s *InviteService) Create(ctx context.Context, caller *auth.Identity, in CreateInviteInput) (*CreateInviteResult, error) {
	if in.TeamID == "" {
		return nil, fmt.Errorf("%w: team id is required", common.ErrInvalidInput)
	}
	if !isManager(caller) {
		return nil, common.ErrForbidden
	}

	role := in.Role
	if role == "" {
		role = models.RoleMember
	}

	ttl := time.Duration(in.TTLHours) * time.Hour
	if ttl < s.ttlMin {
		ttl = s.ttlMin
	}
	if ttl > s.ttlMax {
		ttl = s.ttlMax
	}

	code, err := cryptox.NewInviteCode()
	if err != nil {
		return nil, fmt.Errorf("error generating invite code: %w", err)
	}

	inv := &models.Invitation{
		ID:            uuid.NewString(),
		TeamID:        in.TeamID,
		CodeHash:      cryptox.HashInviteCode(code),
		Role:          role,
		SingleUse:     in.SingleUse,
		ExpiresAt:     s.now().Add(ttl),
		CreatedBy:     caller.Npub,
		CreatorPubkey: caller.Pubkey,
		GroupIDs:      in.GroupIDs,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Invitations(tx)
		if err := repo.Create(ctx, inv); err != nil {
			return err
		}
		return repo.AddGroups(ctx, inv.ID, in.GroupIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("error persisting invitation: %w", err)
	}

	s.logger.Info(ctx, "invitation created", "team_id", in.TeamID, "by", caller.Npub, "single_use", in.SingleUse)
	return &CreateInviteResult{Code: code, Invitation: inv}, nil
}

// AttachKey sets the wrapped team key on an invitation, write-once. Only the
// creator (or a manager) may attach; the key is wrapped to the invite-derived
// keypair client-side.
func (s *InviteService) AttachKey(ctx context.Context, caller *auth.Identity, codeHash string, encryptedTeamKey []byte) error {
	if codeHash == "" || len(encryptedTeamKey) == 0 {
		return fmt.Errorf("%w: code hash and encrypted key are required", common.ErrInvalidInput)
	}

	repo := s.repomanager.Invitations(s.db)

	inv, err := repo.GetByCodeHash(ctx, codeHash)
	if err != nil {
		return err
	}
	if inv.CreatedBy != caller.Npub && !isManager(caller) {
		return common.ErrForbidden
	}

	return repo.AttachKey(ctx, codeHash, encryptedTeamKey, caller.Pubkey)
}

// InvitePreview is the read-only validation result for a raw code.
type InvitePreview struct {
	TeamID     string
	Role       string
	SingleUse  bool
	ExpiresAt  time.Time
	HasTeamKey bool
	GroupCount int
}

// Preview validates a raw code without mutating anything. It is callable
// unauthenticated; failures come back as ErrNotFound, ErrExpired, or
// ErrAlreadyUsed.
func (s *InviteService) Preview(ctx context.Context, code string) (*InvitePreview, error) {
	inv, err := s.lookupValid(ctx, code)
	if err != nil {
		return nil, err
	}
	return &InvitePreview{
		TeamID:     inv.TeamID,
		Role:       inv.Role,
		SingleUse:  inv.SingleUse,
		ExpiresAt:  inv.ExpiresAt,
		HasTeamKey: len(inv.EncryptedTeamKey) > 0,
		GroupCount: len(inv.GroupIDs),
	}, nil
}

// InviteKey returns the wrapped team key attached to a valid code, for the
// redeemer to unwrap with the invite-derived private key.
type InviteKey struct {
	EncryptedTeamKey []byte
	CreatorPubkey    string
}

func (s *InviteService) InviteKey(ctx context.Context, code string) (*InviteKey, error) {
	inv, err := s.lookupValid(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(inv.EncryptedTeamKey) == 0 {
		return nil, common.ErrNotFound
	}
	return &InviteKey{EncryptedTeamKey: inv.EncryptedTeamKey, CreatorPubkey: inv.CreatorPubkey}, nil
}

func (s *InviteService) lookupValid(ctx context.Context, code string) (*models.Invitation, error) {
	inv, err := s.repomanager.Invitations(s.db).GetByCodeHash(ctx, cryptox.HashInviteCode(code))
	if err != nil {
		return nil, err
	}
	if inv.Expired(s.now()) {
		return nil, common.ErrExpired
	}
	if inv.Exhausted() {
		return nil, common.ErrAlreadyUsed
	}
	return inv, nil
}

// RedeemResult reports a redemption outcome.
type RedeemResult struct {
	TeamID          string
	Role            string
	AlreadyMember   bool
	RequestsCreated int
}

// Redeem consumes a valid code for the caller: the membership grant, the
// group grants, and the redemption-count increment commit atomically. The
// preview conditions are re-validated at commit time by the conditional
// increment, closing the check-then-act window. For every encrypted channel
// reachable through the attached groups a key request targeting the invite
// creator is created afterwards (idempotent, outside the transaction).
func (s *InviteService) Redeem(ctx context.Context, redeemer *auth.Identity, code string) (*RedeemResult, error) {
	codeHash := cryptox.HashInviteCode(code)

	inv, err := s.repomanager.Invitations(s.db).GetByCodeHash(ctx, codeHash)
	if err != nil {
		return nil, err
	}

	// Redeeming while already a member is a successful no-op.
	if _, err := s.repomanager.Teams(s.db).GetMember(ctx, inv.TeamID, redeemer.Npub); err == nil {
		return &RedeemResult{TeamID: inv.TeamID, Role: inv.Role, AlreadyMember: true}, nil
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("error checking membership: %w", err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		consumed, err := s.repomanager.Invitations(tx).ConsumeRedemption(ctx, codeHash, s.now())
		if err != nil {
			return err
		}
		if !consumed {
			return s.diagnoseConsumeFailure(ctx, tx, codeHash)
		}

		if _, err := s.repomanager.Teams(tx).AddMember(ctx, &models.TeamMember{
			TeamID: inv.TeamID,
			Npub:   redeemer.Npub,
			Pubkey: redeemer.Pubkey,
			Role:   inv.Role,
		}); err != nil {
			return err
		}

		membershipRepo := s.repomanager.Memberships(tx)
		for _, groupID := range inv.GroupIDs {
			if _, err := membershipRepo.AddGroupMember(ctx, groupID, redeemer.Npub); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	requests := 0
	if len(inv.GroupIDs) > 0 {
		channels, err := s.repomanager.Memberships(s.db).EncryptedChannelsForGroups(ctx, inv.GroupIDs)
		if err != nil {
			s.logger.Error(ctx, "listing encrypted channels after redemption", "error", err)
		}
		for _, ch := range channels {
			err := s.keyRequests.CreateRequest(ctx, CreateRequestInput{
				ChannelID:       ch.ID,
				RequesterNpub:   redeemer.Npub,
				RequesterPubkey: redeemer.Pubkey,
				TargetNpub:      inv.CreatedBy,
				InviteCodeHash:  codeHash,
			})
			if err != nil {
				s.logger.Error(ctx, "creating key request after redemption", "channel_id", ch.ID, "error", err)
				continue
			}
			requests++
		}
	}

	s.logger.Info(ctx, "invitation redeemed", "team_id", inv.TeamID, "npub", redeemer.Npub, "requests", requests)
	return &RedeemResult{TeamID: inv.TeamID, Role: inv.Role, RequestsCreated: requests}, nil
}

// diagnoseConsumeFailure re-reads the row to report why the guarded increment
// matched nothing.
func (s *InviteService) diagnoseConsumeFailure(ctx context.Context, tx dbx.DBTX, codeHash string) error {
	inv, err := s.repomanager.Invitations(tx).GetByCodeHash(ctx, codeHash)
	if err != nil {
		return err
	}
	if inv.Expired(s.now()) {
		return common.ErrExpired
	}
	if inv.Exhausted() {
		return common.ErrAlreadyUsed
	}
	return common.ErrInternal
}
