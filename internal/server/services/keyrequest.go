package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/dbx"
	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/models"
	"github.com/e2chat/keyserver/internal/server/notify"
	"github.com/e2chat/keyserver/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// KeyRequestService coordinates the asynchronous hand-off of a channel's
// current key from an authorized member to a newly-authorized one. Requests
// stay pending until explicitly fulfilled or rejected; there is no timeout.
type KeyRequestService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	bridge      notify.Bridge
	logger      logging.Logger
	now         func() time.Time
}

func NewKeyRequestService(db *sql.DB, m repomanager.RepositoryManager, bridge notify.Bridge, l logging.Logger) *KeyRequestService {
	return &KeyRequestService{
		db:          db,
		repomanager: m,
		bridge:      bridge,
		logger:      l.With("module", "key_request_service"),
		now:         time.Now,
	}
}

// CreateRequestInput describes a new key request.
type CreateRequestInput struct {
	ChannelID       string
	RequesterNpub   string
	RequesterPubkey string
	TargetNpub      string
	GroupID         string
	InviteCodeHash  string
}

// CreateRequest creates a pending request unless one already exists for the
// (channel, requester) pair; repeats are a no-op. The target is nudged over
// the notification bridge.
func (s *KeyRequestService) CreateRequest(ctx context.Context, in CreateRequestInput) error {
	if in.ChannelID == "" || in.RequesterNpub == "" || in.TargetNpub == "" {
		return fmt.Errorf("%w: channel, requester and target are required", common.ErrInvalidInput)
	}

	repo := s.repomanager.KeyRequests(s.db)

	created, err := repo.Create(ctx, &models.KeyRequest{
		ID:              uuid.NewString(),
		ChannelID:       in.ChannelID,
		RequesterNpub:   in.RequesterNpub,
		RequesterPubkey: in.RequesterPubkey,
		TargetNpub:      in.TargetNpub,
		GroupID:         in.GroupID,
		InviteCodeHash:  in.InviteCodeHash,
	})
	if err != nil {
		return fmt.Errorf("error creating key request: %w", err)
	}
	if !created {
		return nil
	}

	ch, err := s.repomanager.Channels(s.db).Get(ctx, in.ChannelID)
	if err != nil {
		// The request row exists; the nudge is best-effort anyway.
		s.logger.Warn(ctx, "channel lookup for notification failed", "channel_id", in.ChannelID, "error", err)
		return nil
	}

	pending, err := repo.ListPendingByTarget(ctx, in.TargetNpub)
	count := len(pending)
	if err != nil {
		count = 1
	}

	s.bridge.Publish(ch.TeamID, in.TargetNpub, notify.Event{
		Type: notify.EventKeyRequestNew,
		Payload: map[string]any{
			"requesterNpub": in.RequesterNpub,
			"count":         count,
		},
	})
	s.logger.Info(ctx, "key request created", "channel_id", in.ChannelID, "requester", in.RequesterNpub, "target", in.TargetNpub)
	return nil
}

// ListOwn returns the caller's requests, newest first.
func (s *KeyRequestService) ListOwn(ctx context.Context, requesterNpub string) ([]*models.KeyRequestView, error) {
	return s.repomanager.KeyRequests(s.db).ListByRequester(ctx, requesterNpub)
}

// ListPending returns the requests the caller can fulfill: those addressed to
// them, or every pending request of the team for managers.
func (s *KeyRequestService) ListPending(ctx context.Context, caller *auth.Identity) ([]*models.KeyRequestView, error) {
	repo := s.repomanager.KeyRequests(s.db)
	if isManager(caller) {
		return repo.ListPendingByTeam(ctx, caller.TeamID)
	}
	return repo.ListPendingByTarget(ctx, caller.Npub)
}

// Fulfill persists the wrapped key for the requester and transitions the
// request to fulfilled, as one atomic unit. The written version is the one
// the fulfiller currently holds; it is not freshly minted. Exactly one of
// concurrent fulfill/reject calls wins; the loser gets ErrAlreadyResolved.
func (s *KeyRequestService) Fulfill(ctx context.Context, caller *auth.Identity, requestID string, encryptedKey []byte, keyVersion int64) error {
	if len(encryptedKey) == 0 {
		return fmt.Errorf("%w: encrypted key is required", common.ErrInvalidInput)
	}

	req, ch, err := s.loadForResolve(ctx, caller, requestID)
	if err != nil {
		return err
	}

	held, err := s.repomanager.ChannelKeys(s.db).GetCurrent(ctx, req.ChannelID, caller.Pubkey)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: fulfiller holds no key for the channel", common.ErrInvalidInput)
		}
		return fmt.Errorf("error reading fulfiller key: %w", err)
	}

	version := keyVersion
	if version == 0 {
		version = held.KeyVersion
	}
	// Fulfilling hands over an existing generation; it never mints one. The
	// fulfiller cannot write a version above the one they hold themselves.
	if version < 1 || version > held.KeyVersion {
		return fmt.Errorf("%w: key version %d exceeds the fulfiller's held version", common.ErrInvalidInput, version)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		won, err := s.repomanager.KeyRequests(tx).Resolve(ctx, requestID, models.KeyRequestFulfilled, caller.Npub, s.now())
		if err != nil {
			return err
		}
		if !won {
			return common.ErrAlreadyResolved
		}
		return s.repomanager.ChannelKeys(tx).Append(ctx, &models.ChannelKey{
			ChannelID:    req.ChannelID,
			UserPubkey:   req.RequesterPubkey,
			EncryptedKey: encryptedKey,
			KeyVersion:   version,
		})
	})
	if err != nil {
		return err
	}

	s.bridge.Publish(ch.TeamID, req.RequesterNpub, notify.Event{
		Type: notify.EventKeyRequestFulfilled,
		Payload: map[string]any{
			"requestId":   req.ID,
			"channelId":   req.ChannelID,
			"fulfilledBy": caller.Npub,
		},
	})
	s.logger.Info(ctx, "key request fulfilled", "request_id", requestID, "by", caller.Npub, "version", version)
	return nil
}

// Reject transitions the request to rejected; no key material is written.
func (s *KeyRequestService) Reject(ctx context.Context, caller *auth.Identity, requestID string) error {
	req, _, err := s.loadForResolve(ctx, caller, requestID)
	if err != nil {
		return err
	}

	won, err := s.repomanager.KeyRequests(s.db).Resolve(ctx, requestID, models.KeyRequestRejected, caller.Npub, s.now())
	if err != nil {
		return err
	}
	if !won {
		return common.ErrAlreadyResolved
	}

	s.logger.Info(ctx, "key request rejected", "request_id", req.ID, "by", caller.Npub)
	return nil
}

// loadForResolve fetches the request and its channel and runs the shared
// authorization predicate. Terminal requests fail fast with ErrAlreadyResolved;
// the conditional update inside Resolve remains the authoritative gate.
func (s *KeyRequestService) loadForResolve(ctx context.Context, caller *auth.Identity, requestID string) (*models.KeyRequest, *models.Channel, error) {
	req, err := s.repomanager.KeyRequests(s.db).Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}

	ch, err := s.repomanager.Channels(s.db).Get(ctx, req.ChannelID)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading channel: %w", err)
	}

	if !canResolveRequest(caller, req, ch.TeamID) {
		return nil, nil, common.ErrForbidden
	}
	if req.Terminal() {
		return nil, nil, common.ErrAlreadyResolved
	}
	return req, ch, nil
}
