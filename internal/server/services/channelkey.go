package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/dbx"
	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/models"
	"github.com/e2chat/keyserver/internal/server/repositories/repomanager"
)

// ChannelKeyService is the server-side view of the wrapped channel key log:
// an append-only per-(channel, user) log where the current key is the highest
// version.
type ChannelKeyService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewChannelKeyService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *ChannelKeyService {
	return &ChannelKeyService{db: db, repomanager: m, logger: l.With("module", "channel_key_service")}
}

// checkChannelAccess loads the channel and verifies the caller can reach it
// (through a group, or by holding a management role in the channel's team).
func (s *ChannelKeyService) checkChannelAccess(ctx context.Context, caller *auth.Identity, channelID string) (*models.Channel, error) {
	ch, err := s.repomanager.Channels(s.db).Get(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.TeamID != caller.TeamID {
		return nil, common.ErrForbidden
	}
	if isManager(caller) {
		return ch, nil
	}
	has, err := s.repomanager.Memberships(s.db).HasChannelAccess(ctx, channelID, caller.Npub)
	if err != nil {
		return nil, fmt.Errorf("error checking channel access: %w", err)
	}
	if !has {
		return nil, common.ErrForbidden
	}
	return ch, nil
}

// GetKey returns the caller's current wrapped key for the channel.
func (s *ChannelKeyService) GetKey(ctx context.Context, caller *auth.Identity, channelID string) (*models.ChannelKey, error) {
	if _, err := s.checkChannelAccess(ctx, caller, channelID); err != nil {
		return nil, err
	}
	return s.repomanager.ChannelKeys(s.db).GetCurrent(ctx, channelID, caller.Pubkey)
}

// PutKey appends one wrapped key row. Members may only write their own row;
// managers may write for any member (first key distribution, re-wraps).
// When keyVersion is zero the channel's current version is used, or 1 for a
// channel with no keys yet.
func (s *ChannelKeyService) PutKey(ctx context.Context, caller *auth.Identity, channelID, userPubkey string, encryptedKey []byte, keyVersion int64) (*models.ChannelKey, error) {
	if len(encryptedKey) == 0 || userPubkey == "" {
		return nil, fmt.Errorf("%w: user pubkey and encrypted key are required", common.ErrInvalidInput)
	}
	if userPubkey != caller.Pubkey && !isManager(caller) {
		return nil, common.ErrForbidden
	}
	if _, err := s.checkChannelAccess(ctx, caller, channelID); err != nil {
		return nil, err
	}

	keyRepo := s.repomanager.ChannelKeys(s.db)

	current, err := keyRepo.ChannelVersion(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("error reading channel version: %w", err)
	}

	version := keyVersion
	if version == 0 {
		version = current
		if version == 0 {
			version = 1
		}
	}
	// A member may lag behind the channel's version but never exceed it;
	// only a rotation may mint current+1.
	if version < 1 || version > current+1 {
		return nil, fmt.Errorf("%w: key version %d out of range", common.ErrInvalidInput, version)
	}

	key := &models.ChannelKey{
		ChannelID:    channelID,
		UserPubkey:   userPubkey,
		EncryptedKey: encryptedKey,
		KeyVersion:   version,
	}
	if err := keyRepo.Append(ctx, key); err != nil {
		return nil, fmt.Errorf("error appending channel key: %w", err)
	}
	return key, nil
}

// BatchKeyInput is one member's wrapped key in a batch distribution.
type BatchKeyInput struct {
	UserPubkey   string
	EncryptedKey []byte
}

// BatchResult reports a batch distribution outcome.
type BatchResult struct {
	KeyVersion int64
	Stored     int
}

// PutKeyBatch distributes wrapped keys to several members in one transaction,
// all at the same version. It is the admin-side rotation path: absent an
// explicit version it mints current+1, and a successful batch clears the
// channel's rotation flag. setEncrypted additionally marks the channel
// encrypted (first key distribution).
func (s *ChannelKeyService) PutKeyBatch(ctx context.Context, caller *auth.Identity, channelID string, keys []BatchKeyInput, keyVersion int64, setEncrypted bool) (*BatchResult, error) {
	if !isManager(caller) {
		return nil, common.ErrForbidden
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: at least one key is required", common.ErrInvalidInput)
	}
	if _, err := s.checkChannelAccess(ctx, caller, channelID); err != nil {
		return nil, err
	}

	current, err := s.repomanager.ChannelKeys(s.db).ChannelVersion(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("error reading channel version: %w", err)
	}

	version := keyVersion
	if version == 0 {
		version = current + 1
	}
	if version < 1 || version > current+1 {
		return nil, fmt.Errorf("%w: key version %d out of range", common.ErrInvalidInput, version)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		keyRepo := s.repomanager.ChannelKeys(tx)
		for _, k := range keys {
			if k.UserPubkey == "" || len(k.EncryptedKey) == 0 {
				return fmt.Errorf("%w: user pubkey and encrypted key are required", common.ErrInvalidInput)
			}
			if err := keyRepo.Append(ctx, &models.ChannelKey{
				ChannelID:    channelID,
				UserPubkey:   k.UserPubkey,
				EncryptedKey: k.EncryptedKey,
				KeyVersion:   version,
			}); err != nil {
				return err
			}
		}

		chRepo := s.repomanager.Channels(tx)
		if setEncrypted {
			if err := chRepo.SetEncrypted(ctx, channelID, true); err != nil {
				return err
			}
		}
		return chRepo.SetNeedsRotation(ctx, channelID, false)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "channel keys distributed", "channel_id", channelID, "version", version, "count", len(keys))
	return &BatchResult{KeyVersion: version, Stored: len(keys)}, nil
}
