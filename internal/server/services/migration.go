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

// maxMigrationBatch caps one fetch/submit round trip.
const maxMigrationBatch = 500

// CommunityService handles the single-tenant legacy deployment: the one-time
// encryption bootstrap and the incremental plaintext-to-ciphertext message
// migration driven by an admin client.
type CommunityService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	enabled     bool
	logger      logging.Logger
}

func NewCommunityService(db *sql.DB, m repomanager.RepositoryManager, enabled bool, l logging.Logger) *CommunityService {
	return &CommunityService{db: db, repomanager: m, enabled: enabled, logger: l.With("module", "community_service")}
}

// BootstrapKeyInput is the community key wrapped to one member.
type BootstrapKeyInput struct {
	UserPubkey   string
	EncryptedKey []byte
}

// Bootstrap performs the one-time community encryption setup: stores the
// wrapped community key for every present member and latches the bootstrap
// flag. A second call fails with ErrAlreadyBootstrapped.
func (s *CommunityService) Bootstrap(ctx context.Context, caller *auth.Identity, keys []BootstrapKeyInput) error {
	if !s.enabled {
		return common.ErrNotFound
	}
	if !isManager(caller) {
		return common.ErrForbidden
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: at least one wrapped key is required", common.ErrInvalidInput)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Community(tx)

		flag, err := repo.GetFlag(ctx, models.CommunityFlagBootstrapped)
		if err != nil && !isNotFound(err) {
			return err
		}
		if flag == "true" {
			return common.ErrAlreadyBootstrapped
		}

		for _, k := range keys {
			if k.UserPubkey == "" || len(k.EncryptedKey) == 0 {
				return fmt.Errorf("%w: user pubkey and encrypted key are required", common.ErrInvalidInput)
			}
			if err := repo.UpsertKey(ctx, &models.CommunityKey{
				UserPubkey:   k.UserPubkey,
				EncryptedKey: k.EncryptedKey,
			}); err != nil {
				return err
			}
		}
		if err := repo.SetFlag(ctx, models.CommunityFlagBootstrapped, "true"); err != nil {
			return err
		}

		s.logger.Info(ctx, "community encryption bootstrapped", "by", caller.Npub, "keys", len(keys))
		return nil
	})
}

// CommunityKey returns the caller's wrapped community key.
func (s *CommunityService) CommunityKey(ctx context.Context, caller *auth.Identity) (*models.CommunityKey, error) {
	if !s.enabled {
		return nil, common.ErrNotFound
	}
	return s.repomanager.Community(s.db).GetKey(ctx, caller.Pubkey)
}

// MigrationStatus reports the message migration progress.
type MigrationStatus struct {
	Bootstrapped bool
	Complete     bool
	Pending      int64
}

func (s *CommunityService) Status(ctx context.Context, caller *auth.Identity) (*MigrationStatus, error) {
	if !s.enabled {
		return nil, common.ErrNotFound
	}
	if !isManager(caller) {
		return nil, common.ErrForbidden
	}

	repo := s.repomanager.Community(s.db)
	st := &MigrationStatus{}

	if flag, err := repo.GetFlag(ctx, models.CommunityFlagBootstrapped); err == nil {
		st.Bootstrapped = flag == "true"
	} else if !isNotFound(err) {
		return nil, err
	}
	if flag, err := repo.GetFlag(ctx, models.CommunityFlagMigrationComplete); err == nil {
		st.Complete = flag == "true"
	} else if !isNotFound(err) {
		return nil, err
	}

	pending, err := repo.PendingMessageCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("error counting pending messages: %w", err)
	}
	st.Pending = pending
	return st, nil
}

// FetchBatch returns up to limit unmigrated messages after the given id, for
// the admin client to encrypt. Managers only; limit is clamped to the cap.
func (s *CommunityService) FetchBatch(ctx context.Context, caller *auth.Identity, limit int, afterID int64) ([]*models.LegacyMessage, error) {
	if !s.enabled {
		return nil, common.ErrNotFound
	}
	if !isManager(caller) {
		return nil, common.ErrForbidden
	}
	if limit <= 0 || limit > maxMigrationBatch {
		limit = maxMigrationBatch
	}
	return s.repomanager.Community(s.db).FetchMessageBatch(ctx, limit, afterID)
}

// MigratedMessage is one encrypted message coming back from the admin client.
type MigratedMessage struct {
	ID         int64
	Ciphertext []byte
}

// SubmitResult reports a batch submission outcome.
type SubmitResult struct {
	Overwritten int
	Remaining   int64
	Complete    bool
}

// SubmitBatch overwrites the listed messages with their ciphertext in one
// transaction. Resubmitting an already-migrated batch is idempotent. When no
// plaintext messages remain the completion flag latches.
func (s *CommunityService) SubmitBatch(ctx context.Context, caller *auth.Identity, batch []MigratedMessage) (*SubmitResult, error) {
	if !s.enabled {
		return nil, common.ErrNotFound
	}
	if !isManager(caller) {
		return nil, common.ErrForbidden
	}
	if len(batch) == 0 || len(batch) > maxMigrationBatch {
		return nil, fmt.Errorf("%w: batch size must be between 1 and %d", common.ErrInvalidInput, maxMigrationBatch)
	}

	result := &SubmitResult{}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Community(tx)

		for _, m := range batch {
			if len(m.Ciphertext) == 0 {
				return fmt.Errorf("%w: empty ciphertext for message %d", common.ErrInvalidInput, m.ID)
			}
			ok, err := repo.OverwriteMessage(ctx, m.ID, m.Ciphertext)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: message %d", common.ErrNotFound, m.ID)
			}
			result.Overwritten++
		}

		pending, err := repo.PendingMessageCount(ctx)
		if err != nil {
			return err
		}
		result.Remaining = pending
		if pending == 0 {
			if err := repo.SetFlag(ctx, models.CommunityFlagMigrationComplete, "true"); err != nil {
				return err
			}
			result.Complete = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Complete {
		s.logger.Info(ctx, "message migration complete", "by", caller.Npub)
	}
	return result, nil
}
