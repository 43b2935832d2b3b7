// Package invitations provides the PostgreSQL-backed invitation ledger.
package invitations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/dbx"
	"github.com/e2chat/keyserver/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations
			(id, team_id, code_hash, role, single_use, expires_at, created_by, creator_pubkey, encrypted_team_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var key any
	if len(inv.EncryptedTeamKey) > 0 {
		key = inv.EncryptedTeamKey
	}
	_, err := r.db.ExecContext(ctx, query,
		inv.ID, inv.TeamID, inv.CodeHash, inv.Role, inv.SingleUse, inv.ExpiresAt,
		inv.CreatedBy, inv.CreatorPubkey, key)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddGroups(ctx context.Context, invitationID string, groupIDs []string) error {
	query := `
		INSERT INTO invitation_groups (invitation_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	for _, groupID := range groupIDs {
		if _, err := r.db.ExecContext(ctx, query, invitationID, groupID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetByCodeHash(ctx context.Context, codeHash string) (*models.Invitation, error) {
	query := `
		SELECT id, team_id, code_hash, role, single_use, expires_at,
		       created_by, creator_pubkey, encrypted_team_key, redeemed_count, created_at
		FROM invitations WHERE code_hash = $1
	`
	var inv models.Invitation
	var key []byte
	err := r.db.QueryRowContext(ctx, query, codeHash).Scan(
		&inv.ID, &inv.TeamID, &inv.CodeHash, &inv.Role, &inv.SingleUse, &inv.ExpiresAt,
		&inv.CreatedBy, &inv.CreatorPubkey, &key, &inv.RedeemedCount, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	inv.EncryptedTeamKey = key

	groups, err := r.groups(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.GroupIDs = groups
	return &inv, nil
}

func (r *PostgresRepository) groups(ctx context.Context, invitationID string) ([]string, error) {
	query := `SELECT group_id FROM invitation_groups WHERE invitation_id = $1 ORDER BY group_id`
	rows, err := r.db.QueryContext(ctx, query, invitationID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AttachKey is write-once: the guarded update only matches rows with no key
// attached yet.
func (r *PostgresRepository) AttachKey(ctx context.Context, codeHash string, encryptedTeamKey []byte, creatorPubkey string) error {
	query := `
		UPDATE invitations
		SET encrypted_team_key = $2, creator_pubkey = $3
		WHERE code_hash = $1 AND encrypted_team_key IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, codeHash, encryptedTeamKey, creatorPubkey)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Zero rows: either the invitation does not exist or a key is already set.
	if _, err := r.GetByCodeHash(ctx, codeHash); err != nil {
		return err
	}
	return fmt.Errorf("%w: key already attached", common.ErrInvalidInput)
}

// ConsumeRedemption closes the check-then-act window: the expiry and
// single-use checks run in the same statement as the increment.
func (r *PostgresRepository) ConsumeRedemption(ctx context.Context, codeHash string, now time.Time) (bool, error) {
	query := `
		UPDATE invitations
		SET redeemed_count = redeemed_count + 1
		WHERE code_hash = $1
		  AND expires_at > $2
		  AND (NOT single_use OR redeemed_count = 0)
	`
	res, err := r.db.ExecContext(ctx, query, codeHash, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
