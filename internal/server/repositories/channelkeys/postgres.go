// Package channelkeys provides the PostgreSQL-backed append-only log of
// wrapped channel keys.
package channelkeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) GetCurrent(ctx context.Context, channelID, userPubkey string) (*models.ChannelKey, error) {
	query := `
		SELECT channel_id, user_pubkey, encrypted_key, key_version, created_at
		FROM channel_keys
		WHERE channel_id = $1 AND user_pubkey = $2
		ORDER BY key_version DESC
		LIMIT 1
	`
	var k models.ChannelKey
	err := r.db.QueryRowContext(ctx, query, channelID, userPubkey).
		Scan(&k.ChannelID, &k.UserPubkey, &k.EncryptedKey, &k.KeyVersion, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &k, nil
}

func (r *PostgresRepository) Append(ctx context.Context, key *models.ChannelKey) error {
	query := `
		INSERT INTO channel_keys (channel_id, user_pubkey, encrypted_key, key_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, user_pubkey, key_version)
		DO UPDATE SET encrypted_key = EXCLUDED.encrypted_key
	`
	if _, err := r.db.ExecContext(ctx, query, key.ChannelID, key.UserPubkey, key.EncryptedKey, key.KeyVersion); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ChannelVersion(ctx context.Context, channelID string) (int64, error) {
	query := `SELECT COALESCE(MAX(key_version), 0) FROM channel_keys WHERE channel_id = $1`
	var v int64
	if err := r.db.QueryRowContext(ctx, query, channelID).Scan(&v); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return v, nil
}

func (r *PostgresRepository) VersionsByUser(ctx context.Context, channelID string) (map[string]int64, error) {
	query := `
		SELECT user_pubkey, MAX(key_version)
		FROM channel_keys
		WHERE channel_id = $1
		GROUP BY user_pubkey
	`
	rows, err := r.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var pubkey string
		var version int64
		if err := rows.Scan(&pubkey, &version); err != nil {
			return nil, err
		}
		result[pubkey] = version
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
