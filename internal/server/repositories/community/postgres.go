// Package community provides the PostgreSQL repository for legacy
// single-tenant community bootstrap and message migration.
package community

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

func (r *PostgresRepository) GetFlag(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM community_state WHERE key = $1`
	var value string
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return value, nil
}

func (r *PostgresRepository) SetFlag(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO community_state (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpsertKey(ctx context.Context, k *models.CommunityKey) error {
	query := `
		INSERT INTO community_keys (user_pubkey, encrypted_key)
		VALUES ($1, $2)
		ON CONFLICT (user_pubkey) DO UPDATE SET encrypted_key = EXCLUDED.encrypted_key
	`
	if _, err := r.db.ExecContext(ctx, query, k.UserPubkey, k.EncryptedKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetKey(ctx context.Context, userPubkey string) (*models.CommunityKey, error) {
	query := `SELECT user_pubkey, encrypted_key, created_at FROM community_keys WHERE user_pubkey = $1`
	var k models.CommunityKey
	err := r.db.QueryRowContext(ctx, query, userPubkey).Scan(&k.UserPubkey, &k.EncryptedKey, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &k, nil
}

func (r *PostgresRepository) PendingMessageCount(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM messages WHERE key_version = 0`
	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) FetchMessageBatch(ctx context.Context, limit int, afterID int64) ([]*models.LegacyMessage, error) {
	query := `
		SELECT id, channel_id, body, key_version, created_at
		FROM messages
		WHERE key_version = 0 AND id > $2
		ORDER BY id
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit, afterID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.LegacyMessage
	for rows.Next() {
		var m models.LegacyMessage
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Body, &m.KeyVersion, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) OverwriteMessage(ctx context.Context, id int64, ciphertext []byte) (bool, error) {
	query := `UPDATE messages SET body = $2, key_version = 1 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, ciphertext)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
