// Package channels provides the PostgreSQL repository for the channel
// projection (encrypted + rotation flags).
package channels

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

func (r *PostgresRepository) Get(ctx context.Context, channelID string) (*models.Channel, error) {
	query := `
		SELECT id, team_id, name, encrypted, needs_rotation
		FROM channels WHERE id = $1
	`
	var c models.Channel
	err := r.db.QueryRowContext(ctx, query, channelID).
		Scan(&c.ID, &c.TeamID, &c.Name, &c.Encrypted, &c.NeedsRotation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) SetEncrypted(ctx context.Context, channelID string, encrypted bool) error {
	return r.setFlag(ctx, `UPDATE channels SET encrypted = $2 WHERE id = $1`, channelID, encrypted)
}

func (r *PostgresRepository) SetNeedsRotation(ctx context.Context, channelID string, needs bool) error {
	return r.setFlag(ctx, `UPDATE channels SET needs_rotation = $2 WHERE id = $1`, channelID, needs)
}

func (r *PostgresRepository) setFlag(ctx context.Context, query, channelID string, value bool) error {
	res, err := r.db.ExecContext(ctx, query, channelID, value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListNeedingRotation(ctx context.Context, teamID string) ([]*models.Channel, error) {
	query := `
		SELECT id, team_id, name, encrypted, needs_rotation
		FROM channels
		WHERE team_id = $1 AND encrypted AND needs_rotation
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Channel
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(&c.ID, &c.TeamID, &c.Name, &c.Encrypted, &c.NeedsRotation); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
