// Package keyrequests provides the PostgreSQL repository for the key request
// workflow.
package keyrequests

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

func (r *PostgresRepository) Create(ctx context.Context, req *models.KeyRequest) (bool, error) {
	// The partial unique index on (channel_id, requester_npub) WHERE
	// status='pending' makes repeated creates a no-op while one is pending.
	query := `
		INSERT INTO key_requests
			(id, channel_id, requester_npub, requester_pubkey, target_npub, group_id, invite_code_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		ON CONFLICT (channel_id, requester_npub) WHERE status = 'pending' DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		req.ID, req.ChannelID, req.RequesterNpub, req.RequesterPubkey,
		req.TargetNpub, req.GroupID, req.InviteCodeHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.KeyRequest, error) {
	query := `
		SELECT id, channel_id, requester_npub, requester_pubkey, target_npub,
		       group_id, invite_code_hash, status, created_at, resolved_by, resolved_at
		FROM key_requests WHERE id = $1
	`
	var req models.KeyRequest
	var resolvedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &req.ChannelID, &req.RequesterNpub, &req.RequesterPubkey, &req.TargetNpub,
		&req.GroupID, &req.InviteCodeHash, &req.Status, &req.CreatedAt, &req.ResolvedBy, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	return &req, nil
}

const viewColumns = `
	SELECT r.id, r.channel_id, r.requester_npub, r.requester_pubkey, r.target_npub,
	       r.group_id, r.invite_code_hash, r.status, r.created_at, r.resolved_by, r.resolved_at,
	       COALESCE(c.name, ''), COALESCE(m.role, '')
	FROM key_requests r
	LEFT JOIN channels c ON c.id = r.channel_id
	LEFT JOIN team_members m ON m.team_id = c.team_id AND m.npub = r.target_npub
`

func (r *PostgresRepository) ListByRequester(ctx context.Context, requesterNpub string) ([]*models.KeyRequestView, error) {
	query := viewColumns + `
		WHERE r.requester_npub = $1
		ORDER BY r.created_at DESC
	`
	return r.list(ctx, query, requesterNpub)
}

func (r *PostgresRepository) ListPendingByTarget(ctx context.Context, targetNpub string) ([]*models.KeyRequestView, error) {
	query := viewColumns + `
		WHERE r.target_npub = $1 AND r.status = 'pending'
		ORDER BY r.created_at
	`
	return r.list(ctx, query, targetNpub)
}

func (r *PostgresRepository) ListPendingByTeam(ctx context.Context, teamID string) ([]*models.KeyRequestView, error) {
	query := viewColumns + `
		WHERE c.team_id = $1 AND r.status = 'pending'
		ORDER BY r.created_at
	`
	return r.list(ctx, query, teamID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.KeyRequestView, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.KeyRequestView
	for rows.Next() {
		var v models.KeyRequestView
		var resolvedAt sql.NullTime
		if err := rows.Scan(
			&v.ID, &v.ChannelID, &v.RequesterNpub, &v.RequesterPubkey, &v.TargetNpub,
			&v.GroupID, &v.InviteCodeHash, &v.Status, &v.CreatedAt, &v.ResolvedBy, &resolvedAt,
			&v.ChannelName, &v.TargetRole,
		); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			v.ResolvedAt = &resolvedAt.Time
		}
		result = append(result, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Resolve is the single winner gate: the update only matches while the row is
// still pending.
func (r *PostgresRepository) Resolve(ctx context.Context, id, status, resolvedBy string, resolvedAt time.Time) (bool, error) {
	query := `
		UPDATE key_requests
		SET status = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'
	`
	res, err := r.db.ExecContext(ctx, query, id, status, resolvedBy, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
