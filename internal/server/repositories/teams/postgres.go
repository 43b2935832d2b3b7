// Package teams provides the PostgreSQL repository for team encryption state
// and the membership projection.
package teams

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

func (r *PostgresRepository) GetEncryptionState(ctx context.Context, teamID string) (*models.TeamEncryptionState, error) {
	query := `
		SELECT team_id, team_pubkey, initialized_by, initialized_at
		FROM team_encryption_state WHERE team_id = $1
	`
	var st models.TeamEncryptionState
	err := r.db.QueryRowContext(ctx, query, teamID).
		Scan(&st.TeamID, &st.TeamPubkey, &st.InitializedBy, &st.InitializedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &st, nil
}

func (r *PostgresRepository) CreateEncryptionState(ctx context.Context, st *models.TeamEncryptionState) (bool, error) {
	query := `
		INSERT INTO team_encryption_state (team_id, team_pubkey, initialized_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, st.TeamID, st.TeamPubkey, st.InitializedBy)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) GetUserTeamKey(ctx context.Context, teamID, userPubkey string) (*models.UserTeamKey, error) {
	query := `
		SELECT team_id, user_pubkey, encrypted_team_key, wrapped_by, created_at
		FROM user_team_keys WHERE team_id = $1 AND user_pubkey = $2
	`
	var k models.UserTeamKey
	err := r.db.QueryRowContext(ctx, query, teamID, userPubkey).
		Scan(&k.TeamID, &k.UserPubkey, &k.EncryptedTeamKey, &k.WrappedBy, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &k, nil
}

func (r *PostgresRepository) UpsertUserTeamKey(ctx context.Context, key *models.UserTeamKey) error {
	query := `
		INSERT INTO user_team_keys (team_id, user_pubkey, encrypted_team_key, wrapped_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, user_pubkey)
		DO UPDATE SET encrypted_team_key = EXCLUDED.encrypted_team_key, wrapped_by = EXCLUDED.wrapped_by
	`
	if _, err := r.db.ExecContext(ctx, query, key.TeamID, key.UserPubkey, key.EncryptedTeamKey, key.WrappedBy); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMember(ctx context.Context, teamID, npub string) (*models.TeamMember, error) {
	query := `
		SELECT team_id, npub, pubkey, role, joined_at
		FROM team_members WHERE team_id = $1 AND npub = $2
	`
	var m models.TeamMember
	err := r.db.QueryRowContext(ctx, query, teamID, npub).
		Scan(&m.TeamID, &m.Npub, &m.Pubkey, &m.Role, &m.JoinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) AddMember(ctx context.Context, m *models.TeamMember) (bool, error) {
	query := `
		INSERT INTO team_members (team_id, npub, pubkey, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, npub) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, m.TeamID, m.Npub, m.Pubkey, m.Role)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}
