// Package memberships provides the PostgreSQL repository for group/channel
// access edges and reachability queries.
package memberships

import (
	"context"
	"fmt"

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

func (r *PostgresRepository) AddGroupMember(ctx context.Context, groupID, npub string) (bool, error) {
	query := `
		INSERT INTO group_members (group_id, npub)
		VALUES ($1, $2)
		ON CONFLICT (group_id, npub) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, groupID, npub)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) EncryptedChannelsForGroups(ctx context.Context, groupIDs []string) ([]*models.Channel, error) {
	query := `
		SELECT DISTINCT c.id, c.team_id, c.name, c.encrypted, c.needs_rotation
		FROM channels c
		JOIN channel_groups cg ON cg.channel_id = c.id
		WHERE c.encrypted AND cg.group_id = ANY($1)
		ORDER BY c.id
	`
	return r.listChannels(ctx, query, groupIDs)
}

func (r *PostgresRepository) ChannelsForGroup(ctx context.Context, groupID string) ([]*models.Channel, error) {
	query := `
		SELECT c.id, c.team_id, c.name, c.encrypted, c.needs_rotation
		FROM channels c
		JOIN channel_groups cg ON cg.channel_id = c.id
		WHERE cg.group_id = $1
		ORDER BY c.id
	`
	return r.listChannels(ctx, query, groupID)
}

func (r *PostgresRepository) listChannels(ctx context.Context, query string, args ...any) ([]*models.Channel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

func (r *PostgresRepository) GroupMemberNpubs(ctx context.Context, groupID string) ([]string, error) {
	query := `SELECT npub FROM group_members WHERE group_id = $1 ORDER BY npub`
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var npub string
		if err := rows.Scan(&npub); err != nil {
			return nil, err
		}
		result = append(result, npub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) HasChannelAccess(ctx context.Context, channelID, npub string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM channel_groups cg
			JOIN group_members gm ON gm.group_id = cg.group_id
			WHERE cg.channel_id = $1 AND gm.npub = $2
		)
	`
	var has bool
	if err := r.db.QueryRowContext(ctx, query, channelID, npub).Scan(&has); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return has, nil
}

func (r *PostgresRepository) MembersForChannel(ctx context.Context, channelID string) ([]*models.TeamMember, error) {
	query := `
		SELECT DISTINCT tm.team_id, tm.npub, tm.pubkey, tm.role
		FROM channel_groups cg
		JOIN group_members gm ON gm.group_id = cg.group_id
		JOIN channels c ON c.id = cg.channel_id
		JOIN team_members tm ON tm.team_id = c.team_id AND tm.npub = gm.npub
		WHERE cg.channel_id = $1
		ORDER BY tm.npub
	`
	rows, err := r.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.TeamMember
	for rows.Next() {
		var m models.TeamMember
		if err := rows.Scan(&m.TeamID, &m.Npub, &m.Pubkey, &m.Role); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
