package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/models"
	"github.com/e2chat/keyserver/internal/server/repositories/repomanager"
)

// RevocationService reacts to access removals. Revocation is advisory: losing
// access to a channel marks it as needing rotation, and a later batch key
// distribution at a fresh version actually locks the removed member out of
// new messages. Old ciphertext stays readable to anyone who held the old key.
type RevocationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewRevocationService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *RevocationService {
	return &RevocationService{db: db, repomanager: m, logger: l.With("module", "revocation_service")}
}

// OnMemberRemovedFromGroup is called after the (group, member) edge is gone.
// For each encrypted channel the group reached it recomputes whether the
// member still has a path through another group, and flags only the channels
// where access was actually lost.
func (s *RevocationService) OnMemberRemovedFromGroup(ctx context.Context, caller *auth.Identity, groupID, memberNpub string) (int, error) {
	if !isManager(caller) {
		return 0, common.ErrForbidden
	}
	if groupID == "" || memberNpub == "" {
		return 0, fmt.Errorf("%w: group id and member are required", common.ErrInvalidInput)
	}

	membershipRepo := s.repomanager.Memberships(s.db)
	channels, err := membershipRepo.ChannelsForGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("error listing group channels: %w", err)
	}

	flagged := 0
	for _, ch := range channels {
		if !ch.Encrypted {
			continue
		}
		retained, err := membershipRepo.HasChannelAccess(ctx, ch.ID, memberNpub)
		if err != nil {
			return flagged, fmt.Errorf("error recomputing access for channel %s: %w", ch.ID, err)
		}
		if retained {
			continue
		}
		if err := s.repomanager.Channels(s.db).SetNeedsRotation(ctx, ch.ID, true); err != nil {
			return flagged, fmt.Errorf("error flagging channel %s: %w", ch.ID, err)
		}
		flagged++
	}
	if flagged > 0 {
		s.logger.Info(ctx, "channels flagged for rotation", "count", flagged, "reason", "member_removed", "npub", memberNpub)
	}
	return flagged, nil
}

// OnGroupRemovedFromChannel is called after the (channel, group) edge is
// gone. The channel is flagged only when at least one member of the removed
// group has no remaining path through the channel's other groups.
func (s *RevocationService) OnGroupRemovedFromChannel(ctx context.Context, caller *auth.Identity, channelID, groupID string) error {
	if !isManager(caller) {
		return common.ErrForbidden
	}

	ch, err := s.repomanager.Channels(s.db).Get(ctx, channelID)
	if err != nil {
		return err
	}
	if !ch.Encrypted {
		return nil
	}

	membershipRepo := s.repomanager.Memberships(s.db)
	npubs, err := membershipRepo.GroupMemberNpubs(ctx, groupID)
	if err != nil {
		return fmt.Errorf("error listing group members: %w", err)
	}
	lost := false
	for _, npub := range npubs {
		retained, err := membershipRepo.HasChannelAccess(ctx, channelID, npub)
		if err != nil {
			return fmt.Errorf("error recomputing access for %s: %w", npub, err)
		}
		if !retained {
			lost = true
			break
		}
	}
	if !lost {
		return nil
	}

	if err := s.repomanager.Channels(s.db).SetNeedsRotation(ctx, channelID, true); err != nil {
		return fmt.Errorf("error flagging channel: %w", err)
	}
	s.logger.Info(ctx, "channel flagged for rotation", "channel_id", channelID, "reason", "group_removed", "group_id", groupID)
	return nil
}

// RotationItem describes one channel waiting for a key rotation, with the
// versions each current member holds so the admin client can see who lags.
type RotationItem struct {
	Channel        *models.Channel
	CurrentVersion int64
	Members        []RotationMember
}

// RotationMember pairs a channel member with the highest key version they
// hold. HeldVersion zero means the member has no key yet.
type RotationMember struct {
	Npub        string
	Pubkey      string
	HeldVersion int64
}

// PendingRotations lists the team's channels flagged for rotation, each with
// its member roster and per-member held versions. Managers only.
func (s *RevocationService) PendingRotations(ctx context.Context, caller *auth.Identity) ([]*RotationItem, error) {
	if !isManager(caller) {
		return nil, common.ErrForbidden
	}

	channels, err := s.repomanager.Channels(s.db).ListNeedingRotation(ctx, caller.TeamID)
	if err != nil {
		return nil, fmt.Errorf("error listing flagged channels: %w", err)
	}

	items := make([]*RotationItem, 0, len(channels))
	for _, ch := range channels {
		version, err := s.repomanager.ChannelKeys(s.db).ChannelVersion(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("error reading channel version: %w", err)
		}

		members, err := s.repomanager.Memberships(s.db).MembersForChannel(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("error listing channel members: %w", err)
		}
		held, err := s.repomanager.ChannelKeys(s.db).VersionsByUser(ctx, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("error reading held versions: %w", err)
		}

		item := &RotationItem{Channel: ch, CurrentVersion: version}
		for _, m := range members {
			item.Members = append(item.Members, RotationMember{
				Npub:        m.Npub,
				Pubkey:      m.Pubkey,
				HeldVersion: held[m.Pubkey],
			})
		}
		items = append(items, item)
	}
	return items, nil
}
