package memberships

import (
	"context"

	"github.com/e2chat/keyserver/internal/server/models"
)

// Repository stores the group/channel access edges and answers the
// reachability questions the revocation coordinator and access checks need.
// Edge mutations triggered by admin UI flows live elsewhere; this subsystem
// only adds edges during invite redemption.
type Repository interface {
	// AddGroupMember inserts a (group, user) edge; false when already present.
	AddGroupMember(ctx context.Context, groupID, npub string) (bool, error)
	// EncryptedChannelsForGroups lists the distinct encrypted channels
	// reachable through any of the given groups.
	EncryptedChannelsForGroups(ctx context.Context, groupIDs []string) ([]*models.Channel, error)
	// ChannelsForGroup lists channels the group is attached to.
	ChannelsForGroup(ctx context.Context, groupID string) ([]*models.Channel, error)
	// GroupMemberNpubs lists the npubs of the group's members.
	GroupMemberNpubs(ctx context.Context, groupID string) ([]string, error)
	// HasChannelAccess reports whether npub reaches the channel through any
	// attached group.
	HasChannelAccess(ctx context.Context, channelID, npub string) (bool, error)
	// MembersForChannel lists the distinct team members reaching the channel
	// through any attached group.
	MembersForChannel(ctx context.Context, channelID string) ([]*models.TeamMember, error)
}
