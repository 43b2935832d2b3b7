package services

import (
	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/models"
)

// isManager reports whether the caller holds a team management role.
func isManager(caller *auth.Identity) bool {
	return caller.Role == models.RoleOwner || caller.Role == models.RoleAdmin
}

// canResolveRequest is the shared authorization predicate for fulfilling or
// rejecting a key request: the addressed target may resolve it, and so may a
// team manager of the channel's team.
func canResolveRequest(caller *auth.Identity, req *models.KeyRequest, channelTeamID string) bool {
	if caller.Npub == req.TargetNpub {
		return true
	}
	return isManager(caller) && caller.TeamID == channelTeamID
}
