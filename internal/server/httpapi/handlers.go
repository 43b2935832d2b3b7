package httpapi

import (
	"net/http"
	"strconv"

	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/models"
	"github.com/e2chat/keyserver/internal/server/services"
	"nhooyr.io/websocket"
)

func (s *Server) handleInitEncryption(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req struct {
		TeamPubkey string `json:"teamPubkey"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	result, err := s.teams.InitEncryption(r.Context(), caller.TeamID, req.TeamPubkey, caller.Npub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"alreadyInitialized": result.AlreadyInitialized,
		"teamPubkey":         result.TeamPubkey,
	})
}

func (s *Server) handleEncryptionStatus(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	status, err := s.teams.Status(r.Context(), caller.TeamID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized": status.Initialized,
		"teamPubkey":  status.TeamPubkey,
	})
}

func (s *Server) handleGetTeamKey(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	info, err := s.teams.GetTeamKey(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized":      info.Initialized,
		"teamPubkey":       info.TeamPubkey,
		"hasKey":           info.HasKey,
		"encryptedTeamKey": info.EncryptedTeamKey,
	})
}

func (s *Server) handlePutTeamKey(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req struct {
		EncryptedTeamKey []byte `json:"encryptedTeamKey"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.teams.PutTeamKey(r.Context(), caller, req.EncryptedTeamKey); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req struct {
		Role      string   `json:"role"`
		SingleUse bool     `json:"singleUse"`
		TTLHours  int      `json:"ttlHours"`
		GroupIDs  []string `json:"groupIds"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	result, err := s.invites.Create(r.Context(), caller, services.CreateInviteInput{
		TeamID:    caller.TeamID,
		Role:      req.Role,
		SingleUse: req.SingleUse,
		TTLHours:  req.TTLHours,
		GroupIDs:  req.GroupIDs,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"code":      result.Code,
		"codeHash":  result.Invitation.CodeHash,
		"role":      result.Invitation.Role,
		"singleUse": result.Invitation.SingleUse,
		"expiresAt": result.Invitation.ExpiresAt,
	})
}

func (s *Server) handleAttachInviteKey(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req struct {
		CodeHash         string `json:"codeHash"`
		EncryptedTeamKey []byte `json:"encryptedTeamKey"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.invites.AttachKey(r.Context(), caller, req.CodeHash, req.EncryptedTeamKey); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleInvitePreview(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing code query")
		return
	}
	preview, err := s.invites.Preview(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"teamId":     preview.TeamID,
		"role":       preview.Role,
		"singleUse":  preview.SingleUse,
		"expiresAt":  preview.ExpiresAt,
		"hasTeamKey": preview.HasTeamKey,
		"groupCount": preview.GroupCount,
	})
}

func (s *Server) handleInviteKey(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing code query")
		return
	}
	key, err := s.invites.InviteKey(r.Context(), code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"encryptedTeamKey": key.EncryptedTeamKey,
		"creatorPubkey":    key.CreatorPubkey,
	})
}

func (s *Server) handleRedeemInvite(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	result, err := s.invites.Redeem(r.Context(), caller, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"teamId":          result.TeamID,
		"role":            result.Role,
		"alreadyMember":   result.AlreadyMember,
		"requestsCreated": result.RequestsCreated,
	})
}

func (s *Server) handleGetChannelKey(w http.ResponseWriter, r *http.Request, caller *auth.Identity, channelID string) {
	key, err := s.channelKeys.GetKey(r.Context(), caller, channelID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"encrypted_key": key.EncryptedKey,
		"key_version":   key.KeyVersion,
		"created_at":    key.CreatedAt,
	})
}

func (s *Server) handlePutChannelKey(w http.ResponseWriter, r *http.Request, caller *auth.Identity, channelID string) {
	var req struct {
		UserPubkey   string `json:"userPubkey"`
		EncryptedKey []byte `json:"encryptedKey"`
		KeyVersion   int64  `json:"keyVersion"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	key, err := s.channelKeys.PutKey(r.Context(), caller, channelID, req.UserPubkey, req.EncryptedKey, req.KeyVersion)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"channelId":  key.ChannelID,
		"userPubkey": key.UserPubkey,
		"keyVersion": key.KeyVersion,
	})
}

func (s *Server) handlePutChannelKeyBatch(w http.ResponseWriter, r *http.Request, caller *auth.Identity, channelID string) {
	var req struct {
		Keys []struct {
			UserPubkey   string `json:"userPubkey"`
			EncryptedKey []byte `json:"encryptedKey"`
		} `json:"keys"`
		KeyVersion   int64 `json:"keyVersion"`
		SetEncrypted bool  `json:"setEncrypted"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	keys := make([]services.BatchKeyInput, 0, len(req.Keys))
	for _, k := range req.Keys {
		keys = append(keys, services.BatchKeyInput{UserPubkey: k.UserPubkey, EncryptedKey: k.EncryptedKey})
	}
	result, err := s.channelKeys.PutKeyBatch(r.Context(), caller, channelID, keys, req.KeyVersion, req.SetEncrypted)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keyVersion": result.KeyVersion,
		"stored":     result.Stored,
	})
}

func requestViews(views []*models.KeyRequestView) []map[string]any {
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		out = append(out, map[string]any{
			"id":              v.ID,
			"channelId":       v.ChannelID,
			"channelName":     v.ChannelName,
			"requesterNpub":   v.RequesterNpub,
			"requesterPubkey": v.RequesterPubkey,
			"targetNpub":      v.TargetNpub,
			"status":          v.Status,
			"createdAt":       v.CreatedAt,
		})
	}
	return out
}

func (s *Server) handleListOwnRequests(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	views, err := s.keyRequests.ListOwn(r.Context(), caller.Npub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requestViews(views)})
}

func (s *Server) handleListPendingRequests(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	views, err := s.keyRequests.ListPending(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requestViews(views)})
}

func (s *Server) handleFulfillRequest(w http.ResponseWriter, r *http.Request, caller *auth.Identity, requestID string) {
	var req struct {
		EncryptedKey []byte `json:"encryptedKey"`
		KeyVersion   int64  `json:"keyVersion"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.keyRequests.Fulfill(r.Context(), caller, requestID, req.EncryptedKey, req.KeyVersion); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request, caller *auth.Identity, requestID string) {
	if err := s.keyRequests.Reject(r.Context(), caller, requestID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handlePendingRotations(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	items, err := s.revocations.PendingRotations(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	channels := make([]map[string]any, 0, len(items))
	for _, item := range items {
		members := make([]map[string]any, 0, len(item.Members))
		for _, m := range item.Members {
			members = append(members, map[string]any{
				"npub":        m.Npub,
				"pubkey":      m.Pubkey,
				"heldVersion": m.HeldVersion,
			})
		}
		channels = append(channels, map[string]any{
			"channelId":      item.Channel.ID,
			"channelName":    item.Channel.Name,
			"currentVersion": item.CurrentVersion,
			"members":        members,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (s *Server) handleCommunityBootstrap(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req struct {
		AdminPubkey       string `json:"adminPubkey"`
		AdminEncryptedKey []byte `json:"adminEncryptedKey"`
		UserKeys          []struct {
			UserPubkey   string `json:"userPubkey"`
			EncryptedKey []byte `json:"encryptedKey"`
		} `json:"userKeys"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	keys := make([]services.BootstrapKeyInput, 0, len(req.UserKeys)+1)
	if req.AdminPubkey != "" {
		keys = append(keys, services.BootstrapKeyInput{UserPubkey: req.AdminPubkey, EncryptedKey: req.AdminEncryptedKey})
	}
	for _, k := range req.UserKeys {
		keys = append(keys, services.BootstrapKeyInput{UserPubkey: k.UserPubkey, EncryptedKey: k.EncryptedKey})
	}
	if err := s.community.Bootstrap(r.Context(), caller, keys); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"keysDistributed": len(keys),
	})
}

func (s *Server) handleMemberRemoved(w http.ResponseWriter, r *http.Request, caller *auth.Identity, groupID, memberNpub string) {
	flagged, err := s.revocations.OnMemberRemovedFromGroup(r.Context(), caller, groupID, memberNpub)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"channelsFlagged": flagged,
	})
}

func (s *Server) handleGroupRemoved(w http.ResponseWriter, r *http.Request, caller *auth.Identity, channelID, groupID string) {
	if err := s.revocations.OnGroupRemovedFromChannel(r.Context(), caller, channelID, groupID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCommunityKey(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	key, err := s.community.CommunityKey(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"encryptedKey": key.EncryptedKey,
		"createdAt":    key.CreatedAt,
	})
}

func (s *Server) handleMigrationStatus(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	status, err := s.community.Status(r.Context(), caller)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bootstrapped": status.Bootstrapped,
		"complete":     status.Complete,
		"pending":      status.Pending,
	})
}

func (s *Server) handleMigrationFetch(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	messages, err := s.community.FetchBatch(r.Context(), caller, limit, after)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"id":        m.ID,
			"channelId": m.ChannelID,
			"body":      m.Body,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleMigrationSubmit(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req struct {
		Messages []struct {
			ID         int64  `json:"id"`
			Ciphertext []byte `json:"ciphertext"`
		} `json:"messages"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	batch := make([]services.MigratedMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		batch = append(batch, services.MigratedMessage{ID: m.ID, Ciphertext: m.Ciphertext})
	}
	result, err := s.community.SubmitBatch(r.Context(), caller, batch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updated":   result.Overwritten,
		"remaining": result.Remaining,
		"complete":  result.Complete,
	})
}

// handleWS upgrades the connection and parks it in the hub until the client
// goes away. Events only flow server to client; reads exist to notice the
// close.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket accept failed", "npub", caller.Npub, "error", err)
		return
	}
	remove := s.hub.Add(caller.TeamID, caller.Npub, c)
	defer remove()
	defer c.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}
