// Package httpapi exposes the key distribution operations over HTTP/JSON and
// the websocket notification stream.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/auth"
	"github.com/e2chat/keyserver/internal/server/notify"
	"github.com/e2chat/keyserver/internal/server/services"
)

// Server routes requests to the services. Unauthenticated routes are limited
// to the invite preview and invite key lookups, which authenticate by
// possession of the raw code instead.
type Server struct {
	secretKey   []byte
	teams       *services.TeamService
	channelKeys *services.ChannelKeyService
	invites     *services.InviteService
	keyRequests *services.KeyRequestService
	revocations *services.RevocationService
	community   *services.CommunityService
	hub         *notify.Hub
	logger      logging.Logger
}

type Services struct {
	Teams       *services.TeamService
	ChannelKeys *services.ChannelKeyService
	Invites     *services.InviteService
	KeyRequests *services.KeyRequestService
	Revocations *services.RevocationService
	Community   *services.CommunityService
}

func NewServer(secretKey []byte, svc Services, hub *notify.Hub, logger logging.Logger) *Server {
	return &Server{
		secretKey:   secretKey,
		teams:       svc.Teams,
		channelKeys: svc.ChannelKeys,
		invites:     svc.Invites,
		keyRequests: svc.KeyRequests,
		revocations: svc.Revocations,
		community:   svc.Community,
		hub:         hub,
		logger:      logger.With("module", "httpapi"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	path, ok := strings.CutPrefix(r.URL.Path, "/api/v1/")
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}
	parts := strings.Split(path, "/")

	// Code-bearing routes; no token required.
	switch {
	case len(parts) == 2 && parts[0] == "invites" && parts[1] == "preview" && r.Method == http.MethodGet:
		s.handleInvitePreview(w, r)
		return
	case len(parts) == 2 && parts[0] == "team" && parts[1] == "invite-key" && r.Method == http.MethodGet:
		s.handleInviteKey(w, r)
		return
	}

	caller, err := s.authorize(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "ws" && r.Method == http.MethodGet:
		s.handleWS(w, r, caller)

	case len(parts) == 2 && parts[0] == "team" && parts[1] == "init-encryption" && r.Method == http.MethodPost:
		s.handleInitEncryption(w, r, caller)
	case len(parts) == 2 && parts[0] == "team" && parts[1] == "encryption-status" && r.Method == http.MethodGet:
		s.handleEncryptionStatus(w, r, caller)
	case len(parts) == 2 && parts[0] == "team" && parts[1] == "key" && r.Method == http.MethodGet:
		s.handleGetTeamKey(w, r, caller)
	case len(parts) == 2 && parts[0] == "team" && parts[1] == "key" && r.Method == http.MethodPost:
		s.handlePutTeamKey(w, r, caller)

	case len(parts) == 1 && parts[0] == "invites" && r.Method == http.MethodPost:
		s.handleCreateInvite(w, r, caller)
	case len(parts) == 2 && parts[0] == "invites" && parts[1] == "attach-key" && r.Method == http.MethodPost:
		s.handleAttachInviteKey(w, r, caller)
	case len(parts) == 2 && parts[0] == "invites" && parts[1] == "redeem" && r.Method == http.MethodPost:
		s.handleRedeemInvite(w, r, caller)

	case len(parts) == 2 && parts[0] == "channels" && parts[1] == "pending-keys" && r.Method == http.MethodGet:
		s.handlePendingRotations(w, r, caller)
	case len(parts) == 3 && parts[0] == "channels" && parts[2] == "key" && r.Method == http.MethodGet:
		s.handleGetChannelKey(w, r, caller, parts[1])
	case len(parts) == 3 && parts[0] == "channels" && parts[2] == "key" && r.Method == http.MethodPost:
		s.handlePutChannelKey(w, r, caller, parts[1])
	case len(parts) == 4 && parts[0] == "channels" && parts[2] == "keys" && parts[3] == "batch" && r.Method == http.MethodPost:
		s.handlePutChannelKeyBatch(w, r, caller, parts[1])

	case len(parts) == 5 && parts[0] == "groups" && parts[2] == "members" && parts[4] == "removed" && r.Method == http.MethodPost:
		s.handleMemberRemoved(w, r, caller, parts[1], parts[3])
	case len(parts) == 5 && parts[0] == "channels" && parts[2] == "groups" && parts[4] == "removed" && r.Method == http.MethodPost:
		s.handleGroupRemoved(w, r, caller, parts[1], parts[3])

	case len(parts) == 1 && parts[0] == "key-requests" && r.Method == http.MethodGet:
		s.handleListOwnRequests(w, r, caller)
	case len(parts) == 2 && parts[0] == "key-requests" && parts[1] == "pending" && r.Method == http.MethodGet:
		s.handleListPendingRequests(w, r, caller)
	case len(parts) == 3 && parts[0] == "key-requests" && parts[2] == "fulfill" && r.Method == http.MethodPost:
		s.handleFulfillRequest(w, r, caller, parts[1])
	case len(parts) == 3 && parts[0] == "key-requests" && parts[2] == "reject" && r.Method == http.MethodPost:
		s.handleRejectRequest(w, r, caller, parts[1])

	case len(parts) == 2 && parts[0] == "community" && parts[1] == "bootstrap" && r.Method == http.MethodPost:
		s.handleCommunityBootstrap(w, r, caller)
	case len(parts) == 2 && parts[0] == "community" && parts[1] == "key" && r.Method == http.MethodGet:
		s.handleCommunityKey(w, r, caller)
	case len(parts) == 3 && parts[0] == "community" && parts[1] == "migration" && parts[2] == "status" && r.Method == http.MethodGet:
		s.handleMigrationStatus(w, r, caller)
	case len(parts) == 3 && parts[0] == "community" && parts[1] == "migration" && parts[2] == "batch" && r.Method == http.MethodGet:
		s.handleMigrationFetch(w, r, caller)
	case len(parts) == 3 && parts[0] == "community" && parts[1] == "migration" && parts[2] == "batch" && r.Method == http.MethodPost:
		s.handleMigrationSubmit(w, r, caller)

	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) authorize(r *http.Request) (*auth.Identity, error) {
	header := r.Header.Get(common.AuthorizationHeaderName)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		// Browsers cannot set headers on websocket dials; accept the token
		// as a query parameter on the stream route only.
		if strings.HasSuffix(r.URL.Path, "/ws") {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			return nil, common.ErrInvalidToken
		}
	}
	return auth.IdentityFromToken(strings.TrimSpace(token), s.secretKey)
}
