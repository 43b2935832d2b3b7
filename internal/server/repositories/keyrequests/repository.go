package keyrequests

import (
	"context"
	"time"

	"github.com/e2chat/keyserver/internal/server/models"
)

// Repository persists the key request workflow rows. Terminal transitions go
// through the conditional Resolve so that exactly one concurrent resolver
// wins.
type Repository interface {
	// Create inserts a pending request unless one already exists for the
	// (channel, requester) pair. Returns false when the insert was a no-op.
	Create(ctx context.Context, req *models.KeyRequest) (bool, error)
	Get(ctx context.Context, id string) (*models.KeyRequest, error)
	// ListByRequester returns the caller's own requests, newest first.
	ListByRequester(ctx context.Context, requesterNpub string) ([]*models.KeyRequestView, error)
	// ListPendingByTarget returns pending requests addressed to the target.
	ListPendingByTarget(ctx context.Context, targetNpub string) ([]*models.KeyRequestView, error)
	// ListPendingByTeam returns every pending request for channels of the
	// team, for manager/owner callers.
	ListPendingByTeam(ctx context.Context, teamID string) ([]*models.KeyRequestView, error)
	// Resolve transitions a pending request to the given terminal status.
	// Returns false when the request was not pending (someone else won).
	Resolve(ctx context.Context, id, status, resolvedBy string, resolvedAt time.Time) (bool, error)
}
