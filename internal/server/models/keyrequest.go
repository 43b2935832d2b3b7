package models

import "time"

// Key request statuses. pending is the only non-terminal state; fulfilled and
// rejected are final.
const (
	KeyRequestPending   = "pending"
	KeyRequestFulfilled = "fulfilled"
	KeyRequestRejected  = "rejected"
)

// KeyRequest asks an already-authorized member (target) to wrap a channel's
// current key for a newly-authorized one (requester). At most one non-terminal
// request exists per (channel, requester).
type KeyRequest struct {
	ID              string
	ChannelID       string
	RequesterNpub   string
	RequesterPubkey string
	TargetNpub      string
	GroupID         string
	InviteCodeHash  string
	Status          string
	CreatedAt       time.Time
	ResolvedBy      string
	ResolvedAt      *time.Time
}

// Terminal reports whether the request has reached a final state.
func (r *KeyRequest) Terminal() bool {
	return r.Status != KeyRequestPending
}

// KeyRequestView is a listing projection joined with display metadata.
type KeyRequestView struct {
	KeyRequest
	ChannelName string
	TargetRole  string
}
