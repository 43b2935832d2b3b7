package models

import "time"

// Invitation is a time-limited, optionally single-use invite. The raw code is
// never persisted; only its fixed-length one-way hash. EncryptedTeamKey, when
// attached, is the team key wrapped to the invite-derived keypair and is
// write-once.
type Invitation struct {
	ID               string
	TeamID           string
	CodeHash         string
	Role             string
	SingleUse        bool
	ExpiresAt        time.Time
	CreatedBy        string
	CreatorPubkey    string
	EncryptedTeamKey []byte
	RedeemedCount    int
	GroupIDs         []string
	CreatedAt        time.Time
}

// Expired reports whether the invitation is past its expiry at the given time.
func (i *Invitation) Expired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

// Exhausted reports whether a single-use invitation has already been redeemed.
func (i *Invitation) Exhausted() bool {
	return i.SingleUse && i.RedeemedCount > 0
}
