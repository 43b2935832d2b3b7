// Package models holds the row structs persisted by the key distribution
// subsystem. Every *Key field is ciphertext wrapped client-side; the server
// never sees plaintext key material.
package models

import "time"

// TeamEncryptionState marks a team as having bootstrapped end-to-end
// encryption. One row per team, immutable once created.
type TeamEncryptionState struct {
	TeamID        string
	TeamPubkey    string
	InitializedBy string
	InitializedAt time.Time
}

// UserTeamKey is the team symmetric key wrapped to one member's public key.
// One row per (team, user), written only by the owning user.
type UserTeamKey struct {
	TeamID           string
	UserPubkey       string
	EncryptedTeamKey []byte
	WrappedBy        string
	CreatedAt        time.Time
}

// Team member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// TeamMember is the minimal membership projection this subsystem needs for
// authorization checks. Full member profiles live elsewhere.
type TeamMember struct {
	TeamID   string
	Npub     string
	Pubkey   string
	Role     string
	JoinedAt time.Time
}
