package models

import "time"

// ChannelKey is one generation of a channel's symmetric key wrapped to one
// member's public key. Rows are append-only per (channel, user, version);
// the current key is the row with the highest version for that pair.
type ChannelKey struct {
	ChannelID    string
	UserPubkey   string
	EncryptedKey []byte
	KeyVersion   int64
	CreatedAt    time.Time
}

// Channel is the minimal channel projection this subsystem needs: whether the
// channel is end-to-end encrypted and whether a membership change has flagged
// its key for rotation.
type Channel struct {
	ID            string
	TeamID        string
	Name          string
	Encrypted     bool
	NeedsRotation bool
}
