// Package cryptox holds the server-side crypto helpers. The server never
// handles plaintext key material; all it needs is random invite codes and a
// one-way fixed-length hash for storing them.
package cryptox

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// codeEncoding is unpadded base32 so codes are copy-paste and URL safe.
var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewInviteCode returns a random 160-bit opaque invite code (32 base32
// characters). Clients derive the invite mailbox keypair from it; the server
// persists only its hash.
func NewInviteCode() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return codeEncoding.EncodeToString(raw), nil
}

// HashInviteCode returns the hex BLAKE2b-256 digest of the code. This is the
// only form of the code that ever reaches storage.
func HashInviteCode(code string) string {
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
