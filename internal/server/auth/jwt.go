// Package auth mints and validates the access tokens carried on API calls.
// The session layer that verifies a member's public key at login is external;
// this package only transports the verified identity.
package auth

import (
	"time"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified caller identity supplied by the auth layer:
// the member handle (npub), their encryption public key, their team and role.
type Identity struct {
	Npub   string
	Pubkey string
	TeamID string
	Role   string
}

// Claims carries the registered claims plus the caller identity.
type Claims struct {
	jwt.RegisteredClaims
	Npub   string `json:"npub"`
	Pubkey string `json:"pubkey"`
	TeamID string `json:"team_id"`
	Role   string `json:"role"`
}

// GenerateToken signs an HS256 token for the identity.
func GenerateToken(id Identity, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		Npub:   id.Npub,
		Pubkey: id.Pubkey,
		TeamID: id.TeamID,
		Role:   id.Role,
	})

	return token.SignedString(secretKey)
}

// IdentityFromToken parses and validates a token, returning the embedded
// identity. Invalid or expired tokens yield common.ErrInvalidToken.
func IdentityFromToken(tokenString string, secretKey []byte) (*Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	if !token.Valid || claims.Npub == "" {
		return nil, common.ErrInvalidToken
	}

	return &Identity{
		Npub:   claims.Npub,
		Pubkey: claims.Pubkey,
		TeamID: claims.TeamID,
		Role:   claims.Role,
	}, nil
}
