package config

import (
	"encoding/json"
	"os"

	"github.com/e2chat/keyserver/internal/flagx"
)

// jsonConfig mirrors Config with optional fields so an overlay file may set
// only some of them. Durations are given in minutes.
type jsonConfig struct {
	Address                     *string `json:"address"`
	DatabaseDSN                 *string `json:"database_dsn"`
	SecretKey                   *string `json:"secret_key"`
	AccessTokenValidityMinutes  *int    `json:"access_token_validity_minutes"`
	InviteTTLMinHours           *int    `json:"invite_ttl_min_hours"`
	InviteTTLMaxHours           *int    `json:"invite_ttl_max_hours"`
	CommunityMode               *bool   `json:"community_mode"`
}

// parseJSON overlays values from the JSON file given via -c/-config, if any.
// A missing or malformed file is not an error; defaults stay in effect.
func parseJSON(config *Config) {
	path := flagx.JSONConfigFlags()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return
	}

	applyJSON(config, &jc)
}

func applyJSON(config *Config, jc *jsonConfig) {
	if jc.Address != nil {
		config.EndpointAddrHTTP = *jc.Address
	}
	if jc.DatabaseDSN != nil {
		config.DatabaseDSN = *jc.DatabaseDSN
	}
	if jc.SecretKey != nil {
		config.SecretKey = *jc.SecretKey
	}
	if jc.AccessTokenValidityMinutes != nil {
		config.AccessTokenValidityDuration = minutes(*jc.AccessTokenValidityMinutes)
	}
	if jc.InviteTTLMinHours != nil {
		config.InviteTTLMin = hours(*jc.InviteTTLMinHours)
	}
	if jc.InviteTTLMaxHours != nil {
		config.InviteTTLMax = hours(*jc.InviteTTLMaxHours)
	}
	if jc.CommunityMode != nil {
		config.CommunityMode = *jc.CommunityMode
	}
}
