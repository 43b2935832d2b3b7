package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig mirrors the subset of Config that may come from the environment.
type envConfig struct {
	Address                    string `env:"ADDRESS"`
	DatabaseDSN                string `env:"DATABASE_DSN"`
	SecretKey                  string `env:"SECRET_KEY"`
	AccessTokenValidityMinutes int    `env:"ACCESS_TOKEN_VALIDITY_MINUTES"`
	InviteTTLMinHours          int    `env:"INVITE_TTL_MIN_HOURS"`
	InviteTTLMaxHours          int    `env:"INVITE_TTL_MAX_HOURS"`
	CommunityMode              *bool  `env:"COMMUNITY_MODE"`
}

// parseEnv overlays values from the process environment. Unset variables
// leave the current values untouched.
func parseEnv(config *Config) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return
	}

	if ec.Address != "" {
		config.EndpointAddrHTTP = ec.Address
	}
	if ec.DatabaseDSN != "" {
		config.DatabaseDSN = ec.DatabaseDSN
	}
	if ec.SecretKey != "" {
		config.SecretKey = ec.SecretKey
	}
	if ec.AccessTokenValidityMinutes > 0 {
		config.AccessTokenValidityDuration = minutes(ec.AccessTokenValidityMinutes)
	}
	if ec.InviteTTLMinHours > 0 {
		config.InviteTTLMin = hours(ec.InviteTTLMinHours)
	}
	if ec.InviteTTLMaxHours > 0 {
		config.InviteTTLMax = hours(ec.InviteTTLMaxHours)
	}
	if ec.CommunityMode != nil {
		config.CommunityMode = *ec.CommunityMode
	}
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func hours(n int) time.Duration { return time.Duration(n) * time.Hour }
