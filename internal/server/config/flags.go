package config

import (
	"flag"
	"os"

	"github.com/e2chat/keyserver/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-l int      invite TTL lower bound, hours
//	-u int      invite TTL upper bound, hours
//	-m          community (legacy single-tenant) mode
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-l", "-u", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	inviteTTLMin := fs.Int("l", int(config.InviteTTLMin.Hours()), "invite ttl lower bound (in hours)")
	inviteTTLMax := fs.Int("u", int(config.InviteTTLMax.Hours()), "invite ttl upper bound (in hours)")

	fs.BoolVar(&config.CommunityMode, "m", config.CommunityMode, "community (legacy single-tenant) mode")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = minutes(*accessTokenValidity)
	config.InviteTTLMin = hours(*inviteTTLMin)
	config.InviteTTLMax = hours(*inviteTTLMax)
}
