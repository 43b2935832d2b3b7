// Package migrations embeds the goose SQL migrations for the key
// distribution schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
