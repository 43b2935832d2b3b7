package repomanager

import (
	"context"
	"database/sql"

	"github.com/e2chat/keyserver/internal/dbx"
	"github.com/e2chat/keyserver/internal/server/repositories/channelkeys"
	"github.com/e2chat/keyserver/internal/server/repositories/channels"
	"github.com/e2chat/keyserver/internal/server/repositories/community"
	"github.com/e2chat/keyserver/internal/server/repositories/invitations"
	"github.com/e2chat/keyserver/internal/server/repositories/keyrequests"
	"github.com/e2chat/keyserver/internal/server/repositories/memberships"
	"github.com/e2chat/keyserver/internal/server/repositories/teams"
)

// RepositoryManager vends repositories bound to a DBTX, so a service can use
// the same constructor against the pool or against an open transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Teams(db dbx.DBTX) teams.Repository
	Channels(db dbx.DBTX) channels.Repository
	ChannelKeys(db dbx.DBTX) channelkeys.Repository
	Invitations(db dbx.DBTX) invitations.Repository
	KeyRequests(db dbx.DBTX) keyrequests.Repository
	Memberships(db dbx.DBTX) memberships.Repository
	Community(db dbx.DBTX) community.Repository
}
