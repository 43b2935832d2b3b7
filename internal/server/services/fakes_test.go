package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/dbx"
	"github.com/e2chat/keyserver/internal/logging"
	"github.com/e2chat/keyserver/internal/server/models"
	"github.com/e2chat/keyserver/internal/server/notify"
	channelkeysrepo "github.com/e2chat/keyserver/internal/server/repositories/channelkeys"
	channelsrepo "github.com/e2chat/keyserver/internal/server/repositories/channels"
	communityrepo "github.com/e2chat/keyserver/internal/server/repositories/community"
	invitationsrepo "github.com/e2chat/keyserver/internal/server/repositories/invitations"
	keyrequestsrepo "github.com/e2chat/keyserver/internal/server/repositories/keyrequests"
	membershipsrepo "github.com/e2chat/keyserver/internal/server/repositories/memberships"
	teamsrepo "github.com/e2chat/keyserver/internal/server/repositories/teams"
)

// --- shared helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

// --- fake bridge ---

type fakeBridge struct {
	mu     sync.Mutex
	events []notify.Event
	npubs  []string
}

func (b *fakeBridge) Publish(teamID, npub string, event notify.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	b.npubs = append(b.npubs, npub)
}

// --- fake repositories ---

type fakeTeamsRepo struct {
	state    *models.TeamEncryptionState
	stateErr error

	created   bool
	createErr error

	userKey    *models.UserTeamKey
	userKeyErr error
	upsertErr  error

	member    *models.TeamMember
	memberErr error

	addedMembers []*models.TeamMember
	addErr       error
}

func (f *fakeTeamsRepo) GetEncryptionState(context.Context, string) (*models.TeamEncryptionState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if f.state == nil {
		return nil, common.ErrNotFound
	}
	return f.state, nil
}

func (f *fakeTeamsRepo) CreateEncryptionState(_ context.Context, st *models.TeamEncryptionState) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	if f.created {
		f.state = st
	}
	return f.created, nil
}

func (f *fakeTeamsRepo) GetUserTeamKey(context.Context, string, string) (*models.UserTeamKey, error) {
	if f.userKeyErr != nil {
		return nil, f.userKeyErr
	}
	if f.userKey == nil {
		return nil, common.ErrNotFound
	}
	return f.userKey, nil
}

func (f *fakeTeamsRepo) UpsertUserTeamKey(_ context.Context, k *models.UserTeamKey) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.userKey = k
	return nil
}

func (f *fakeTeamsRepo) GetMember(context.Context, string, string) (*models.TeamMember, error) {
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	if f.member == nil {
		return nil, common.ErrNotFound
	}
	return f.member, nil
}

func (f *fakeTeamsRepo) AddMember(_ context.Context, m *models.TeamMember) (bool, error) {
	if f.addErr != nil {
		return false, f.addErr
	}
	f.addedMembers = append(f.addedMembers, m)
	return true, nil
}

type fakeChannelsRepo struct {
	channels map[string]*models.Channel

	encryptedSet map[string]bool
	rotationSet  map[string]bool

	needingRotation []*models.Channel
	listErr         error
}

func (f *fakeChannelsRepo) Get(_ context.Context, id string) (*models.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return ch, nil
}

func (f *fakeChannelsRepo) SetEncrypted(_ context.Context, id string, v bool) error {
	if _, ok := f.channels[id]; !ok {
		return common.ErrNotFound
	}
	if f.encryptedSet == nil {
		f.encryptedSet = map[string]bool{}
	}
	f.encryptedSet[id] = v
	return nil
}

func (f *fakeChannelsRepo) SetNeedsRotation(_ context.Context, id string, v bool) error {
	if _, ok := f.channels[id]; !ok {
		return common.ErrNotFound
	}
	if f.rotationSet == nil {
		f.rotationSet = map[string]bool{}
	}
	f.rotationSet[id] = v
	return nil
}

func (f *fakeChannelsRepo) ListNeedingRotation(context.Context, string) ([]*models.Channel, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.needingRotation, nil
}

type fakeChannelKeysRepo struct {
	current    *models.ChannelKey
	currentErr error

	version    int64
	versionErr error

	versionsByUser map[string]int64

	appended  []*models.ChannelKey
	appendErr error
}

func (f *fakeChannelKeysRepo) GetCurrent(context.Context, string, string) (*models.ChannelKey, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	if f.current == nil {
		return nil, common.ErrNotFound
	}
	return f.current, nil
}

func (f *fakeChannelKeysRepo) Append(_ context.Context, k *models.ChannelKey) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, k)
	return nil
}

func (f *fakeChannelKeysRepo) ChannelVersion(context.Context, string) (int64, error) {
	return f.version, f.versionErr
}

func (f *fakeChannelKeysRepo) VersionsByUser(context.Context, string) (map[string]int64, error) {
	return f.versionsByUser, nil
}

type fakeInvitationsRepo struct {
	inv    *models.Invitation
	getErr error

	createdInv  *models.Invitation
	createErr   error
	addedGroups []string

	attachErr error

	consumed   bool
	consumeErr error
}

func (f *fakeInvitationsRepo) Create(_ context.Context, inv *models.Invitation) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.createdInv = inv
	return nil
}

func (f *fakeInvitationsRepo) AddGroups(_ context.Context, _ string, groupIDs []string) error {
	f.addedGroups = append(f.addedGroups, groupIDs...)
	return nil
}

func (f *fakeInvitationsRepo) GetByCodeHash(context.Context, string) (*models.Invitation, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.inv == nil {
		return nil, common.ErrNotFound
	}
	return f.inv, nil
}

func (f *fakeInvitationsRepo) AttachKey(context.Context, string, []byte, string) error {
	return f.attachErr
}

func (f *fakeInvitationsRepo) ConsumeRedemption(context.Context, string, time.Time) (bool, error) {
	if f.consumeErr != nil {
		return false, f.consumeErr
	}
	if f.consumed {
		f.inv.RedeemedCount++
	}
	return f.consumed, nil
}

type fakeKeyRequestsRepo struct {
	createOut bool
	createErr error
	created   []*models.KeyRequest

	req    *models.KeyRequest
	getErr error

	byRequester     []*models.KeyRequestView
	pendingByTarget []*models.KeyRequestView
	pendingByTeam   []*models.KeyRequestView

	resolveOut bool
	resolveErr error
	resolved   []string
}

func (f *fakeKeyRequestsRepo) Create(_ context.Context, req *models.KeyRequest) (bool, error) {
	if f.createErr != nil {
		return false, f.createErr
	}
	if f.createOut {
		f.created = append(f.created, req)
	}
	return f.createOut, nil
}

func (f *fakeKeyRequestsRepo) Get(context.Context, string) (*models.KeyRequest, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.req == nil {
		return nil, common.ErrNotFound
	}
	return f.req, nil
}

func (f *fakeKeyRequestsRepo) ListByRequester(context.Context, string) ([]*models.KeyRequestView, error) {
	return f.byRequester, nil
}

func (f *fakeKeyRequestsRepo) ListPendingByTarget(context.Context, string) ([]*models.KeyRequestView, error) {
	return f.pendingByTarget, nil
}

func (f *fakeKeyRequestsRepo) ListPendingByTeam(context.Context, string) ([]*models.KeyRequestView, error) {
	return f.pendingByTeam, nil
}

func (f *fakeKeyRequestsRepo) Resolve(_ context.Context, id, status, _ string, _ time.Time) (bool, error) {
	if f.resolveErr != nil {
		return false, f.resolveErr
	}
	if f.resolveOut {
		f.resolved = append(f.resolved, id+":"+status)
	}
	return f.resolveOut, nil
}

type fakeMembershipsRepo struct {
	hasAccess    bool
	hasAccessErr error
	// accessByKey overrides hasAccess per "channelID:npub" edge.
	accessByKey map[string]bool

	encryptedChannels []*models.Channel
	channelsForGroup  []*models.Channel
	groupNpubs        []string

	members []*models.TeamMember

	groupAdds []string
	addErr    error
}

func (f *fakeMembershipsRepo) AddGroupMember(_ context.Context, groupID, npub string) (bool, error) {
	if f.addErr != nil {
		return false, f.addErr
	}
	f.groupAdds = append(f.groupAdds, groupID+":"+npub)
	return true, nil
}

func (f *fakeMembershipsRepo) EncryptedChannelsForGroups(context.Context, []string) ([]*models.Channel, error) {
	return f.encryptedChannels, nil
}

func (f *fakeMembershipsRepo) ChannelsForGroup(context.Context, string) ([]*models.Channel, error) {
	return f.channelsForGroup, nil
}

func (f *fakeMembershipsRepo) GroupMemberNpubs(context.Context, string) ([]string, error) {
	return f.groupNpubs, nil
}

func (f *fakeMembershipsRepo) HasChannelAccess(_ context.Context, channelID, npub string) (bool, error) {
	if v, ok := f.accessByKey[channelID+":"+npub]; ok {
		return v, f.hasAccessErr
	}
	return f.hasAccess, f.hasAccessErr
}

func (f *fakeMembershipsRepo) MembersForChannel(context.Context, string) ([]*models.TeamMember, error) {
	return f.members, nil
}

type fakeCommunityRepo struct {
	flags    map[string]string
	keys     map[string]*models.CommunityKey
	pending  int64
	messages []*models.LegacyMessage

	overwriteOK  bool
	overwriteErr error
	overwritten  []int64
}

func (f *fakeCommunityRepo) GetFlag(_ context.Context, key string) (string, error) {
	v, ok := f.flags[key]
	if !ok {
		return "", common.ErrNotFound
	}
	return v, nil
}

func (f *fakeCommunityRepo) SetFlag(_ context.Context, key, value string) error {
	if f.flags == nil {
		f.flags = map[string]string{}
	}
	f.flags[key] = value
	return nil
}

func (f *fakeCommunityRepo) UpsertKey(_ context.Context, k *models.CommunityKey) error {
	if f.keys == nil {
		f.keys = map[string]*models.CommunityKey{}
	}
	f.keys[k.UserPubkey] = k
	return nil
}

func (f *fakeCommunityRepo) GetKey(_ context.Context, pubkey string) (*models.CommunityKey, error) {
	k, ok := f.keys[pubkey]
	if !ok {
		return nil, common.ErrNotFound
	}
	return k, nil
}

func (f *fakeCommunityRepo) PendingMessageCount(context.Context) (int64, error) {
	return f.pending, nil
}

func (f *fakeCommunityRepo) FetchMessageBatch(context.Context, int, int64) ([]*models.LegacyMessage, error) {
	return f.messages, nil
}

func (f *fakeCommunityRepo) OverwriteMessage(_ context.Context, id int64, _ []byte) (bool, error) {
	if f.overwriteErr != nil {
		return false, f.overwriteErr
	}
	if f.overwriteOK {
		f.overwritten = append(f.overwritten, id)
		if f.pending > 0 {
			f.pending--
		}
	}
	return f.overwriteOK, nil
}

// --- fake repository manager ---

type fakeRepoManager struct {
	teams       *fakeTeamsRepo
	channels    *fakeChannelsRepo
	channelKeys *fakeChannelKeysRepo
	invitations *fakeInvitationsRepo
	keyRequests *fakeKeyRequestsRepo
	memberships *fakeMembershipsRepo
	community   *fakeCommunityRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Teams(dbx.DBTX) teamsrepo.Repository          { return m.teams }
func (m *fakeRepoManager) Channels(dbx.DBTX) channelsrepo.Repository    { return m.channels }
func (m *fakeRepoManager) ChannelKeys(dbx.DBTX) channelkeysrepo.Repository {
	return m.channelKeys
}
func (m *fakeRepoManager) Invitations(dbx.DBTX) invitationsrepo.Repository {
	return m.invitations
}
func (m *fakeRepoManager) KeyRequests(dbx.DBTX) keyrequestsrepo.Repository {
	return m.keyRequests
}
func (m *fakeRepoManager) Memberships(dbx.DBTX) membershipsrepo.Repository {
	return m.memberships
}
func (m *fakeRepoManager) Community(dbx.DBTX) communityrepo.Repository { return m.community }
