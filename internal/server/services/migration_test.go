package services

import (
	"context"
	"errors"
	"testing"

	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/server/models"
)

func TestCommunity_DisabledModeHidesEverything(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	s := NewCommunityService(db, &fakeRepoManager{community: &fakeCommunityRepo{}}, false, testLogger())

	if err := s.Bootstrap(context.Background(), adminIdentity(), []BootstrapKeyInput{{UserPubkey: "pk", EncryptedKey: []byte("k")}}); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Bootstrap: want ErrNotFound, got %v", err)
	}
	if _, err := s.CommunityKey(context.Background(), memberIdentity()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("CommunityKey: want ErrNotFound, got %v", err)
	}
	if _, err := s.Status(context.Background(), adminIdentity()); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("Status: want ErrNotFound, got %v", err)
	}
}

func TestBootstrap_MemberForbidden(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	s := NewCommunityService(db, &fakeRepoManager{community: &fakeCommunityRepo{}}, true, testLogger())

	err := s.Bootstrap(context.Background(), memberIdentity(), []BootstrapKeyInput{{UserPubkey: "pk", EncryptedKey: []byte("k")}})
	if !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
}

func TestBootstrap_StoresKeysAndLatchesFlag(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &fakeCommunityRepo{}
	s := NewCommunityService(db, &fakeRepoManager{community: repo}, true, testLogger())

	err := s.Bootstrap(context.Background(), adminIdentity(), []BootstrapKeyInput{
		{UserPubkey: "pk1", EncryptedKey: []byte("k1")},
		{UserPubkey: "pk2", EncryptedKey: []byte("k2")},
	})
	if err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}
	if len(repo.keys) != 2 {
		t.Fatalf("want 2 stored keys, got %d", len(repo.keys))
	}
	if repo.flags[models.CommunityFlagBootstrapped] != "true" {
		t.Fatalf("bootstrap flag must latch, got %v", repo.flags)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestBootstrap_SecondCallFails(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	repo := &fakeCommunityRepo{flags: map[string]string{models.CommunityFlagBootstrapped: "true"}}
	s := NewCommunityService(db, &fakeRepoManager{community: repo}, true, testLogger())

	err := s.Bootstrap(context.Background(), adminIdentity(), []BootstrapKeyInput{
		{UserPubkey: "pk1", EncryptedKey: []byte("k1")},
	})
	if !errors.Is(err, common.ErrAlreadyBootstrapped) {
		t.Fatalf("want ErrAlreadyBootstrapped, got %v", err)
	}
	if len(repo.keys) != 0 {
		t.Fatalf("second bootstrap must not store keys")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCommunityKey_ReturnsCallerKey(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeCommunityRepo{keys: map[string]*models.CommunityKey{
		"pk-m": {UserPubkey: "pk-m", EncryptedKey: []byte("wrapped")},
	}}
	s := NewCommunityService(db, &fakeRepoManager{community: repo}, true, testLogger())

	key, err := s.CommunityKey(context.Background(), memberIdentity())
	if err != nil {
		t.Fatalf("CommunityKey error: %v", err)
	}
	if string(key.EncryptedKey) != "wrapped" {
		t.Fatalf("unexpected key: %+v", key)
	}
}

func TestStatus_AggregatesFlagsAndPending(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	repo := &fakeCommunityRepo{
		flags:   map[string]string{models.CommunityFlagBootstrapped: "true"},
		pending: 7,
	}
	s := NewCommunityService(db, &fakeRepoManager{community: repo}, true, testLogger())

	st, err := s.Status(context.Background(), adminIdentity())
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if !st.Bootstrapped || st.Complete || st.Pending != 7 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestFetchBatch_MemberForbidden(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	s := NewCommunityService(db, &fakeRepoManager{community: &fakeCommunityRepo{}}, true, testLogger())

	_, err := s.FetchBatch(context.Background(), memberIdentity(), 100, 0)
	if !errors.Is(err, common.ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}
}

func TestSubmitBatch_CompletionLatchesAtZeroPending(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &fakeCommunityRepo{pending: 2, overwriteOK: true}
	s := NewCommunityService(db, &fakeRepoManager{community: repo}, true, testLogger())

	result, err := s.SubmitBatch(context.Background(), adminIdentity(), []MigratedMessage{
		{ID: 1, Ciphertext: []byte("ct1")},
		{ID: 2, Ciphertext: []byte("ct2")},
	})
	if err != nil {
		t.Fatalf("SubmitBatch error: %v", err)
	}
	if result.Overwritten != 2 || result.Remaining != 0 || !result.Complete {
		t.Fatalf("unexpected result: %+v", result)
	}
	if repo.flags[models.CommunityFlagMigrationComplete] != "true" {
		t.Fatalf("completion flag must latch, got %v", repo.flags)
	}
}

func TestSubmitBatch_PartialLeavesFlagUnset(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	repo := &fakeCommunityRepo{pending: 5, overwriteOK: true}
	s := NewCommunityService(db, &fakeRepoManager{community: repo}, true, testLogger())

	result, err := s.SubmitBatch(context.Background(), adminIdentity(), []MigratedMessage{
		{ID: 1, Ciphertext: []byte("ct1")},
	})
	if err != nil {
		t.Fatalf("SubmitBatch error: %v", err)
	}
	if result.Remaining != 4 || result.Complete {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, ok := repo.flags[models.CommunityFlagMigrationComplete]; ok {
		t.Fatalf("completion flag must stay unset")
	}
}

func TestSubmitBatch_UnknownMessageRollsBack(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	repo := &fakeCommunityRepo{pending: 1, overwriteOK: false}
	s := NewCommunityService(db, &fakeRepoManager{community: repo}, true, testLogger())

	_, err := s.SubmitBatch(context.Background(), adminIdentity(), []MigratedMessage{
		{ID: 99, Ciphertext: []byte("ct")},
	})
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSubmitBatch_EmptyBatchRejected(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	s := NewCommunityService(db, &fakeRepoManager{community: &fakeCommunityRepo{}}, true, testLogger())

	_, err := s.SubmitBatch(context.Background(), adminIdentity(), nil)
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}
