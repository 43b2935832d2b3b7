package teams

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/e2chat/keyserver/internal/common"
	"github.com/e2chat/keyserver/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestGetEncryptionState_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT team_id, team_pubkey, initialized_by, initialized_at\s+FROM team_encryption_state WHERE team_id = \$1`)

	now := time.Now()
	mock.ExpectQuery(q.String()).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"team_id", "team_pubkey", "initialized_by", "initialized_at"}).
			AddRow("t1", "pk", "npub1", now))

	st, err := repo.GetEncryptionState(context.Background(), "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TeamPubkey != "pk" || st.InitializedBy != "npub1" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestGetEncryptionState_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT team_id, team_pubkey, initialized_by, initialized_at\s+FROM team_encryption_state WHERE team_id = \$1`)

	mock.ExpectQuery(q.String()).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetEncryptionState(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestCreateEncryptionState_FirstWins(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`INSERT INTO team_encryption_state .*ON CONFLICT \(team_id\) DO NOTHING`)

	mock.ExpectExec(q.String()).
		WithArgs("t1", "pk", "npub1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.CreateEncryptionState(context.Background(), &models.TeamEncryptionState{
		TeamID: "t1", TeamPubkey: "pk", InitializedBy: "npub1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatalf("want created=true")
	}
}

func TestCreateEncryptionState_SecondIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`INSERT INTO team_encryption_state .*ON CONFLICT \(team_id\) DO NOTHING`)

	mock.ExpectExec(q.String()).
		WithArgs("t1", "pk2", "npub2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreateEncryptionState(context.Background(), &models.TeamEncryptionState{
		TeamID: "t1", TeamPubkey: "pk2", InitializedBy: "npub2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatalf("want created=false")
	}
}

func TestGetUserTeamKey_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT team_id, user_pubkey, encrypted_team_key, wrapped_by, created_at\s+FROM user_team_keys`)

	mock.ExpectQuery(q.String()).WithArgs("t1", "pk").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserTeamKey(context.Background(), "t1", "pk")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpsertUserTeamKey(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`INSERT INTO user_team_keys .*ON CONFLICT \(team_id, user_pubkey\)\s+DO UPDATE SET encrypted_team_key = EXCLUDED\.encrypted_team_key`)

	mock.ExpectExec(q.String()).
		WithArgs("t1", "pk", []byte("wrapped"), "npub1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertUserTeamKey(context.Background(), &models.UserTeamKey{
		TeamID: "t1", UserPubkey: "pk", EncryptedTeamKey: []byte("wrapped"), WrappedBy: "npub1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddMember_DuplicateIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`INSERT INTO team_members .*ON CONFLICT \(team_id, npub\) DO NOTHING`)

	mock.ExpectExec(q.String()).
		WithArgs("t1", "npub1", "pk", models.RoleMember).
		WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.AddMember(context.Background(), &models.TeamMember{
		TeamID: "t1", Npub: "npub1", Pubkey: "pk", Role: models.RoleMember,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Fatalf("want added=false")
	}
}

func TestGetMember_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.MustCompile(`SELECT team_id, npub, pubkey, role, joined_at\s+FROM team_members`)

	mock.ExpectQuery(q.String()).WithArgs("t1", "npub1").WillReturnError(errors.New("db is down"))

	_, err := repo.GetMember(context.Background(), "t1", "npub1")
	if err == nil || !regexp.MustCompile(`db error: .*db is down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
