package chunks

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const insertQ = `(?s)^INSERT\s+INTO\s+storage_chunks\b.*VALUES\s*\(\$1,.*\$11\)\s*$`

func sampleChunk() *models.Chunk {
	return &models.Chunk{
		ID: "c1", FileID: "f1", Index: 2, Size: 10, EncryptedSize: 26,
		Nonce: []byte("n"), WrappedKey: []byte("wk"), Checksum: "abc", StoragePath: "/s/u1/f1_2.enc",
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).
		WithArgs("c1", "f1", 2, int64(10), int64(26), []byte("n"), []byte("wk"), "abc", "/s/u1/f1_2.enc", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), sampleChunk()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DuplicateIndex(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), sampleChunk())
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), sampleChunk())
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListByFile(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*file_id,\s*chunk_index,.*FROM\s+storage_chunks\s+WHERE\s+file_id\s*=\s*\$1\s+ORDER\s+BY\s+chunk_index\s*$`
	cols := []string{"id", "file_id", "chunk_index", "chunk_size", "encrypted_size", "iv", "encryption_key_encrypted",
		"checksum", "storage_path", "cloud_file_id", "cloud_provider", "created_at"}
	now := time.Now()

	mock.ExpectQuery(q).WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c0", "f1", 0, int64(10), int64(26), []byte("n0"), []byte("k0"), "s0", "/p0", "", "", now).
			AddRow("c1", "f1", 1, int64(4), int64(20), []byte("n1"), []byte("k1"), "s1", "", "drive-id", "google_drive", now))

	got, err := repo.ListByFile(context.Background(), "f1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Index != 0 || got[1].Index != 1 {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if got[0].IsRemote() || !got[1].IsRemote() || got[1].RemoteBackend != "google_drive" {
		t.Fatalf("unexpected locators: %+v %+v", got[0], got[1])
	}
}

func TestListByFile_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT`).WithArgs("f1").WillReturnError(errors.New("boom"))

	_, err := repo.ListByFile(context.Background(), "f1")
	if err == nil || !regexp.MustCompile(`failed to select chunks: .*boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestSetRemoteLocator(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+storage_chunks\s+SET\s+cloud_file_id\s*=\s*\$2,\s*cloud_provider\s*=\s*\$3,\s*storage_path\s*=\s*''\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs("c1", "obj", "onedrive").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("c2", "obj", "onedrive").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q).WithArgs("c3", "obj", "onedrive").WillReturnError(errors.New("db err"))

	if err := repo.SetRemoteLocator(context.Background(), "c1", "obj", "onedrive"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.SetRemoteLocator(context.Background(), "c2", "obj", "onedrive"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
	if err := repo.SetRemoteLocator(context.Background(), "c3", "obj", "onedrive"); err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
