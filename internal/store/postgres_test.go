package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock"), nil, nil), mock, func() { db.Close() }
}

func TestPostgresStoreGet(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"path", "data", "revision", "updated_at"}).
		AddRow("requests/certificate/r1", []byte(`{"id":"r1"}`), int64(3), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT path, data, revision, updated_at FROM documents WHERE path = $1")).
		WithArgs("requests/certificate/r1").
		WillReturnRows(rows)

	doc, err := s.Get(context.Background(), "requests/certificate/r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Revision)
	assert.JSONEq(t, `{"id":"r1"}`, string(doc.Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT path, data, revision, updated_at FROM documents WHERE path = $1")).
		WithArgs("requests/certificate/missing").
		WillReturnRows(sqlmock.NewRows([]string{"path", "data", "revision", "updated_at"}))

	_, err := s.Get(context.Background(), "requests/certificate/missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWhere(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"path", "data", "revision", "updated_at"}).
		AddRow("requests/certificate/r1", []byte(`{"id":"r1"}`), int64(1), time.Now())
	mock.ExpectQuery("SELECT path, data, revision, updated_at FROM documents").
		WithArgs("requests/", "currentApproverRole", "REGISTRAR", 100, 0).
		WillReturnRows(rows)

	docs, err := s.Where(context.Background(), "requests/", "currentApproverRole", "REGISTRAR", 0, 0)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreWhereHonorsLargeLimit(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	// Register exports read the full result set in one query; the requested
	// limit must reach the database untouched.
	mock.ExpectQuery("SELECT path, data, revision, updated_at FROM documents").
		WithArgs("requests/", "status", "APPROVED", 5000, 0).
		WillReturnRows(sqlmock.NewRows([]string{"path", "data", "revision", "updated_at"}))

	_, err := s.Where(context.Background(), "requests/", "status", "APPROVED", 5000, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListHonorsLargeLimit(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT path, data, revision, updated_at FROM documents").
		WithArgs("requests/", 5000, 0).
		WillReturnRows(sqlmock.NewRows([]string{"path", "data", "revision", "updated_at"}))

	_, err := s.List(context.Background(), "requests/", 5000, 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicMultiUpdateInsert(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("requests/certificate/r1", []byte(`{"id":"r1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.AtomicMultiUpdate(context.Background(), []Write{{
		Path: "requests/certificate/r1",
		Data: []byte(`{"id":"r1"}`),
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicMultiUpdateInsertConflict(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs("requests/certificate/r1", []byte(`{"id":"r1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.AtomicMultiUpdate(context.Background(), []Write{{
		Path: "requests/certificate/r1",
		Data: []byte(`{"id":"r1"}`),
	}})
	require.ErrorIs(t, err, ErrRevisionMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicMultiUpdateRevisionMismatchRollsBackBatch(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE documents SET").
		WithArgs("requests/certificate/r1", []byte(`{"id":"r1"}`), sqlmock.AnyArg(), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE documents SET").
		WithArgs("requests/certificate/r2", []byte(`{"id":"r2"}`), sqlmock.AnyArg(), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.AtomicMultiUpdate(context.Background(), []Write{
		{Path: "requests/certificate/r1", Data: []byte(`{"id":"r1"}`), ExpectedRevision: 2},
		{Path: "requests/certificate/r2", Data: []byte(`{"id":"r2"}`), ExpectedRevision: 5},
	})
	require.ErrorIs(t, err, ErrRevisionMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomicMultiUpdateEmptyBatch(t *testing.T) {
	s, mock, cleanup := newStoreMock(t)
	defer cleanup()

	require.NoError(t, s.AtomicMultiUpdate(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}
