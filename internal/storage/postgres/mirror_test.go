package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reposync/internal/catalog"
)

func testEntries(t *testing.T) ([]catalog.Entry, [][]byte) {
	t.Helper()
	entries := []catalog.Entry{
		{Key: 1, Record: catalog.Record{Name: "Alpha", FullName: "o/Alpha", HTMLURL: "https://github.com/o/Alpha"}},
		{Key: 2, Record: catalog.Record{Name: "Beta", FullName: "o/Beta", HTMLURL: "https://github.com/o/Beta"}},
	}
	docs := make([][]byte, 0, len(entries))
	for _, e := range entries {
		doc, err := e.Record.MarshalJSON()
		require.NoError(t, err)
		docs = append(docs, doc)
	}
	return entries, docs
}

func TestUpsertWritesEveryRecordInOneTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mirror, err := NewMirrorWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	entries, docs := testEntries(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO plugins").
		WithArgs(int64(1), "o/Alpha", docs[0], now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO plugins").
		WithArgs(int64(2), "o/Beta", docs[1], now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, mirror.Upsert(context.Background(), entries, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mirror, err := NewMirrorWithPool(mock, "catalog_mirror")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	entries, docs := testEntries(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO catalog_mirror").
		WithArgs(int64(1), "o/Alpha", docs[0], now).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = mirror.Upsert(context.Background(), entries, now)
	require.ErrorContains(t, err, "upsert record 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSkipsEmptyBatch(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mirror, err := NewMirrorWithPool(mock, "plugins")
	require.NoError(t, err)
	require.NoError(t, mirror.Upsert(context.Background(), nil, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mirror, err := NewMirrorWithPool(mock, "plugins")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS plugins").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, mirror.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewMirrorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewMirrorWithPool(nil, "plugins")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewMirrorWithPool(mock, "plugins; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewMirror(context.Background(), MirrorConfig{})
	require.ErrorContains(t, err, "db.dsn is required")
}
