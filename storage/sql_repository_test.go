package storage

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ruteri/content-key-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKID1 = "00112233445566778899aabbccddeeff"
	testKID2 = "0102030405060708090a0b0c0d0e0f10"
	testKID3 = "a0a1a2a3a4a5a6a7a8a9aaabacadaeaf"
)

func newTestRepository(t *testing.T) *SQLKeyRepository {
	t.Helper()
	db, err := NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewSQLKeyRepository(context.Background(), db)
	require.NoError(t, err)
	return repo
}

func strPtr(s string) *string { return &s }

func testRecord(kid string, lastUpdate time.Time) *interfaces.KeyRecord {
	return &interfaces.KeyRecord{
		KID:        kid,
		EK:         "ffaf1dae9201d1adf62770dca5ddb77ad773a79369e39986",
		KekID:      strPtr("#1.afe008a381bdac03b412a92d54b92ddf"),
		LastUpdate: &lastUpdate,
	}
}

func TestSQLKeyRepository_InsertAndFetch(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Unix(1700000000, 0).UTC()
	exp := time.Unix(1800000000, 0).UTC()
	record := testRecord(testKID1, now)
	record.K = "12341234123412341234123412341234"
	record.Info = strPtr("trailer")
	record.ContentID = strPtr("movie-1")
	record.Expiration = &exp

	require.NoError(t, repo.Insert(ctx, record))

	records, err := repo.Fetch(ctx, []string{testKID1})
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, testKID1, got.KID)
	assert.Equal(t, record.EK, got.EK)
	assert.Empty(t, got.K, "plaintext key must not be persisted")
	assert.Equal(t, "#1.afe008a381bdac03b412a92d54b92ddf", *got.KekID)
	assert.Equal(t, "trailer", *got.Info)
	assert.Equal(t, "movie-1", *got.ContentID)
	assert.True(t, exp.Equal(*got.Expiration))
	assert.True(t, now.Equal(*got.LastUpdate))
}

func TestSQLKeyRepository_NullableColumns(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	record := &interfaces.KeyRecord{KID: testKID1, EK: "00", LastUpdate: nil}
	require.NoError(t, repo.Insert(ctx, record))

	records, err := repo.Fetch(ctx, []string{testKID1})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].KekID)
	assert.Nil(t, records[0].Info)
	assert.Nil(t, records[0].ContentID)
	assert.Nil(t, records[0].Expiration)
	require.NotNil(t, records[0].LastUpdate)
}

func TestSQLKeyRepository_InsertDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().UTC()
	require.NoError(t, repo.Insert(ctx, testRecord(testKID1, now)))

	err := repo.Insert(ctx, testRecord(testKID1, now))
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrDuplicateKID))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLKeyRepository_FetchSubset(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().UTC()
	for _, kid := range []string{testKID1, testKID2, testKID3} {
		require.NoError(t, repo.Insert(ctx, testRecord(kid, now)))
	}

	records, err := repo.Fetch(ctx, []string{testKID3, "ffffffffffffffffffffffffffffffff", testKID1})
	require.NoError(t, err)

	kids := make([]string, 0, len(records))
	for _, r := range records {
		kids = append(kids, r.KID)
	}
	sort.Strings(kids)
	assert.Equal(t, []string{testKID1, testKID3}, kids)

	records, err = repo.Fetch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLKeyRepository_Each(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().UTC()
	for _, kid := range []string{testKID1, testKID2, testKID3} {
		require.NoError(t, repo.Insert(ctx, testRecord(kid, now)))
	}

	var seen []string
	err := repo.Each(ctx, func(r *interfaces.KeyRecord) error {
		seen = append(seen, r.KID)
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{testKID1, testKID2, testKID3}, seen)

	stop := errors.New("stop")
	calls := 0
	err = repo.Each(ctx, func(r *interfaces.KeyRecord) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSQLKeyRepository_Patch(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	created := time.Unix(1700000000, 0).UTC()
	record := testRecord(testKID1, created)
	record.Info = strPtr("old")
	record.ContentID = strPtr("content")
	require.NoError(t, repo.Insert(ctx, record))

	updated := created.Add(time.Hour)
	got, err := repo.Patch(ctx, testKID1, interfaces.KeyPatch{Info: strPtr("new")}, updated)
	require.NoError(t, err)
	assert.Equal(t, "new", *got.Info)
	assert.Equal(t, "content", *got.ContentID, "unpatched columns are kept")
	assert.Equal(t, record.EK, got.EK)
	assert.Equal(t, *record.KekID, *got.KekID)
	assert.True(t, updated.Equal(*got.LastUpdate))

	got, err = repo.Patch(ctx, testKID1, interfaces.KeyPatch{EK: strPtr("abcd"), KekID: strPtr("")}, updated)
	require.NoError(t, err)
	assert.Equal(t, "abcd", got.EK)
	assert.Equal(t, "", *got.KekID)

	_, err = repo.Patch(ctx, testKID2, interfaces.KeyPatch{Info: strPtr("x")}, updated)
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}

func TestSQLKeyRepository_DeleteAndCount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	now := time.Now().UTC()
	for _, kid := range []string{testKID1, testKID2, testKID3} {
		require.NoError(t, repo.Insert(ctx, testRecord(kid, now)))
	}

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	n, err := repo.Delete(ctx, []string{testKID1, testKID2, "ffffffffffffffffffffffffffffffff"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.Delete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	count, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, repo.Ping(ctx))
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	_, err := OpenDB(context.Background(), "mysql", "dsn")
	require.Error(t, err)
}

func newMockRepository(t *testing.T) (*SQLKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS content_keys`).WillReturnResult(sqlmock.NewResult(0, 0))
	repo, err := NewSQLKeyRepository(context.Background(), sqlx.NewDb(db, DriverPostgres))
	require.NoError(t, err)
	return repo, mock
}

func TestSQLKeyRepository_PostgresUniqueViolation(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7)`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Insert(context.Background(), testRecord(testKID1, time.Now()))
	assert.ErrorIs(t, err, interfaces.ErrDuplicateKID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLKeyRepository_PostgresOtherError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(`INSERT INTO content_keys`).WillReturnError(&pq.Error{Code: "53300"})

	err := repo.Insert(context.Background(), testRecord(testKID1, time.Now()))
	require.Error(t, err)
	assert.False(t, errors.Is(err, interfaces.ErrDuplicateKID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLKeyRepository_PostgresFetchRebinds(t *testing.T) {
	repo, mock := newMockRepository(t)

	columns := []string{"kid", "ek", "kek_id", "info", "content_id", "expiration", "last_update"}
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE kid IN ($1, $2)`)).
		WithArgs(testKID1, testKID2).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(testKID2, "abcd", nil, "info", nil, nil, int64(1700000000)))

	records, err := repo.Fetch(context.Background(), []string{testKID1, testKID2})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, testKID2, records[0].KID)
	assert.Nil(t, records[0].KekID)
	assert.Equal(t, "info", *records[0].Info)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLKeyRepository_PostgresPatchNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	columns := []string{"kid", "ek", "kek_id", "info", "content_id", "expiration", "last_update"}
	mock.ExpectQuery(`UPDATE content_keys SET`).WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.Patch(context.Background(), testKID1, interfaces.KeyPatch{Info: strPtr("x")}, time.Now())
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
