package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/ruteri/content-key-service/interfaces"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const keyColumns = `kid, ek, kek_id, info, content_id, expiration, last_update`

// SQLKeyRepository implements interfaces.KeyRepository on a SQL database.
// Both SQLite and PostgreSQL are supported; queries are written with "?"
// placeholders and rebound for the driver in use.
type SQLKeyRepository struct {
	db *sqlx.DB
}

var _ interfaces.KeyRepository = (*SQLKeyRepository)(nil)

type keyRow struct {
	KID        string         `db:"kid"`
	EK         string         `db:"ek"`
	KekID      sql.NullString `db:"kek_id"`
	Info       sql.NullString `db:"info"`
	ContentID  sql.NullString `db:"content_id"`
	Expiration sql.NullInt64  `db:"expiration"`
	LastUpdate int64          `db:"last_update"`
}

// OpenDB connects to the database named by driver and dsn.
func OpenDB(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	// An in-memory SQLite database lives and dies with its connection.
	if driver == DriverSQLite && dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// NewInMemoryDB creates a new in-memory SQLite database for testing.
func NewInMemoryDB() (*sqlx.DB, error) {
	return OpenDB(context.Background(), DriverSQLite, ":memory:")
}

// NewSQLKeyRepository creates a repository on db, creating the key table if
// it does not exist yet.
func NewSQLKeyRepository(ctx context.Context, db *sqlx.DB) (*SQLKeyRepository, error) {
	repo := &SQLKeyRepository{db: db}
	if err := repo.createTables(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return repo, nil
}

func (r *SQLKeyRepository) createTables(ctx context.Context) error {
	createKeyTable := `
	CREATE TABLE IF NOT EXISTS content_keys (
		kid TEXT PRIMARY KEY,
		ek TEXT NOT NULL,
		kek_id TEXT,
		info TEXT,
		content_id TEXT,
		expiration BIGINT,
		last_update BIGINT NOT NULL
	)`

	_, err := r.db.ExecContext(ctx, createKeyTable)
	return err
}

// Insert adds a record. The plaintext key is never written.
func (r *SQLKeyRepository) Insert(ctx context.Context, record *interfaces.KeyRecord) error {
	row := toRow(record)
	query := r.db.Rebind(`INSERT INTO content_keys (` + keyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		row.KID, row.EK, row.KekID, row.Info, row.ContentID, row.Expiration, row.LastUpdate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", interfaces.ErrDuplicateKID, record.KID)
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return nil
}

// Fetch returns the records matching kids. Unknown KIDs are absent from the
// result, which is in no particular order.
func (r *SQLKeyRepository) Fetch(ctx context.Context, kids []string) ([]*interfaces.KeyRecord, error) {
	if len(kids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+keyColumns+` FROM content_keys WHERE kid IN (?)`, kids)
	if err != nil {
		return nil, fmt.Errorf("failed to build key query: %w", err)
	}

	var rows []keyRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch keys: %w", err)
	}

	records := make([]*interfaces.KeyRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

// Each streams every stored record to fn. Iteration stops at the first
// error returned by fn.
func (r *SQLKeyRepository) Each(ctx context.Context, fn func(*interfaces.KeyRecord) error) error {
	rows, err := r.db.QueryxContext(ctx, `SELECT `+keyColumns+` FROM content_keys`)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row keyRow
		if err := rows.StructScan(&row); err != nil {
			return fmt.Errorf("failed to scan key: %w", err)
		}
		if err := fn(row.toRecord()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Patch updates the columns set in patch along with last_update.
func (r *SQLKeyRepository) Patch(ctx context.Context, kid string, patch interfaces.KeyPatch, lastUpdate time.Time) (*interfaces.KeyRecord, error) {
	query := r.db.Rebind(`
	UPDATE content_keys SET
		ek = COALESCE(?, ek),
		kek_id = COALESCE(?, kek_id),
		info = COALESCE(?, info),
		content_id = COALESCE(?, content_id),
		last_update = ?
	WHERE kid = ?
	RETURNING ` + keyColumns)

	var row keyRow
	err := r.db.GetContext(ctx, &row, query,
		nullString(patch.EK), nullString(patch.KekID), nullString(patch.Info), nullString(patch.ContentID),
		lastUpdate.Unix(), kid,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrKeyNotFound, kid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update key: %w", err)
	}
	return row.toRecord(), nil
}

// Delete removes the records matching kids.
func (r *SQLKeyRepository) Delete(ctx context.Context, kids []string) (int64, error) {
	if len(kids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM content_keys WHERE kid IN (?)`, kids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored records.
func (r *SQLKeyRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM content_keys`); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (r *SQLKeyRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func toRow(record *interfaces.KeyRecord) keyRow {
	row := keyRow{
		KID:       record.KID,
		EK:        record.EK,
		KekID:     nullString(record.KekID),
		Info:      nullString(record.Info),
		ContentID: nullString(record.ContentID),
	}
	if record.Expiration != nil {
		row.Expiration = sql.NullInt64{Int64: record.Expiration.Unix(), Valid: true}
	}
	if record.LastUpdate != nil {
		row.LastUpdate = record.LastUpdate.Unix()
	}
	return row
}

func (row *keyRow) toRecord() *interfaces.KeyRecord {
	lastUpdate := time.Unix(row.LastUpdate, 0).UTC()
	record := &interfaces.KeyRecord{
		KID:        row.KID,
		EK:         row.EK,
		KekID:      stringPtr(row.KekID),
		Info:       stringPtr(row.Info),
		ContentID:  stringPtr(row.ContentID),
		LastUpdate: &lastUpdate,
	}
	if row.Expiration.Valid {
		exp := time.Unix(row.Expiration.Int64, 0).UTC()
		record.Expiration = &exp
	}
	return record
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
