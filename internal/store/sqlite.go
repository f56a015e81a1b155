package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS area_runs (
	id          TEXT PRIMARY KEY,
	cache_key   TEXT NOT NULL,
	region_hash TEXT NOT NULL,
	params      TEXT NOT NULL,
	result      TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_area_runs_cache_key ON area_runs(cache_key, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_area_runs_region_hash ON area_runs(region_hash);
CREATE INDEX IF NOT EXISTS idx_area_runs_expires_at ON area_runs(expires_at);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun records result under key for ttl and returns the new run.
func (s *SQLiteStore) SaveRun(ctx context.Context, key RunKey, result *landcover.AreaResult, ttl time.Duration) (*Run, error) {
	key = key.Normalize()
	run := &Run{
		ID:        uuid.New().String(),
		CacheKey:  key.Hash(),
		Key:       key,
		Result:    result,
		CreatedAt: s.now(),
	}
	run.ExpiresAt = run.CreatedAt.Add(ttl)

	params, err := json.Marshal(key)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal result")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO area_runs (id, cache_key, region_hash, params, result, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CacheKey, key.RegionHash, string(params), string(resultJSON), run.CreatedAt, run.ExpiresAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

// GetRun returns a run by ID, expired or not. Unknown IDs are ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cache_key, params, result, created_at, expires_at FROM area_runs WHERE id = ?`,
		id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// FindRun returns the newest unexpired run for key, or nil on a miss.
func (s *SQLiteStore) FindRun(ctx context.Context, key RunKey) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, cache_key, params, result, created_at, expires_at FROM area_runs
		 WHERE cache_key = ? AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		key.Hash(), s.now(),
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns lists runs newest first, honoring filter.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, cache_key, params, result, created_at, expires_at FROM area_runs WHERE 1=1`
	var args []any

	if filter.RegionHash != "" {
		query += ` AND region_hash = ?`
		args = append(args, filter.RegionHash)
	}
	if !filter.IncludeExpired {
		query += ` AND expires_at > ?`
		args = append(args, s.now())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// DeleteExpired removes expired runs and returns how many were removed.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM area_runs WHERE expires_at <= ?`, s.now())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired runs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var params, result string
	err := row.Scan(&r.ID, &r.CacheKey, &params, &result, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := decodeRun(&r, []byte(params), []byte(result)); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeRun(r *Run, params, result []byte) error {
	if err := json.Unmarshal(params, &r.Key); err != nil {
		return eris.Wrap(err, "store: unmarshal params")
	}
	r.Result = &landcover.AreaResult{}
	if err := json.Unmarshal(result, r.Result); err != nil {
		return eris.Wrap(err, "store: unmarshal result")
	}
	return nil
}
