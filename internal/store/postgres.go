package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mapbiomas-cli/internal/db"
	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects to connString.
func NewPostgres(ctx context.Context, connString string, cfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return NewPostgresWithPool(pool), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS area_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	cache_key   TEXT NOT NULL,
	region_hash TEXT NOT NULL,
	params      JSONB NOT NULL,
	result      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_area_runs_cache_key ON area_runs(cache_key, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_area_runs_region_hash ON area_runs(region_hash);
CREATE INDEX IF NOT EXISTS idx_area_runs_expires_at ON area_runs(expires_at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveRun records result under key for ttl and returns the new run.
func (s *PostgresStore) SaveRun(ctx context.Context, key RunKey, result *landcover.AreaResult, ttl time.Duration) (*Run, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal params")
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal result")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO area_runs (id, cache_key, region_hash, params, result, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.CacheKey, key.RegionHash, params, resultJSON, run.CreatedAt, run.ExpiresAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

// GetRun returns a run by ID, expired or not. Unknown IDs are ErrNotFound.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, cache_key, params, result, created_at, expires_at FROM area_runs WHERE id = $1`,
		id,
	)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return run, nil
}

// FindRun returns the newest unexpired run for key, or nil on a miss.
func (s *PostgresStore) FindRun(ctx context.Context, key RunKey) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, cache_key, params, result, created_at, expires_at FROM area_runs
		 WHERE cache_key = $1 AND expires_at > $2
		 ORDER BY created_at DESC LIMIT 1`,
		key.Hash(), s.now(),
	)
	run, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find run")
	}
	return run, nil
}

// ListRuns lists runs newest first, honoring filter.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, cache_key, params, result, created_at, expires_at FROM area_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.RegionHash != "" {
		query += fmt.Sprintf(` AND region_hash = $%d`, argIdx)
		args = append(args, filter.RegionHash)
		argIdx++
	}
	if !filter.IncludeExpired {
		query += fmt.Sprintf(` AND expires_at > $%d`, argIdx)
		args = append(args, s.now())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// DeleteExpired removes expired runs and returns how many were removed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM area_runs WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired runs")
	}
	return int(tag.RowsAffected()), nil
}

func scanPgRun(row pgx.Row) (*Run, error) {
	var r Run
	var params, result []byte
	if err := row.Scan(&r.ID, &r.CacheKey, &params, &result, &r.CreatedAt, &r.ExpiresAt); err != nil {
		return nil, err
	}
	if err := decodeRun(&r, params, result); err != nil {
		return nil, err
	}
	return &r, nil
}
