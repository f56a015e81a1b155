// Package store persists area aggregation runs so identical requests can be
// answered without recomputing.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// ErrNotFound is returned by GetRun for unknown IDs.
var ErrNotFound = eris.New("store: run not found")

// RunKey identifies the inputs of an aggregation. Two requests with equal
// keys produce the same result. Lookup is the remap table fingerprint; ScaleM
// and MaxPixels are the analysis settings the areas were reduced with.
type RunKey struct {
	Asset      string  `json:"asset"`
	RegionHash string  `json:"region_hash"`
	Years      []int   `json:"years"`
	Classes    []int   `json:"classes"`
	Strict     bool    `json:"strict,omitempty"`
	Lookup     string  `json:"lookup,omitempty"`
	ScaleM     float64 `json:"scale_m,omitempty"`
	MaxPixels  int64   `json:"max_pixels,omitempty"`
}

// Normalize sorts years and classes.
func (k RunKey) Normalize() RunKey {
	k.Years = sortedCopy(k.Years)
	k.Classes = sortedCopy(k.Classes)
	return k
}

// String is the canonical form used for hashing.
func (k RunKey) String() string {
	n := k.Normalize()
	return fmt.Sprintf("%s|%s|%s|%s|%t|%s|%g|%d", n.Asset, n.RegionHash, joinInts(n.Years), joinInts(n.Classes), n.Strict,
		n.Lookup, n.ScaleM, n.MaxPixels)
}

// Hash returns the hex SHA-256 of the canonical key.
func (k RunKey) Hash() string {
	sum := sha256.Sum256([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

// Run is a persisted aggregation result.
type Run struct {
	ID        string                `json:"id"`
	CacheKey  string                `json:"cache_key"`
	Key       RunKey                `json:"key"`
	Result    *landcover.AreaResult `json:"result"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// Expired reports whether the run is past its TTL at now.
func (r *Run) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	RegionHash     string `json:"region_hash,omitempty"`
	IncludeExpired bool   `json:"include_expired,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// Store persists runs.
type Store interface {
	// SaveRun records result under key for ttl.
	SaveRun(ctx context.Context, key RunKey, result *landcover.AreaResult, ttl time.Duration) (*Run, error)
	// GetRun returns a run by ID, expired or not. Unknown IDs are ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)
	// FindRun returns the newest unexpired run for key, or nil on a miss.
	FindRun(ctx context.Context, key RunKey) (*Run, error)
	// ListRuns lists runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	// DeleteExpired removes expired runs and returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver: "sqlite", "postgres", or "none"/""
// (nil store, caching disabled).
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := NewPostgres(ctx, dsn, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

func sortedCopy(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
