// Package sources resolves an element's (source_name, bundle_id) pair to a
// stable DataSource id for the lifetime of one ingestion run. It is a
// per-run object: constructed at pipeline start, discarded at pipeline end,
// never persisted across runs (spec.md §9, "Global caches").
package sources

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

type key struct {
	name     string
	bundleID string
}

// Registry resolves (name, bundle_id) to a DataSource id, caching hits for
// the duration of a single pipeline run.
type Registry struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[key]int
}

// New creates an empty registry. Callers typically call Warm immediately
// after.
func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool, cache: make(map[key]int)}
}

// Warm loads every known DataSource row into the in-memory cache so most
// Resolve calls during the run need no database round trip.
func (r *Registry) Warm(ctx context.Context) error {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(bundle_id, '') FROM data_sources`)
	if err != nil {
		return err
	}
	defer rows.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	for rows.Next() {
		var id int
		var name, bundleID string
		if err := rows.Scan(&id, &name, &bundleID); err != nil {
			return err
		}
		r.cache[key{name: name, bundleID: bundleID}] = id
	}
	return rows.Err()
}

// Resolve returns the DataSource id for name/bundleID/deviceInfo, creating
// the row if it has never been seen. name == "" means the element carried
// no source attribution at all; Resolve returns (0, false) in that case and
// the caller should store no source id.
func (r *Registry) Resolve(ctx context.Context, name, bundleID, deviceInfo string) (int, bool, error) {
	if name == "" {
		return 0, false, nil
	}
	k := key{name: name, bundleID: bundleID}

	r.mu.RLock()
	id, ok := r.cache[k]
	r.mu.RUnlock()
	if ok {
		return id, true, nil
	}

	id, err := r.insertOrFetch(ctx, name, bundleID, deviceInfo)
	if err != nil {
		return 0, false, err
	}

	r.mu.Lock()
	r.cache[k] = id
	r.mu.Unlock()
	return id, true, nil
}

// insertOrFetch resolves the race between concurrent consumers discovering
// the same new source: the no-op DO UPDATE guarantees RETURNING always
// yields a row, matching whichever writer won.
func (r *Registry) insertOrFetch(ctx context.Context, name, bundleID, deviceInfo string) (int, error) {
	var bundlePtr, devicePtr *string
	if bundleID != "" {
		bundlePtr = &bundleID
	}
	if deviceInfo != "" {
		devicePtr = &deviceInfo
	}

	var id int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO data_sources (name, bundle_id, device_info)
		VALUES ($1, $2, $3)
		ON CONFLICT (name, bundle_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name, bundlePtr, devicePtr).Scan(&id)
	return id, err
}
