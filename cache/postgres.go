package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key            TEXT PRIMARY KEY,
	job_type       TEXT NOT NULL,
	entry          JSONB NOT NULL,
	tags           TEXT[] NOT NULL DEFAULT '{}',
	dependencies   TEXT[] NOT NULL DEFAULT '{}',
	schema_version TEXT NOT NULL DEFAULT '',
	expires_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cache_entries_tags_idx ON cache_entries USING GIN (tags);
CREATE INDEX IF NOT EXISTS cache_entries_deps_idx ON cache_entries USING GIN (dependencies);
CREATE INDEX IF NOT EXISTS cache_entries_type_idx ON cache_entries (job_type);

CREATE TABLE IF NOT EXISTS cache_versions (
	key     TEXT PRIMARY KEY,
	version JSONB NOT NULL
);`

// PostgresDriver persists cache entries in Postgres with GIN-indexed tag
// and dependency columns, covering the "key-value with secondary index"
// backend family.
type PostgresDriver struct {
	pool *pgxpool.Pool
}

// NewPostgresDriver creates the driver and ensures the schema exists
func NewPostgresDriver(ctx context.Context, pool *pgxpool.Pool) (*PostgresDriver, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure cache schema: %w", err)
	}
	return &PostgresDriver{pool: pool}, nil
}

// Set upserts an entry
func (d *PostgresDriver) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	tags := entry.Tags
	if tags == nil {
		tags = []string{}
	}
	deps := entry.Dependencies
	if deps == nil {
		deps = []string{}
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, job_type, entry, tags, dependencies, schema_version, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			entry = EXCLUDED.entry,
			tags = EXCLUDED.tags,
			dependencies = EXCLUDED.dependencies,
			schema_version = EXCLUDED.schema_version,
			expires_at = EXCLUDED.expires_at`,
		key, entry.JobType, raw, tags, deps, entry.Version.SchemaVersion, entry.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to store entry %s: %w", key, err)
	}
	return nil
}

// Get returns the entry for key, or nil on a miss
func (d *PostgresDriver) Get(ctx context.Context, key string) (*Entry, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx,
		`SELECT entry FROM cache_entries WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read entry %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry %s: %w", key, err)
	}
	return &entry, nil
}

// Delete removes an entry and its version stamp
func (d *PostgresDriver) Delete(ctx context.Context, key string) error {
	if _, err := d.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", key, err)
	}
	if _, err := d.pool.Exec(ctx, `DELETE FROM cache_versions WHERE key = $1`, VersionKey(key)); err != nil {
		return fmt.Errorf("failed to delete version for %s: %w", key, err)
	}
	return nil
}

// DeleteMany removes a batch of entries
func (d *PostgresDriver) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := d.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	return nil
}

// Exists reports whether an entry is stored under key
func (d *PostgresDriver) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM cache_entries WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check entry %s: %w", key, err)
	}
	return exists, nil
}

// GetByPrefix returns entries whose key starts with prefix
func (d *PostgresDriver) GetByPrefix(ctx context.Context, prefix string) ([]*Entry, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT entry FROM cache_entries WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// ClearByTags removes entries whose tag array overlaps tags
func (d *PostgresDriver) ClearByTags(ctx context.Context, tags []string) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE tags && $1`, tags)
	if err != nil {
		return 0, fmt.Errorf("failed to clear by tags: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearByType removes entries for the given job type
func (d *PostgresDriver) ClearByType(ctx context.Context, jobType string) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE job_type = $1`, jobType)
	if err != nil {
		return 0, fmt.Errorf("failed to clear by type: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearByDependency removes entries depending on jobID
func (d *PostgresDriver) ClearByDependency(ctx context.Context, jobID string) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE dependencies @> ARRAY[$1]::text[]`, jobID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear by dependency: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InvalidateOldVersions removes entries for jobType with a stale schema version
func (d *PostgresDriver) InvalidateOldVersions(ctx context.Context, jobType string, v Version) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE job_type = $1 AND schema_version <> $2`,
		jobType, v.SchemaVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate old versions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SetVersion stores the version stamp side-key
func (d *PostgresDriver) SetVersion(ctx context.Context, key string, v Version) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO cache_versions (key, version) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET version = EXCLUDED.version`,
		VersionKey(key), raw)
	if err != nil {
		return fmt.Errorf("failed to store version for %s: %w", key, err)
	}
	return nil
}

// GetVersion reads the version stamp side-key
func (d *PostgresDriver) GetVersion(ctx context.Context, key string) (*Version, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx,
		`SELECT version FROM cache_versions WHERE key = $1`, VersionKey(key)).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read version for %s: %w", key, err)
	}

	var v Version
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Metrics reports entry count and stored bytes
func (d *PostgresDriver) Metrics(ctx context.Context) (DriverMetrics, error) {
	var m DriverMetrics
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(octet_length(entry::text)), 0)
		FROM cache_entries`).Scan(&m.Entries, &m.Bytes)
	if err != nil {
		return DriverMetrics{}, fmt.Errorf("failed to read cache metrics: %w", err)
	}
	return m, nil
}

// ClearAll drops every entry and version stamp
func (d *PostgresDriver) ClearAll(ctx context.Context) error {
	if _, err := d.pool.Exec(ctx, `TRUNCATE cache_entries, cache_versions`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Health checks backend reachability
func (d *PostgresDriver) Health(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Disconnect releases the connection pool
func (d *PostgresDriver) Disconnect(ctx context.Context) error {
	d.pool.Close()
	return nil
}
