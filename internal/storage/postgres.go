package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"finpath-insight/internal/market"
)

const (
	pgCreateTableSQL = `CREATE TABLE IF NOT EXISTS %s (
        cache_key  TEXT PRIMARY KEY,
        payload    JSONB NOT NULL,
        sources    TEXT[] NOT NULL DEFAULT '{}',
        fetched_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	pgCreateIndexSQL = `CREATE INDEX IF NOT EXISTS %s_fetched_at_idx ON %s (fetched_at DESC);`

	pgUpsertSQL = `INSERT INTO %s (
        cache_key,
        payload,
        sources,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (cache_key) DO UPDATE
    SET
        payload    = EXCLUDED.payload,
        sources    = EXCLUDED.sources,
        fetched_at = EXCLUDED.fetched_at,
        updated_at = now();`

	pgGetSQL = `SELECT
        cache_key,
        payload,
        sources,
        fetched_at
    FROM %s
    WHERE cache_key = $1;`

	pgListSQL = `SELECT
        cache_key,
        payload,
        sources,
        fetched_at
    FROM %s
    ORDER BY fetched_at DESC
    LIMIT $1;`
)

// PostgresStore keeps cache records in PostgreSQL, one table per data type.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates every cache table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, dt := range market.DataTypes {
		table, _ := tableFor(dt)
		if _, err := pool.Exec(ctx, fmt.Sprintf(pgCreateTableSQL, table)); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		if _, err := pool.Exec(ctx, fmt.Sprintf(pgCreateIndexSQL, table, table)); err != nil {
			return fmt.Errorf("create index on %s: %w", table, err)
		}
	}
	return nil
}

// Get loads the record for (dt, key).
func (s *PostgresStore) Get(ctx context.Context, dt market.DataType, key string) (*market.CacheRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, wrapErr("get", dt, key, err)
	}
	table, err := tableFor(dt)
	if err != nil {
		return nil, wrapErr("get", dt, key, err)
	}

	rec, err := scanRecord(dt, pool.QueryRow(ctx, fmt.Sprintf(pgGetSQL, table), key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get", dt, key, err)
	}
	return &rec, nil
}

// Upsert persists or replaces a record.
func (s *PostgresStore) Upsert(ctx context.Context, rec market.CacheRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return wrapErr("upsert", rec.DataType, rec.Key, err)
	}
	table, err := tableFor(rec.DataType)
	if err != nil {
		return wrapErr("upsert", rec.DataType, rec.Key, err)
	}

	payload, err := encodePayload(rec.Payload)
	if err != nil {
		return wrapErr("upsert", rec.DataType, rec.Key, err)
	}
	sources := rec.Sources
	if sources == nil {
		sources = []string{}
	}

	if _, execErr := pool.Exec(ctx, fmt.Sprintf(pgUpsertSQL, table),
		rec.Key,
		payload,
		sources,
		rec.FetchedAt.UTC(),
	); execErr != nil {
		return wrapErr("upsert", rec.DataType, rec.Key, execErr)
	}
	return nil
}

// List returns up to limit records of dt, newest first.
func (s *PostgresStore) List(ctx context.Context, dt market.DataType, limit int) ([]market.CacheRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	table, err := tableFor(dt)
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, fmt.Sprintf(pgListSQL, table), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list %s records: %w", dt, queryErr)
	}
	defer rows.Close()

	records := make([]market.CacheRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanRecord(dt, rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanRecord(dt market.DataType, row pgx.Row) (market.CacheRecord, error) {
	var (
		key       string
		payload   []byte
		sources   []string
		fetchedAt time.Time
	)
	if err := row.Scan(&key, &payload, &sources, &fetchedAt); err != nil {
		return market.CacheRecord{}, err
	}

	fields, err := decodePayload(payload)
	if err != nil {
		return market.CacheRecord{}, err
	}

	return market.CacheRecord{
		DataType:  dt,
		Key:       key,
		Payload:   fields,
		Sources:   sources,
		FetchedAt: fetchedAt.UTC(),
	}, nil
}

var _ Backend = (*PostgresStore)(nil)
