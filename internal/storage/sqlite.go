package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"finpath-insight/internal/market"
)

const (
	sqliteCreateTableSQL = `CREATE TABLE IF NOT EXISTS %s (
        cache_key  TEXT PRIMARY KEY,
        payload    TEXT NOT NULL,
        sources    TEXT NOT NULL DEFAULT '[]',
        fetched_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );`

	sqliteCreateIndexSQL = `CREATE INDEX IF NOT EXISTS %s_fetched_at_idx ON %s (fetched_at DESC);`

	sqliteUpsertSQL = `INSERT INTO %s (
        cache_key,
        payload,
        sources,
        fetched_at,
        updated_at
    ) VALUES (?, ?, ?, ?, ?)
    ON CONFLICT (cache_key) DO UPDATE
    SET
        payload    = excluded.payload,
        sources    = excluded.sources,
        fetched_at = excluded.fetched_at,
        updated_at = excluded.updated_at;`

	sqliteGetSQL = `SELECT cache_key, payload, sources, fetched_at FROM %s WHERE cache_key = ?;`

	sqliteListSQL = `SELECT cache_key, payload, sources, fetched_at FROM %s ORDER BY fetched_at DESC LIMIT ?;`
)

// SQLiteStore keeps cache records in an embedded SQLite database with the
// same table layout as PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and ensures the schema.
// Use ":memory:" for a throwaway store.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Migrate creates every cache table if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	for _, dt := range market.DataTypes {
		table, _ := tableFor(dt)
		if _, err := db.ExecContext(ctx, fmt.Sprintf(sqliteCreateTableSQL, table)); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(sqliteCreateIndexSQL, table, table)); err != nil {
			return fmt.Errorf("create index on %s: %w", table, err)
		}
	}
	return nil
}

// Get loads the record for (dt, key).
func (s *SQLiteStore) Get(ctx context.Context, dt market.DataType, key string) (*market.CacheRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, wrapErr("get", dt, key, err)
	}
	table, err := tableFor(dt)
	if err != nil {
		return nil, wrapErr("get", dt, key, err)
	}

	rec, err := scanSQLiteRecord(dt, db.QueryRowContext(ctx, fmt.Sprintf(sqliteGetSQL, table), key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get", dt, key, err)
	}
	return &rec, nil
}

// Upsert persists or replaces a record.
func (s *SQLiteStore) Upsert(ctx context.Context, rec market.CacheRecord) error {
	db, err := s.getDB()
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
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return wrapErr("upsert", rec.DataType, rec.Key, err)
	}

	if _, execErr := db.ExecContext(ctx, fmt.Sprintf(sqliteUpsertSQL, table),
		rec.Key,
		string(payload),
		string(sourcesJSON),
		rec.FetchedAt.UTC().UnixMilli(),
		time.Now().UTC().UnixMilli(),
	); execErr != nil {
		return wrapErr("upsert", rec.DataType, rec.Key, execErr)
	}
	return nil
}

// List returns up to limit records of dt, newest first.
func (s *SQLiteStore) List(ctx context.Context, dt market.DataType, limit int) ([]market.CacheRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	table, err := tableFor(dt)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(sqliteListSQL, table), limit)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", dt, err)
	}
	defer rows.Close()

	var records []market.CacheRecord
	for rows.Next() {
		rec, scanErr := scanSQLiteRecord(dt, rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(dt market.DataType, row rowScanner) (market.CacheRecord, error) {
	var (
		key         string
		payload     string
		sourcesJSON string
		fetchedMs   int64
	)
	if err := row.Scan(&key, &payload, &sourcesJSON, &fetchedMs); err != nil {
		return market.CacheRecord{}, err
	}

	fields, err := decodePayload([]byte(payload))
	if err != nil {
		return market.CacheRecord{}, err
	}
	var sources []string
	if err := json.Unmarshal([]byte(sourcesJSON), &sources); err != nil {
		return market.CacheRecord{}, fmt.Errorf("decode sources: %w", err)
	}

	return market.CacheRecord{
		DataType:  dt,
		Key:       key,
		Payload:   fields,
		Sources:   sources,
		FetchedAt: time.UnixMilli(fetchedMs).UTC(),
	}, nil
}

var _ Backend = (*SQLiteStore)(nil)
