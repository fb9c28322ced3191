package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// CacheStore is the keyed persistent store of fetched records.
type CacheStore interface {
	// Get returns the record for (dt, key), or nil with no error on a miss.
	Get(ctx context.Context, dt market.DataType, key string) (*market.CacheRecord, error)
	// Upsert writes rec, replacing any record with the same (DataType, Key).
	Upsert(ctx context.Context, rec market.CacheRecord) error
}

// RecordLister lists cached records of one data type, most recently fetched first.
type RecordLister interface {
	List(ctx context.Context, dt market.DataType, limit int) ([]market.CacheRecord, error)
}

// Migrator creates the cache tables.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Backend is a cache store with its listing and lifecycle operations.
type Backend interface {
	CacheStore
	RecordLister
	Migrator
	Close()
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Backend, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case config.DriverMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
