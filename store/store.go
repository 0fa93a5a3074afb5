// Package store persists computed grid points keyed by grid id.
package store

import (
	"context"
	"errors"
	"fmt"

	"payoffgrid/config"
	"payoffgrid/logger"
	"payoffgrid/models"
)

// ErrNotFound is returned when no record is persisted under an id.
var ErrNotFound = errors.New("grid point not found")

// clearChunk is how many rows Clear deletes between progress reports.
const clearChunk = 10000

// ClearProgress receives the number of rows deleted so far and the number
// present when the clear started.
type ClearProgress func(deleted, total int64)

// Store is the external store contract a sweep writes to and lookups read
// from. Every record is written whole; readers never observe a partial one.
type Store interface {
	// Put upserts one record by id.
	Put(ctx context.Context, rec models.GridRecord) error
	// PutBatch upserts all records in a single transaction. Nothing from a
	// failed batch is visible afterwards.
	PutBatch(ctx context.Context, recs []models.GridRecord) error
	// Get returns ErrNotFound when id has no record.
	Get(ctx context.Context, id int64) (models.GridRecord, error)
	// Range returns the records with start <= id < end in ascending id order.
	Range(ctx context.Context, start, end int64) ([]models.GridRecord, error)
	// Count returns the number of persisted records.
	Count(ctx context.Context) (int64, error)
	// Clear deletes every record. progress may be nil.
	Clear(ctx context.Context, progress ClearProgress) error
	Close() error
}

// Open builds the store named by cfg.Driver, wrapped in a Redis read-through
// cache when cfg.Redis.Enabled is set.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	log := logger.GetLogger().WithComponent("store")

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "memory":
		s = NewMemoryStore()
	case "sqlite":
		s, err = NewSQLiteStore(ctx, cfg.SQLite.Path)
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver '%s'", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		cache, err := NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s = NewCachedStore(s, cache, cfg.Redis.Prefix, cfg.Redis.TTL)
		log.WithFields(logger.Fields{"addr": cfg.Redis.Addr, "prefix": cfg.Redis.Prefix}).Info("redis cache enabled")
	}

	log.WithFields(logger.Fields{"driver": cfg.Driver}).Info("store opened")
	return s, nil
}
