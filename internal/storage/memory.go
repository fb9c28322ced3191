package storage

import (
	"context"
	"sort"
	"sync"

	"finpath-insight/internal/market"
)

// MemoryStore is a process-local CacheStore. Records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[market.DataType]map[string]market.CacheRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[market.DataType]map[string]market.CacheRecord)}
}

// Get returns a copy of the stored record, or nil on a miss.
func (s *MemoryStore) Get(_ context.Context, dt market.DataType, key string) (*market.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[dt][key]
	if !ok {
		return nil, nil
	}
	out := copyRecord(rec)
	return &out, nil
}

// Upsert stores a copy of rec.
func (s *MemoryStore) Upsert(_ context.Context, rec market.CacheRecord) error {
	if _, err := tableFor(rec.DataType); err != nil {
		return wrapErr("upsert", rec.DataType, rec.Key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.records[rec.DataType]
	if !ok {
		byKey = make(map[string]market.CacheRecord)
		s.records[rec.DataType] = byKey
	}
	byKey[rec.Key] = copyRecord(rec)
	return nil
}

// List returns up to limit records of dt, newest first.
func (s *MemoryStore) List(_ context.Context, dt market.DataType, limit int) ([]market.CacheRecord, error) {
	s.mu.RLock()
	records := make([]market.CacheRecord, 0, len(s.records[dt]))
	for _, rec := range s.records[dt] {
		records = append(records, copyRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].FetchedAt.Equal(records[j].FetchedAt) {
			return records[i].Key < records[j].Key
		}
		return records[i].FetchedAt.After(records[j].FetchedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Migrate is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() {}

func copyRecord(rec market.CacheRecord) market.CacheRecord {
	rec.Payload = rec.Payload.Clone()
	rec.Sources = append([]string(nil), rec.Sources...)
	return rec
}

var _ Backend = (*MemoryStore)(nil)
