package store

import (
	"context"
	"sort"
	"sync"

	"payoffgrid/models"
)

// MemoryStore keeps records in a map. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]models.GridRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]models.GridRecord)}
}

func (m *MemoryStore) Put(ctx context.Context, rec models.GridRecord) error {
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PutBatch(ctx context.Context, recs []models.GridRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	for _, rec := range recs {
		m.records[rec.ID] = rec
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (models.GridRecord, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return models.GridRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Range(ctx context.Context, start, end int64) ([]models.GridRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.GridRecord
	if end-start <= int64(len(m.records)) {
		for id := start; id < end; id++ {
			if rec, ok := m.records[id]; ok {
				out = append(out, rec)
			}
		}
		return out, nil
	}
	for id, rec := range m.records {
		if id >= start && id < end {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryStore) Clear(ctx context.Context, progress ClearProgress) error {
	m.mu.Lock()
	total := int64(len(m.records))
	m.records = make(map[int64]models.GridRecord)
	m.mu.Unlock()
	if progress != nil {
		progress(total, total)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
