package semantic

import (
	"context"
	"sync"
	"time"

	"github.com/logbotai/logbot/engine/domain"
)

// MemoryStore keeps chunk records in process memory, in insertion order.
// Expired records stay stored and are filtered on read.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.ChunkRecord
	order   []string
}

var (
	_ domain.Store          = (*MemoryStore)(nil)
	_ domain.SessionCounter = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.ChunkRecord)}
}

// Upsert implements domain.Store.
func (m *MemoryStore) Upsert(ctx context.Context, rec domain.ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Embedding = append([]float32(nil), rec.Embedding...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec
	return nil
}

// Scan implements domain.Store.
func (m *MemoryStore) Scan(ctx context.Context, sessionID string, now time.Time) ([]domain.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.ChunkRecord
	for _, id := range m.order {
		rec := m.records[id]
		if rec.SessionID == sessionID && rec.ActiveAt(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CountSession implements domain.SessionCounter.
func (m *MemoryStore) CountSession(ctx context.Context, sessionID string, now time.Time) (domain.SessionCounts, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionCounts{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c domain.SessionCounts
	for _, rec := range m.records {
		if rec.SessionID != sessionID {
			continue
		}
		if rec.ActiveAt(now) {
			c.Active++
		} else {
			c.Expired++
		}
	}
	return c, nil
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Ready implements the health check; memory is always ready.
func (m *MemoryStore) Ready(context.Context) error { return nil }
