package semantic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/logbotai/logbot/engine/domain"
)

func TestMemoryStoreUpsertIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	rec := sampleRecord()
	rec.ExpiresAt = nil
	for i := 0; i < 3; i++ {
		if err := m.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", m.Len())
	}
}

func TestMemoryStoreScanFilters(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	recs := []domain.ChunkRecord{
		{ID: "live", SessionID: "A", ExpiresAt: &future},
		{ID: "forever", SessionID: "A"},
		{ID: "expired", SessionID: "A", ExpiresAt: &past},
		{ID: "other", SessionID: "B"},
	}
	for _, r := range recs {
		if err := m.Upsert(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := m.Scan(ctx, "A", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "live" || got[1].ID != "forever" {
		t.Fatalf("unexpected scan %+v", got)
	}
	if m.Len() != 4 {
		t.Fatal("expired records stay stored")
	}
	c, err := m.CountSession(ctx, "A", now)
	if err != nil || c != (domain.SessionCounts{Active: 2, Expired: 1}) {
		t.Fatalf("unexpected counts %+v %v", c, err)
	}
}

func TestMemoryStoreCopiesEmbedding(t *testing.T) {
	m := NewMemoryStore()
	emb := []float32{1, 2}
	_ = m.Upsert(context.Background(), domain.ChunkRecord{ID: "a", SessionID: "S", Embedding: emb})
	emb[0] = 99
	got, _ := m.Scan(context.Background(), "S", time.Now())
	if got[0].Embedding[0] != 1 {
		t.Fatal("store must not alias caller memory")
	}
}

func TestMemoryStoreConcurrent(t *testing.T) {
	m := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.Upsert(context.Background(), domain.ChunkRecord{ID: string(rune('a' + i%26)), SessionID: "S"})
			_, _ = m.Scan(context.Background(), "S", time.Now())
		}(i)
	}
	wg.Wait()
	if m.Len() != 26 {
		t.Fatalf("expected 26 distinct ids, got %d", m.Len())
	}
}

func TestMemoryStoreCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewMemoryStore().Upsert(ctx, domain.ChunkRecord{ID: "a"}); err == nil {
		t.Fatal("expected context error")
	}
}
