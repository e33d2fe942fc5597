package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/engine/enginetest"
	"github.com/logbotai/logbot/engine/semantic"
)

func TestNewIDUniqueAndValid(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("not a uuid: %q", id)
		}
		if err := domain.ValidateSessionID(id); err != nil {
			t.Fatalf("generated id rejected: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestExpiresAt(t *testing.T) {
	now := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	got := ExpiresAt(now, time.Hour)
	if got == nil || !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", got)
	}
	if ExpiresAt(now, 0) != nil {
		t.Fatal("zero ttl must not expire")
	}
}

func TestLifecycle(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Second), now.Add(time.Second)
	tests := []struct {
		name string
		recs []domain.ChunkRecord
		want State
	}{
		{"none", nil, Unknown},
		{"all expired", []domain.ChunkRecord{{ExpiresAt: &past}, {ExpiresAt: &past}}, Expired},
		{"one active", []domain.ChunkRecord{{ExpiresAt: &past}, {ExpiresAt: &future}}, Active},
		{"no expiry", []domain.ChunkRecord{{}}, Active},
		{"expires exactly now", []domain.ChunkRecord{{ExpiresAt: &now}}, Expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Lifecycle(tt.recs, now); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateFor(t *testing.T) {
	if StateFor(domain.SessionCounts{}) != Unknown ||
		StateFor(domain.SessionCounts{Expired: 1}) != Expired ||
		StateFor(domain.SessionCounts{Active: 1, Expired: 4}) != Active {
		t.Fatal("unexpected state mapping")
	}
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(Info{ID: "x", State: Expired})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"session_id":"x","state":"EXPIRED","active_chunks":0,"expired_chunks":0}` {
		t.Fatalf("unexpected json %s", b)
	}
}

func TestInspectWithCounter(t *testing.T) {
	now := time.Now()
	store := semantic.NewMemoryStore()
	ctx := context.Background()
	_ = store.Upsert(ctx, domain.ChunkRecord{ID: "a", SessionID: "S1", ExpiresAt: ExpiresAt(now.Add(-2*time.Hour), time.Hour)})

	info, err := Inspect(ctx, store, "S1", now)
	if err != nil {
		t.Fatal(err)
	}
	if info.State != Expired || info.Expired != 1 {
		t.Fatalf("unexpected info %+v", info)
	}

	// The record becomes visible again if we look from before its expiry.
	info, _ = Inspect(ctx, store, "S1", now.Add(-90*time.Minute))
	if info.State != Active {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestInspectWithoutCounter(t *testing.T) {
	store := enginetest.NewRecordingStore()
	store.Put(domain.ChunkRecord{ID: "a", SessionID: "S1"})
	info, err := Inspect(context.Background(), store, "S1", time.Now())
	if err != nil || info.State != Active || info.Active != 1 {
		t.Fatalf("unexpected info %+v %v", info, err)
	}
	info, _ = Inspect(context.Background(), store, "S2", time.Now())
	if info.State != Unknown {
		t.Fatalf("unexpected state %v", info.State)
	}
}

func TestInspectRejectsBadID(t *testing.T) {
	_, err := Inspect(context.Background(), enginetest.NewRecordingStore(), "../etc", time.Now())
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInspectStoreError(t *testing.T) {
	store := enginetest.NewRecordingStore()
	store.ScanErr = errors.New("down")
	if _, err := Inspect(context.Background(), store, "S1", time.Now()); err == nil {
		t.Fatal("expected error")
	}
}
