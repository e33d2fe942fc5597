//go:build integration

package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func testDriver(t *testing.T) neo4j.DriverWithContext {
	t.Helper()
	url := envOr("NEO4J_URL", "neo4j://localhost:7687")
	driver, err := neo4j.NewDriverWithContext(url, neo4j.NoAuth())
	if err != nil {
		t.Fatalf("neo4j connect: %v", err)
	}
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		t.Fatalf("neo4j verify: %v", err)
	}
	t.Cleanup(func() {
		sess := driver.NewSession(ctx, neo4j.SessionConfig{})
		sess.Run(ctx, "MATCH (n:Chunk) DETACH DELETE n", nil)
		sess.Close(ctx)
		driver.Close(ctx)
	})
	return driver
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestNeo4j_UpsertScanCount(t *testing.T) {
	s := New(testDriver(t))
	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	live := sampleRecord()
	live.ExpiresAt = nil
	dead := sampleRecord()
	dead.ID = "S1_abc_1"
	dead.ChunkIndex = 1
	past := now.Add(-time.Minute)
	dead.ExpiresAt = &past

	for _, rec := range []domain.ChunkRecord{live, dead, live} {
		if err := s.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.Scan(ctx, "S1", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != live.ID {
		t.Fatalf("unexpected records %+v", recs)
	}
	c, err := s.CountSession(ctx, "S1", now)
	if err != nil {
		t.Fatal(err)
	}
	if c != (domain.SessionCounts{Active: 1, Expired: 1}) {
		t.Fatalf("unexpected counts %+v", c)
	}
}
