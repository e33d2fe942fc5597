// Package graph stores chunk records as Neo4j nodes. It is the alternative
// to the Qdrant backend for deployments that already run a graph database.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Label is the node label for chunk records.
const Label = "Chunk"

const scanCypher = `MATCH (n:Chunk {session_id: $session})
WHERE n.expires_at IS NULL OR n.expires_at > $now
RETURN n
ORDER BY n.timestamp, n.source_file, n.chunk_index, n.id`

const countCypher = `MATCH (n:Chunk {session_id: $session})
RETURN count(CASE WHEN n.expires_at IS NULL OR n.expires_at > $now THEN 1 END) AS active,
       count(n) AS total`

// ChunkStore implements domain.Store on Neo4j.
type ChunkStore struct {
	driver neo4j.DriverWithContext
	chunks *repo.Neo4jRepo[domain.ChunkRecord]
}

var (
	_ domain.Store          = (*ChunkStore)(nil)
	_ domain.SessionCounter = (*ChunkStore)(nil)
)

// New creates a ChunkStore. Options are passed to the underlying repository;
// tests use repo.WithSessions with a nil driver.
func New(driver neo4j.DriverWithContext, opts ...repo.Option[domain.ChunkRecord]) *ChunkStore {
	return &ChunkStore{
		driver: driver,
		chunks: repo.NewNeo4jRepo[domain.ChunkRecord](driver, Label, chunkToMap, chunkFromRecord, opts...),
	}
}

// EnsureSchema creates the id uniqueness constraint.
func (s *ChunkStore) EnsureSchema(ctx context.Context) error {
	if err := s.chunks.EnsureConstraint(ctx); err != nil {
		return fmt.Errorf("graph: ensure schema: %w", err)
	}
	return nil
}

// Ready verifies connectivity to the database.
func (s *ChunkStore) Ready(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.VerifyConnectivity(ctx)
}

// Upsert implements domain.Store.
func (s *ChunkStore) Upsert(ctx context.Context, rec domain.ChunkRecord) error {
	if err := s.chunks.Merge(ctx, rec); err != nil {
		return fmt.Errorf("graph: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Scan implements domain.Store.
func (s *ChunkStore) Scan(ctx context.Context, sessionID string, now time.Time) ([]domain.ChunkRecord, error) {
	recs, err := s.chunks.Query(ctx, scanCypher, map[string]any{
		"session": sessionID,
		"now":     now.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("graph: scan %s: %w", sessionID, err)
	}
	return recs, nil
}

// CountSession implements domain.SessionCounter.
func (s *ChunkStore) CountSession(ctx context.Context, sessionID string, now time.Time) (domain.SessionCounts, error) {
	var c domain.SessionCounts
	err := s.chunks.Each(ctx, countCypher, map[string]any{
		"session": sessionID,
		"now":     now.UnixMilli(),
	}, func(rec *neo4j.Record) error {
		active, _ := rec.Get("active")
		total, _ := rec.Get("total")
		a, _ := active.(int64)
		t, _ := total.(int64)
		c = domain.SessionCounts{Active: int(a), Expired: int(t - a)}
		return nil
	})
	if err != nil {
		return domain.SessionCounts{}, fmt.Errorf("graph: count %s: %w", sessionID, err)
	}
	return c, nil
}

func chunkToMap(rec domain.ChunkRecord) map[string]any {
	emb := make([]float64, len(rec.Embedding))
	for i, v := range rec.Embedding {
		emb[i] = float64(v)
	}
	props := map[string]any{
		"id":           rec.ID,
		"content":      rec.Content,
		"embedding":    emb,
		"session_id":   rec.SessionID,
		"chunk_index":  int64(rec.ChunkIndex),
		"total_chunks": int64(rec.TotalChunks),
		"source_file":  rec.Metadata.SourceFile,
		"timestamp":    rec.Metadata.Timestamp.UnixMilli(),
		"content_hash": rec.Metadata.ContentHash,
		"section":      rec.Metadata.Section,
		"type":         rec.Metadata.Type,
		"expires_at":   nil,
	}
	if rec.ExpiresAt != nil {
		props["expires_at"] = rec.ExpiresAt.UnixMilli()
	}
	return props
}

func chunkFromRecord(rec *neo4j.Record) (domain.ChunkRecord, error) {
	raw, ok := rec.Get("n")
	if !ok {
		return domain.ChunkRecord{}, fmt.Errorf("graph: record has no n")
	}
	node, ok := raw.(dbtype.Node)
	if !ok {
		return domain.ChunkRecord{}, fmt.Errorf("graph: unexpected %T for n", raw)
	}
	return chunkFromProps(node.Props), nil
}

func chunkFromProps(p map[string]any) domain.ChunkRecord {
	rec := domain.ChunkRecord{
		ID:          str(p["id"]),
		Content:     str(p["content"]),
		SessionID:   str(p["session_id"]),
		ChunkIndex:  int(i64(p["chunk_index"])),
		TotalChunks: int(i64(p["total_chunks"])),
		Metadata: domain.Metadata{
			SourceFile:  str(p["source_file"]),
			Timestamp:   time.UnixMilli(i64(p["timestamp"])).UTC(),
			ContentHash: str(p["content_hash"]),
			Section:     str(p["section"]),
			Type:        str(p["type"]),
		},
	}
	if list, ok := p["embedding"].([]any); ok {
		rec.Embedding = make([]float32, 0, len(list))
		for _, v := range list {
			f, _ := v.(float64)
			rec.Embedding = append(rec.Embedding, float32(f))
		}
	}
	if v, ok := p["expires_at"].(int64); ok {
		t := time.UnixMilli(v).UTC()
		rec.ExpiresAt = &t
	}
	return rec
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func i64(v any) int64 {
	n, _ := v.(int64)
	return n
}
