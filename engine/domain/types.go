// Package domain defines the core types, ports and error taxonomy of the
// LogBot retrieval engine. Every other engine package depends on it; it
// depends on nothing but the standard library.
package domain

import (
	"context"
	"sort"
	"time"
)

// Chunk types assigned by the structural splitter.
const (
	TypeHeader  = "header"
	TypeContent = "content"
)

// SectionMeetingInfo labels untitled leading text of a protocol.
const SectionMeetingInfo = "meeting-info"

// Metadata describes where a chunk came from.
type Metadata struct {
	SourceFile  string    `json:"source_file"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"content_hash"`
	Section     string    `json:"section,omitempty"`
	Type        string    `json:"type,omitempty"`
}

// ChunkRecord is one embedded, session-scoped unit of document text.
type ChunkRecord struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Embedding   []float32  `json:"embedding"`
	SessionID   string     `json:"session_id"`
	ChunkIndex  int        `json:"chunk_index"`
	TotalChunks int        `json:"total_chunks"`
	Metadata    Metadata   `json:"metadata"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the record is visible at now. Records without an
// expiry never expire.
func (r ChunkRecord) ActiveAt(now time.Time) bool {
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// SortRecords orders records by document timestamp, source file and chunk
// index, with the id as final tie-break. Stores without a natural order use
// it so that scans are deterministic.
func SortRecords(recs []ChunkRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.Metadata.Timestamp.Equal(b.Metadata.Timestamp) {
			return a.Metadata.Timestamp.Before(b.Metadata.Timestamp)
		}
		if a.Metadata.SourceFile != b.Metadata.SourceFile {
			return a.Metadata.SourceFile < b.Metadata.SourceFile
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.ID < b.ID
	})
}

// Candidate is a record scored against a query.
type Candidate struct {
	Record ChunkRecord
	Score  float64
}

// Passage is a retrieved chunk ready for answer synthesis. Content carries
// its source inline.
type Passage struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Document is extracted plain text waiting for ingestion.
type Document struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

// Ingest statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// IngestResult reports the outcome for one document.
type IngestResult struct {
	Status   string   `json:"status"`
	Filename string   `json:"filename"`
	ChunkIDs []string `json:"chunk_ids,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// OK reports whether the document was fully ingested.
func (r IngestResult) OK() bool { return r.Status == StatusSuccess }

// Embedder maps text to fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SessionCounts splits a session's stored records by expiry.
type SessionCounts struct {
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// SessionCounter is implemented by stores that can count a session's
// records, expired ones included, without reading them.
type SessionCounter interface {
	CountSession(ctx context.Context, sessionID string, now time.Time) (SessionCounts, error)
}

// Store persists chunk records keyed by ID.
type Store interface {
	// Upsert inserts or replaces the record with the same ID.
	Upsert(ctx context.Context, rec ChunkRecord) error
	// Scan returns the session's records that are active at now, ordered by
	// chunk index within each document.
	Scan(ctx context.Context, sessionID string, now time.Time) ([]ChunkRecord, error)
}
