// Package ingest turns extracted documents into embedded, session-scoped
// chunk records. One document is all-or-nothing; documents ingested together
// are independent of each other.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/logbotai/logbot/engine/chunker"
	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/engine/session"
	"github.com/logbotai/logbot/pkg/fn"
	"github.com/logbotai/logbot/pkg/metrics"
)

// DefaultWorkers bounds concurrent embed+upsert calls per document.
const DefaultWorkers = 4

// Deps holds the external dependencies of the pipeline.
type Deps struct {
	Splitter chunker.Splitter
	Embedder domain.Embedder
	Store    domain.Store
	Logger   *slog.Logger
	Metrics  *metrics.Registry
	// Now defaults to time.Now.
	Now func() time.Time
}

// Options tunes the pipeline.
type Options struct {
	// SessionTTL sets expires_at on every record. Zero disables expiry.
	SessionTTL time.Duration
	// Workers bounds per-chunk concurrency within one document.
	Workers int
	// DocWorkers bounds how many documents IngestMultiple runs at once.
	// Zero runs all of them concurrently.
	DocWorkers int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{SessionTTL: session.DefaultTTL, Workers: DefaultWorkers}
}

// Pipeline ingests documents into a store.
type Pipeline struct {
	deps  Deps
	opts  Options
	log   *slog.Logger
	stage fn.Stage[job, []string]
}

// job is one document on its way through the stages.
type job struct {
	doc       domain.Document
	sessionID string
	at        time.Time
}

type chunkedJob struct {
	job
	chunks []chunker.Chunk
}

// NewPipeline wires the stages: validate, chunk, build records, then
// embed and upsert each record with bounded concurrency.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	p := &Pipeline{deps: deps, opts: opts, log: deps.Logger}

	validated := fn.TracedStage("ingest.validate", fn.Stage[job, job](p.validate))
	chunked := fn.Then(validated, fn.TracedStage("ingest.chunk", fn.Stage[job, chunkedJob](p.chunk)))
	logged := fn.Then(chunked, fn.TapStage(func(ctx context.Context, j chunkedJob) {
		p.log.DebugContext(ctx, "ingest: document chunked",
			"filename", j.doc.Filename, "session_id", j.sessionID, "chunks", len(j.chunks))
	}))
	built := fn.Then(logged, fn.MapStage(p.records))
	stored := fn.BatchStage(opts.Workers, fn.Stage[domain.ChunkRecord, string](p.embedAndStore))
	p.stage = fn.Then(built, fn.TracedStage("ingest.embed_store", stored))
	return p
}

func (p *Pipeline) validate(_ context.Context, j job) fn.Result[job] {
	if err := domain.ValidateSessionID(j.sessionID); err != nil {
		return fn.Err[job](err)
	}
	if err := domain.ValidateDocument(j.doc); err != nil {
		return fn.Err[job](err)
	}
	return fn.Ok(j)
}

func (p *Pipeline) chunk(ctx context.Context, j job) fn.Result[chunkedJob] {
	chunks, err := p.deps.Splitter.Split(ctx, j.doc.Text)
	if err != nil {
		return fn.Err[chunkedJob](fmt.Errorf("ingest: chunk %s: %w", j.doc.Filename, err))
	}
	if len(chunks) == 0 {
		return fn.Err[chunkedJob](domain.NewValidationError("text", j.doc.Filename, domain.ErrEmptyDocument))
	}
	return fn.Ok(chunkedJob{job: j, chunks: chunks})
}

func (p *Pipeline) records(j chunkedJob) []domain.ChunkRecord {
	expires := session.ExpiresAt(j.at, p.opts.SessionTTL)
	recs := make([]domain.ChunkRecord, len(j.chunks))
	for i, c := range j.chunks {
		hash := ContentHash(c.Content)
		recs[i] = domain.ChunkRecord{
			ID:          ChunkID(j.sessionID, hash, i),
			Content:     c.Content,
			SessionID:   j.sessionID,
			ChunkIndex:  i,
			TotalChunks: len(j.chunks),
			Metadata: domain.Metadata{
				SourceFile:  j.doc.Filename,
				Timestamp:   j.at,
				ContentHash: hash,
				Section:     c.Section,
				Type:        c.Type,
			},
			ExpiresAt: expires,
		}
	}
	return recs
}

func (p *Pipeline) embedAndStore(ctx context.Context, rec domain.ChunkRecord) fn.Result[string] {
	v, err := p.deps.Embedder.Embed(ctx, rec.Content)
	if err != nil {
		return fn.Err[string](fmt.Errorf("ingest: embed chunk %d: %w", rec.ChunkIndex, err))
	}
	rec.Embedding = v
	if err := p.deps.Store.Upsert(ctx, rec); err != nil {
		return fn.Err[string](fmt.Errorf("ingest: store chunk %d: %w", rec.ChunkIndex, err))
	}
	return fn.Ok(rec.ID)
}

// Ingest chunks, embeds and stores one document. Any chunk failure fails the
// whole document; the returned result then carries the error message and no
// chunk ids. The error is returned as well for callers that need its kind.
func (p *Pipeline) Ingest(ctx context.Context, doc domain.Document, sessionID string) (domain.IngestResult, error) {
	start := time.Now()
	if reg := p.deps.Metrics; reg != nil {
		inflight := reg.Gauge("logbot_ingest_documents_in_flight", "Documents currently being ingested")
		inflight.Inc()
		defer inflight.Dec()
	}
	ids, err := p.stage(ctx, job{doc: doc, sessionID: sessionID, at: p.deps.Now().UTC()}).Unwrap()
	p.observe(start, len(ids), err)
	if err != nil {
		p.log.Error("ingest: document failed",
			"filename", doc.Filename, "session_id", sessionID, "err", err)
		return domain.IngestResult{
			Status:   domain.StatusError,
			Filename: doc.Filename,
			Message:  err.Error(),
		}, err
	}
	p.log.Info("ingest: document stored",
		"filename", doc.Filename, "session_id", sessionID, "chunks", len(ids),
		"duration", time.Since(start))
	return domain.IngestResult{
		Status:   domain.StatusSuccess,
		Filename: doc.Filename,
		ChunkIDs: ids,
		Message:  fmt.Sprintf("Document successfully split into %d chunks and upserted", len(ids)),
	}, nil
}

// IngestMultiple ingests every document independently. Results are in input
// order and a failed document never affects its siblings.
func (p *Pipeline) IngestMultiple(ctx context.Context, docs []domain.Document, sessionID string) []domain.IngestResult {
	return fn.ParMap(docs, p.opts.DocWorkers, func(doc domain.Document) domain.IngestResult {
		res, _ := p.Ingest(ctx, doc, sessionID)
		return res
	})
}

func (p *Pipeline) observe(start time.Time, chunks int, err error) {
	reg := p.deps.Metrics
	if reg == nil {
		return
	}
	status := domain.StatusSuccess
	if err != nil {
		status = domain.StatusError
	}
	reg.Counter(metrics.WithLabels("logbot_ingest_documents_total", "status", status),
		"Documents ingested by outcome").Inc()
	reg.Counter("logbot_ingest_chunks_total", "Chunks embedded and stored").Add(int64(chunks))
	reg.Histogram("logbot_ingest_document_duration_seconds", "Per-document ingestion latency", nil).Since(start)
}

// ContentHash is the hex SHA-256 of a chunk's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives the deterministic record id. Re-ingesting identical
// content into the same session yields the same id.
func ChunkID(sessionID, contentHash string, index int) string {
	return fmt.Sprintf("%s_%s_%d", sessionID, contentHash, index)
}
