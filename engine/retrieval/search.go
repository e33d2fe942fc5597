// Package retrieval finds the passages of a session that answer a question:
// cosine search over the session's records, MMR diversity selection and a
// second-pass rerank of the leading slice.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/vec"
)

// Search defaults.
const (
	DefaultThreshold      = 0.4
	DefaultCandidateLimit = 20
)

// Engine scores a session's records against a query.
type Engine struct {
	embedder  domain.Embedder
	store     domain.Store
	threshold float64
	limit     int
	now       func() time.Time
	log       *slog.Logger
}

// NewEngine creates an Engine. Candidates scoring below threshold are
// dropped and at most limit are kept; a non-positive limit keeps all.
func NewEngine(emb domain.Embedder, store domain.Store, threshold float64, limit int) *Engine {
	return &Engine{
		embedder:  emb,
		store:     store,
		threshold: threshold,
		limit:     limit,
		now:       time.Now,
		log:       slog.Default(),
	}
}

// Search embeds query and scores it against the session.
func (e *Engine) Search(ctx context.Context, query, sessionID string) ([]domain.Candidate, error) {
	q, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	return e.Score(ctx, q, sessionID)
}

// Score returns the session's active records whose cosine similarity to q
// reaches the threshold, best first. Equal scores keep store order. Records
// embedded with a different dimensionality are skipped.
func (e *Engine) Score(ctx context.Context, q []float32, sessionID string) ([]domain.Candidate, error) {
	now := e.now()
	recs, err := e.store.Scan(ctx, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("retrieval: scan %s: %w", sessionID, err)
	}

	out := make([]domain.Candidate, 0, len(recs))
	skipped := 0
	for _, rec := range recs {
		if rec.SessionID != sessionID || !rec.ActiveAt(now) {
			continue
		}
		if len(rec.Embedding) != len(q) {
			skipped++
			continue
		}
		score := vec.Cosine(q, rec.Embedding)
		if score < e.threshold {
			continue
		}
		out = append(out, domain.Candidate{Record: rec, Score: score})
	}
	if skipped > 0 {
		e.log.Warn("retrieval: skipped records with foreign dimensionality",
			"session_id", sessionID, "skipped", skipped, "dim", len(q))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if e.limit > 0 && len(out) > e.limit {
		out = out[:e.limit]
	}
	return out, nil
}
