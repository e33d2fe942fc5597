package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/fn"
	"github.com/logbotai/logbot/pkg/vec"
)

// DefaultRerankWidth is the size of the leading slice that gets reranked.
const DefaultRerankWidth = 7

// Reranker re-scores the leading results with a fresh embedding pass.
type Reranker struct {
	embedder domain.Embedder
	width    int
}

// NewReranker creates a Reranker over the first width results. A width of
// zero or less disables reranking.
func NewReranker(emb domain.Embedder, width int) *Reranker {
	return &Reranker{embedder: emb, width: width}
}

// Rerank reorders the first width results by the dot product of their
// content embedding with a fresh query embedding. Later results follow
// unchanged. Input of at most width results is returned as is, without
// any embedding calls, as is any input when reranking is disabled. Scores
// are not modified.
func (r *Reranker) Rerank(ctx context.Context, query string, results []domain.Candidate) ([]domain.Candidate, error) {
	if r.width <= 0 || len(results) <= r.width {
		return results, nil
	}

	q, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank query: %w", err)
	}
	head := results[:r.width]
	texts := fn.Map(head, func(c domain.Candidate) string { return c.Record.Content })
	docs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rerank documents: %w", err)
	}
	if len(docs) != len(head) {
		return nil, fmt.Errorf("retrieval: rerank: %d vectors for %d documents", len(docs), len(head))
	}

	type scored struct {
		c     domain.Candidate
		score float64
	}
	ranked := make([]scored, len(head))
	for i, c := range head {
		ranked[i] = scored{c: c, score: vec.Dot(q, docs[i])}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]domain.Candidate, 0, len(results))
	for _, s := range ranked {
		out = append(out, s.c)
	}
	return append(out, results[r.width:]...), nil
}
