package chunker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/vec"
)

// Semantic merges consecutive sentences until the cosine distance to the
// next sentence exceeds the configured percentile of all adjacent distances.
type Semantic struct {
	embedder   domain.Embedder
	percentile float64
}

// NewSemantic creates a semantic splitter. A percentile outside (0,100]
// falls back to DefaultPercentile.
func NewSemantic(emb domain.Embedder, percentile float64) *Semantic {
	if percentile <= 0 || percentile > 100 {
		percentile = DefaultPercentile
	}
	return &Semantic{embedder: emb, percentile: percentile}
}

// Split implements Splitter. It embeds every sentence in one batch.
func (s *Semantic) Split(ctx context.Context, text string) ([]Chunk, error) {
	sents := splitSentences(text)
	switch len(sents) {
	case 0:
		return nil, nil
	case 1:
		return []Chunk{{Content: sents[0]}}, nil
	}

	vecs, err := s.embedder.EmbedBatch(ctx, sents)
	if err != nil {
		return nil, fmt.Errorf("chunker: semantic: %w", err)
	}
	if len(vecs) != len(sents) {
		return nil, fmt.Errorf("chunker: semantic: %d embeddings for %d sentences", len(vecs), len(sents))
	}

	dist := make([]float64, len(sents)-1)
	for i := range dist {
		dist[i] = 1 - vec.Cosine(vecs[i], vecs[i+1])
	}
	sorted := append([]float64(nil), dist...)
	sort.Float64s(sorted)
	threshold := vec.Percentile(sorted, s.percentile)

	var out []Chunk
	start := 0
	for i, d := range dist {
		if d > threshold {
			out = append(out, Chunk{Content: strings.Join(sents[start:i+1], " ")})
			start = i + 1
		}
	}
	out = append(out, Chunk{Content: strings.Join(sents[start:], " ")})
	return out, nil
}

// splitSentences splits on newlines and on '.', '!' or '?' followed by
// whitespace. A period closing a bare number ("1. Öppnande") does not end
// a sentence.
func splitSentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	emit := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			emit()
			continue
		}
		cur.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if r == '.' && endsWithNumber(runes[:i]) {
			continue
		}
		emit()
	}
	emit()
	return out
}

// endsWithNumber reports whether the last word of rs is all digits.
func endsWithNumber(rs []rune) bool {
	n := 0
	for i := len(rs) - 1; i >= 0 && !unicode.IsSpace(rs[i]); i-- {
		if !unicode.IsDigit(rs[i]) {
			return false
		}
		n++
	}
	return n > 0
}
