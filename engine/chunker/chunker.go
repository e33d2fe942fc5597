// Package chunker splits extracted document text into ordered, non-empty
// chunks. Two strategies exist: Structural follows the headers of a meeting
// protocol, Semantic cuts where consecutive sentences drift apart in
// embedding space.
package chunker

import (
	"context"
	"fmt"

	"github.com/logbotai/logbot/engine/domain"
)

// Strategy names accepted by New.
const (
	StrategyStructural = "structural"
	StrategySemantic   = "semantic"
)

// DefaultPercentile is the distance percentile above which the semantic
// splitter starts a new chunk.
const DefaultPercentile = 95.0

// Chunk is one split of the input. Section and Type are set by the
// structural strategy only.
type Chunk struct {
	Content string
	Section string
	Type    string
}

// Splitter turns text into chunks in source order. Empty chunks are never
// returned.
type Splitter interface {
	Split(ctx context.Context, text string) ([]Chunk, error)
}

// Config selects a strategy.
type Config struct {
	Strategy   string
	Percentile float64
}

// New returns the splitter named by cfg.Strategy. The embedder is only used
// by the semantic strategy.
func New(cfg Config, emb domain.Embedder) (Splitter, error) {
	switch cfg.Strategy {
	case "", StrategyStructural:
		return Structural{}, nil
	case StrategySemantic:
		if emb == nil {
			return nil, fmt.Errorf("chunker: semantic strategy needs an embedder")
		}
		return NewSemantic(emb, cfg.Percentile), nil
	default:
		return nil, fmt.Errorf("chunker: unknown strategy %q", cfg.Strategy)
	}
}
