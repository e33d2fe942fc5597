package retrieval

import (
	"math"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/vec"
)

// DefaultLambda leans towards relevance.
const DefaultLambda = 0.7

// SelectMMR greedily picks min(k, len(cands)) candidates by maximal marginal
// relevance:
//
//	lambda*sim(q, c) - (1-lambda)*max(sim(c, s) for s in selected)
//
// The first pick is the most relevant candidate. Exact ties go to the
// earliest candidate, so the result is deterministic for a given input
// order. Returned candidates keep their original scores.
func SelectMMR(q []float32, cands []domain.Candidate, k int, lambda float64) []domain.Candidate {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	if k > len(cands) {
		k = len(cands)
	}

	relevance := make([]float64, len(cands))
	maxSim := make([]float64, len(cands))
	taken := make([]bool, len(cands))
	for i, c := range cands {
		relevance[i] = vec.Cosine(q, c.Record.Embedding)
		maxSim[i] = math.Inf(-1)
	}

	selected := make([]domain.Candidate, 0, k)
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range cands {
			if taken[i] {
				continue
			}
			score := relevance[i]
			if len(selected) > 0 {
				score = lambda*relevance[i] - (1-lambda)*maxSim[i]
			}
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		taken[best] = true
		selected = append(selected, cands[best])

		picked := cands[best].Record.Embedding
		for i := range cands {
			if taken[i] {
				continue
			}
			if s := vec.Cosine(cands[i].Record.Embedding, picked); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}
	return selected
}
