package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/logbotai/logbot/engine/retrieval"

// DefaultK is the number of passages handed to answer synthesis.
const DefaultK = 10

// Options tunes retrieval.
type Options struct {
	Threshold      float64
	CandidateLimit int
	K              int
	Lambda         float64
	RerankWidth    int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:      DefaultThreshold,
		CandidateLimit: DefaultCandidateLimit,
		K:              DefaultK,
		Lambda:         DefaultLambda,
		RerankWidth:    DefaultRerankWidth,
	}
}

// Deps holds the external dependencies of a Retriever.
type Deps struct {
	Embedder domain.Embedder
	Store    domain.Store
	Logger   *slog.Logger
	Metrics  *metrics.Registry
	// Now defaults to time.Now.
	Now func() time.Time
}

// Retriever runs search, MMR selection and rerank for a question.
type Retriever struct {
	embedder domain.Embedder
	engine   *Engine
	reranker *Reranker
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Registry
}

// New creates a Retriever.
func New(deps Deps, opts Options) *Retriever {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	engine := NewEngine(deps.Embedder, deps.Store, opts.Threshold, opts.CandidateLimit)
	engine.log = deps.Logger
	if deps.Now != nil {
		engine.now = deps.Now
	}
	return &Retriever{
		embedder: deps.Embedder,
		engine:   engine,
		reranker: NewReranker(deps.Embedder, opts.RerankWidth),
		opts:     opts,
		log:      deps.Logger,
		metrics:  deps.Metrics,
	}
}

// Retrieve returns the session's passages for question, most useful first.
// A session without matching active records yields an empty, non-nil slice
// and no error. Any dependency failure fails the whole call.
func (r *Retriever) Retrieve(ctx context.Context, question, sessionID string) ([]domain.Passage, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieval.retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	passages, err := r.retrieve(ctx, question, sessionID)
	r.observe(start, passages, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("passages", len(passages)))
	return passages, nil
}

func (r *Retriever) retrieve(ctx context.Context, question, sessionID string) ([]domain.Passage, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	if err := domain.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	q, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed question: %w", err)
	}
	cands, err := r.engine.Score(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		r.log.Info("retrieval: no evidence", "session_id", sessionID)
		return []domain.Passage{}, nil
	}

	selected := SelectMMR(q, cands, r.opts.K, r.opts.Lambda)
	ranked, err := r.reranker.Rerank(ctx, question, selected)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Passage, len(ranked))
	for i, c := range ranked {
		src := c.Record.Metadata.SourceFile
		out[i] = domain.Passage{Content: FormatPassage(src, c.Record.Content), Source: src, Score: c.Score}
	}
	r.log.Debug("retrieval: done", "session_id", sessionID,
		"candidates", len(cands), "passages", len(out))
	return out, nil
}

func (r *Retriever) observe(start time.Time, passages []domain.Passage, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case len(passages) == 0:
		outcome = "empty"
	}
	r.metrics.Counter(metrics.WithLabels("logbot_retrieval_requests_total", "outcome", outcome),
		"Retrieval calls by outcome").Inc()
	r.metrics.Histogram("logbot_retrieval_duration_seconds", "Retrieval latency", nil).Since(start)
}

// FormatPassage wraps content in a document tag naming its source, so that
// answer synthesis can cite it.
func FormatPassage(source, content string) string {
	return `<document source="` + strings.ReplaceAll(source, `"`, "&quot;") + "\">\n" +
		content + "\n</document>"
}
