// Package adapter guards the embedder and store ports with bounded retries,
// a circuit breaker and call metrics. Failures that survive the guard are
// reported as *domain.DependencyError.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/fn"
	"github.com/logbotai/logbot/pkg/metrics"
	"github.com/logbotai/logbot/pkg/resilience"
)

// Opts configures a guard.
type Opts struct {
	Retry   fn.RetryOpts
	Breaker resilience.BreakerOpts
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// DefaultOpts retries three times and opens the breaker after five
// consecutive dependency failures.
func DefaultOpts() Opts {
	return Opts{Retry: fn.DefaultRetry, Breaker: resilience.DefaultBreakerOpts}
}

type guard struct {
	dependency string
	retry      fn.RetryOpts
	breaker    *resilience.Breaker
	metrics    *metrics.Registry
}

func newGuard(dependency string, opts Opts) *guard {
	retry := opts.Retry
	retry.Retryable = func(err error) bool {
		return domain.IsRetryable(err) && !errors.Is(err, resilience.ErrCircuitOpen)
	}
	bo := opts.Breaker
	if bo.Name == "" {
		bo.Name = dependency
	}
	bo.Counts = domain.IsRetryable
	if bo.Logger == nil {
		bo.Logger = opts.Logger
	}
	return &guard{
		dependency: dependency,
		retry:      retry,
		breaker:    resilience.NewBreaker(bo),
		metrics:    opts.Metrics,
	}
}

// call runs f through retry and breaker and maps a final failure to a
// DependencyError. Cancellation of ctx is returned unwrapped.
func call[T any](ctx context.Context, g *guard, op string, f func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	res := fn.Retry(ctx, g.retry, func(ctx context.Context) fn.Result[T] {
		return resilience.CallResult(g.breaker, ctx, func(ctx context.Context) fn.Result[T] {
			return fn.FromPair(f(ctx))
		})
	})
	v, err := res.Unwrap()
	g.observe(op, start, err)
	if err == nil {
		return v, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return v, ctxErr
	}
	return v, &domain.DependencyError{Dependency: g.dependency, Op: op, Err: err}
}

func (g *guard) observe(op string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	g.metrics.Counter(metrics.WithLabels("logbot_dependency_calls_total",
		"dependency", g.dependency, "op", op, "outcome", outcome), "Guarded dependency calls").Inc()
	g.metrics.Histogram(metrics.WithLabels("logbot_dependency_call_duration_seconds",
		"dependency", g.dependency, "op", op), "Guarded dependency latency including retries", nil).Since(start)
}

// Embedder guards a domain.Embedder.
type Embedder struct {
	next  domain.Embedder
	guard *guard
}

var _ domain.Embedder = (*Embedder)(nil)

// NewEmbedder wraps next.
func NewEmbedder(next domain.Embedder, opts Opts) *Embedder {
	return &Embedder{next: next, guard: newGuard("embedder", opts)}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, e.guard, "embed", func(ctx context.Context) ([]float32, error) {
		v, err := e.next.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty vector", domain.ErrEmbeddingUnavailable)
		}
		return v, nil
	})
}

// EmbedBatch implements domain.Embedder.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return call(ctx, e.guard, "embed_batch", func(ctx context.Context) ([][]float32, error) {
		vs, err := e.next.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
		}
		if len(vs) != len(texts) {
			return nil, fmt.Errorf("%w: %d vectors for %d texts", domain.ErrEmbeddingUnavailable, len(vs), len(texts))
		}
		return vs, nil
	})
}

// Store guards a domain.Store.
type Store struct {
	next  domain.Store
	guard *guard
}

var (
	_ domain.Store          = (*Store)(nil)
	_ domain.SessionCounter = (*Store)(nil)
)

// NewStore wraps next.
func NewStore(next domain.Store, opts Opts) *Store {
	return &Store{next: next, guard: newGuard("store", opts)}
}

// Upsert implements domain.Store.
func (s *Store) Upsert(ctx context.Context, rec domain.ChunkRecord) error {
	_, err := call(ctx, s.guard, "upsert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.Upsert(ctx, rec)
	})
	return err
}

// Scan implements domain.Store.
func (s *Store) Scan(ctx context.Context, sessionID string, now time.Time) ([]domain.ChunkRecord, error) {
	return call(ctx, s.guard, "scan", func(ctx context.Context) ([]domain.ChunkRecord, error) {
		return s.next.Scan(ctx, sessionID, now)
	})
}

// CountSession implements domain.SessionCounter. When the wrapped store
// cannot count, only active records are visible and Expired is zero.
func (s *Store) CountSession(ctx context.Context, sessionID string, now time.Time) (domain.SessionCounts, error) {
	return call(ctx, s.guard, "count", func(ctx context.Context) (domain.SessionCounts, error) {
		if counter, ok := s.next.(domain.SessionCounter); ok {
			return counter.CountSession(ctx, sessionID, now)
		}
		recs, err := s.next.Scan(ctx, sessionID, now)
		if err != nil {
			return domain.SessionCounts{}, err
		}
		return domain.SessionCounts{Active: len(recs)}, nil
	})
}
