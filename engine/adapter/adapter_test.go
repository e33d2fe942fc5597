package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/engine/enginetest"
	"github.com/logbotai/logbot/pkg/fn"
	"github.com/logbotai/logbot/pkg/metrics"
	"github.com/logbotai/logbot/pkg/resilience"
)

func fastOpts(reg *metrics.Registry) Opts {
	return Opts{
		Retry:   fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
		Breaker: resilience.BreakerOpts{FailThreshold: 100, Timeout: time.Minute},
		Metrics: reg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// flakyEmbedder fails the first n calls.
type flakyEmbedder struct {
	n     int32
	calls atomic.Int32
	err   error
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) <= f.n {
		return nil, f.err
	}
	return []float32{1, 2}, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	v, err := f.Embed(ctx, "")
	if err != nil {
		return nil, err
	}
	return [][]float32{v}, nil
}

func TestEmbedderRetriesTransientFailures(t *testing.T) {
	next := &flakyEmbedder{n: 2, err: errors.New("connection reset")}
	reg := metrics.New()
	e := NewEmbedder(next, fastOpts(reg))

	v, err := e.Embed(context.Background(), "hej")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(v) != 2 || next.calls.Load() != 3 {
		t.Fatalf("unexpected result %v after %d calls", v, next.calls.Load())
	}
	if !strings.Contains(reg.Render(), `logbot_dependency_calls_total{dependency="embedder",op="embed",outcome="ok"} 1`) {
		t.Fatalf("missing metric:\n%s", reg.Render())
	}
}

func TestEmbedderGivesUpWithDependencyError(t *testing.T) {
	next := &flakyEmbedder{n: 10, err: errors.New("503")}
	e := NewEmbedder(next, fastOpts(nil))

	_, err := e.Embed(context.Background(), "hej")
	var de *domain.DependencyError
	if !errors.As(err, &de) || de.Dependency != "embedder" || de.Op != "embed" {
		t.Fatalf("expected embedder DependencyError, got %v", err)
	}
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable in chain, got %v", err)
	}
	if next.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", next.calls.Load())
	}
}

func TestEmbedderDoesNotRetryValidation(t *testing.T) {
	next := &flakyEmbedder{n: 10, err: domain.NewValidationError("text", "", domain.ErrEmptyDocument)}
	e := NewEmbedder(next, fastOpts(nil))
	if _, err := e.Embed(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
	if next.calls.Load() != 1 {
		t.Fatalf("validation errors must not be retried, got %d calls", next.calls.Load())
	}
}

func TestEmbedderCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(enginetest.NewFakeEmbedder(), fastOpts(nil)).Embed(ctx, "x")
	if !errors.Is(err, context.Canceled) || domain.IsDependency(err) {
		t.Fatalf("expected bare context.Canceled, got %v", err)
	}
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	e := NewEmbedder(&flakyEmbedder{}, fastOpts(nil))
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if !domain.IsDependency(err) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if vs, err := e.EmbedBatch(context.Background(), nil); vs != nil || err != nil {
		t.Fatalf("empty batch should be a no-op, got %v %v", vs, err)
	}
}

func TestBreakerOpensAndFailsFast(t *testing.T) {
	next := &flakyEmbedder{n: 1000, err: errors.New("down")}
	opts := fastOpts(nil)
	opts.Retry.MaxAttempts = 1
	opts.Breaker.FailThreshold = 2
	e := NewEmbedder(next, opts)

	for i := 0; i < 2; i++ {
		_, _ = e.Embed(context.Background(), "x")
	}
	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if next.calls.Load() != 2 {
		t.Fatalf("open breaker must not call through, got %d calls", next.calls.Load())
	}
}

func TestStoreWrapsFailures(t *testing.T) {
	inner := enginetest.NewRecordingStore()
	inner.FailUpsert = func(domain.ChunkRecord) bool { return true }
	inner.ScanErr = errors.New("timeout")
	s := NewStore(inner, fastOpts(nil))

	err := s.Upsert(context.Background(), domain.ChunkRecord{ID: "a"})
	var de *domain.DependencyError
	if !errors.As(err, &de) || de.Dependency != "store" || de.Op != "upsert" {
		t.Fatalf("expected store upsert DependencyError, got %v", err)
	}
	if inner.Upserts != 3 {
		t.Fatalf("expected 3 upsert attempts, got %d", inner.Upserts)
	}
	if _, err := s.Scan(context.Background(), "S1", time.Now()); !errors.As(err, &de) || de.Op != "scan" {
		t.Fatalf("expected store scan DependencyError, got %v", err)
	}
}

func TestStorePassesThrough(t *testing.T) {
	inner := enginetest.NewRecordingStore()
	s := NewStore(inner, fastOpts(nil))
	if err := s.Upsert(context.Background(), domain.ChunkRecord{ID: "a", SessionID: "S1"}); err != nil {
		t.Fatal(err)
	}
	recs, err := s.Scan(context.Background(), "S1", time.Now())
	if err != nil || len(recs) != 1 {
		t.Fatalf("unexpected scan %v %v", recs, err)
	}
}

func TestStoreCountFallsBackToScan(t *testing.T) {
	inner := enginetest.NewRecordingStore()
	now := time.Now()
	past := now.Add(-time.Hour)
	inner.Put(domain.ChunkRecord{ID: "a", SessionID: "S1"})
	inner.Put(domain.ChunkRecord{ID: "b", SessionID: "S1", ExpiresAt: &past})
	s := NewStore(inner, fastOpts(nil))

	c, err := s.CountSession(context.Background(), "S1", now)
	if err != nil {
		t.Fatal(err)
	}
	if c != (domain.SessionCounts{Active: 1}) {
		t.Fatalf("unexpected counts %+v", c)
	}
}

type countingStore struct {
	*enginetest.RecordingStore
}

func (countingStore) CountSession(context.Context, string, time.Time) (domain.SessionCounts, error) {
	return domain.SessionCounts{Active: 2, Expired: 3}, nil
}

func TestStoreCountDelegates(t *testing.T) {
	s := NewStore(countingStore{enginetest.NewRecordingStore()}, fastOpts(nil))
	c, err := s.CountSession(context.Background(), "S1", time.Now())
	if err != nil || c.Expired != 3 {
		t.Fatalf("unexpected counts %+v %v", c, err)
	}
}
