package fn

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func must[T any](t *testing.T, r Result[T]) T {
	t.Helper()
	v, err := r.Unwrap()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v
}

// --- Result ---

func TestOkAndErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatal("wrong unwrap")
	}
	e := Err[int](errors.New("fail"))
	if e.IsOk() || !e.IsErr() {
		t.Fatal("Err should be err")
	}
}

func TestFromPair(t *testing.T) {
	if must(t, FromPair(strconv.Atoi("42"))) != 42 {
		t.Fatal("FromPair failed")
	}
	if FromPair(strconv.Atoi("nope")).IsOk() {
		t.Fatal("FromPair should fail")
	}
}

// --- Parallel ---

func TestParMapPreservesOrder(t *testing.T) {
	out := ParMap([]int{1, 2, 3, 4}, 2, func(v int) int { return v * 2 })
	for i, v := range out {
		if v != (i+1)*2 {
			t.Fatalf("ParMap order broken at %d", i)
		}
	}
}

func TestParMapEmpty(t *testing.T) {
	if out := ParMap([]int{}, 0, func(v int) int { return v }); len(out) != 0 {
		t.Fatal("ParMap empty should return empty")
	}
}

func TestParMapAllSuccess(t *testing.T) {
	r := ParMapAll(context.Background(), []int{1, 2, 3}, 2, func(_ context.Context, v int) Result[int] {
		return Ok(v * 10)
	})
	out := must(t, r)
	if len(out) != 3 || out[0] != 10 || out[2] != 30 {
		t.Fatalf("unexpected: %v", out)
	}
}

func TestParMapAllEmpty(t *testing.T) {
	r := ParMapAll(context.Background(), nil, 4, func(_ context.Context, v int) Result[int] { return Ok(v) })
	if !r.IsOk() || len(must(t, r)) != 0 {
		t.Fatal("empty input should be ok")
	}
}

func TestParMapAllStopsAfterFailure(t *testing.T) {
	var started atomic.Int32
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	r := ParMapAll(context.Background(), items, 1, func(ctx context.Context, v int) Result[int] {
		started.Add(1)
		if v == 2 {
			return Err[int](errors.New("boom"))
		}
		return Ok(v)
	})
	_, err := r.Unwrap()
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
	if started.Load() >= int32(len(items)) {
		t.Fatalf("expected scheduling to stop early, started %d", started.Load())
	}
}

func TestParMapAllCancelsInFlight(t *testing.T) {
	r := ParMapAll(context.Background(), []int{0, 1}, 2, func(ctx context.Context, v int) Result[int] {
		if v == 0 {
			return Err[int](errors.New("fail fast"))
		}
		select {
		case <-ctx.Done():
			return Err[int](ctx.Err())
		case <-time.After(5 * time.Second):
			return Ok(v)
		}
	})
	_, err := r.Unwrap()
	if err == nil || err.Error() != "fail fast" {
		t.Fatalf("expected first error, got %v", err)
	}
}

func TestParMapAllParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := ParMapAll(ctx, []int{1, 2, 3}, 1, func(ctx context.Context, v int) Result[int] { return Ok(v) })
	if r.IsOk() {
		t.Fatal("expected cancellation error")
	}
}

// --- Pipeline ---

func TestThen(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })
	addOne := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) })
	if must(t, Then(double, addOne)(context.Background(), 5)) != 11 {
		t.Fatal("Then failed")
	}
}

func TestThenShortCircuits(t *testing.T) {
	fail := Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("fail")) })
	called := false
	second := Stage[int, int](func(_ context.Context, v int) Result[int] {
		called = true
		return Ok(v)
	})
	r := Then(fail, second)(context.Background(), 1)
	if r.IsOk() || called {
		t.Fatal("Then should short-circuit")
	}
}

func TestMapStageAndTap(t *testing.T) {
	var seen int
	s := Then(TapStage(func(_ context.Context, v int) { seen = v }), MapStage(strconv.Itoa))
	if must(t, s(context.Background(), 7)) != "7" || seen != 7 {
		t.Fatal("MapStage/TapStage failed")
	}
}

func TestBatchStage(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v * 2) })
	v := must(t, BatchStage(2, double)(context.Background(), []int{1, 2, 3}))
	if len(v) != 3 || v[0] != 2 || v[2] != 6 {
		t.Fatal("BatchStage failed")
	}
}

func TestTracedStage(t *testing.T) {
	s := TracedStage("ok-stage", Stage[int, int](func(_ context.Context, v int) Result[int] { return Ok(v + 1) }))
	if must(t, s(context.Background(), 1)) != 2 {
		t.Fatal("TracedStage failed")
	}
	e := TracedStage("err-stage", Stage[int, int](func(_ context.Context, _ int) Result[int] { return Err[int](errors.New("x")) }))
	if e(context.Background(), 1).IsOk() {
		t.Fatal("TracedStage error should propagate")
	}
}

// --- Retry ---

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Err[int](errors.New("not yet"))
		}
		return Ok(42)
	})
	if must(t, r) != 42 || attempts != 3 {
		t.Fatal("Retry should succeed on 3rd attempt")
	}
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](errors.New("fail"))
	})
	if r.IsOk() || attempts != 2 {
		t.Fatalf("expected 2 failed attempts, got %d", attempts)
	}
}

func TestRetryNotRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}
	r := Retry(context.Background(), opts, func(_ context.Context) Result[int] {
		attempts++
		return Err[int](permanent)
	})
	if r.IsOk() || attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	r := Retry(ctx, RetryOpts{MaxAttempts: 100, InitialWait: 10 * time.Millisecond}, func(ctx context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	_, err := r.Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// --- Slice ---

func TestMapFilter(t *testing.T) {
	out := Filter(Map([]int{1, 2, 3, 4}, func(v int) int { return v * 3 }), func(v int) bool { return v%2 == 0 })
	if len(out) != 2 || out[0] != 6 || out[1] != 12 {
		t.Fatalf("unexpected: %v", out)
	}
}
