package fn

import (
	"context"
	"sync"
)

// ParMap applies f to each item with bounded concurrency, preserving order.
func ParMap[T, U any](items []T, workers int, f func(T) U) []U {
	out := make([]U, len(items))
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}
	if workers == 0 {
		return out
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(v)
		}(i, v)
	}
	wg.Wait()
	return out
}

// ParMapAll runs f over items with bounded concurrency and stops scheduling
// new work after the first failure. The context handed to f is cancelled as
// soon as any item fails, so in-flight calls can bail out early. Items that
// were never started report the cancellation error.
func ParMapAll[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) Result[U]) Result[[]U] {
	if len(items) == 0 {
		return Ok([]U{})
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	out := make([]U, len(items))
	sem := make(chan struct{}, workers)

schedule:
	for i, v := range items {
		select {
		case <-ctx.Done():
			break schedule
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			r := f(ctx, v)
			if r.IsErr() {
				once.Do(func() {
					firstErr = r.err
					cancel()
				})
				return
			}
			out[i] = r.val
		}(i, v)
	}
	wg.Wait()

	if firstErr != nil {
		return Err[[]U](firstErr)
	}
	if err := ctx.Err(); err != nil {
		return Err[[]U](err)
	}
	return Ok(out)
}
