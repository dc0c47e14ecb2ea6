package fn

import (
	"context"
	"sync"
)

// ParMap applies f to each item with bounded concurrency, preserving order.
// workers <= 0 means one goroutine per item.
func ParMap[T, U any](items []T, workers int, f func(T) U) []U {
	out := make([]U, len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
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

// ParMapResult applies f with bounded concurrency, returning Results in
// input order. Cancellation of ctx causes unstarted items to fail fast with
// ctx.Err() so a join never blocks on work that will not run.
func ParMapResult[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			if err := ctx.Err(); err != nil {
				out[i] = Err[U](err)
				return
			}
			out[i] = f(ctx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}
