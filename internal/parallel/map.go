// Package parallel runs a function over a set of keys with bounded
// concurrency.
package parallel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Map calls fn for every key, at most limit at a time, and collects the
// results by key. The first error cancels the context passed to the other
// calls and is returned. A limit below 1 means no limit.
//
//	statuses, err := parallel.Map(ctx, 8, ids, status)
func Map[K comparable, V any](ctx context.Context, limit int, keys []K, fn func(context.Context, K) (V, error)) (map[K]V, error) {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	var mx sync.Mutex
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			v, err := fn(gctx, k)
			if err != nil {
				return err
			}
			mx.Lock()
			out[k] = v
			mx.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
