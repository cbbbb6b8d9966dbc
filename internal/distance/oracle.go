package distance

import (
	"context"
	"sync"

	"fieldroute/internal/logging"
	"fieldroute/internal/metrics"
)

// Oracle batches pairwise lookups against a capped upstream and fills a
// run-scoped cache. Origins are chunked; each chunk is one provider call
// against the full destination set. A failed chunk is logged and counted,
// and its edges stay unknown; the run itself carries on.
type Oracle struct {
	provider  Provider
	chunkSize int
	log       logging.Logger
}

func NewOracle(p Provider, chunkSize int, log logging.Logger) *Oracle {
	if chunkSize < 1 {
		chunkSize = 10
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Oracle{provider: p, chunkSize: chunkSize, log: log}
}

// Resolve fills a fresh cache with every resolvable origin->destination
// edge. Chunk calls run concurrently; the merged cache is safe to read once
// Resolve returns.
func (o *Oracle) Resolve(ctx context.Context, origins, destinations []string) *Cache {
	cache := NewCache()
	origins = dedupe(origins)
	destinations = dedupe(destinations)
	if len(origins) == 0 || len(destinations) == 0 {
		return cache
	}
	var wg sync.WaitGroup
	for start := 0; start < len(origins); start += o.chunkSize {
		end := start + o.chunkSize
		if end > len(origins) {
			end = len(origins)
		}
		chunk := origins[start:end]
		wg.Add(1)
		go func(chunk []string) {
			defer wg.Done()
			edges, err := o.provider.Matrix(ctx, chunk, destinations)
			if err != nil {
				metrics.DistanceChunkFailures.WithLabelValues(o.provider.Name()).Inc()
				o.log.Warnf("distance chunk failed (%d origins): %v", len(chunk), err)
				return
			}
			cache.Merge(edges)
		}(chunk)
	}
	wg.Wait()
	return cache
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
