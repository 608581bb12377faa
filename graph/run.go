package graph

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type batchOutput struct {
	parts  []any
	evals  []int64
	counts map[int]viewCount
}

// Run evaluates every booked action in a single pass over the source.
//
// Batches are processed concurrently, each by one goroutine with its own
// memo cache; per-batch partial results are reduced in batch order after all
// batches succeeded. The first failure cancels the remaining batches and no
// result of the pass is published.
func (g *Graph) Run(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	acts := g.pending
	if len(acts) == 0 {
		return nil
	}
	g.pending = nil
	start := time.Now()

	nb := g.src.NumBatches()
	outs := make([]batchOutput, nb)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for i := 0; i < nb; i++ {
		eg.Go(func() error {
			out, err := g.runBatch(ctx, i, acts)
			if err != nil {
				return err
			}
			outs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, a := range acts {
			a.fail(err)
		}
		g.logger.Error("graph run failed", zap.Int("actions", len(acts)), zap.Error(err))
		return err
	}

	if len(g.evals) < len(g.nodes) {
		g.evals = append(g.evals, make([]int64, len(g.nodes)-len(g.evals))...)
	}
	var evaluated int64
	for _, out := range outs {
		for id, n := range out.evals {
			g.evals[id] += n
			evaluated += n
		}
		for v, c := range out.counts {
			vn := g.views[v]
			vn.pass += c.pass
			vn.all += c.all
			vn.seen = true
		}
	}
	parts := make([]any, nb)
	for ai, a := range acts {
		for bi := range outs {
			parts[bi] = outs[bi].parts[ai]
		}
		a.reduce(parts)
	}

	g.runs++
	elapsed := time.Since(start)
	rowsProcessed.Add(float64(g.src.NumRows()))
	nodeEvaluations.Add(float64(evaluated))
	runLatency.Observe(elapsed.Seconds())
	g.logger.Info("graph run completed",
		zap.Int("actions", len(acts)),
		zap.Int("batches", nb),
		zap.Int64("rows", g.src.NumRows()),
		zap.Int64("evaluations", evaluated),
		zap.Duration("elapsed", elapsed))
	return nil
}

func (g *Graph) runBatch(ctx context.Context, index int, acts []action) (batchOutput, error) {
	start := time.Now()
	b := newBatch(g, index)
	parts := make([]any, len(acts))
	for ai, a := range acts {
		if err := ctx.Err(); err != nil {
			return batchOutput{}, err
		}
		rows, err := b.mask(a.viewID())
		if err != nil {
			return batchOutput{}, err
		}
		if parts[ai], err = a.exec(b, rows); err != nil {
			return batchOutput{}, err
		}
	}
	b.cache.Clear()
	batchLatency.Observe(time.Since(start).Seconds())
	return batchOutput{parts: parts, evals: b.evals, counts: b.counts}, nil
}
