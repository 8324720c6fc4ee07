package orchestrator

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/spigell/hh-matcher/internal/backend"
	"github.com/spigell/hh-matcher/internal/utils"
)

// consensus scores the request with every member concurrently in
// validation mode and averages their answers. Any member failure fails the
// whole consensus attempt.
func (o *Orchestrator) consensus(ctx context.Context, members []backend.Identity, req backend.Request) (*backend.ScoreResult, float64, error) {
	req.Options.ValidationMode = true

	results := make([]*backend.ScoreResult, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range members {
		g.Go(func() error {
			res, err := o.client.Score(gctx, id, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	merged, agreement := mergeResults(results)
	merged.Backend = backend.ConsensusHybrid
	return merged, agreement, nil
}

// mergeResults averages every category over the members that scored it.
// Agreement is 100 minus the spread of the overall scores.
func mergeResults(results []*backend.ScoreResult) (*backend.ScoreResult, float64) {
	sums := map[backend.Category]float64{}
	counts := map[backend.Category]int{}
	var overall float64
	minOverall, maxOverall := math.Inf(1), math.Inf(-1)
	var strengths, gaps []string

	for _, res := range results {
		for cat, score := range res.Scores {
			sums[cat] += score
			counts[cat]++
		}
		overall += res.Overall
		minOverall = math.Min(minOverall, res.Overall)
		maxOverall = math.Max(maxOverall, res.Overall)
		strengths = append(strengths, res.Explanation.Strengths...)
		gaps = append(gaps, res.Explanation.Gaps...)
	}

	scores := make(map[backend.Category]float64, len(sums))
	for cat, sum := range sums {
		scores[cat] = sum / float64(counts[cat])
	}

	merged := &backend.ScoreResult{
		Scores:  scores,
		Overall: overall / float64(len(results)),
		Explanation: backend.Explanation{
			Strengths: utils.Unique(strengths),
			Gaps:      utils.Unique(gaps),
		},
	}
	return merged, 100 - (maxOverall - minOverall)
}
