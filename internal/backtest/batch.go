package backtest

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunAll runs every request concurrently and returns reports in request order. Each run has
// its own random source; the first failure cancels the rest.
func (s *Simulator) RunAll(ctx context.Context, reqs []Request) ([]*Report, error) {
	reports := make([]*Report, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			rep, err := s.Run(ctx, req)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}
