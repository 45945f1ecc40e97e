package deploy

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome pairs a request with what deploying it produced.
type Outcome struct {
	Request Request
	Result  *Result
	Err     error
}

// DeployAll runs requests with at most limit deployments in flight. One
// failure does not stop the others; outcomes keep the input order.
// Registry writes are still serialized by the Deployer's semaphore.
func (d *Deployer) DeployAll(ctx context.Context, requests []Request, limit int) []Outcome {
	if limit <= 0 {
		limit = 1
	}
	outcomes := make([]Outcome, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range requests {
		g.Go(func() error {
			res, err := d.Deploy(gctx, req)
			outcomes[i] = Outcome{Request: req, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
