package graphsync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/nestwrite"
	"github.com/syssam/nestwrite/dialect"
	"github.com/syssam/nestwrite/payload"
	"github.com/syssam/nestwrite/schema"
)

// Job is one root payload of a batch.
type Job struct {
	Node    *schema.Node
	Payload payload.Node
	Options []CallOption
}

// SyncAll syncs the jobs concurrently, each in its own transaction, with
// at most limit calls running at once. A limit of zero or less runs all
// of them at once. The first failure cancels the jobs not yet started;
// jobs already committed stay committed. Entities are returned in job
// order.
func (s *Synchronizer) SyncAll(ctx context.Context, drv dialect.Driver, jobs []Job, limit int) ([]*nestwrite.Entity, error) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	out := make([]*nestwrite.Entity, len(jobs))
	for i, j := range jobs {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			e, err := s.Sync(ctx, drv, j.Node, j.Payload, j.Options...)
			if err != nil {
				return fmt.Errorf("graphsync: job %d: %w", i, err)
			}
			out[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
