package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Component is a long-running loop such as the worker, reclaimer or relay.
type Component interface {
	Run(ctx context.Context) error
}

// Run starts every component and returns when ctx is cancelled or one of
// them fails, in which case the rest are cancelled too. Cancellation is not
// reported as an error.
func Run(ctx context.Context, components ...Component) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
