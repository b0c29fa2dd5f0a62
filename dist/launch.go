// launch.go - Start von Workern in Goroutinen
package dist

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Launch startet fn einmal pro Rank mit einer gemeinsamen lokalen Gruppe.
// Der erste Fehler bricht den Context der anderen Worker ab.
func Launch(ctx context.Context, size int, fn func(ctx context.Context, g Group) error) error {
	if size == 1 {
		return fn(ctx, Single())
	}

	groups, err := NewLocal(size)
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, g := range groups {
		eg.Go(func() error {
			if err := fn(ctx, g); err != nil {
				return fmt.Errorf("rank %d: %w", g.Rank(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
