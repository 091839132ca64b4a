package filters

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ApplyAll renders every catalog preset over the same source. The source is
// decoded once and shared read-only; each preset renders into its own
// buffers. Results come back in catalog order. The first failure fails the
// whole batch and no attempts are returned.
func (r Runner) ApplyAll(src []byte) ([]Attempt, error) {
	img, err := Decode(src)
	if err != nil {
		return nil, err
	}

	defs := Catalog()
	results := make([]Attempt, len(defs))

	var g errgroup.Group
	g.SetLimit(r.workers(len(defs)))
	for i, def := range defs {
		g.Go(func() error {
			a, err := r.render(img, def)
			if err != nil {
				return fmt.Errorf("render %s: %w", def.ID, err)
			}
			results[i] = *a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r Runner) workers(n int) int {
	if r.Workers <= 0 || r.Workers > n {
		return n
	}
	return r.Workers
}
