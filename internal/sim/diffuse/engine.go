package diffuse

import (
	"context"

	"golang.org/x/sync/errgroup"

	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/grid"
)

// Grid is the population grid the engine and driver work on.
type Grid = grid.SparseGrid[agent.Agent]

// Engine runs single rounds. The zero value evaluates proposals on the
// calling goroutine.
type Engine struct {
	// Workers > 1 fans the proposal phase out over that many goroutines.
	Workers int
	// ChunkSize is the number of occupants per work item (default 256).
	ChunkSize int
}

const defaultChunkSize = 256

// Step runs one round over g with the given priority and returns the new grid.
// g is never modified. A cancelled ctx aborts the round with ctx.Err().
func (e Engine) Step(ctx context.Context, g *Grid, prio Priority) (*Grid, RoundStats, error) {
	ps, err := e.proposals(ctx, g, prio)
	if err != nil {
		return nil, RoundStats{}, err
	}
	next, stats := step(g, ps)
	return next, stats, nil
}

func (e Engine) proposals(ctx context.Context, g *Grid, prio Priority) ([]Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Workers <= 1 || g.Len() == 0 {
		return Proposals(g, prio), nil
	}

	size := e.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	coords := make([]grid.Coord, 0, g.Len())
	for c := range g.Coords() {
		coords = append(coords, c)
	}
	nChunks := (len(coords) + size - 1) / size
	parts := make([][]Proposal, nChunks)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.Workers)
	for i := 0; i < nChunks; i++ {
		lo := i * size
		hi := min(lo+size, len(coords))
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			var out []Proposal
			for _, c := range coords[lo:hi] {
				if p, ok := Propose(g, c, prio); ok {
					out = append(out, p)
				}
			}
			parts[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var ps []Proposal
	for _, part := range parts {
		ps = append(ps, part...)
	}
	sortProposals(ps)
	return ps, nil
}
