package diffuse

import (
	"context"
	"errors"
	"log"

	"griddiffuse.dev/internal/sim/encoding"
)

var ErrEmptyGrid = errors.New("diffuse: empty grid has no bounding box")

// RoundReport describes one completed round.
type RoundReport struct {
	Round    int
	Priority Priority // order used for this round
	Stats    RoundStats
	Grid     *Grid
}

type Result struct {
	Grid *Grid
	// Rounds is the number of rounds run. For a stable run it counts the
	// round in which nothing moved.
	Rounds int
	Stable bool
	// Priority is the order the next round would use.
	Priority Priority
}

// Driver runs rounds back to back, rotating the priority after each one.
type Driver struct {
	Engine Engine
	// MaxRounds caps RunUntilStable; 0 means no cap. Hitting the cap is not an
	// error, the result just reports Stable=false.
	MaxRounds int
	// OnRound, if set, is called after every round. Returning an error stops
	// the run.
	OnRound func(RoundReport) error
	Logger  *log.Logger
}

// RunFor runs exactly rounds rounds.
func (d *Driver) RunFor(ctx context.Context, g *Grid, prio Priority, rounds int) (Result, error) {
	res := Result{Grid: g, Priority: prio}
	for res.Rounds < rounds {
		if _, err := d.round(ctx, &res); err != nil {
			return res, err
		}
	}
	d.logf("ran %d rounds: population=%d next=%s", res.Rounds, res.Grid.Len(), res.Priority)
	return res, nil
}

// RunUntilStable runs until a round leaves the canonical rendering unchanged.
func (d *Driver) RunUntilStable(ctx context.Context, g *Grid, prio Priority) (Result, error) {
	res := Result{Grid: g, Priority: prio}
	prev := encoding.Canonical(g)
	for d.MaxRounds <= 0 || res.Rounds < d.MaxRounds {
		if _, err := d.round(ctx, &res); err != nil {
			return res, err
		}
		cur := encoding.Canonical(res.Grid)
		if cur == prev {
			res.Stable = true
			d.logf("stable after %d rounds: population=%d", res.Rounds, res.Grid.Len())
			return res, nil
		}
		prev = cur
	}
	d.logf("stopped at round cap %d without reaching a stable state", d.MaxRounds)
	return res, nil
}

func (d *Driver) round(ctx context.Context, res *Result) (RoundStats, error) {
	next, stats, err := d.Engine.Step(ctx, res.Grid, res.Priority)
	if err != nil {
		return stats, err
	}
	used := res.Priority
	res.Grid = next
	res.Priority = used.Rotate()
	res.Rounds++
	if d.OnRound != nil {
		if err := d.OnRound(RoundReport{Round: res.Rounds, Priority: used, Stats: stats, Grid: next}); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (d *Driver) logf(format string, args ...any) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// RunFor runs rounds rounds sequentially from prio and returns the final grid.
func RunFor(g *Grid, prio Priority, rounds int) *Grid {
	res, _ := (&Driver{}).RunFor(context.Background(), g, prio, rounds)
	return res.Grid
}

// RunUntilStable returns the 1-indexed round in which nothing moved.
func RunUntilStable(g *Grid, prio Priority) int {
	res, _ := (&Driver{}).RunUntilStable(context.Background(), g, prio)
	return res.Rounds
}

// Coverage counts the vacant cells inside the population's bounding box.
func Coverage(g *Grid) (int, error) {
	b, ok := g.Bounds()
	if !ok {
		return 0, ErrEmptyGrid
	}
	return int(b.Area() - int64(g.Len())), nil
}
