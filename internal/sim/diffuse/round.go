package diffuse

import (
	"slices"

	"griddiffuse.dev/internal/sim/grid"
)

type Proposal struct {
	From grid.Coord
	To   grid.Coord
}

type RoundStats struct {
	Proposed int
	Vetoed   int
	Moved    int
}

// Propose computes the move wanted by the occupant at c, reading g only.
// Occupants with no occupied neighbor stay put, as do occupants boxed in on
// every side.
func Propose[T any](g *grid.SparseGrid[T], c grid.Coord, prio Priority) (Proposal, bool) {
	nb := c.Neighbors()
	if !g.AnyOccupied(nb[:]...) {
		return Proposal{}, false
	}
	for _, d := range prio {
		side := c.Toward(d)
		if !g.AnyOccupied(side[:]...) {
			return Proposal{From: c, To: c.Step(d)}, true
		}
	}
	return Proposal{}, false
}

// Proposals evaluates every occupant of g sequentially. The result is sorted
// row-major by From.
func Proposals[T any](g *grid.SparseGrid[T], prio Priority) []Proposal {
	var out []Proposal
	for c := range g.Coords() {
		if p, ok := Propose(g, c, prio); ok {
			out = append(out, p)
		}
	}
	sortProposals(out)
	return out
}

// Resolve drops every proposal whose destination is also claimed from a
// different origin. All parties to a collision are dropped, however many.
func Resolve(ps []Proposal) (kept []Proposal, vetoed int) {
	type claim struct {
		from     grid.Coord
		conflict bool
	}
	claims := make(map[grid.Coord]claim, len(ps))
	for _, p := range ps {
		cl, ok := claims[p.To]
		if !ok {
			claims[p.To] = claim{from: p.From}
			continue
		}
		if cl.from != p.From {
			cl.conflict = true
			claims[p.To] = cl
		}
	}
	kept = make([]Proposal, 0, len(ps))
	for _, p := range ps {
		if claims[p.To].conflict {
			vetoed++
			continue
		}
		kept = append(kept, p)
	}
	return kept, vetoed
}

// Commit applies ps to a copy of g and returns the copy; g is left untouched.
// ps must be conflict-free (see Resolve).
func Commit[T any](g *grid.SparseGrid[T], ps []Proposal) (*grid.SparseGrid[T], int) {
	next := g.Clone()
	moved := 0
	for _, p := range ps {
		v, ok := next.Remove(p.From)
		if !ok {
			continue
		}
		next.Insert(p.To, v)
		moved++
	}
	return next, moved
}

// Step runs one full round sequentially and returns the new grid.
func Step[T any](g *grid.SparseGrid[T], prio Priority) *grid.SparseGrid[T] {
	next, _ := step(g, Proposals(g, prio))
	return next
}

func step[T any](g *grid.SparseGrid[T], ps []Proposal) (*grid.SparseGrid[T], RoundStats) {
	kept, vetoed := Resolve(ps)
	next, moved := Commit(g, kept)
	return next, RoundStats{Proposed: len(ps), Vetoed: vetoed, Moved: moved}
}

func sortProposals(ps []Proposal) {
	slices.SortFunc(ps, func(a, b Proposal) int {
		switch {
		case a.From.Less(b.From):
			return -1
		case b.From.Less(a.From):
			return 1
		}
		return 0
	})
}
