package grid

import (
	"iter"
	"maps"
)

// SparseGrid maps coordinates to at most one occupant each. A coordinate is a
// key iff it is occupied; there are no implicit bounds.
//
// A SparseGrid is not safe for concurrent mutation. Concurrent reads are fine.
type SparseGrid[T any] struct {
	cells map[Coord]T
}

func New[T any]() *SparseGrid[T] {
	return &SparseGrid[T]{cells: make(map[Coord]T)}
}

func (g *SparseGrid[T]) Get(c Coord) (T, bool) {
	v, ok := g.cells[c]
	return v, ok
}

func (g *SparseGrid[T]) Occupied(c Coord) bool {
	_, ok := g.cells[c]
	return ok
}

// Insert places v at c and returns the previous occupant, if any. Callers must
// vacate c first when the previous occupant matters; it is overwritten silently.
func (g *SparseGrid[T]) Insert(c Coord, v T) (prev T, replaced bool) {
	if g.cells == nil {
		g.cells = make(map[Coord]T)
	}
	prev, replaced = g.cells[c]
	g.cells[c] = v
	return prev, replaced
}

func (g *SparseGrid[T]) Remove(c Coord) (T, bool) {
	v, ok := g.cells[c]
	if ok {
		delete(g.cells, c)
	}
	return v, ok
}

// All yields every occupied cell once. Order is unspecified.
func (g *SparseGrid[T]) All() iter.Seq2[Coord, T] {
	return func(yield func(Coord, T) bool) {
		for c, v := range g.cells {
			if !yield(c, v) {
				return
			}
		}
	}
}

// Coords yields occupied coordinates. Order is unspecified.
func (g *SparseGrid[T]) Coords() iter.Seq[Coord] {
	return maps.Keys(g.cells)
}

func (g *SparseGrid[T]) Len() int { return len(g.cells) }

func (g *SparseGrid[T]) Clone() *SparseGrid[T] {
	return &SparseGrid[T]{cells: maps.Clone(g.cells)}
}

// Bounds returns the inclusive bounding box of occupied cells; ok is false for
// an empty grid.
func (g *SparseGrid[T]) Bounds() (b Bounds, ok bool) {
	for c := range g.cells {
		if !ok {
			b = Bounds{MinX: c.X, MinY: c.Y, MaxX: c.X, MaxY: c.Y}
			ok = true
			continue
		}
		b = b.extend(c)
	}
	return b, ok
}

// AnyOccupied reports whether at least one of cs is occupied.
func (g *SparseGrid[T]) AnyOccupied(cs ...Coord) bool {
	for _, c := range cs {
		if _, ok := g.cells[c]; ok {
			return true
		}
	}
	return false
}
