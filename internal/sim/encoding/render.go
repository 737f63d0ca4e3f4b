package encoding

import (
	"strings"

	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/grid"
)

const (
	DefaultOccupied = '#'
	DefaultVacant   = '.'
)

// Render draws the bounding box of g, one rune per cell, rows top to bottom
// separated by '\n' with no trailing newline. An empty grid renders as "".
// Identical occupancy always renders to identical bytes.
func Render[T any](g *grid.SparseGrid[T], occupied, vacant rune) string {
	b, ok := g.Bounds()
	if !ok {
		return ""
	}
	var sb strings.Builder
	sb.Grow(int((b.Width() + 1) * b.Height()))
	for y := b.MinY; ; y++ {
		for x := b.MinX; ; x++ {
			if g.Occupied(grid.Coord{X: x, Y: y}) {
				sb.WriteRune(occupied)
			} else {
				sb.WriteRune(vacant)
			}
			if x == b.MaxX {
				break
			}
		}
		if y == b.MaxY {
			break
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Canonical is Render with the default markers. The fixpoint check compares
// these strings.
func Canonical[T any](g *grid.SparseGrid[T]) string {
	return Render(g, DefaultOccupied, DefaultVacant)
}

// Parse reads a character map: line index is y, rune index within the line is
// x, and every marker rune becomes a fresh agent from f. Any other rune is
// vacant. A trailing '\r' on a line is ignored.
func Parse(text string, marker rune, f *agent.Factory) *grid.SparseGrid[agent.Agent] {
	g := grid.New[agent.Agent]()
	for y, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		x := int32(0)
		for _, r := range line {
			if r == marker {
				g.Insert(grid.Coord{X: x, Y: int32(y)}, f.New())
			}
			x++
		}
	}
	return g
}
