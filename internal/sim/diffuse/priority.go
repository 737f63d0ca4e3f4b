package diffuse

import (
	"fmt"
	"strings"

	"griddiffuse.dev/internal/sim/grid"
)

// Priority is the order in which directions are tried during a round.
type Priority [4]grid.Direction

var DefaultPriority = Priority{grid.North, grid.South, grid.West, grid.East}

// Rotate moves the first direction to the end.
func (p Priority) Rotate() Priority {
	return Priority{p[1], p[2], p[3], p[0]}
}

// Valid reports whether p names each cardinal direction exactly once.
func (p Priority) Valid() bool {
	var seen [4]bool
	for _, d := range p {
		if !d.Valid() || seen[d] {
			return false
		}
		seen[d] = true
	}
	return true
}

func (p Priority) String() string {
	var sb strings.Builder
	for _, d := range p {
		sb.WriteString(d.String())
	}
	return sb.String()
}

// ParsePriority accepts exactly four direction names (see grid.ParseDirection).
func ParsePriority(names []string) (Priority, error) {
	var p Priority
	if len(names) != len(p) {
		return p, fmt.Errorf("priority needs 4 directions, got %d", len(names))
	}
	for i, n := range names {
		d, err := grid.ParseDirection(n)
		if err != nil {
			return p, err
		}
		p[i] = d
	}
	if !p.Valid() {
		return p, fmt.Errorf("priority %v repeats a direction", names)
	}
	return p, nil
}
