package grid

import (
	"fmt"
	"strings"
)

type Direction uint8

const (
	North Direction = iota
	South
	West
	East
)

var directionNames = [...]string{"N", "S", "W", "E"}

func (d Direction) Valid() bool { return d <= East }

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
	return directionNames[d]
}

func (d Direction) Offset() (dx, dy int32) {
	switch d {
	case North:
		return 0, -1
	case South:
		return 0, 1
	case West:
		return -1, 0
	case East:
		return 1, 0
	}
	panic(fmt.Sprintf("grid: invalid direction %d", d))
}

// ParseDirection accepts N/S/W/E or the full names, case-insensitive.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N", "NORTH":
		return North, nil
	case "S", "SOUTH":
		return South, nil
	case "W", "WEST":
		return West, nil
	case "E", "EAST":
		return East, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}
