package grid

import "fmt"

// Coord is a cell address on the unbounded plane. Y grows downward (row index).
type Coord struct {
	X int32
	Y int32
}

func (c Coord) Add(dx, dy int32) Coord {
	return Coord{X: c.X + dx, Y: c.Y + dy}
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d)", c.X, c.Y)
}

// Less orders coordinates row-major (y first, then x).
func (c Coord) Less(o Coord) bool {
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.X < o.X
}

var neighborOffsets = [8][2]int32{
	{-1, -1}, {0, -1}, {1, -1},
	{-1, 0}, {1, 0},
	{-1, 1}, {0, 1}, {1, 1},
}

// Neighbors returns the 8 surrounding cells.
func (c Coord) Neighbors() [8]Coord {
	var out [8]Coord
	for i, o := range neighborOffsets {
		out[i] = c.Add(o[0], o[1])
	}
	return out
}

// Toward returns the 3 cells of the half-neighborhood facing d.
func (c Coord) Toward(d Direction) [3]Coord {
	switch d {
	case North:
		return [3]Coord{c.Add(-1, -1), c.Add(0, -1), c.Add(1, -1)}
	case South:
		return [3]Coord{c.Add(-1, 1), c.Add(0, 1), c.Add(1, 1)}
	case West:
		return [3]Coord{c.Add(-1, -1), c.Add(-1, 0), c.Add(-1, 1)}
	case East:
		return [3]Coord{c.Add(1, -1), c.Add(1, 0), c.Add(1, 1)}
	}
	panic(fmt.Sprintf("grid: invalid direction %d", d))
}

// Step shifts c one cell toward d.
func (c Coord) Step(d Direction) Coord {
	dx, dy := d.Offset()
	return c.Add(dx, dy)
}
