package grid

// Bounds is an inclusive axis-aligned rectangle.
type Bounds struct {
	MinX, MinY int32
	MaxX, MaxY int32
}

func (b Bounds) Width() int64  { return int64(b.MaxX) - int64(b.MinX) + 1 }
func (b Bounds) Height() int64 { return int64(b.MaxY) - int64(b.MinY) + 1 }
func (b Bounds) Area() int64   { return b.Width() * b.Height() }

func (b Bounds) extend(c Coord) Bounds {
	if c.X < b.MinX {
		b.MinX = c.X
	}
	if c.X > b.MaxX {
		b.MaxX = c.X
	}
	if c.Y < b.MinY {
		b.MinY = c.Y
	}
	if c.Y > b.MaxY {
		b.MaxY = c.Y
	}
	return b
}
