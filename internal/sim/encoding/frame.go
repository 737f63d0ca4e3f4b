package encoding

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/grid"
)

// Frame is a compact, JSON-friendly picture of a grid's occupancy.
type Frame struct {
	MinX   int32  `json:"min_x"`
	MinY   int32  `json:"min_y"`
	Width  int32  `json:"width"`
	Height int32  `json:"height"`
	RLE    string `json:"rle"`
}

// maxFrameCells keeps DecodeFrame from allocating absurd bitmaps for corrupt input.
const maxFrameCells = 1 << 28

func EncodeFrame[T any](g *grid.SparseGrid[T]) Frame {
	b, ok := g.Bounds()
	if !ok {
		return Frame{}
	}
	w, h := b.Width(), b.Height()
	bits := make([]bool, w*h)
	for c := range g.Coords() {
		bits[int64(c.Y-b.MinY)*w+int64(c.X-b.MinX)] = true
	}
	return Frame{
		MinX:   b.MinX,
		MinY:   b.MinY,
		Width:  int32(w),
		Height: int32(h),
		RLE:    EncodeRLE(bits),
	}
}

// DecodeFrame rebuilds a grid from f, minting a new agent per occupied cell.
func DecodeFrame(f Frame, fac *agent.Factory) (*grid.SparseGrid[agent.Agent], error) {
	g := grid.New[agent.Agent]()
	if f.Width == 0 && f.Height == 0 {
		return g, nil
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("frame: bad size %dx%d", f.Width, f.Height)
	}
	size := int64(f.Width) * int64(f.Height)
	if size > maxFrameCells {
		return nil, errors.New("frame: too large")
	}
	bits, err := DecodeRLE(f.RLE, int(size))
	if err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	for i, occ := range bits {
		if !occ {
			continue
		}
		c := grid.Coord{
			X: f.MinX + int32(int64(i)%int64(f.Width)),
			Y: f.MinY + int32(int64(i)/int64(f.Width)),
		}
		g.Insert(c, fac.New())
	}
	return g, nil
}

// Digest is the hex sha256 of the bounding-box origin followed by the
// canonical rendering. Unlike Canonical it changes when the whole population
// shifts.
func Digest[T any](g *grid.SparseGrid[T]) string {
	h := sha256.New()
	if b, ok := g.Bounds(); ok {
		fmt.Fprintf(h, "%d,%d\n", b.MinX, b.MinY)
	}
	h.Write([]byte(Canonical(g)))
	return hex.EncodeToString(h.Sum(nil))
}
