package encoding

import (
	"testing"

	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/grid"
)

const sampleMap = "....#..\n" +
	"..###.#\n" +
	"#...#.#\n" +
	".#...##\n" +
	"#.###..\n" +
	"##.#.##\n" +
	".#..#.."

func TestParse_MapsRowsAndColumns(t *testing.T) {
	g := Parse(".#\r\n#.\n", '#', agent.NewFactory())
	if g.Len() != 2 {
		t.Fatalf("len=%d want 2", g.Len())
	}
	if !g.Occupied(grid.Coord{X: 1, Y: 0}) || !g.Occupied(grid.Coord{X: 0, Y: 1}) {
		t.Fatalf("unexpected occupancy: %q", Canonical(g))
	}
}

func TestParse_AgentsAreDistinct(t *testing.T) {
	g := Parse(sampleMap, '#', agent.NewFactory())
	seen := map[agent.Agent]bool{}
	for _, a := range g.All() {
		if seen[a] {
			t.Fatalf("duplicate agent %v", a)
		}
		seen[a] = true
	}
	if len(seen) != 22 {
		t.Fatalf("population=%d want 22", len(seen))
	}
}

func TestRender_RoundTrip(t *testing.T) {
	g := Parse(sampleMap, '#', agent.NewFactory())
	out := Canonical(g)
	if out != sampleMap {
		t.Fatalf("render mismatch:\n%s\nwant:\n%s", out, sampleMap)
	}

	back := Parse(out, '#', agent.NewFactory())
	if back.Len() != g.Len() {
		t.Fatalf("len=%d want %d", back.Len(), g.Len())
	}
	for c := range g.Coords() {
		if !back.Occupied(c) {
			t.Fatalf("lost %v in round trip", c)
		}
	}
}

func TestRender_BoundingBoxAndMarkers(t *testing.T) {
	g := grid.New[int]()
	g.Insert(grid.Coord{X: -2, Y: -1}, 0)
	g.Insert(grid.Coord{X: 0, Y: 1}, 0)

	if got, want := Render(g, 'o', ' '), "o  \n   \n  o"; got != want {
		t.Fatalf("render=%q want %q", got, want)
	}
	if got := Canonical(grid.New[int]()); got != "" {
		t.Fatalf("empty grid rendered %q", got)
	}
	single := grid.New[int]()
	single.Insert(grid.Coord{X: 9, Y: 9}, 0)
	if got := Canonical(single); got != "#" {
		t.Fatalf("single render=%q", got)
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	g := Parse(sampleMap, '#', agent.NewFactory())
	// Shift everything so the origin is not (0,0).
	shifted := grid.New[agent.Agent]()
	for c, a := range g.All() {
		shifted.Insert(c.Add(-10, 3), a)
	}

	f := EncodeFrame(shifted)
	if f.MinX != -10 || f.MinY != 3 || f.Width != 7 || f.Height != 7 {
		t.Fatalf("frame header: %+v", f)
	}
	back, err := DecodeFrame(f, agent.NewFactory())
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if Digest(back) != Digest(shifted) {
		t.Fatalf("digest mismatch after frame round trip")
	}

	empty, err := DecodeFrame(EncodeFrame(grid.New[agent.Agent]()), agent.NewFactory())
	if err != nil || empty.Len() != 0 {
		t.Fatalf("empty frame: len=%d err=%v", empty.Len(), err)
	}
	if _, err := DecodeFrame(Frame{Width: -1, Height: 2}, agent.NewFactory()); err == nil {
		t.Fatalf("expected error for negative width")
	}
}

func TestDigest_SeesTranslation(t *testing.T) {
	a := grid.New[int]()
	a.Insert(grid.Coord{X: 0, Y: 0}, 0)
	b := grid.New[int]()
	b.Insert(grid.Coord{X: 0, Y: -1}, 0)

	if Canonical(a) != Canonical(b) {
		t.Fatalf("canonical form should ignore translation")
	}
	if Digest(a) == Digest(b) {
		t.Fatalf("digest should change with translation")
	}
}
