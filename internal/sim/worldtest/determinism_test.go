package worldtest

import (
	"testing"

	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/diffuse"
	"griddiffuse.dev/internal/sim/encoding"
	world "griddiffuse.dev/internal/sim/world"
)

const sampleMap = "....#..\n" +
	"..###.#\n" +
	"#...#.#\n" +
	".#...##\n" +
	"#.###..\n" +
	"##.#.##\n" +
	".#..#.."

func TestDeterminism_SequentialAndParallelSameDigests(t *testing.T) {
	h1 := NewHarness(t, world.WorldConfig{ID: "seq"}, sampleMap)
	h2 := NewHarness(t, world.WorldConfig{ID: "par", Engine: diffuse.Engine{Workers: 4, ChunkSize: 3}}, sampleMap)

	for i := 0; i < 30; i++ {
		r1 := h1.Step()
		r2 := h2.Step()
		if r1.Round != r2.Round {
			t.Fatalf("round mismatch: %d vs %d", r1.Round, r2.Round)
		}
		if r1.Digest != r2.Digest || r1.Stats != r2.Stats {
			t.Fatalf("divergence at round %d: %s %+v vs %s %+v", r1.Round, r1.Digest, r1.Stats, r2.Digest, r2.Stats)
		}
	}
	if len(h1.Entries) != 31 {
		t.Fatalf("entries=%d want 31 (round 0 + 30)", len(h1.Entries))
	}
}

func TestLog_FramesMatchWorld(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{ID: "frames"}, sampleMap)
	h.StepN(10)

	if got, want := encoding.Canonical(h.GridAt(10)), encoding.Canonical(h.W.Grid()); got != want {
		t.Fatalf("round 10 frame:\n%s\nworld:\n%s", got, want)
	}
	start := h.GridAt(0)
	if start.Len() != 22 {
		t.Fatalf("round 0 population=%d", start.Len())
	}
	for r, d := range h.Digests() {
		if d != encoding.Digest(h.GridAt(uint64(r))) {
			t.Fatalf("digest of logged frame differs at round %d", r)
		}
	}
	cov, err := diffuse.Coverage(h.W.Grid())
	if err != nil || cov != 110 {
		t.Fatalf("coverage=%d err=%v want 110", cov, err)
	}
}

func TestLog_PriorityRotatesAndStableRound(t *testing.T) {
	h := NewHarness(t, world.WorldConfig{ID: "stable"}, sampleMap)
	if got := h.StepUntilStable(100); got != 20 {
		t.Fatalf("stable round=%d want 20", got)
	}

	prio := diffuse.DefaultPriority
	for _, e := range h.Entries {
		if e.Priority != prio.String() {
			t.Fatalf("round %d priority=%s want %s", e.Round, e.Priority, prio)
		}
		if e.Round > 0 {
			prio = prio.Rotate()
		}
		if e.Stable != (e.Round == 20) {
			t.Fatalf("round %d stable=%t", e.Round, e.Stable)
		}
	}
	if got := diffuse.RunUntilStable(encoding.Parse(sampleMap, '#', agent.NewFactory()), diffuse.DefaultPriority); got != 20 {
		t.Fatalf("driver stable round=%d", got)
	}
}
