package worldtest

import (
	"context"
	"testing"

	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/diffuse"
	"griddiffuse.dev/internal/sim/encoding"
	world "griddiffuse.dev/internal/sim/world"
)

// Harness is a small black-box test helper for driving a world via exported APIs:
// - NewHarness parses a '#' map and builds the world
// - Step()/StepN() advance it via StepOnce()
// - every round log entry (round 0 included) is recorded in Entries
type Harness struct {
	T *testing.T
	W *world.World

	Entries []world.RoundLogEntry
}

func NewHarness(t *testing.T, cfg world.WorldConfig, mapText string) *Harness {
	t.Helper()

	g := encoding.Parse(mapText, encoding.DefaultOccupied, agent.NewFactory())
	w, err := world.New(cfg, g)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	h := &Harness{T: t, W: w}
	w.SetRoundLogger(h)
	return h
}

// WriteRound implements world.RoundLogger.
func (h *Harness) WriteRound(e world.RoundLogEntry) error {
	h.Entries = append(h.Entries, e)
	return nil
}

func (h *Harness) Step() world.RoundResult {
	h.T.Helper()
	res, err := h.W.StepOnce(context.Background())
	if err != nil {
		h.T.Fatalf("StepOnce: %v", err)
	}
	return res
}

func (h *Harness) StepN(n int) []world.RoundResult {
	h.T.Helper()
	out := make([]world.RoundResult, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, h.Step())
	}
	return out
}

// StepUntilStable steps until a stable round or limit rounds, returning the
// stable round (0 if none).
func (h *Harness) StepUntilStable(limit int) uint64 {
	h.T.Helper()
	for i := 0; i < limit; i++ {
		if res := h.Step(); res.Stable {
			return res.Round
		}
	}
	return 0
}

// Digests lists the recorded digests indexed by round.
func (h *Harness) Digests() []string {
	out := make([]string, len(h.Entries))
	for i, e := range h.Entries {
		out[i] = e.Digest
	}
	return out
}

// GridAt rebuilds the grid logged for round r from its frame.
func (h *Harness) GridAt(r uint64) *diffuse.Grid {
	h.T.Helper()
	for _, e := range h.Entries {
		if e.Round != r {
			continue
		}
		g, err := encoding.DecodeFrame(e.Frame, agent.NewFactory())
		if err != nil {
			h.T.Fatalf("DecodeFrame round %d: %v", r, err)
		}
		return g
	}
	h.T.Fatalf("round %d not logged", r)
	return nil
}
