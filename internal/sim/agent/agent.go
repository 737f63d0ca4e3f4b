package agent

import (
	"strconv"
	"sync/atomic"
)

// Agent is an anonymous occupant. Its position is whatever grid cell holds it;
// the ID exists only so callers can tell agents apart.
type Agent struct {
	ID uint64
}

func (a Agent) String() string { return "A" + strconv.FormatUint(a.ID, 10) }

// Factory hands out agents with monotonically increasing IDs starting at 1.
// Each factory owns its sequence; two factories never share state.
// Safe for concurrent use.
type Factory struct {
	next atomic.Uint64
}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) New() Agent {
	return Agent{ID: f.next.Add(1)}
}
