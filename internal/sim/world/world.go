package world

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"griddiffuse.dev/internal/sim/diffuse"
	"griddiffuse.dev/internal/sim/encoding"
)

// RoundLogEntry is one line of the round log. Round 0 carries the initial
// population; its Priority is the order round 1 will use.
type RoundLogEntry struct {
	WorldID    string         `json:"world_id"`
	Round      uint64         `json:"round"`
	Priority   string         `json:"priority"`
	Proposed   int            `json:"proposed"`
	Vetoed     int            `json:"vetoed"`
	Moved      int            `json:"moved"`
	Population int            `json:"population"`
	Stable     bool           `json:"stable"`
	Digest     string         `json:"digest"`
	Frame      encoding.Frame `json:"frame"`
}

type RoundLogger interface {
	WriteRound(entry RoundLogEntry) error
}

// Flusher is implemented by round loggers that buffer; the world flushes
// them when Run returns.
type Flusher interface {
	Flush() error
}

// RoundResult summarizes a completed round.
type RoundResult struct {
	Round    uint64
	Priority diffuse.Priority
	Stats    diffuse.RoundStats
	Digest   string
	Stable   bool
}

// Status is a point-in-time view that is safe to read from any goroutine.
type Status struct {
	Round      uint64
	Population int
	Priority   diffuse.Priority // order the next round will use
	Stable     bool
	Digest     string
}

// World owns one population grid and advances it round by round.
// Grid state must be accessed only from the goroutine running Run (or the
// caller of StepOnce when Run is not active).
type World struct {
	cfg WorldConfig

	grid      *diffuse.Grid
	prio      diffuse.Priority
	prevCanon string
	started   bool

	round atomic.Uint64

	statusMu sync.RWMutex
	status   Status

	observers     map[string]*observerClient
	observerJoin  chan ObserverJoinRequest
	observerLeave chan string
	stop          chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
	doneOnce      sync.Once

	// Optional (may be nil). Implemented in internal/persistence/log.
	roundLogger RoundLogger
	logger      *log.Logger
}

func New(cfg WorldConfig, g *diffuse.Grid) (*World, error) {
	cfg.applyDefaults()
	if g == nil {
		return nil, errors.New("world: nil grid")
	}
	if !cfg.Priority.Valid() {
		return nil, fmt.Errorf("world: invalid priority %s", cfg.Priority)
	}
	w := &World{
		cfg:           cfg,
		grid:          g,
		prio:          cfg.Priority,
		prevCanon:     encoding.Canonical(g),
		observers:     map[string]*observerClient{},
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	w.status = Status{
		Population: g.Len(),
		Priority:   w.prio,
		Digest:     encoding.Digest(g),
	}
	return w, nil
}

func (w *World) SetRoundLogger(l RoundLogger) { w.roundLogger = l }
func (w *World) SetLogger(l *log.Logger)      { w.logger = l }

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) CurrentRound() uint64 { return w.round.Load() }

func (w *World) Status() Status {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	return w.status
}

// Grid returns the current grid. Grids are never mutated after a round
// completes, but the pointer changes every round; only call this from the
// loop goroutine or after Run has returned.
func (w *World) Grid() *diffuse.Grid { return w.grid }

func (w *World) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
