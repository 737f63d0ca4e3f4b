package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"griddiffuse.dev/internal/sim/encoding"
)

// Run advances one round per 1/RoundRateHz until ctx is done, Stop is
// called, or the configured stop condition (stable / MaxRounds) is met.
// Reaching a stop condition returns nil. When Run returns the world is
// finished: Done is closed, observer channels are closed and the round log
// is flushed. A world runs at most once.
func (w *World) Run(ctx context.Context) error {
	select {
	case <-w.done:
		return ErrFinished
	default:
	}
	defer w.finish()

	interval := time.Second / time.Duration(w.cfg.RoundRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := w.start(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case <-ticker.C:
			res, err := w.StepOnce(ctx)
			if err != nil {
				return err
			}
			if res.Stable && w.cfg.StopWhenStable {
				w.logf("world %s stable at round %d", w.cfg.ID, res.Round)
				return nil
			}
			if w.cfg.MaxRounds > 0 && res.Round >= uint64(w.cfg.MaxRounds) {
				w.logf("world %s reached max rounds %d", w.cfg.ID, w.cfg.MaxRounds)
				return nil
			}
		}
	}
}

var ErrFinished = errors.New("world: already finished")

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// Done is closed once Run has returned.
func (w *World) Done() <-chan struct{} { return w.done }

func (w *World) finish() {
	w.doneOnce.Do(func() {
		close(w.done)
		for id, c := range w.observers {
			delete(w.observers, id)
			close(c.roundOut)
		}
		// Joins queued after the last loop iteration are turned away.
		for drained := false; !drained; {
			select {
			case req := <-w.observerJoin:
				if req.RoundOut != nil {
					close(req.RoundOut)
				}
			default:
				drained = true
			}
		}
		if f, ok := w.roundLogger.(Flusher); ok {
			if err := f.Flush(); err != nil {
				w.logf("world %s: flush round log: %v", w.cfg.ID, err)
			}
		}
	})
}

// StepOnce runs a single round with the same semantics as the Run loop.
// It is primarily intended for replays and tests.
func (w *World) StepOnce(ctx context.Context) (RoundResult, error) {
	if err := w.start(); err != nil {
		return RoundResult{}, err
	}

	used := w.prio
	next, stats, err := w.cfg.Engine.Step(ctx, w.grid, used)
	if err != nil {
		return RoundResult{}, err
	}
	canon := encoding.Canonical(next)
	stable := canon == w.prevCanon

	w.grid = next
	w.prevCanon = canon
	w.prio = used.Rotate()
	round := w.round.Add(1)

	res := RoundResult{
		Round:    round,
		Priority: used,
		Stats:    stats,
		Digest:   encoding.Digest(next),
		Stable:   stable,
	}
	w.publish(res)
	if err := w.writeRound(RoundLogEntry{
		WorldID:    w.cfg.ID,
		Round:      round,
		Priority:   used.String(),
		Proposed:   stats.Proposed,
		Vetoed:     stats.Vetoed,
		Moved:      stats.Moved,
		Population: next.Len(),
		Stable:     stable,
		Digest:     res.Digest,
		Frame:      encoding.EncodeFrame(next),
	}); err != nil {
		return res, err
	}
	return res, nil
}

// start records round 0 the first time the world advances.
func (w *World) start() error {
	if w.started {
		return nil
	}
	w.started = true
	w.logf("world %s starting: population=%d priority=%s", w.cfg.ID, w.grid.Len(), w.prio)
	return w.writeRound(RoundLogEntry{
		WorldID:    w.cfg.ID,
		Round:      w.round.Load(),
		Priority:   w.prio.String(),
		Population: w.grid.Len(),
		Digest:     encoding.Digest(w.grid),
		Frame:      encoding.EncodeFrame(w.grid),
	})
}

func (w *World) writeRound(e RoundLogEntry) error {
	if w.roundLogger == nil {
		return nil
	}
	if err := w.roundLogger.WriteRound(e); err != nil {
		return fmt.Errorf("round log: round %d: %w", e.Round, err)
	}
	return nil
}

func (w *World) publish(res RoundResult) {
	w.statusMu.Lock()
	w.status = Status{
		Round:      res.Round,
		Population: w.grid.Len(),
		Priority:   w.prio,
		Stable:     res.Stable,
		Digest:     res.Digest,
	}
	w.statusMu.Unlock()

	w.broadcastRound(res)
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
