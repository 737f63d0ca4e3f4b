package world

import (
	"encoding/json"

	"griddiffuse.dev/internal/observerproto"
	"griddiffuse.dev/internal/sim/encoding"
)

// ObserverJoinRequest registers a read-only observer session that receives one
// ROUND message per round on RoundOut.
//
// All observer state is maintained by the world loop goroutine.
type ObserverJoinRequest struct {
	SessionID    string
	RoundOut     chan []byte
	IncludeFrame bool
}

type observerClient struct {
	id           string
	roundOut     chan []byte
	includeFrame bool
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest { return w.observerJoin }
func (w *World) ObserverLeave() chan<- string             { return w.observerLeave }

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.RoundOut == nil {
		return
	}
	w.observers[req.SessionID] = &observerClient{
		id:           req.SessionID,
		roundOut:     req.RoundOut,
		includeFrame: req.IncludeFrame,
	}
}

func (w *World) handleObserverLeave(id string) {
	c, ok := w.observers[id]
	if !ok {
		return
	}
	delete(w.observers, id)
	close(c.roundOut)
}

func (w *World) broadcastRound(res RoundResult) {
	if len(w.observers) == 0 {
		return
	}
	msg := observerproto.RoundMsg{
		Type:            observerproto.TypeRound,
		ProtocolVersion: observerproto.Version,
		WorldID:         w.cfg.ID,
		Round:           res.Round,
		Priority:        res.Priority.String(),
		Proposed:        res.Stats.Proposed,
		Vetoed:          res.Stats.Vetoed,
		Moved:           res.Stats.Moved,
		Population:      w.grid.Len(),
		Stable:          res.Stable,
		Digest:          res.Digest,
	}

	var plain, framed []byte
	for _, c := range w.observers {
		if c.includeFrame {
			if framed == nil {
				f := encoding.EncodeFrame(w.grid)
				m := msg
				m.Frame = &f
				framed, _ = json.Marshal(m)
			}
			sendLatest(c.roundOut, framed)
			continue
		}
		if plain == nil {
			plain, _ = json.Marshal(msg)
		}
		sendLatest(c.roundOut, plain)
	}
}
