package observerproto

import "griddiffuse.dev/internal/sim/encoding"

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeRound     = "ROUND"
)

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// IncludeFrame asks for the full occupancy frame with every round.
	IncludeFrame bool `json:"include_frame,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	Round           uint64 `json:"round"`
	Population      int    `json:"population"`
	Priority        string `json:"priority"`
	RoundRateHz     int    `json:"round_rate_hz"`
	Stable          bool   `json:"stable"`
	Digest          string `json:"digest"`
	// Finished is set once the world has stopped stepping; new observers are
	// then closed right after SUBSCRIBE.
	Finished bool `json:"finished"`
}

// Server -> Client. Sent every round.
type RoundMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	WorldID         string `json:"world_id"`
	Round           uint64 `json:"round"`

	// Priority is the direction order used for this round.
	Priority string `json:"priority"`

	Proposed   int    `json:"proposed"`
	Vetoed     int    `json:"vetoed"`
	Moved      int    `json:"moved"`
	Population int    `json:"population"`
	Stable     bool   `json:"stable"`
	Digest     string `json:"digest"`

	Frame *encoding.Frame `json:"frame,omitempty"`
}
