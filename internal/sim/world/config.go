package world

import "griddiffuse.dev/internal/sim/diffuse"

type WorldConfig struct {
	ID string

	// Priority is the direction order for the first round.
	Priority diffuse.Priority
	Engine   diffuse.Engine

	RoundRateHz int
	// StopWhenStable ends Run after the first round that leaves the canonical
	// render unchanged.
	StopWhenStable bool
	// MaxRounds ends Run after that many rounds; 0 means no limit.
	MaxRounds int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.Priority == (diffuse.Priority{}) {
		c.Priority = diffuse.DefaultPriority
	}
	if c.RoundRateHz <= 0 {
		c.RoundRateHz = 5
	}
}
