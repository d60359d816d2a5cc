package arena

import (
	"fmt"
	"strings"
	"time"

	"github.com/decred/slog"
)

// Speed is a match speed tier. It determines the simulation tick interval.
type Speed string

const (
	SpeedSlow    Speed = "SLOW"
	SpeedMedium  Speed = "MEDIUM"
	SpeedFast    Speed = "FAST"
	SpeedExtreme Speed = "EXTREME"
)

// TickInterval returns the wall-clock time between simulation ticks.
// Unknown tiers fall back to MEDIUM.
func (s Speed) TickInterval() time.Duration {
	switch Speed(strings.ToUpper(string(s))) {
	case SpeedSlow:
		return 200 * time.Millisecond
	case SpeedFast:
		return 100 * time.Millisecond
	case SpeedExtreme:
		return 75 * time.Millisecond
	default:
		return 150 * time.Millisecond
	}
}

// ParseSpeed validates a speed tier name.
func ParseSpeed(s string) (Speed, error) {
	switch sp := Speed(strings.ToUpper(s)); sp {
	case SpeedSlow, SpeedMedium, SpeedFast, SpeedExtreme:
		return sp, nil
	}
	return "", fmt.Errorf("unknown speed tier %q", s)
}

// PenaltyModel selects how hazard hits are punished.
type PenaltyModel string

const (
	// PenaltyHitCounter counts hazard hits and eliminates a participant once
	// HitThreshold is reached. Eliminations by collision steal the victim's
	// score.
	PenaltyHitCounter PenaltyModel = "hits"
	// PenaltyInstant eliminates a participant on the first hazard hit.
	PenaltyInstant PenaltyModel = "instant"
)

const (
	DefaultHitThreshold    = 50
	DefaultHazardCountdown = 3
	DefaultReplayFrames    = 4000
	DefaultMinParticipants = 2

	spawnAttempts = 100
)

// MatchConfig holds everything needed to construct an Engine.
type MatchConfig struct {
	MatchID  int64
	GridSize int
	Speed    Speed

	// HazardSpawnInterval is the time between hazard spawns. Zero disables
	// spawning.
	HazardSpawnInterval time.Duration
	// HazardCountdown is how many countdown steps (seconds) a pending hazard
	// waits before it solidifies.
	HazardCountdown int

	HitThreshold int
	Penalty      PenaltyModel
	// MinParticipants is the starting field size from which the last
	// survivor wins. Smaller fields play until nobody is alive.
	MinParticipants int

	// ReplayFrames caps the number of recorded frames. Zero disables
	// recording.
	ReplayFrames int

	Bots BotConfig

	// Seed makes spawns and bot choices reproducible. Zero picks a time
	// based seed.
	Seed int64

	Log slog.Logger
}

// withDefaults fills unset fields.
func (c MatchConfig) withDefaults() MatchConfig {
	if c.HazardCountdown <= 0 {
		c.HazardCountdown = DefaultHazardCountdown
	}
	if c.HitThreshold <= 0 {
		c.HitThreshold = DefaultHitThreshold
	}
	if c.Penalty == "" {
		c.Penalty = PenaltyHitCounter
	}
	if c.MinParticipants <= 0 {
		c.MinParticipants = DefaultMinParticipants
	}
	if c.ReplayFrames < 0 {
		c.ReplayFrames = 0
	}
	if c.Log == nil {
		c.Log = slog.Disabled
	}
	c.Bots = c.Bots.withDefaults()
	return c
}

// Validate reports configuration errors that would make the match
// unplayable.
func (c MatchConfig) Validate() error {
	if c.GridSize < 3 {
		return fmt.Errorf("grid size %d too small", c.GridSize)
	}
	if c.HazardSpawnInterval < 0 {
		return fmt.Errorf("negative hazard spawn interval")
	}
	switch c.Penalty {
	case "", PenaltyHitCounter, PenaltyInstant:
	default:
		return fmt.Errorf("unknown penalty model %q", c.Penalty)
	}
	return nil
}
