package arena

import "math/rand"

// BotConfig tunes the bot controller.
type BotConfig struct {
	// TurnMinTicks and TurnMaxTicks bound the randomized countdown after
	// which a bot changes direction even when its path is clear.
	TurnMinTicks int
	TurnMaxTicks int
	// RandomTurnPercent is the per-tick chance of a fully random heading.
	// Zero selects the default of 1; negative disables random turns.
	RandomTurnPercent int
	// AvoidancePercent is the chance that a bot notices an unsafe cell ahead.
	// Zero selects the default of 100; negative means bots never look ahead.
	AvoidancePercent int
}

func (c BotConfig) withDefaults() BotConfig {
	if c.TurnMinTicks <= 0 {
		c.TurnMinTicks = 4
	}
	if c.TurnMaxTicks < c.TurnMinTicks {
		c.TurnMaxTicks = c.TurnMinTicks + 6
	}
	switch {
	case c.RandomTurnPercent == 0:
		c.RandomTurnPercent = 1
	case c.RandomTurnPercent < 0:
		c.RandomTurnPercent = 0
	}
	switch {
	case c.AvoidancePercent == 0:
		c.AvoidancePercent = 100
	case c.AvoidancePercent < 0:
		c.AvoidancePercent = 0
	}
	return c
}

// EngineView is the read-only slice of engine state a bot may inspect.
type EngineView interface {
	GridSize() int
	IsHazard(Position) bool
	IsPendingHazard(Position) bool
}

// BotController picks headings for bot participants. It keeps a per-bot
// redirect countdown and is driven once per tick for every living bot.
type BotController struct {
	cfg       BotConfig
	rng       *rand.Rand
	countdown map[int]int
}

// NewBotController returns a controller drawing randomness from rng.
func NewBotController(cfg BotConfig, rng *rand.Rand) *BotController {
	return &BotController{
		cfg:       cfg.withDefaults(),
		rng:       rng,
		countdown: make(map[int]int),
	}
}

func (b *BotController) newCountdown() int {
	return b.cfg.TurnMinTicks + b.rng.Intn(b.cfg.TurnMaxTicks-b.cfg.TurnMinTicks+1)
}

// Forget drops the countdown kept for a bot slot.
func (b *BotController) Forget(slot int) {
	delete(b.countdown, slot)
}

// Decide returns the heading the bot should take this tick.
func (b *BotController) Decide(p *Participant, view EngineView) Direction {
	slot, _ := p.ID.Slot()

	redirect := false
	if ahead := Step(p.Pos, p.Facing); b.unsafe(ahead, view) && b.roll(b.cfg.AvoidancePercent) {
		redirect = true
	}

	left, ok := b.countdown[slot]
	if !ok {
		left = b.newCountdown()
	}
	left--
	if left <= 0 {
		redirect = true
		left = b.newCountdown()
	}
	b.countdown[slot] = left

	if b.roll(b.cfg.RandomTurnPercent) {
		return Directions[b.rng.Intn(len(Directions))]
	}
	if !redirect {
		return p.Facing
	}
	return b.redirect(p.Pos, view)
}

func (b *BotController) roll(percent int) bool {
	if percent <= 0 {
		return false
	}
	if percent >= 100 {
		return true
	}
	return b.rng.Intn(100) < percent
}

// unsafe reports whether moving onto pos would hit the edge or a hazard.
func (b *BotController) unsafe(pos Position, view EngineView) bool {
	return !InBounds(pos, view.GridSize()) || view.IsHazard(pos) || view.IsPendingHazard(pos)
}

// redirect picks uniformly among directions leading strictly inside the
// border onto hazard-free cells, or among all four if none qualify.
func (b *BotController) redirect(from Position, view EngineView) Direction {
	safe := make([]Direction, 0, len(Directions))
	for _, d := range Directions {
		next := Step(from, d)
		if !InsideBorder(next, view.GridSize()) {
			continue
		}
		if view.IsHazard(next) || view.IsPendingHazard(next) {
			continue
		}
		safe = append(safe, d)
	}
	if len(safe) == 0 {
		return Directions[b.rng.Intn(len(Directions))]
	}
	return safe[b.rng.Intn(len(safe))]
}
