package arena

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/decred/slog"
)

// PendingHazard is a hazard counting down before it becomes solid.
type PendingHazard struct {
	Pos            Position
	TicksRemaining int
}

// Outcome is the result of evaluating the terminal condition.
type Outcome struct {
	Terminal bool
	// Winner is set for a terminal outcome with exactly one survivor.
	Winner *ParticipantID
	Tie    bool
	Alive  []ParticipantID
}

// Standing is the final per-participant record produced for persistence.
type Standing struct {
	ID               ParticipantID `json:"id"`
	DisplayName      string        `json:"name"`
	Alive            bool          `json:"alive"`
	Score            int           `json:"score"`
	HitCount         int           `json:"hits"`
	Eliminations     int           `json:"eliminations"`
	SurvivalTicks    int           `json:"survivalTicks"`
	EliminatedAtTick int           `json:"eliminatedAtTick"`
}

// Engine owns the mutable state of one match and applies the tick rules.
//
// Engine is not safe for concurrent use. The owner must serialize every
// call, which the server does by driving it from a single goroutine.
type Engine struct {
	cfg MatchConfig
	log slog.Logger
	rng *rand.Rand

	participants map[ParticipantID]*Participant
	order        []ParticipantID // sorted with ParticipantID.Less

	hazards    map[Position]struct{}
	hazardList []Position
	pending    []*PendingHazard
	pendingAt  map[Position]*PendingHazard

	tick         int
	started      bool
	initialCount int

	bots   *BotController
	replay *Recorder
}

// NewEngine creates an engine for the given match configuration.
func NewEngine(cfg MatchConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}
	cfg = cfg.withDefaults()

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	return &Engine{
		cfg:          cfg,
		log:          cfg.Log,
		rng:          rng,
		participants: make(map[ParticipantID]*Participant),
		hazards:      make(map[Position]struct{}),
		pendingAt:    make(map[Position]*PendingHazard),
		bots:         NewBotController(cfg.Bots, rng),
		replay:       NewRecorder(cfg.GridSize, cfg.ReplayFrames),
	}, nil
}

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() MatchConfig { return e.cfg }

// GridSize implements EngineView.
func (e *Engine) GridSize() int { return e.cfg.GridSize }

// IsHazard implements EngineView.
func (e *Engine) IsHazard(pos Position) bool {
	_, ok := e.hazards[pos]
	return ok
}

// IsPendingHazard implements EngineView.
func (e *Engine) IsPendingHazard(pos Position) bool {
	_, ok := e.pendingAt[pos]
	return ok
}

// TickNumber returns the number of ticks applied so far.
func (e *Engine) TickNumber() int { return e.tick }

// Participant returns a copy of the participant with the given id.
func (e *Engine) Participant(id ParticipantID) (Participant, bool) {
	p, ok := e.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ParticipantCount returns the number of admitted participants.
func (e *Engine) ParticipantCount() int { return len(e.participants) }

// Admit adds a participant at a random free cell strictly inside the border
// with a random facing. Admitting an id that is already present is a no-op
// and reports false.
func (e *Engine) Admit(p Participant) bool {
	if _, ok := e.participants[p.ID]; ok {
		return false
	}
	np := &Participant{
		ID:               p.ID,
		DisplayName:      p.DisplayName,
		Color:            p.Color,
		Pos:              e.spawnPosition(),
		Facing:           Directions[e.rng.Intn(len(Directions))],
		Alive:            true,
		EliminatedAtTick: -1,
	}
	e.participants[np.ID] = np

	idx := sort.Search(len(e.order), func(i int) bool { return !e.order[i].Less(np.ID) })
	e.order = append(e.order, ParticipantID{})
	copy(e.order[idx+1:], e.order[idx:])
	e.order[idx] = np.ID

	e.log.Debugf("match %d: admitted %s at (%d,%d) facing %s", e.cfg.MatchID, np.ID,
		np.Pos.X, np.Pos.Y, np.Facing)
	return true
}

// spawnPosition picks a cell strictly inside the border that is free of
// hazards and living participants. Crowded grids fall back to the last
// sampled cell; the next tick's collision rules resolve any overlap.
func (e *Engine) spawnPosition() Position {
	inner := e.cfg.GridSize - 2
	var pos Position
	for i := 0; i < spawnAttempts; i++ {
		pos = Position{X: 1 + e.rng.Intn(inner), Y: 1 + e.rng.Intn(inner)}
		if e.IsHazard(pos) || e.IsPendingHazard(pos) || e.livingAt(pos) {
			continue
		}
		return pos
	}
	return pos
}

func (e *Engine) livingAt(pos Position) bool {
	for _, p := range e.participants {
		if p.Alive && p.Pos == pos {
			return true
		}
	}
	return false
}

// SetFacing changes a human participant's heading. Unknown ids, dead
// participants and bots are ignored.
func (e *Engine) SetFacing(id ParticipantID, dir Direction) bool {
	p, ok := e.participants[id]
	if !ok || !p.Alive || p.IsBot() {
		return false
	}
	p.Facing = dir
	return true
}

// Remove deletes a participant without any scoring side effect.
func (e *Engine) Remove(id ParticipantID) bool {
	if _, ok := e.participants[id]; !ok {
		return false
	}
	delete(e.participants, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if slot, ok := id.Slot(); ok {
		e.bots.Forget(slot)
	}
	return true
}

// Start freezes the participant count used by the terminal condition.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	e.initialCount = len(e.participants)
	e.replay.Record(e)
}

// Tick advances the simulation by one step.
func (e *Engine) Tick() {
	e.decideBots()

	// Candidate cells are computed from the pre-move state and frozen before
	// anything is mutated.
	candidates := make(map[ParticipantID]Position, len(e.participants))
	occupant := make(map[Position]ParticipantID, len(e.participants))
	for _, id := range e.order {
		p := e.participants[id]
		if !p.Alive {
			continue
		}
		candidates[id] = Step(p.Pos, p.Facing)
		if _, taken := occupant[p.Pos]; !taken {
			occupant[p.Pos] = id
		}
	}

	resolved := make(map[ParticipantID]bool, len(candidates))
	for _, id := range e.order {
		p := e.participants[id]
		cand, ok := candidates[id]
		if !ok || resolved[id] || !p.Alive {
			continue
		}
		resolved[id] = true

		if !InBounds(cand, e.cfg.GridSize) || e.IsHazard(cand) {
			e.hit(p)
			continue
		}

		// Head-on: every other living participant heading into the same
		// cell is penalized once together with p, and nobody moves.
		headOn := false
		for _, oid := range e.order {
			if oid == id || resolved[oid] {
				continue
			}
			other := e.participants[oid]
			if !other.Alive || candidates[oid] != cand {
				continue
			}
			if !headOn {
				e.hit(p)
				headOn = true
			}
			resolved[oid] = true
			e.hit(other)
		}
		if headOn {
			continue
		}

		if vid, ok := occupant[cand]; ok && vid != id {
			if victim := e.participants[vid]; victim.Alive {
				e.eliminate(p, victim)
				continue
			}
		}

		p.Pos = cand
	}

	e.tick++
	e.replay.Record(e)
}

// decideBots lets the bot controller steer every living bot. A panic while
// deciding for one bot leaves that bot's heading unchanged.
func (e *Engine) decideBots() {
	for _, id := range e.order {
		p := e.participants[id]
		if !p.Alive || !p.IsBot() {
			continue
		}
		e.decideBot(p)
	}
}

func (e *Engine) decideBot(p *Participant) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("match %d: bot %s decision panicked: %v", e.cfg.MatchID, p.ID, r)
		}
	}()
	p.Facing = e.bots.Decide(p, e)
}

// hit applies the hazard penalty of the configured model.
func (e *Engine) hit(p *Participant) {
	p.HitCount++
	if e.cfg.Penalty == PenaltyInstant || p.HitCount >= e.cfg.HitThreshold {
		e.kill(p)
	}
}

func (e *Engine) kill(p *Participant) {
	if !p.Alive {
		return
	}
	p.Alive = false
	p.EliminatedAtTick = e.tick + 1
	e.log.Debugf("match %d: %s eliminated on tick %d (hits=%d score=%d)", e.cfg.MatchID,
		p.ID, p.EliminatedAtTick, p.HitCount, p.Score)
}

// eliminate removes victim from play and hands its positive score to the
// attacker.
func (e *Engine) eliminate(attacker, victim *Participant) {
	gained := max(0, victim.Score)
	e.kill(victim)
	victim.Score = 0
	attacker.Score += gained
	attacker.Eliminations++
}

// StepHazards runs one countdown step. Pending hazards reaching zero become
// solid and award one point to every living participant. It returns the
// number of hazards that solidified.
func (e *Engine) StepHazards() int {
	solidified := 0
	kept := e.pending[:0]
	for _, h := range e.pending {
		h.TicksRemaining--
		if h.TicksRemaining > 0 {
			kept = append(kept, h)
			continue
		}
		delete(e.pendingAt, h.Pos)
		e.hazards[h.Pos] = struct{}{}
		e.hazardList = append(e.hazardList, h.Pos)
		e.replay.noteWall(h.Pos)
		solidified++
		for _, p := range e.participants {
			if p.Alive {
				p.Score++
			}
		}
	}
	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = nil
	}
	e.pending = kept
	return solidified
}

// SpawnHazard places a new pending hazard on a random free cell. When no
// free cell is found within the retry budget the cycle is skipped and false
// is returned.
func (e *Engine) SpawnHazard() bool {
	for i := 0; i < spawnAttempts; i++ {
		pos := Position{X: e.rng.Intn(e.cfg.GridSize), Y: e.rng.Intn(e.cfg.GridSize)}
		if e.IsHazard(pos) || e.IsPendingHazard(pos) || e.livingAt(pos) {
			continue
		}
		h := &PendingHazard{Pos: pos, TicksRemaining: e.cfg.HazardCountdown}
		e.pending = append(e.pending, h)
		e.pendingAt[pos] = h
		return true
	}
	return false
}

// CheckTerminal evaluates the end condition without mutating state. A match
// that started with at least MinParticipants participants ends once at most
// one is alive. Smaller matches end only when nobody is alive.
func (e *Engine) CheckTerminal() Outcome {
	var alive []ParticipantID
	for _, id := range e.order {
		if e.participants[id].Alive {
			alive = append(alive, id)
		}
	}

	count := len(e.participants)
	if e.started {
		count = e.initialCount
	}

	contested := count >= e.cfg.MinParticipants
	out := Outcome{Alive: alive}
	switch {
	case contested && len(alive) <= 1:
		out.Terminal = true
	case count > 0 && !contested && len(alive) == 0:
		out.Terminal = true
	}
	if !out.Terminal {
		return out
	}
	if len(alive) == 1 && contested {
		w := alive[0]
		out.Winner = &w
	} else {
		out.Tie = true
	}
	return out
}

// Standings returns the per-participant final records in participant order.
func (e *Engine) Standings() []Standing {
	out := make([]Standing, 0, len(e.order))
	for _, id := range e.order {
		p := e.participants[id]
		out = append(out, Standing{
			ID:               p.ID,
			DisplayName:      p.DisplayName,
			Alive:            p.Alive,
			Score:            p.Score,
			HitCount:         p.HitCount,
			Eliminations:     p.Eliminations,
			SurvivalTicks:    p.SurvivalTicks(e.tick),
			EliminatedAtTick: p.EliminatedAtTick,
		})
	}
	return out
}

// Replay returns the frames recorded so far.
func (e *Engine) Replay() *Replay {
	return e.replay.Replay()
}
