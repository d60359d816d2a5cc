package arena

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, gridSize int, mods ...func(*MatchConfig)) *Engine {
	t.Helper()
	cfg := MatchConfig{
		MatchID:  1,
		GridSize: gridSize,
		Speed:    SpeedMedium,
		Seed:     42,
		Bots:     BotConfig{RandomTurnPercent: -1},
	}
	for _, m := range mods {
		m(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

// place admits id and moves it to pos facing dir.
func place(t *testing.T, e *Engine, id ParticipantID, pos Position, dir Direction) *Participant {
	t.Helper()
	require.True(t, e.Admit(Participant{ID: id, DisplayName: id.String()}))
	p := e.participants[id]
	p.Pos = pos
	p.Facing = dir
	return p
}

func addPending(e *Engine, pos Position, ticks int) {
	h := &PendingHazard{Pos: pos, TicksRemaining: ticks}
	e.pending = append(e.pending, h)
	e.pendingAt[pos] = h
}

func addHazard(e *Engine, pos Position) {
	e.hazards[pos] = struct{}{}
	e.hazardList = append(e.hazardList, pos)
}

func TestNewEngineValidatesConfig(t *testing.T) {
	_, err := NewEngine(MatchConfig{GridSize: 2})
	require.Error(t, err)

	_, err = NewEngine(MatchConfig{GridSize: 10, Penalty: "explode"})
	require.Error(t, err)

	e, err := NewEngine(MatchConfig{GridSize: 10})
	require.NoError(t, err)
	cfg := e.Config()
	assert.Equal(t, DefaultHitThreshold, cfg.HitThreshold)
	assert.Equal(t, DefaultHazardCountdown, cfg.HazardCountdown)
	assert.Equal(t, PenaltyHitCounter, cfg.Penalty)
}

func TestAdmitIsIdempotentAndSpawnsInsideBorder(t *testing.T) {
	e := newTestEngine(t, 10)
	for i := int64(1); i <= 6; i++ {
		require.True(t, e.Admit(Participant{ID: Human(i), DisplayName: fmt.Sprint("p", i)}))
	}
	assert.False(t, e.Admit(Participant{ID: Human(3)}), "second admit must be a no-op")
	assert.Equal(t, 6, e.ParticipantCount())

	seen := make(map[Position]bool)
	for _, id := range e.order {
		p := e.participants[id]
		assert.True(t, InsideBorder(p.Pos, 10), "%s spawned on the border at %+v", id, p.Pos)
		assert.False(t, seen[p.Pos], "%s spawned on an occupied cell", id)
		seen[p.Pos] = true
		assert.True(t, p.Alive)
		assert.Equal(t, -1, p.EliminatedAtTick)
	}
}

func TestParticipantOrderHumansBeforeBots(t *testing.T) {
	e := newTestEngine(t, 10)
	e.Admit(Participant{ID: Bot(0)})
	e.Admit(Participant{ID: Human(9)})
	e.Admit(Participant{ID: Human(2)})
	e.Admit(Participant{ID: Bot(1)})

	assert.Equal(t, []ParticipantID{Human(2), Human(9), Bot(0), Bot(1)}, e.order)

	require.True(t, e.Remove(Human(9)))
	assert.False(t, e.Remove(Human(9)))
	assert.Equal(t, []ParticipantID{Human(2), Bot(0), Bot(1)}, e.order)
}

func TestSetFacingIgnoresBotsDeadAndUnknown(t *testing.T) {
	e := newTestEngine(t, 10)
	h := place(t, e, Human(1), Position{X: 4, Y: 4}, Up)
	b := place(t, e, Bot(0), Position{X: 6, Y: 6}, Up)

	assert.True(t, e.SetFacing(Human(1), Left))
	assert.Equal(t, Left, h.Facing)

	assert.False(t, e.SetFacing(Bot(0), Left))
	assert.Equal(t, Up, b.Facing)

	assert.False(t, e.SetFacing(Human(7), Left))

	h.Alive = false
	assert.False(t, e.SetFacing(Human(1), Right))
	assert.Equal(t, Left, h.Facing)
}

func TestTickMovesAlongFacing(t *testing.T) {
	e := newTestEngine(t, 10)
	p := place(t, e, Human(1), Position{X: 4, Y: 4}, Right)
	e.Start()

	e.Tick()
	assert.Equal(t, Position{X: 5, Y: 4}, p.Pos)
	assert.Equal(t, 1, e.TickNumber())

	e.SetFacing(Human(1), Up)
	e.Tick()
	assert.Equal(t, Position{X: 5, Y: 3}, p.Pos)
}

func TestTickOutOfBoundsAndHazardHitsDoNotMove(t *testing.T) {
	e := newTestEngine(t, 10)
	edge := place(t, e, Human(1), Position{X: 0, Y: 5}, Left)
	wall := place(t, e, Human(2), Position{X: 5, Y: 5}, Down)
	addHazard(e, Position{X: 5, Y: 6})
	e.Start()

	e.Tick()

	assert.Equal(t, Position{X: 0, Y: 5}, edge.Pos)
	assert.Equal(t, 1, edge.HitCount)
	assert.True(t, edge.Alive)
	assert.Equal(t, Position{X: 5, Y: 5}, wall.Pos)
	assert.Equal(t, 1, wall.HitCount)
}

func TestPendingHazardIsNotSolid(t *testing.T) {
	e := newTestEngine(t, 10)
	p := place(t, e, Human(1), Position{X: 5, Y: 5}, Down)
	addPending(e, Position{X: 5, Y: 6}, 3)
	e.Start()

	e.Tick()
	assert.Equal(t, Position{X: 5, Y: 6}, p.Pos)
	assert.Zero(t, p.HitCount)
}

func TestHeadOnKillsBothAtThreshold(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.HitThreshold = 5 })
	a := place(t, e, Human(1), Position{X: 2, Y: 5}, Right)
	b := place(t, e, Human(2), Position{X: 4, Y: 5}, Left)
	a.HitCount = 4
	b.HitCount = 4
	e.Start()

	e.Tick()

	assert.False(t, a.Alive)
	assert.False(t, b.Alive)
	assert.Equal(t, Position{X: 2, Y: 5}, a.Pos)
	assert.Equal(t, Position{X: 4, Y: 5}, b.Pos)
	assert.Equal(t, 1, a.EliminatedAtTick)
	assert.Equal(t, 1, b.EliminatedAtTick)

	out := e.CheckTerminal()
	assert.True(t, out.Terminal)
	assert.True(t, out.Tie)
	assert.Nil(t, out.Winner)
}

func TestHeadOnBelowThresholdPenalizesGroupOnce(t *testing.T) {
	e := newTestEngine(t, 10)
	a := place(t, e, Human(1), Position{X: 2, Y: 5}, Right)
	b := place(t, e, Human(2), Position{X: 4, Y: 5}, Left)
	c := place(t, e, Human(3), Position{X: 3, Y: 4}, Down)
	e.Start()

	e.Tick()

	for _, p := range []*Participant{a, b, c} {
		assert.True(t, p.Alive, "%s", p.ID)
		assert.Equal(t, 1, p.HitCount, "%s", p.ID)
	}
	assert.Equal(t, Position{X: 2, Y: 5}, a.Pos)
	assert.Equal(t, Position{X: 4, Y: 5}, b.Pos)
	assert.Equal(t, Position{X: 3, Y: 4}, c.Pos)
}

func TestSideHitTransfersScore(t *testing.T) {
	e := newTestEngine(t, 10)
	attacker := place(t, e, Human(1), Position{X: 2, Y: 2}, Right)
	victim := place(t, e, Human(2), Position{X: 3, Y: 2}, Down)
	attacker.Score = 2
	victim.Score = 7
	e.Start()

	e.Tick()

	assert.True(t, attacker.Alive)
	assert.Equal(t, 9, attacker.Score)
	assert.Equal(t, 1, attacker.Eliminations)
	assert.Equal(t, Position{X: 2, Y: 2}, attacker.Pos, "attacker stays put")

	assert.False(t, victim.Alive)
	assert.Zero(t, victim.Score)
	assert.Equal(t, Position{X: 3, Y: 2}, victim.Pos)
}

func TestSideHitNeverTransfersNegativeScore(t *testing.T) {
	e := newTestEngine(t, 10)
	attacker := place(t, e, Human(1), Position{X: 2, Y: 2}, Right)
	victim := place(t, e, Human(2), Position{X: 3, Y: 2}, Down)
	attacker.Score = 4
	victim.Score = -3
	e.Start()

	e.Tick()

	assert.Equal(t, 4, attacker.Score)
	assert.Zero(t, victim.Score)
	assert.False(t, victim.Alive)
}

func TestThresholdIsMonotonic(t *testing.T) {
	const threshold = 5
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.HitThreshold = threshold })
	p := place(t, e, Human(1), Position{X: 0, Y: 5}, Left)
	place(t, e, Human(2), Position{X: 5, Y: 1}, Down)
	e.Start()

	for i := 1; i < threshold; i++ {
		e.Tick()
		require.True(t, p.Alive, "alive after %d hits", p.HitCount)
	}
	assert.Equal(t, threshold-1, p.HitCount)

	e.Tick()
	assert.False(t, p.Alive)
	assert.Equal(t, threshold, p.HitCount)

	// A dead participant is frozen; a facing change or more ticks never
	// revive it.
	e.SetFacing(Human(1), Right)
	for i := 0; i < 3; i++ {
		e.StepHazards()
		e.Tick()
		assert.False(t, p.Alive)
		assert.Equal(t, threshold, p.HitCount)
		assert.Equal(t, Position{X: 0, Y: 5}, p.Pos)
	}
}

func TestInstantPenaltyKillsOnFirstHit(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.Penalty = PenaltyInstant })
	p := place(t, e, Human(1), Position{X: 0, Y: 5}, Left)
	place(t, e, Human(2), Position{X: 5, Y: 5}, Down)
	e.Start()

	e.Tick()
	assert.False(t, p.Alive)
	assert.Equal(t, 1, p.HitCount)
}

func TestHazardCountdownSolidifiesAfterNSteps(t *testing.T) {
	const countdown = 3
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.HazardCountdown = countdown })
	live := place(t, e, Human(1), Position{X: 2, Y: 2}, Right)
	dead := place(t, e, Human(2), Position{X: 7, Y: 7}, Left)
	dead.Alive = false
	dead.EliminatedAtTick = 0
	e.Start()

	require.True(t, e.SpawnHazard())
	require.Len(t, e.pending, 1)
	pos := e.pending[0].Pos
	assert.Equal(t, countdown, e.pending[0].TicksRemaining)

	for i := 1; i < countdown; i++ {
		assert.Zero(t, e.StepHazards())
		assert.True(t, e.IsPendingHazard(pos))
		assert.False(t, e.IsHazard(pos))
		assert.Zero(t, live.Score)
	}

	assert.Equal(t, 1, e.StepHazards())
	assert.True(t, e.IsHazard(pos))
	assert.False(t, e.IsPendingHazard(pos))
	assert.Equal(t, 1, live.Score)
	assert.Zero(t, dead.Score)
	assert.Empty(t, e.pending)
}

func TestSpawnHazardAvoidsOccupiedCells(t *testing.T) {
	e := newTestEngine(t, 3)
	place(t, e, Human(1), Position{X: 1, Y: 1}, Up)
	for x := 0; x < 3; x++ {
		for y := 0; y < 3; y++ {
			pos := Position{X: x, Y: y}
			if pos == (Position{X: 1, Y: 1}) || pos == (Position{X: 2, Y: 2}) {
				continue
			}
			if x == 0 {
				addPending(e, pos, 3)
			} else {
				addHazard(e, pos)
			}
		}
	}

	// One free cell left; the sampler may miss it within its retry budget,
	// so loop until it is taken.
	for i := 0; i < 50 && !e.IsPendingHazard(Position{X: 2, Y: 2}); i++ {
		e.SpawnHazard()
	}
	assert.True(t, e.IsPendingHazard(Position{X: 2, Y: 2}))

	// Grid full: the cycle is skipped.
	assert.False(t, e.SpawnHazard())
	assert.False(t, e.IsHazard(Position{X: 1, Y: 1}))
	assert.False(t, e.IsPendingHazard(Position{X: 1, Y: 1}))
}

func TestCheckTerminalSurvivorWins(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.Penalty = PenaltyInstant })
	place(t, e, Human(1), Position{X: 0, Y: 3}, Left)
	place(t, e, Human(2), Position{X: 9, Y: 3}, Right)
	survivor := place(t, e, Human(3), Position{X: 5, Y: 5}, Up)
	e.Start()

	assert.False(t, e.CheckTerminal().Terminal)

	e.Tick()

	out := e.CheckTerminal()
	require.True(t, out.Terminal)
	require.NotNil(t, out.Winner)
	assert.Equal(t, survivor.ID, *out.Winner)
	assert.False(t, out.Tie)
	assert.Equal(t, []ParticipantID{survivor.ID}, out.Alive)
}

func TestCheckTerminalSoloMatchEndsOnlyWhenEmpty(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.Penalty = PenaltyInstant })
	p := place(t, e, Human(1), Position{X: 1, Y: 5}, Left)
	e.Start()

	assert.False(t, e.CheckTerminal().Terminal, "a lone survivor does not end a solo match")

	e.Tick()
	assert.False(t, e.CheckTerminal().Terminal)
	e.Tick()
	require.False(t, p.Alive)

	out := e.CheckTerminal()
	assert.True(t, out.Terminal)
	assert.True(t, out.Tie)
}

func TestCheckTerminalHonoursMinParticipants(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) {
		c.Penalty = PenaltyInstant
		c.MinParticipants = 3
	})
	doomed := place(t, e, Human(1), Position{X: 0, Y: 3}, Left)
	survivor := place(t, e, Human(2), Position{X: 5, Y: 5}, Up)
	e.Start()

	e.Tick()
	require.False(t, doomed.Alive)
	require.True(t, survivor.Alive)
	assert.False(t, e.CheckTerminal().Terminal, "two starters are below the minimum")

	survivor.Alive = false
	out := e.CheckTerminal()
	assert.True(t, out.Terminal)
	assert.True(t, out.Tie)
	assert.Nil(t, out.Winner)

	def := newTestEngine(t, 10)
	assert.Equal(t, DefaultMinParticipants, def.Config().MinParticipants)
}

func TestCheckTerminalUsesInitialCount(t *testing.T) {
	e := newTestEngine(t, 10)
	place(t, e, Human(1), Position{X: 2, Y: 2}, Up)
	place(t, e, Human(2), Position{X: 6, Y: 6}, Up)
	e.Start()

	// Removing a participant after the start must not turn the match into a
	// solo match.
	e.Remove(Human(2))
	out := e.CheckTerminal()
	assert.True(t, out.Terminal)
	require.NotNil(t, out.Winner)
	assert.Equal(t, Human(1), *out.Winner)
}

func TestBotPanicIsIsolated(t *testing.T) {
	e := newTestEngine(t, 10)
	h := place(t, e, Human(1), Position{X: 2, Y: 2}, Right)
	b := place(t, e, Bot(0), Position{X: 6, Y: 6}, Up)
	e.Start()

	// A controller without a random source panics on its first decision.
	e.bots = &BotController{cfg: e.bots.cfg, countdown: make(map[int]int)}

	require.NotPanics(t, e.Tick)
	assert.Equal(t, Position{X: 3, Y: 2}, h.Pos)
	assert.Equal(t, Position{X: 6, Y: 5}, b.Pos, "bot keeps its heading")
}

func TestLivingCellsStayUnique(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		e := newTestEngine(t, 8, func(c *MatchConfig) {
			c.Seed = seed
			c.HitThreshold = 3
			c.HazardCountdown = 2
			c.Bots = BotConfig{}
		})
		for i := int64(1); i <= 5; i++ {
			e.Admit(Participant{ID: Human(i)})
		}
		for slot := 0; slot < 3; slot++ {
			e.Admit(Participant{ID: Bot(slot)})
		}
		e.Start()

		rng := rand.New(rand.NewSource(seed))
		for tick := 0; tick < 200; tick++ {
			for i := int64(1); i <= 5; i++ {
				if rng.Intn(4) == 0 {
					e.SetFacing(Human(i), Directions[rng.Intn(4)])
				}
			}
			if tick%5 == 0 {
				e.SpawnHazard()
				e.StepHazards()
			}
			e.Tick()

			cells := make(map[Position]ParticipantID)
			for _, id := range e.order {
				p := e.participants[id]
				if !p.Alive {
					continue
				}
				if other, dup := cells[p.Pos]; dup {
					require.Failf(t, "duplicate living cell",
						"seed %d tick %d: %s and %s share %+v\n%s", seed, e.TickNumber(),
						other, id, p.Pos, spew.Sdump(e.Snapshot()))
				}
				cells[p.Pos] = id
			}
			if e.CheckTerminal().Terminal {
				break
			}
		}
	}
}

func TestSnapshotWireShape(t *testing.T) {
	e := newTestEngine(t, 10)
	h := place(t, e, Human(12), Position{X: 3, Y: 4}, Left)
	h.Color = "#4ECDC4"
	h.DisplayName = "alice"
	place(t, e, Bot(1), Position{X: 6, Y: 6}, Down)
	addHazard(e, Position{X: 0, Y: 0})
	addPending(e, Position{X: 9, Y: 9}, 2)

	snap := e.Snapshot()
	assert.Equal(t, 2, snap.AliveCount)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "state", decoded["type"])
	assert.EqualValues(t, 10, decoded["gridSize"])

	players := decoded["players"].(map[string]any)
	require.Contains(t, players, "12")
	require.Contains(t, players, "bot_1")
	alice := players["12"].(map[string]any)
	assert.Equal(t, "LEFT", alice["direction"])
	assert.Equal(t, "alice", alice["username"])
	assert.Equal(t, "#4ECDC4", alice["playerColor"])
	assert.EqualValues(t, 3, alice["x"])

	pending := decoded["pendingHazards"].([]any)
	require.Len(t, pending, 1)
	assert.EqualValues(t, 2, pending[0].(map[string]any)["ticksLeft"])

	// Mutating the engine must not leak into an existing snapshot.
	h.Pos = Position{X: 1, Y: 1}
	assert.Equal(t, 3, snap.Players[Human(12)].X)
}

func TestReplayIsCapped(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) {
		c.ReplayFrames = 3
		c.HazardCountdown = 1
	})
	place(t, e, Human(1), Position{X: 2, Y: 2}, Right)
	place(t, e, Human(2), Position{X: 2, Y: 6}, Right)
	e.Start()

	addPending(e, Position{X: 8, Y: 8}, 1)
	e.StepHazards()
	for i := 0; i < 5; i++ {
		e.Tick()
	}

	r := e.Replay()
	assert.Equal(t, 10, r.GridSize)
	require.Len(t, r.Frames, 3)
	assert.True(t, r.Truncated)
	assert.Equal(t, 0, r.Frames[0].Tick)
	assert.Empty(t, r.Frames[0].Walls)
	assert.Equal(t, []Position{{X: 8, Y: 8}}, r.Frames[1].Walls)
	assert.Equal(t, 3, r.Frames[1].Players[0].X)
}

func TestReplayDisabled(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.ReplayFrames = 0 })
	place(t, e, Human(1), Position{X: 2, Y: 2}, Right)
	e.Start()
	e.Tick()
	assert.Empty(t, e.Replay().Frames)
}

// TestHeadToHeadScenario plays a two player MEDIUM match on a 10x10 grid in
// which the first player runs into the second player's cell on tick 5.
func TestHeadToHeadScenario(t *testing.T) {
	e := newTestEngine(t, 10, func(c *MatchConfig) { c.Speed = SpeedMedium })
	a := place(t, e, Human(1), Position{X: 1, Y: 5}, Right)
	b := place(t, e, Human(2), Position{X: 6, Y: 1}, Down)
	e.Start()

	for tick := 1; tick <= 4; tick++ {
		e.Tick()
		require.False(t, e.CheckTerminal().Terminal, "tick %d", tick)
	}
	require.Equal(t, Position{X: 5, Y: 5}, a.Pos)
	require.Equal(t, Position{X: 6, Y: 5}, b.Pos)

	e.Tick()

	assert.True(t, a.Alive)
	assert.False(t, b.Alive)
	assert.Equal(t, 5, b.EliminatedAtTick)
	assert.Zero(t, a.Score, "B never scored")

	out := e.CheckTerminal()
	require.True(t, out.Terminal)
	require.NotNil(t, out.Winner)
	assert.Equal(t, a.ID, *out.Winner)

	payouts := Payouts(out, []ParticipantID{a.ID, b.ID}, 20)
	assert.Equal(t, []Payout{{ID: a.ID, Amount: 20, Placement: 1}}, payouts)

	standings := e.Standings()
	require.Len(t, standings, 2)
	assert.Equal(t, 5, standings[0].SurvivalTicks)
	assert.Equal(t, 1, standings[0].Eliminations)
	assert.Equal(t, 5, standings[1].SurvivalTicks)
}
