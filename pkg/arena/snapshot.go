package arena

// PlayerState is the broadcast view of one participant.
type PlayerState struct {
	X           int       `json:"x"`
	Y           int       `json:"y"`
	Direction   Direction `json:"direction"`
	Alive       bool      `json:"alive"`
	Score       int       `json:"score"`
	HitCount    int       `json:"hitCount"`
	Username    string    `json:"username"`
	PlayerColor string    `json:"playerColor"`
	IsBot       bool      `json:"isBot"`
}

// PendingView is the broadcast view of a pending hazard.
type PendingView struct {
	X         int `json:"x"`
	Y         int `json:"y"`
	TicksLeft int `json:"ticksLeft"`
}

// Snapshot is a read-only projection of the engine state. It marshals to
// the "state" wire message.
type Snapshot struct {
	Type           string                        `json:"type"`
	Tick           int                           `json:"tick"`
	GridSize       int                           `json:"gridSize"`
	Players        map[ParticipantID]PlayerState `json:"players"`
	Walls          []Position                    `json:"walls"`
	PendingHazards []PendingView                 `json:"pendingHazards"`
	AliveCount     int                           `json:"aliveCount"`
}

// Snapshot copies the current state. The result shares no memory with the
// engine.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Type:           "state",
		Tick:           e.tick,
		GridSize:       e.cfg.GridSize,
		Players:        make(map[ParticipantID]PlayerState, len(e.participants)),
		Walls:          make([]Position, len(e.hazardList)),
		PendingHazards: make([]PendingView, 0, len(e.pending)),
	}
	copy(s.Walls, e.hazardList)
	for _, h := range e.pending {
		s.PendingHazards = append(s.PendingHazards, PendingView{
			X: h.Pos.X, Y: h.Pos.Y, TicksLeft: h.TicksRemaining,
		})
	}
	for id, p := range e.participants {
		s.Players[id] = PlayerState{
			X:           p.Pos.X,
			Y:           p.Pos.Y,
			Direction:   p.Facing,
			Alive:       p.Alive,
			Score:       p.Score,
			HitCount:    p.HitCount,
			Username:    p.DisplayName,
			PlayerColor: p.Color,
			IsBot:       p.IsBot(),
		}
		if p.Alive {
			s.AliveCount++
		}
	}
	return s
}
