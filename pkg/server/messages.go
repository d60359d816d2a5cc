package server

import "github.com/vctt94/snakearena/pkg/arena"

// Outbound message types. The tick broadcast is arena.Snapshot ("state").
const (
	msgPlayerColor = "playerColor"
	msgCountdown   = "countdown"
	msgGameOver    = "gameOver"
	msgError       = "error"

	actionChangeDirection = "changeDirection"
)

// clientMessage is an inbound websocket frame.
type clientMessage struct {
	Action    string `json:"action"`
	Direction string `json:"direction"`
}

type playerColorMessage struct {
	Type     string              `json:"type"`
	PlayerID arena.ParticipantID `json:"playerId"`
	Color    string              `json:"playerColor"`
}

type countdownMessage struct {
	Type    string `json:"type"`
	Seconds int    `json:"seconds"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GameOver is broadcast once when a match ends.
type GameOver struct {
	Type           string                      `json:"type"`
	MatchID        int64                       `json:"matchId"`
	WinnerID       *arena.ParticipantID        `json:"winnerId"`
	WinnerUsername *string                     `json:"winnerUsername"`
	IsTie          bool                        `json:"isTie"`
	Aborted        bool                        `json:"aborted,omitempty"`
	AlivePlayers   []arena.ParticipantID       `json:"alivePlayers"`
	FinalScores    map[arena.ParticipantID]int `json:"finalScores"`
	FinalHits      map[arena.ParticipantID]int `json:"finalHits"`
	ReplayData     *arena.Replay               `json:"replayData,omitempty"`
}

// NewGameOver builds the end-of-match message from a room result.
func NewGameOver(res RoomResult) *GameOver {
	g := &GameOver{
		Type:         msgGameOver,
		MatchID:      res.MatchID,
		WinnerID:     res.Outcome.Winner,
		IsTie:        res.Outcome.Tie,
		Aborted:      res.Aborted,
		AlivePlayers: append([]arena.ParticipantID{}, res.Outcome.Alive...),
		FinalScores:  make(map[arena.ParticipantID]int, len(res.Standings)),
		FinalHits:    make(map[arena.ParticipantID]int, len(res.Standings)),
		ReplayData:   res.Replay,
	}
	for _, s := range res.Standings {
		g.FinalScores[s.ID] = s.Score
		g.FinalHits[s.ID] = s.HitCount
		if g.WinnerID != nil && *g.WinnerID == s.ID {
			name := s.DisplayName
			g.WinnerUsername = &name
		}
	}
	return g
}
