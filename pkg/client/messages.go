package client

import (
	"encoding/json"
	"fmt"

	"github.com/vctt94/snakearena/pkg/arena"
)

// Account mirrors the server's account view.
type Account struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Coins        int64  `json:"coins"`
	TotalWins    int    `json:"totalWins"`
	TotalMatches int    `json:"totalMatches"`
}

// MatchType is one lobby catalog entry.
type MatchType struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	EntryFee          int64  `json:"entryFee"`
	GridSize          int    `json:"gridSize"`
	Speed             string `json:"speed"`
	PlayersRequired   int    `json:"playersRequired"`
	MaxPlayers        int    `json:"maxPlayers"`
	WallSpawnInterval int    `json:"wallSpawnInterval"`
	HasBot            bool   `json:"hasBot"`
	Penalty           string `json:"penalty"`
}

type JoinResult struct {
	MatchID         int64 `json:"matchId"`
	CurrentPlayers  int   `json:"currentPlayers"`
	PlayersRequired int   `json:"playersRequired"`
	Balance         int64 `json:"balance"`
	AlreadyJoined   bool  `json:"alreadyJoined"`
	Starting        bool  `json:"starting"`
}

type LeaveResult struct {
	Refund    int64 `json:"refund"`
	Balance   int64 `json:"balance"`
	Cancelled bool  `json:"cancelled"`
}

type ForceStartResult struct {
	Missing int   `json:"missing"`
	Cost    int64 `json:"cost"`
	Balance int64 `json:"balance"`
}

// MatchInfo is a match and its roster.
type MatchInfo struct {
	ID              int64  `json:"id"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	GridSize        int    `json:"gridSize"`
	Speed           string `json:"speed"`
	CurrentPlayers  int    `json:"currentPlayers"`
	PlayersRequired int    `json:"playersRequired"`
	TotalPot        int64  `json:"totalPot"`
	WinnerID        string `json:"winnerId"`
	IsTie           bool   `json:"isTie"`
	Participants    []struct {
		Username   string `json:"username"`
		IsBot      bool   `json:"isBot"`
		Score      int    `json:"score"`
		Hits       int    `json:"hits"`
		Placement  int    `json:"placement"`
		CoinReward int64  `json:"coinReward"`
	} `json:"participants"`
}

// Match stream messages delivered on UpdatesCh.
type (
	StateMsg arena.Snapshot

	CountdownMsg struct {
		Seconds int `json:"seconds"`
	}

	PlayerColorMsg struct {
		PlayerID arena.ParticipantID `json:"playerId"`
		Color    string              `json:"playerColor"`
	}

	GameOverMsg struct {
		MatchID        int64                       `json:"matchId"`
		WinnerID       *arena.ParticipantID        `json:"winnerId"`
		WinnerUsername *string                     `json:"winnerUsername"`
		IsTie          bool                        `json:"isTie"`
		Aborted        bool                        `json:"aborted"`
		AlivePlayers   []arena.ParticipantID       `json:"alivePlayers"`
		FinalScores    map[arena.ParticipantID]int `json:"finalScores"`
		FinalHits      map[arena.ParticipantID]int `json:"finalHits"`
		ReplayData     *arena.Replay               `json:"replayData"`
	}

	ServerErrorMsg struct {
		Message string `json:"message"`
	}

	DisconnectedMsg struct {
		Err error
	}
)

// DecodeMessage turns one stream frame into its message type. Unknown
// types decode to nil.
func DecodeMessage(b []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, err
	}
	var (
		msg any
		err error
	)
	switch head.Type {
	case "state":
		var m StateMsg
		err = json.Unmarshal(b, &m)
		msg = m
	case "countdown":
		var m CountdownMsg
		err = json.Unmarshal(b, &m)
		msg = m
	case "playerColor":
		var m PlayerColorMsg
		err = json.Unmarshal(b, &m)
		msg = m
	case "gameOver":
		var m GameOverMsg
		err = json.Unmarshal(b, &m)
		msg = m
	case "error":
		var m ServerErrorMsg
		err = json.Unmarshal(b, &m)
		msg = m
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return msg, nil
}
