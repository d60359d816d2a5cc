package arena

import (
	"fmt"
	"strconv"
	"strings"
)

const botIDPrefix = "bot_"

// ParticipantID identifies a match participant. Humans are keyed by their
// external account id and bots by a per-match slot number, so the two can
// never collide.
type ParticipantID struct {
	bot bool
	num int64
}

// Human returns the id of the human participant owning accountID.
func Human(accountID int64) ParticipantID {
	return ParticipantID{num: accountID}
}

// Bot returns the id of the bot occupying slot.
func Bot(slot int) ParticipantID {
	return ParticipantID{bot: true, num: int64(slot)}
}

// IsBot reports whether the id belongs to a bot.
func (id ParticipantID) IsBot() bool { return id.bot }

// AccountID returns the account id of a human participant. It reports false
// for bots.
func (id ParticipantID) AccountID() (int64, bool) {
	if id.bot {
		return 0, false
	}
	return id.num, true
}

// Slot returns the bot slot. It reports false for humans.
func (id ParticipantID) Slot() (int, bool) {
	if !id.bot {
		return 0, false
	}
	return int(id.num), true
}

// Less orders humans by account id first, then bots by slot.
func (id ParticipantID) Less(other ParticipantID) bool {
	if id.bot != other.bot {
		return !id.bot
	}
	return id.num < other.num
}

func (id ParticipantID) String() string {
	if id.bot {
		return botIDPrefix + strconv.FormatInt(id.num, 10)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalText encodes the id in its wire form ("42" or "bot_1").
func (id ParticipantID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the wire form produced by MarshalText.
func (id *ParticipantID) UnmarshalText(b []byte) error {
	parsed, err := ParseParticipantID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseParticipantID parses "42" or "bot_1".
func ParseParticipantID(s string) (ParticipantID, error) {
	if rest, ok := strings.CutPrefix(s, botIDPrefix); ok {
		slot, err := strconv.Atoi(rest)
		if err != nil || slot < 0 {
			return ParticipantID{}, fmt.Errorf("invalid bot id %q", s)
		}
		return Bot(slot), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ParticipantID{}, fmt.Errorf("invalid participant id %q", s)
	}
	return Human(n), nil
}

// Participant is a human or bot occupying one grid cell.
type Participant struct {
	ID          ParticipantID
	DisplayName string
	Color       string

	Pos    Position
	Facing Direction
	Alive  bool

	Score    int
	HitCount int

	// Eliminations counts participants this one removed by collision.
	Eliminations int
	// EliminatedAtTick is the tick on which Alive became false, or -1.
	EliminatedAtTick int
}

// IsBot reports whether the participant is controlled by the bot AI.
func (p *Participant) IsBot() bool { return p.ID.IsBot() }

// SurvivalTicks returns how many ticks the participant stayed alive, given
// the engine's current tick.
func (p *Participant) SurvivalTicks(currentTick int) int {
	if p.EliminatedAtTick >= 0 {
		return p.EliminatedAtTick
	}
	return currentTick
}
