package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/snakearena/pkg/arena"
)

func newTestDatabase(t *testing.T) Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "arena.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// duel registers a two seat match type on an EXTREME 5x5 grid where any
// hazard hit is fatal, so matches end within a few ticks.
func duel(t *testing.T, db Database, hasBot bool) int64 {
	t.Helper()
	id, err := db.UpsertMatchType(context.Background(), MatchType{
		Name:            "Duel",
		EntryFee:        10,
		GridSize:        5,
		Speed:           string(arena.SpeedExtreme),
		PlayersRequired: 2,
		MaxPlayers:      2,
		HasBot:          hasBot,
		Penalty:         string(arena.PenaltyInstant),
		Active:          true,
	})
	require.NoError(t, err)
	return id
}

// seatedDuel creates two funded accounts and seats both in a STARTING duel.
func seatedDuel(t *testing.T, db Database) (matchID int64, a, b *Account) {
	t.Helper()
	ctx := context.Background()
	mt := duel(t, db, false)
	a, err := db.CreateAccount(ctx, "alice", 50)
	require.NoError(t, err)
	b, err = db.CreateAccount(ctx, "bob", 50)
	require.NoError(t, err)
	ja, err := db.Join(ctx, a.ID, mt)
	require.NoError(t, err)
	jb, err := db.Join(ctx, b.ID, mt)
	require.NoError(t, err)
	require.Equal(t, ja.MatchID, jb.MatchID)
	require.True(t, jb.Starting)
	return ja.MatchID, a, b
}

func newTestServer(t *testing.T, db Database, countdown time.Duration) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(db, nil, Config{Countdown: countdown, ReplayFrames: 100, BotAvoidancePercent: 100})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

// eventRecorder is a synchronous EventPublisher.
type eventRecorder struct {
	mu     sync.Mutex
	events []*MatchEvent
}

func (r *eventRecorder) PublishEvent(ev *MatchEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(typ MatchEventType) []*MatchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*MatchEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRecoverInterruptedSettlesAsTie(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	matchID, a, b := seatedDuel(t, db)
	require.NoError(t, db.SetStatus(ctx, matchID, StatusInProgress))

	s, _ := newTestServer(t, db, time.Second)
	require.NoError(t, s.RecoverInterrupted(ctx))

	m, err := db.Match(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)
	assert.True(t, m.IsTie)
	for _, id := range []int64{a.ID, b.ID} {
		acct, err := db.Account(ctx, id)
		require.NoError(t, err)
		assert.EqualValues(t, 50, acct.Coins, "the pot goes back to the players")
	}

	// Nothing left to recover.
	require.NoError(t, s.RecoverInterrupted(ctx))
}

func TestMatchConfigFallsBackToMediumSpeed(t *testing.T) {
	s, _ := newTestServer(t, newTestDatabase(t), time.Second)

	cfg := s.matchConfig(&Match{ID: 3, GridSize: 10, Speed: "WARP"})
	assert.Equal(t, arena.SpeedMedium, cfg.Speed)

	cfg = s.matchConfig(&Match{ID: 4, GridSize: 10, Speed: "fast"})
	assert.Equal(t, arena.SpeedFast, cfg.Speed)

	room, err := s.roomFor(&Match{ID: 5, GridSize: 10, Speed: "WARP"}, nil)
	require.NoError(t, err)
	assert.Equal(t, arena.SpeedMedium, room.engine.Config().Speed)
}
