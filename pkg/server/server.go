package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/vctt94/snakearena/pkg/arena"
	"github.com/vctt94/snakearena/pkg/logging"
)

// Config tunes the match server.
type Config struct {
	// Countdown is the pre-match countdown, rounded down to seconds.
	Countdown time.Duration
	// ReplayFrames caps recorded replay frames per match. Zero disables
	// replays.
	ReplayFrames int
	// BotAvoidancePercent is the chance bots notice a hazard ahead.
	BotAvoidancePercent int

	EventQueueSize int
	EventWorkers   int
}

func (c Config) withDefaults() Config {
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = 1000
	}
	if c.EventWorkers <= 0 {
		c.EventWorkers = 3
	}
	return c
}

// Server serves the lobby API and the match websockets.
type Server struct {
	log        slog.Logger
	logBackend *logging.LogBackend
	db         Database
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc

	registry       *Registry
	orchestrator   *Orchestrator
	settler        *Settler
	eventProcessor *EventProcessor

	upgrader websocket.Upgrader
}

// NewServer creates a new arena server
func NewServer(db Database, logBackend *logging.LogBackend, cfg Config) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		log:        logBackend.Logger("SRVR"),
		logBackend: logBackend,
		db:         db,
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	s.eventProcessor = NewEventProcessor(db, logBackend.Logger("EVNT"), cfg.EventQueueSize,
		cfg.EventWorkers)
	s.eventProcessor.Start()

	s.registry = NewRegistry(ctx, logBackend.Logger("RGST"))
	s.settler = NewSettler(db, logBackend.Logger("STLM"))
	s.orchestrator = NewOrchestrator(s.registry, db, s.settler, s.eventProcessor, cfg.Countdown,
		logBackend.Logger("ORCH"))

	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/matches/{matchID}", s.handleMatchSocket)
	mux.HandleFunc("GET /api/matchtypes", s.handleMatchTypes)
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("POST /api/matches/join", s.handleJoin)
	mux.HandleFunc("GET /api/matches/{matchID}", s.handleMatch)
	mux.HandleFunc("POST /api/matches/{matchID}/leave", s.handleLeave)
	mux.HandleFunc("POST /api/matches/{matchID}/forcestart", s.handleForceStart)
	return mux
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	s.cancel()
	s.registry.StopAll()
	s.orchestrator.Wait()
	s.eventProcessor.Stop()
}

// RunSettlementRetry retries parked settlements until ctx ends.
func (s *Server) RunSettlementRetry(ctx context.Context, interval time.Duration) error {
	return s.settler.RunRetryLoop(ctx, interval)
}

// matchConfig derives the engine configuration of a persisted match. An
// unknown speed tier plays at MEDIUM.
func (s *Server) matchConfig(m *Match) arena.MatchConfig {
	speed, err := arena.ParseSpeed(m.Speed)
	if err != nil {
		s.log.Warnf("Match %d: %v, playing at %s", m.ID, err, arena.SpeedMedium)
		speed = arena.SpeedMedium
	}
	avoidance := s.cfg.BotAvoidancePercent
	if avoidance == 0 {
		avoidance = -1
	}
	return arena.MatchConfig{
		MatchID:             m.ID,
		GridSize:            m.GridSize,
		Speed:               speed,
		HazardSpawnInterval: time.Duration(m.Type.WallSpawnInterval) * time.Second,
		HitThreshold:        m.Type.HitThreshold,
		Penalty:             arena.PenaltyModel(m.Type.Penalty),
		ReplayFrames:        s.cfg.ReplayFrames,
		Bots:                arena.BotConfig{AvoidancePercent: avoidance},
		Log:                 s.logBackend.Logger("ARNA"),
	}
}

// roomFor returns the live room of m, creating it with the bot seats of
// roster when none exists.
func (s *Server) roomFor(m *Match, roster []Participant) (*Room, error) {
	if room, ok := s.registry.Get(m.ID); ok {
		return room, nil
	}
	room, err := NewRoom(s.matchConfig(m), s.logBackend.Logger("ROOM"), s.eventProcessor)
	if err != nil {
		return nil, fmt.Errorf("match %d: %w", m.ID, err)
	}
	for i, p := range roster {
		if !p.IsBot {
			continue
		}
		room.seed(arena.Participant{
			ID:          arena.Bot(p.BotSlot),
			DisplayName: p.Username,
			Color:       PlayerColor(i),
		})
	}
	room, _ = s.registry.GetOrCreate(room)
	return room, nil
}

// closeIdleLobbyRoom cancels and removes a room still waiting for players
// once its last session has gone. The persisted match is untouched, so a
// later connection opens a fresh room.
func (s *Server) closeIdleLobbyRoom(room *Room) {
	if room.cancelFrom(RoomPendingPlayers, true) {
		s.log.Debugf("Match %d: closing idle lobby room", room.MatchID())
		s.registry.Remove(room)
	}
}

// leaveRoom applies a lobby leave to the match's room. A cancelled match
// takes its room down even while sessions are attached; they are closed
// when the room stops.
func (s *Server) leaveRoom(ctx context.Context, matchID, accountID int64, cancelled bool) {
	room, ok := s.registry.Get(matchID)
	if !ok {
		return
	}
	if cancelled {
		if room.cancelFrom(RoomPendingPlayers, false) {
			s.log.Infof("Match %d: cancelled by the lobby", matchID)
			s.eventProcessor.PublishEvent(&MatchEvent{Type: MatchEventCancelled,
				MatchID: matchID, Timestamp: time.Now()})
			s.registry.Remove(room)
		}
		return
	}
	if room.State() == RoomPendingPlayers {
		if _, err := room.Remove(ctx, arena.Human(accountID)); err != nil &&
			!errors.Is(err, ErrRoomClosed) {
			s.log.Warnf("Match %d: failed to drop %d from room: %v", matchID, accountID, err)
		}
	}
}

// launchIfLive starts the countdown of a match whose room already has
// connections.
func (s *Server) launchIfLive(matchID int64) {
	if room, ok := s.registry.Get(matchID); ok && room.Subscribers() > 0 {
		s.orchestrator.Launch(room)
	}
}

// RecoverInterrupted settles matches left IN_PROGRESS by a previous run as
// aborted ties. It must run before the server accepts connections.
func (s *Server) RecoverInterrupted(ctx context.Context) error {
	matches, err := s.db.MatchesByStatus(ctx, StatusInProgress)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if _, live := s.registry.Get(m.ID); live {
			continue
		}
		roster, err := s.db.Participants(ctx, m.ID)
		if err != nil {
			return err
		}
		res := RoomResult{
			MatchID: m.ID,
			Outcome: arena.Outcome{Terminal: true, Tie: true},
			Aborted: true,
		}
		for _, p := range roster {
			id := arena.Human(p.AccountID)
			if p.IsBot {
				id = arena.Bot(p.BotSlot)
			}
			res.Standings = append(res.Standings, arena.Standing{
				ID:               id,
				DisplayName:      p.Username,
				Score:            p.Score,
				HitCount:         p.Hits,
				Eliminations:     p.Eliminations,
				SurvivalTicks:    p.SurvivalTicks,
				EliminatedAtTick: p.EliminatedAtTick,
			})
		}
		s.log.Warnf("Match %d was interrupted, settling as a tie", m.ID)
		if err := s.settler.Settle(ctx, res); err != nil {
			s.log.Errorf("Match %d: %v", m.ID, err)
		}
	}
	return nil
}
