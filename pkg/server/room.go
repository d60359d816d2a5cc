package server

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/snakearena/pkg/arena"
	"github.com/vctt94/snakearena/pkg/statemachine"
)

// RoomState is the lifecycle state of a live match.
type RoomState string

const (
	RoomPendingPlayers RoomState = "PENDING_PLAYERS"
	RoomCountdown      RoomState = "COUNTDOWN"
	RoomRunning        RoomState = "RUNNING"
	RoomSettled        RoomState = "SETTLED"
	RoomCancelled      RoomState = "CANCELLED"
)

var roomStates = statemachine.Table[RoomState]{
	RoomPendingPlayers: {RoomCountdown, RoomCancelled},
	// An abandoned countdown cancels the room; the persisted match stays
	// STARTING so the next connection opens a fresh room.
	RoomCountdown: {RoomRunning, RoomCancelled},
	RoomRunning:   {RoomSettled},
}

// ErrRoomClosed is returned by room operations after the match loop ended.
var ErrRoomClosed = errors.New("room closed")

// playerColors is assigned by join order.
var playerColors = []string{
	"#5b7bff", "#10b981", "#f59e0b", "#ec4899", "#8b5cf6",
	"#06b6d4", "#ef4444", "#84cc16", "#f97316", "#14b8a6",
}

// PlayerColor returns the color for the participant seated at index idx.
func PlayerColor(idx int) string {
	if idx < 0 {
		idx = 0
	}
	return playerColors[idx%len(playerColors)]
}

// RoomResult is delivered once when a room's match ends.
type RoomResult struct {
	MatchID   int64
	Outcome   arena.Outcome
	Standings []arena.Standing
	Replay    *arena.Replay
	// Aborted is set when the match loop failed; the outcome is then a tie.
	Aborted bool
}

// subscriberQueue bounds the outbound backlog per connection.
const subscriberQueue = 256

// Room runs one match. The engine is owned by the room's loop goroutine;
// every other caller reaches it through the inbox.
type Room struct {
	matchID int64
	log     slog.Logger
	sm      *statemachine.StateMachine[RoomState]
	events  EventPublisher

	engine *arena.Engine

	inbox     chan func(*arena.Engine)
	startCh   chan struct{}
	startOnce sync.Once
	result    chan RoomResult
	done      chan struct{}
	cancel    context.CancelFunc

	// alive tracks who was alive after the previous tick, for elimination
	// events. Loop goroutine only.
	alive map[arena.ParticipantID]bool

	subsMu sync.RWMutex
	subs   map[string]chan []byte
	// closed rooms accept no subscribers; the registry replaces them.
	closed bool
}

// NewRoom builds a room around a fresh engine. The loop is not running
// until the registry adopts the room.
func NewRoom(cfg arena.MatchConfig, log slog.Logger, events EventPublisher) (*Room, error) {
	if log == nil {
		log = slog.Disabled
	}
	if cfg.Log == nil {
		cfg.Log = log
	}
	engine, err := arena.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return &Room{
		matchID: cfg.MatchID,
		log:     log,
		sm:      statemachine.NewStateMachine(RoomPendingPlayers, roomStates),
		events:  events,
		engine:  engine,
		inbox:   make(chan func(*arena.Engine), 64),
		startCh: make(chan struct{}),
		result:  make(chan RoomResult, 1),
		done:    make(chan struct{}),
		subs:    make(map[string]chan []byte),
	}, nil
}

// MatchID returns the id of the match the room plays.
func (r *Room) MatchID() int64 { return r.matchID }

// State returns the lifecycle state.
func (r *Room) State() RoomState { return r.sm.Current() }

func (r *Room) transition(from, to RoomState) bool {
	if !r.sm.TransitionFrom(from, to) {
		return false
	}
	r.log.Debugf("Match %d: room %s -> %s", r.matchID, from, to)
	return true
}

// seed admits p before the loop runs. Only valid on an unpublished room.
func (r *Room) seed(p arena.Participant) bool {
	return r.engine.Admit(p)
}

// Result yields the match result once the match ends.
func (r *Room) Result() <-chan RoomResult { return r.result }

// Done is closed when the loop goroutine exits.
func (r *Room) Done() <-chan struct{} { return r.done }

// Start begins ticking. Extra calls are ignored.
func (r *Room) Start() {
	r.startOnce.Do(func() { close(r.startCh) })
}

// Stop ends the loop without producing a result.
func (r *Room) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Room) submit(ctx context.Context, fn func(*arena.Engine)) error {
	select {
	case r.inbox <- fn:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop goroutine and waits for it.
func (r *Room) call(ctx context.Context, fn func(*arena.Engine)) error {
	reply := make(chan struct{})
	err := r.submit(ctx, func(e *arena.Engine) {
		defer close(reply)
		fn(e)
	})
	if err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Admit adds a participant. It reports false if the id is already present.
func (r *Room) Admit(ctx context.Context, p arena.Participant) (bool, error) {
	var ok bool
	err := r.call(ctx, func(e *arena.Engine) { ok = e.Admit(p) })
	return ok, err
}

// SetFacing queues a direction change for a human participant.
func (r *Room) SetFacing(ctx context.Context, id arena.ParticipantID, dir arena.Direction) error {
	return r.submit(ctx, func(e *arena.Engine) { e.SetFacing(id, dir) })
}

// Remove drops a participant that has not started playing.
func (r *Room) Remove(ctx context.Context, id arena.ParticipantID) (bool, error) {
	var ok bool
	err := r.call(ctx, func(e *arena.Engine) { ok = e.Remove(id) })
	return ok, err
}

// Snapshot returns the current state view.
func (r *Room) Snapshot(ctx context.Context) (arena.Snapshot, error) {
	var s arena.Snapshot
	err := r.call(ctx, func(e *arena.Engine) { s = e.Snapshot() })
	return s, err
}

// Subscribe registers an outbound queue under a session id. It reports
// false once the room is closed.
func (r *Room) Subscribe(id string, ch chan []byte) bool {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if r.closed {
		return false
	}
	r.subs[id] = ch
	return true
}

// Unsubscribe removes a session's queue.
func (r *Room) Unsubscribe(id string) {
	r.subsMu.Lock()
	delete(r.subs, id)
	r.subsMu.Unlock()
}

// Closed reports whether the room stopped accepting sessions.
func (r *Room) Closed() bool {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	return r.closed
}

// cancelFrom moves the room from state from to CANCELLED and closes it.
// With idle set it refuses while any session is attached, so a session
// cannot slip into a room that is being torn down.
func (r *Room) cancelFrom(from RoomState, idle bool) bool {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if idle && len(r.subs) > 0 {
		return false
	}
	if !r.transition(from, RoomCancelled) {
		return false
	}
	r.closed = true
	return true
}

// Subscribers returns the number of connected sessions.
func (r *Room) Subscribers() int {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	return len(r.subs)
}

// Broadcast marshals v once and queues it to every session. Sessions whose
// queue is full miss the message.
func (r *Room) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		r.log.Errorf("Match %d: failed to marshal broadcast: %v", r.matchID, err)
		return
	}
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()
	for id, ch := range r.subs {
		select {
		case ch <- b:
		default:
			r.log.Warnf("Match %d: dropping message for slow session %s", r.matchID, id)
		}
	}
}

// run is the room loop. It exits when the match is terminal, the loop
// fails or ctx is cancelled.
func (r *Room) run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		r.subsMu.Lock()
		r.closed = true
		r.subsMu.Unlock()
	}()
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("Match %d: room loop panicked: %v\n%s", r.matchID, p, debug.Stack())
			r.finish(r.abortedResult())
		}
	}()

	var tickC, hazardC, spawnC <-chan time.Time
	var tickers []*time.Ticker
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()
	every := func(d time.Duration) <-chan time.Time {
		t := time.NewTicker(d)
		tickers = append(tickers, t)
		return t.C
	}

	startCh := r.startCh
	for {
		select {
		case <-ctx.Done():
			return

		case fn := <-r.inbox:
			fn(r.engine)

		case <-startCh:
			startCh = nil
			r.engine.Start()
			cfg := r.engine.Config()
			tickC = every(cfg.Speed.TickInterval())
			hazardC = every(time.Second)
			if cfg.HazardSpawnInterval > 0 {
				spawnC = every(cfg.HazardSpawnInterval)
			}
			r.alive = make(map[arena.ParticipantID]bool)
			for _, s := range r.engine.Standings() {
				r.alive[s.ID] = s.Alive
			}
			r.log.Infof("Match %d: started with %d participants", r.matchID,
				r.engine.ParticipantCount())

		case <-tickC:
			if r.step() {
				return
			}

		case <-hazardC:
			if n := r.engine.StepHazards(); n > 0 {
				r.log.Tracef("Match %d: %d hazards solidified", r.matchID, n)
			}

		case <-spawnC:
			r.engine.SpawnHazard()
		}
	}
}

// step advances one tick and reports whether the match ended.
func (r *Room) step() bool {
	r.engine.Tick()
	r.Broadcast(r.engine.Snapshot())
	r.publishEliminations()

	out := r.engine.CheckTerminal()
	if !out.Terminal {
		return false
	}
	r.finish(RoomResult{
		MatchID:   r.matchID,
		Outcome:   out,
		Standings: r.engine.Standings(),
		Replay:    r.engine.Replay(),
	})
	return true
}

func (r *Room) publishEliminations() {
	if r.events == nil {
		return
	}
	for _, s := range r.engine.Standings() {
		if s.Alive || !r.alive[s.ID] {
			continue
		}
		r.alive[s.ID] = false
		st := s
		r.events.PublishEvent(&MatchEvent{
			Type:      MatchEventEliminated,
			MatchID:   r.matchID,
			Tick:      r.engine.TickNumber(),
			Standing:  &st,
			Timestamp: time.Now(),
		})
	}
}

func (r *Room) finish(res RoomResult) {
	select {
	case r.result <- res:
	default:
	}
}

// abortedResult settles a failed match as a tie with whatever standings
// can still be read.
func (r *Room) abortedResult() (res RoomResult) {
	res = RoomResult{
		MatchID: r.matchID,
		Outcome: arena.Outcome{Terminal: true, Tie: true},
		Aborted: true,
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("Match %d: standings unavailable after abort: %v", r.matchID, p)
		}
	}()
	res.Standings = r.engine.Standings()
	res.Replay = r.engine.Replay()
	return res
}
