package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"
)

// Orchestrator drives a room from countdown to settlement.
type Orchestrator struct {
	log       slog.Logger
	registry  *Registry
	store     MatchStore
	settler   *Settler
	events    EventPublisher
	countdown time.Duration

	wg sync.WaitGroup
}

// NewOrchestrator wires the lifecycle driver. events may be nil.
func NewOrchestrator(registry *Registry, store MatchStore, settler *Settler, events EventPublisher,
	countdown time.Duration, log slog.Logger) *Orchestrator {

	if log == nil {
		log = slog.Disabled
	}
	return &Orchestrator{
		log:       log,
		registry:  registry,
		store:     store,
		settler:   settler,
		events:    events,
		countdown: countdown,
	}
}

// Launch starts the countdown for room. It reports false when a countdown
// already runs or the room is past its lobby phase.
func (o *Orchestrator) Launch(room *Room) bool {
	ctx, ok := o.registry.beginCountdown(room.MatchID())
	if !ok {
		return false
	}
	if !room.transition(RoomPendingPlayers, RoomCountdown) {
		o.registry.endCountdown(room.MatchID())
		return false
	}
	o.wg.Add(1)
	go o.runMatch(ctx, room)
	return true
}

// Wait blocks until every launched match finished or was stopped.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) publish(ev *MatchEvent) {
	if o.events != nil {
		ev.Timestamp = time.Now()
		o.events.PublishEvent(ev)
	}
}

// runMatch owns room from countdown to removal. ctx is the countdown's
// context and ends with it.
func (o *Orchestrator) runMatch(ctx context.Context, room *Room) {
	defer o.wg.Done()
	id := room.MatchID()

	for !o.runCountdown(ctx, room) {
		if ctx.Err() != nil {
			room.cancelFrom(RoomCountdown, false)
		} else if !room.cancelFrom(RoomCountdown, true) {
			// A session attached after the last check; count down again.
			o.log.Debugf("Match %d: session arrived as the countdown lapsed", id)
			continue
		}
		o.registry.endCountdown(id)
		o.log.Infof("Match %d: countdown abandoned", id)
		o.publish(&MatchEvent{Type: MatchEventCancelled, MatchID: id})
		o.registry.Remove(room)
		return
	}
	o.registry.endCountdown(id)
	ctx = o.registry.ctx

	if err := o.store.SetStatus(ctx, id, StatusInProgress); err != nil {
		o.log.Errorf("Match %d: failed to mark in progress: %v", id, err)
	}
	if !room.transition(RoomCountdown, RoomRunning) {
		o.log.Errorf("Match %d: room left countdown unexpectedly (%s)", id, room.State())
		return
	}
	room.Start()
	o.publish(&MatchEvent{Type: MatchEventStarted, MatchID: id})

	var res RoomResult
	select {
	case res = <-room.Result():
	case <-room.Done():
		select {
		case res = <-room.Result():
		default:
			o.log.Warnf("Match %d: room stopped without a result", id)
			return
		}
	}

	// Settlement must finish even while the server shuts down.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := o.settler.Settle(sctx, res); err != nil && !errors.Is(err, ErrAlreadySettled) {
		o.log.Errorf("Match %d: settlement deferred: %v", id, err)
	}

	room.Broadcast(NewGameOver(res))
	room.transition(RoomRunning, RoomSettled)
	o.publish(&MatchEvent{Type: MatchEventEnded, MatchID: id, Result: &res})
	o.registry.Remove(room)
}

// runCountdown broadcasts the remaining seconds once per second. It
// reports false when every connection left or ctx ended first.
func (o *Orchestrator) runCountdown(ctx context.Context, room *Room) bool {
	seconds := int(o.countdown / time.Second)
	if seconds <= 0 {
		return room.Subscribers() > 0
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for left := seconds; left > 0; left-- {
		if room.Subscribers() == 0 {
			return false
		}
		room.Broadcast(countdownMessage{Type: msgCountdown, Seconds: left})
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return room.Subscribers() > 0
}
