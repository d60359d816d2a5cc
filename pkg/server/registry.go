package server

import (
	"context"
	"sync"

	"github.com/decred/slog"
)

// Registry tracks the live room of each match and the countdown running
// for it. Lookups and inserts are atomic so a match never has two rooms.
type Registry struct {
	log slog.Logger
	ctx context.Context

	mu         sync.RWMutex
	rooms      map[int64]*Room
	countdowns map[int64]context.CancelFunc
}

// NewRegistry returns a registry whose room loops stop when ctx ends.
func NewRegistry(ctx context.Context, log slog.Logger) *Registry {
	if log == nil {
		log = slog.Disabled
	}
	return &Registry{
		log:        log,
		ctx:        ctx,
		rooms:      make(map[int64]*Room),
		countdowns: make(map[int64]context.CancelFunc),
	}
}

// Get returns the live room for matchID.
func (r *Registry) Get(matchID int64) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[matchID]
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// GetOrCreate publishes room unless the match already has an open one, in
// which case the existing room is returned and room is discarded. A closed
// room still awaiting removal is replaced. A published room's loop is
// started here. created reports whether room was adopted.
func (r *Registry) GetOrCreate(room *Room) (_ *Room, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rooms[room.MatchID()]; ok && !existing.Closed() {
		return existing, false
	}
	ctx, cancel := context.WithCancel(r.ctx)
	room.cancel = cancel
	r.rooms[room.MatchID()] = room
	go room.run(ctx)
	r.log.Debugf("Match %d: room created", room.MatchID())
	return room, true
}

// Remove stops and forgets the room of matchID, if room is still the one
// registered.
func (r *Registry) Remove(room *Room) {
	r.mu.Lock()
	if cur, ok := r.rooms[room.MatchID()]; ok && cur == room {
		delete(r.rooms, room.MatchID())
	}
	r.mu.Unlock()
	room.Stop()
}

// beginCountdown claims the countdown slot of matchID. It fails if one is
// already running.
func (r *Registry) beginCountdown(matchID int64) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.countdowns[matchID]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.countdowns[matchID] = cancel
	return ctx, true
}

func (r *Registry) endCountdown(matchID int64) {
	r.mu.Lock()
	cancel, ok := r.countdowns[matchID]
	delete(r.countdowns, matchID)
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// RegistryStats is a point-in-time count of live objects.
type RegistryStats struct {
	Rooms       int
	Countdowns  int
	Subscribers int
}

// Stats counts rooms, running countdowns and connected sessions.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RegistryStats{Rooms: len(r.rooms), Countdowns: len(r.countdowns)}
	for _, room := range r.rooms {
		st.Subscribers += room.Subscribers()
	}
	return st
}

// StopAll stops every countdown and room loop.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, cancel := range r.countdowns {
		cancel()
		delete(r.countdowns, id)
	}
	for id, room := range r.rooms {
		room.Stop()
		delete(r.rooms, id)
	}
}
