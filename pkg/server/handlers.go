package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vctt94/snakearena/pkg/arena"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// policyError rejects a connection with a close frame.
type policyError string

func (e policyError) Error() string { return string(e) }

// accountFromRequest reads the caller identity from the X-Account-ID header
// or the account query parameter.
func accountFromRequest(r *http.Request) (int64, error) {
	v := r.Header.Get("X-Account-ID")
	if v == "" {
		v = r.URL.Query().Get("account")
	}
	if v == "" {
		return 0, errors.New("missing account id")
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid account id")
	}
	return id, nil
}

// session is one websocket connection attached to a room.
type session struct {
	id      string
	player  arena.ParticipantID
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	log     slog.Logger
	matchID int64
}

// stop ends the session. Queued messages are flushed before the close
// frame.
func (c *session) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *session) enqueue(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.log.Errorf("Session %s: failed to marshal: %v", c.id, err)
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warnf("Session %s: send queue full", c.id)
	}
}

// writePump is the only writer of conn.
func (c *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debugf("Session %s: write failed: %v", c.id, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *session) flush() {
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// readPump forwards direction changes to room until the peer goes away.
func (c *session) readPump(ctx context.Context, room *Room) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.log.Debugf("Session %s: read failed: %v", c.id, err)
			}
			return
		}
		switch msg.Action {
		case actionChangeDirection:
			dir, ok := arena.ParseDirection(msg.Direction)
			if !ok {
				c.enqueue(errorMessage{Type: msgError, Message: "unknown direction"})
				continue
			}
			if err := room.SetFacing(ctx, c.player, dir); err != nil {
				if errors.Is(err, ErrRoomClosed) {
					continue
				}
				return
			}
		default:
			c.log.Tracef("Session %s: ignoring action %q", c.id, msg.Action)
		}
	}
}

func rejectConn(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	conn.Close()
}

// prepareSession resolves the room and the participant record for a
// connecting account.
func (s *Server) prepareSession(ctx context.Context, matchID, accountID int64) (*Room,
	arena.Participant, *Match, error) {

	var p arena.Participant
	m, err := s.db.Match(ctx, matchID)
	if errors.Is(err, ErrMatchNotFound) {
		return nil, p, nil, policyError("unknown match")
	}
	if err != nil {
		return nil, p, nil, err
	}
	switch m.Status {
	case StatusCompleted, StatusCancelled, StatusSettlePending:
		return nil, p, nil, policyError("match is over")
	}

	roster, err := s.db.Participants(ctx, matchID)
	if err != nil {
		return nil, p, nil, err
	}
	seat := -1
	for i, rp := range roster {
		if !rp.IsBot && rp.AccountID == accountID {
			seat = i
			p = arena.Participant{
				ID:          arena.Human(accountID),
				DisplayName: rp.Username,
				Color:       PlayerColor(i),
			}
			break
		}
	}
	if seat < 0 {
		return nil, p, nil, policyError("not a participant")
	}

	room, err := s.roomFor(m, roster)
	if err != nil {
		return nil, p, nil, err
	}
	return room, p, m, nil
}

// handleMatchSocket serves GET /ws/matches/{matchID}.
func (s *Server) handleMatchSocket(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseInt(r.PathValue("matchID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid match id", http.StatusBadRequest)
		return
	}
	accountID, authErr := accountFromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugf("Websocket upgrade failed: %v", err)
		return
	}
	if authErr != nil {
		rejectConn(conn, authErr.Error())
		return
	}

	ctx := r.Context()
	c := &session{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, subscriberQueue),
		done:    make(chan struct{}),
		log:     s.log,
		matchID: matchID,
	}

	// A room can close between lookup and subscribe; the registry then
	// hands out a fresh one.
	var (
		room *Room
		p    arena.Participant
		m    *Match
	)
	for attempt := 0; ; attempt++ {
		room, p, m, err = s.prepareSession(ctx, matchID, accountID)
		if err != nil {
			var perr policyError
			if !errors.As(err, &perr) {
				s.log.Errorf("Match %d: failed to attach account %d: %v", matchID, accountID, err)
				err = policyError("server error")
			}
			rejectConn(conn, err.Error())
			return
		}
		if room.Subscribe(c.id, c.send) {
			break
		}
		if attempt == 2 {
			s.log.Errorf("Match %d: room kept closing under account %d", matchID, accountID)
			rejectConn(conn, "server error")
			return
		}
	}
	c.player = p.ID
	defer room.Unsubscribe(c.id)
	go c.writePump()
	defer c.stop()
	go func() {
		select {
		case <-room.Done():
			c.stop()
		case <-c.done:
		}
	}()

	if _, err := room.Admit(ctx, p); err != nil {
		if !errors.Is(err, ErrRoomClosed) {
			s.log.Errorf("Match %d: failed to admit %s: %v", matchID, p.ID, err)
		}
		return
	}
	c.enqueue(playerColorMessage{Type: msgPlayerColor, PlayerID: p.ID, Color: p.Color})
	if snap, err := room.Snapshot(ctx); err == nil {
		c.enqueue(snap)
	}
	s.log.Infof("Match %d: %s connected as session %s", matchID, p.ID, c.id)

	if m.Status == StatusStarting {
		s.orchestrator.Launch(room)
	}

	c.readPump(ctx, room)

	s.log.Infof("Match %d: session %s disconnected", matchID, c.id)
	room.Unsubscribe(c.id)
	if room.State() == RoomPendingPlayers {
		room.Remove(context.WithoutCancel(ctx), p.ID)
		s.closeIdleLobbyRoom(room)
	}
}
