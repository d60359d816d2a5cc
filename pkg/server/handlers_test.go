package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialMatch(t *testing.T, ts *httptest.Server, matchID, accountID int64) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws%s/ws/matches/%d?account=%d", strings.TrimPrefix(ts.URL, "http"),
		matchID, accountID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireMessage struct {
	Type    string `json:"type"`
	Seconds int    `json:"seconds"`
	Color   string `json:"playerColor"`
	IsTie   bool   `json:"isTie"`
	raw     []byte
}

// readUntil reads frames until one of type typ arrives and returns every
// frame seen.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []wireMessage {
	t.Helper()
	var seen []wireMessage
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var m wireMessage
		require.NoError(t, json.Unmarshal(b, &m))
		m.raw = b
		seen = append(seen, m)
		if m.Type == typ {
			return seen
		}
	}
}

func TestMatchSocketPlaysDuelToSettlement(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	matchID, a, b := seatedDuel(t, db)
	_, ts := newTestServer(t, db, time.Second)

	ca := dialMatch(t, ts, matchID, a.ID)
	cb := dialMatch(t, ts, matchID, b.ID)

	require.NoError(t, ca.WriteJSON(clientMessage{Action: actionChangeDirection, Direction: "UP"}))

	seenA := readUntil(t, ca, msgGameOver)
	readUntil(t, cb, msgGameOver)

	assert.Equal(t, msgPlayerColor, seenA[0].Type)
	assert.Equal(t, PlayerColor(0), seenA[0].Color)
	var rawColor map[string]any
	require.NoError(t, json.Unmarshal(seenA[0].raw, &rawColor))
	assert.Equal(t, PlayerColor(0), rawColor["playerColor"])
	assert.NotContains(t, rawColor, "color")
	var types []string
	for _, m := range seenA {
		types = append(types, m.Type)
	}
	assert.Contains(t, types, msgCountdown)
	assert.Contains(t, types, "state")

	var over GameOver
	require.NoError(t, json.Unmarshal(seenA[len(seenA)-1].raw, &over))
	assert.Equal(t, matchID, over.MatchID)
	assert.True(t, over.IsTie || over.WinnerID != nil)
	require.NotNil(t, over.ReplayData)
	assert.NotEmpty(t, over.ReplayData.Frames)

	m, err := db.Match(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, m.Status)

	// The pot is paid out in full, so no coins appear or vanish.
	acctA, err := db.Account(ctx, a.ID)
	require.NoError(t, err)
	acctB, err := db.Account(ctx, b.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, acctA.Coins+acctB.Coins)
}

func TestMatchSocketRejectsStrangers(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	matchID, _, _ := seatedDuel(t, db)
	eve, err := db.CreateAccount(ctx, "eve", 0)
	require.NoError(t, err)
	_, ts := newTestServer(t, db, time.Second)

	for _, tc := range []struct {
		name    string
		matchID int64
		account int64
	}{
		{"not seated", matchID, eve.ID},
		{"unknown match", matchID + 100, eve.ID},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialMatch(t, ts, tc.matchID, tc.account)
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, _, err := conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
		})
	}

	resp, err := http.Get(ts.URL + "/ws/matches/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func apiRequest(t *testing.T, ts *httptest.Server, method, path string, account int64,
	body any, out any) int {

	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if account > 0 {
		req.Header.Set("X-Account-ID", fmt.Sprint(account))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLobbyEndpoints(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	mt := duel(t, db, true)
	a, err := db.CreateAccount(ctx, "alice", 25)
	require.NoError(t, err)
	poor, err := db.CreateAccount(ctx, "poor", 5)
	require.NoError(t, err)
	_, ts := newTestServer(t, db, time.Second)

	var types []matchTypeView
	assert.Equal(t, http.StatusOK, apiRequest(t, ts, "GET", "/api/matchtypes", 0, nil, &types))
	require.Len(t, types, 1)
	assert.Equal(t, "Duel", types[0].Name)
	assert.True(t, types[0].HasBot)

	assert.Equal(t, http.StatusUnauthorized,
		apiRequest(t, ts, "POST", "/api/matches/join", 0, joinRequest{MatchTypeID: mt}, nil))
	assert.Equal(t, http.StatusPaymentRequired,
		apiRequest(t, ts, "POST", "/api/matches/join", poor.ID, joinRequest{MatchTypeID: mt}, nil))
	assert.Equal(t, http.StatusNotFound,
		apiRequest(t, ts, "POST", "/api/matches/join", a.ID, joinRequest{MatchTypeID: mt + 9}, nil))

	var joined joinResponse
	require.Equal(t, http.StatusOK,
		apiRequest(t, ts, "POST", "/api/matches/join", a.ID, joinRequest{MatchTypeID: mt}, &joined))
	assert.True(t, joined.Starting, "the bot fills the second seat")
	assert.EqualValues(t, 15, joined.Balance)

	var mv matchView
	require.Equal(t, http.StatusOK,
		apiRequest(t, ts, "GET", fmt.Sprintf("/api/matches/%d", joined.MatchID), 0, nil, &mv))
	assert.Equal(t, StatusStarting, mv.Status)
	require.Len(t, mv.Participants, 2)
	assert.True(t, mv.Participants[0].IsBot)

	assert.Equal(t, http.StatusConflict, apiRequest(t, ts, "POST",
		fmt.Sprintf("/api/matches/%d/leave", joined.MatchID), a.ID, nil, nil))

	var acct accountView
	require.Equal(t, http.StatusOK, apiRequest(t, ts, "GET", "/api/account", a.ID, nil, &acct))
	assert.Equal(t, "alice", acct.Username)
	assert.EqualValues(t, 15, acct.Coins)
}

func TestLobbyLeaveAndForceStart(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	mt, err := db.UpsertMatchType(ctx, MatchType{
		Name: "Trio", EntryFee: 10, GridSize: 10, Speed: "MEDIUM",
		PlayersRequired: 3, MaxPlayers: 3, Active: true,
	})
	require.NoError(t, err)
	a, _ := db.CreateAccount(ctx, "alice", 100)
	b, _ := db.CreateAccount(ctx, "bob", 100)
	_, ts := newTestServer(t, db, time.Second)

	var ja, jb joinResponse
	require.Equal(t, http.StatusOK,
		apiRequest(t, ts, "POST", "/api/matches/join", a.ID, joinRequest{MatchTypeID: mt}, &ja))
	require.Equal(t, http.StatusOK,
		apiRequest(t, ts, "POST", "/api/matches/join", b.ID, joinRequest{MatchTypeID: mt}, &jb))
	require.Equal(t, ja.MatchID, jb.MatchID)

	var left leaveResponse
	require.Equal(t, http.StatusOK, apiRequest(t, ts, "POST",
		fmt.Sprintf("/api/matches/%d/leave", jb.MatchID), b.ID, nil, &left))
	assert.EqualValues(t, 10, left.Refund)
	assert.False(t, left.Cancelled)

	assert.Equal(t, http.StatusForbidden, apiRequest(t, ts, "POST",
		fmt.Sprintf("/api/matches/%d/forcestart", ja.MatchID), b.ID, nil, nil))

	var fs forceStartResponse
	require.Equal(t, http.StatusOK, apiRequest(t, ts, "POST",
		fmt.Sprintf("/api/matches/%d/forcestart", ja.MatchID), a.ID, nil, &fs))
	assert.Equal(t, 2, fs.Missing)
	assert.EqualValues(t, 20, fs.Cost)
	assert.EqualValues(t, 70, fs.Balance)

	m, err := db.Match(ctx, ja.MatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, m.Status)
	assert.EqualValues(t, 30, m.TotalPot)
}

func TestStatusForMapping(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("x: %w", ErrMatchFull)))
	assert.Equal(t, http.StatusForbidden, statusFor(ErrNotParticipant))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}

// trio registers a three seat type so a single join leaves the match WAITING.
func trio(t *testing.T, db Database) int64 {
	t.Helper()
	id, err := db.UpsertMatchType(context.Background(), MatchType{
		Name: "Trio", EntryFee: 10, GridSize: 10, Speed: "MEDIUM",
		PlayersRequired: 3, MaxPlayers: 3, Active: true,
	})
	require.NoError(t, err)
	return id
}

func TestLobbyCancelClosesRoomAndSessions(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	mt := trio(t, db)
	a, err := db.CreateAccount(ctx, "alice", 50)
	require.NoError(t, err)
	s, ts := newTestServer(t, db, time.Second)

	res, err := db.Join(ctx, a.ID, mt)
	require.NoError(t, err)
	require.False(t, res.Starting)

	conn := dialMatch(t, ts, res.MatchID, a.ID)
	readUntil(t, conn, msgPlayerColor)
	room, ok := s.registry.Get(res.MatchID)
	require.True(t, ok)
	assert.Equal(t, RoomPendingPlayers, room.State())

	var left leaveResponse
	require.Equal(t, http.StatusOK, apiRequest(t, ts, "POST",
		fmt.Sprintf("/api/matches/%d/leave", res.MatchID), a.ID, nil, &left))
	require.True(t, left.Cancelled)

	assert.Equal(t, RoomCancelled, room.State())
	_, ok = s.registry.Get(res.MatchID)
	assert.False(t, ok)
	select {
	case <-room.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("room loop still running")
	}

	// The attached session is closed once its room stops.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}
	assert.Equal(t, RegistryStats{}, s.registry.Stats())
}

func TestIdleLobbyRoomClosesOnLastDisconnect(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	mt := trio(t, db)
	a, err := db.CreateAccount(ctx, "alice", 50)
	require.NoError(t, err)
	s, ts := newTestServer(t, db, time.Second)

	res, err := db.Join(ctx, a.ID, mt)
	require.NoError(t, err)

	conn := dialMatch(t, ts, res.MatchID, a.ID)
	readUntil(t, conn, msgPlayerColor)
	first, ok := s.registry.Get(res.MatchID)
	require.True(t, ok)
	conn.Close()

	require.Eventually(t, func() bool {
		return first.State() == RoomCancelled && s.registry.Stats().Rooms == 0
	}, 5*time.Second, 10*time.Millisecond)

	// The match is still WAITING, so coming back opens a fresh room.
	m, err := db.Match(ctx, res.MatchID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, m.Status)

	again := dialMatch(t, ts, res.MatchID, a.ID)
	readUntil(t, again, msgPlayerColor)
	second, ok := s.registry.Get(res.MatchID)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, RoomPendingPlayers, second.State())
}
