package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/vctt94/snakearena/pkg/arena"
)

// ErrNotConnected is returned by match actions without a live stream.
var ErrNotConnected = errors.New("not connected to a match")

// APIError is a non-2xx answer from the lobby API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// ArenaClient talks to the lobby API and streams one match at a time.
type ArenaClient struct {
	cfg  *Config
	http *http.Client
	log  slog.Logger

	// UpdatesCh receives every decoded match message as a tea.Msg.
	UpdatesCh chan tea.Msg

	mu      sync.Mutex
	conn    *websocket.Conn
	matchID int64
}

// NewArenaClient returns a client for cfg.
func NewArenaClient(cfg *Config, log slog.Logger) *ArenaClient {
	if log == nil {
		log = slog.Disabled
	}
	return &ArenaClient{
		cfg:       cfg,
		http:      &http.Client{Timeout: 15 * time.Second},
		log:       log,
		UpdatesCh: make(chan tea.Msg, 256),
	}
}

// AccountID returns the account the client acts as.
func (c *ArenaClient) AccountID() int64 { return c.cfg.AccountID }

func (c *ArenaClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ServerURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("X-Account-ID", strconv.FormatInt(c.cfg.AccountID, 10))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Account returns the caller's account.
func (c *ArenaClient) Account(ctx context.Context) (*Account, error) {
	var a Account
	if err := c.do(ctx, http.MethodGet, "/api/account", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// MatchTypes lists the lobby catalog.
func (c *ArenaClient) MatchTypes(ctx context.Context) ([]MatchType, error) {
	var types []MatchType
	if err := c.do(ctx, http.MethodGet, "/api/matchtypes", nil, &types); err != nil {
		return nil, err
	}
	return types, nil
}

// Join takes a seat in a match of the given type.
func (c *ArenaClient) Join(ctx context.Context, matchTypeID int64) (*JoinResult, error) {
	var res JoinResult
	err := c.do(ctx, http.MethodPost, "/api/matches/join",
		map[string]int64{"matchTypeId": matchTypeID}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Leave gives up a seat in a match that has not started.
func (c *ArenaClient) Leave(ctx context.Context, matchID int64) (*LeaveResult, error) {
	var res LeaveResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/matches/%d/leave", matchID), nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ForceStart pays the missing seats of a match and starts it.
func (c *ArenaClient) ForceStart(ctx context.Context, matchID int64) (*ForceStartResult, error) {
	var res ForceStartResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/matches/%d/forcestart", matchID), nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Match returns a match and its roster.
func (c *ArenaClient) Match(ctx context.Context, matchID int64) (*MatchInfo, error) {
	var m MatchInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/matches/%d", matchID), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Connect opens the match stream. Decoded messages are delivered on
// UpdatesCh until the stream ends, which is reported as DisconnectedMsg.
func (c *ArenaClient) Connect(ctx context.Context, matchID int64) error {
	url := fmt.Sprintf("%s/ws/matches/%d", c.cfg.ServerURL, matchID)
	url = "ws" + strings.TrimPrefix(url, "http")
	hdr := http.Header{}
	hdr.Set("X-Account-ID", strconv.FormatInt(c.cfg.AccountID, 10))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return fmt.Errorf("connect to match %d: %w", matchID, err)
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.matchID = matchID
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// ChangeDirection steers the player's snake.
func (c *ArenaClient) ChangeDirection(dir arena.Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(map[string]string{
		"action":    "changeDirection",
		"direction": dir.String(),
	})
}

// Disconnect closes the match stream, if any.
func (c *ArenaClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.conn.Close()
	c.conn = nil
}

func (c *ArenaClient) readLoop(conn *websocket.Conn) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			c.UpdatesCh <- DisconnectedMsg{Err: err}
			return
		}
		msg, err := DecodeMessage(b)
		if err != nil {
			c.log.Warnf("Dropping bad frame: %v", err)
			continue
		}
		if msg != nil {
			c.UpdatesCh <- msg
		}
	}
}
