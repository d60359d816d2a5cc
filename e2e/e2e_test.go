// End-to-end tests that spin up a full arena server backed by a real SQLite
// database and drive it through the terminal client's API wrapper. Only the
// network is in-process.

package e2e

import (
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/snakearena/pkg/arena"
	"github.com/vctt94/snakearena/pkg/client"
	"github.com/vctt94/snakearena/pkg/logging"
	"github.com/vctt94/snakearena/pkg/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// testEnv holds a running arena server, its database and the admin health
// endpoint. Each test gets its own env.
type testEnv struct {
	t      *testing.T
	db     server.Database
	srv    *server.Server
	http   *httptest.Server
	health healthpb.HealthClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := server.NewDatabase(filepath.Join(t.TempDir(), "arena.sqlite"))
	require.NoError(t, err)

	logBackend, err := logging.NewLogBackend(logging.LogConfig{DebugLevel: "debug", Quiet: true})
	require.NoError(t, err)

	srv := server.NewServer(database, logBackend, server.Config{
		Countdown:           time.Second,
		ReplayFrames:        500,
		BotAvoidancePercent: 100,
	})
	hs := httptest.NewServer(srv.Handler())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs, healthSrv := server.NewAdminServer()
	server.SetServing(healthSrv, true)
	go gs.Serve(lis)

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		gs.Stop()
		hs.Close()
		srv.Stop()
		database.Close()
		logBackend.Close()
	})
	return &testEnv{
		t:      t,
		db:     database,
		srv:    srv,
		http:   hs,
		health: healthpb.NewHealthClient(conn),
	}
}

func (e *testEnv) player(name string, coins int64) *client.ArenaClient {
	e.t.Helper()
	acct, err := e.db.CreateAccount(context.Background(), name, coins)
	require.NoError(e.t, err)
	return client.NewArenaClient(&client.Config{ServerURL: e.http.URL, AccountID: acct.ID}, nil)
}

func (e *testEnv) matchType(mt server.MatchType) int64 {
	e.t.Helper()
	mt.Active = true
	id, err := e.db.UpsertMatchType(context.Background(), mt)
	require.NoError(e.t, err)
	return id
}

// playToEnd drains c's stream until the game over arrives.
func playToEnd(t *testing.T, c *client.ArenaClient) (client.GameOverMsg, []any) {
	t.Helper()
	var seen []any
	deadline := time.After(30 * time.Second)
	for {
		select {
		case msg := <-c.UpdatesCh:
			seen = append(seen, msg)
			switch m := msg.(type) {
			case client.GameOverMsg:
				return m, seen
			case client.DisconnectedMsg:
				t.Fatalf("stream closed before game over: %v", m.Err)
			}
		case <-deadline:
			t.Fatal("match did not finish")
		}
	}
}

func TestHealthReportsServing(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.health.Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: server.HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestTwoPlayerMatchSettles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mt := env.matchType(server.MatchType{
		Name: "Duel", EntryFee: 10, GridSize: 6, Speed: string(arena.SpeedExtreme),
		PlayersRequired: 2, MaxPlayers: 2, Penalty: string(arena.PenaltyInstant),
	})
	alice := env.player("alice", 50)
	bob := env.player("bob", 50)

	types, err := alice.MatchTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)

	ja, err := alice.Join(ctx, mt)
	require.NoError(t, err)
	assert.False(t, ja.Starting)
	jb, err := bob.Join(ctx, mt)
	require.NoError(t, err)
	require.Equal(t, ja.MatchID, jb.MatchID)
	require.True(t, jb.Starting)

	require.NoError(t, alice.Connect(ctx, ja.MatchID))
	require.NoError(t, bob.Connect(ctx, jb.MatchID))
	defer alice.Disconnect()
	defer bob.Disconnect()
	require.NoError(t, alice.ChangeDirection(arena.Left))

	overA, seen := playToEnd(t, alice)
	overB, _ := playToEnd(t, bob)
	assert.Equal(t, overA.IsTie, overB.IsTie)
	assert.Equal(t, ja.MatchID, overA.MatchID)
	require.NotNil(t, overA.ReplayData)
	assert.NotEmpty(t, overA.ReplayData.Frames)

	var countdowns, states int
	for _, msg := range seen {
		switch msg.(type) {
		case client.CountdownMsg:
			countdowns++
		case client.StateMsg:
			states++
		}
	}
	assert.Positive(t, countdowns)
	assert.Positive(t, states)

	m, err := alice.Match(ctx, ja.MatchID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", m.Status)
	assert.Len(t, m.Participants, 2)

	a, err := alice.Account(ctx)
	require.NoError(t, err)
	b, err := bob.Account(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 100, a.Coins+b.Coins, "the pot is paid out in full")
	assert.Equal(t, 1, a.TotalMatches)
}

func TestSoloAgainstBot(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mt := env.matchType(server.MatchType{
		Name: "Solo vs Bot", EntryFee: 10, GridSize: 6, Speed: string(arena.SpeedExtreme),
		PlayersRequired: 2, MaxPlayers: 2, HasBot: true, Penalty: string(arena.PenaltyInstant),
	})
	alice := env.player("alice", 25)

	res, err := alice.Join(ctx, mt)
	require.NoError(t, err)
	require.True(t, res.Starting, "the bot takes the second seat")
	require.NoError(t, alice.Connect(ctx, res.MatchID))
	defer alice.Disconnect()

	over, _ := playToEnd(t, alice)

	a, err := alice.Account(ctx)
	require.NoError(t, err)
	if over.WinnerID != nil && over.WinnerID.IsBot() {
		assert.EqualValues(t, 15, a.Coins, "a bot win pays nobody")
	} else {
		assert.EqualValues(t, 25, a.Coins, "the human gets the whole pot")
	}
}

func TestLeaveRefundsBeforeStart(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	mt := env.matchType(server.MatchType{
		Name: "Trio", EntryFee: 5, GridSize: 10, Speed: string(arena.SpeedMedium),
		PlayersRequired: 3, MaxPlayers: 3,
	})
	alice := env.player("alice", 20)

	res, err := alice.Join(ctx, mt)
	require.NoError(t, err)
	left, err := alice.Leave(ctx, res.MatchID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, left.Refund)
	assert.EqualValues(t, 20, left.Balance)
	assert.True(t, left.Cancelled, "the last player out cancels the match")

	_, err = alice.ForceStart(ctx, res.MatchID)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
}
