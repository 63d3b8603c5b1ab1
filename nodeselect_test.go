package wavepool_test

import (
	"context"
	"testing"
	"time"

	"github.com/wavepool/wavepool"
	"github.com/wavepool/wavepool/internal/nodetest"
)

func TestCreatePlayer_LeastPlayersPrefersLighterNode(t *testing.T) {
	srvA, srvB := nodetest.New("secret"), nodetest.New("secret")
	defer srvA.Close()
	defer srvB.Close()
	mgr := newTestManager(t)
	addTestNode(t, mgr, srvA, "node-a")
	addTestNode(t, mgr, srvB, "node-b")

	pushStats(t, srvA, 5, 5)
	pushStats(t, srvB, 0, 0)
	waitForNodeStats(t, mgr, "node-a", 5)
	waitForNodeStats(t, mgr, "node-b", 0)

	p, err := mgr.CreatePlayer(context.Background(), wavepool.CreatePlayerOptions{GuildID: "guild-1"})
	if err != nil {
		t.Fatalf("CreatePlayer: %v", err)
	}
	if p.Node().Identifier() != "node-b" {
		t.Errorf("got node %q, want node-b (fewer players)", p.Node().Identifier())
	}
}

func TestNodeStats_ReportsConnectedNodes(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	mgr := newTestManager(t)
	addTestNode(t, mgr, srv, "node-a")

	stats := mgr.NodeStats()
	if len(stats) != 1 || !stats[0].Connected || stats[0].Identifier != "node-a" {
		t.Errorf("got %+v", stats)
	}
}

// pushStats sends a stats frame through srv's active websocket connection.
func pushStats(t *testing.T, srv *nodetest.Server, players, playingPlayers int) {
	t.Helper()
	if err := srv.SendFrame(map[string]any{
		"op":             "stats",
		"players":        players,
		"playingPlayers": playingPlayers,
		"cpu":            map[string]any{"cores": 4, "systemLoad": 0.1, "lavalinkLoad": 0.1},
	}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
}

// waitForNodeStats polls [wavepool.Manager.NodeStats] until identifier's
// player count reflects a just-pushed stats frame, since frame dispatch
// happens on the node's own read-loop goroutine.
func waitForNodeStats(t *testing.T, mgr *wavepool.Manager, identifier string, wantPlayers int) {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool {
		for _, n := range mgr.Nodes() {
			if n.Identifier() == identifier && n.Stats().Players == wantPlayers {
				return true
			}
		}
		return false
	})
}
