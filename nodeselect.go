package wavepool

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/wavepool/wavepool/internal/config"
	"github.com/wavepool/wavepool/internal/resilience"
	"github.com/wavepool/wavepool/node"
)

// useableNode picks a connected node to host a new player, or to receive a
// migrated one. When Options.UsePriority is set, it draws from the
// connected nodes with Priority > 0 weighted by priority/sum(priority);
// ties among zero-priority pools (or UsePriority unset) fall back to the
// configured [config.NodeSelection] policy: least hosted players, or
// least reported Lavalink CPU load.
//
// The chosen node and the rest of the ranked candidates form a
// [resilience.FallbackGroup]: if the top pick has gone unreachable in the
// moment between its stats snapshot and selection, the next-best ranked
// node is used instead rather than handing back a dead node.
func (m *Manager) useableNode() (*node.Node, error) {
	connected := m.connectedNodes()
	if len(connected) == 0 {
		return nil, ErrNoUsableNode
	}

	ranked := m.rankNodes(connected)

	fg := resilience.NewFallbackGroup(ranked[0], ranked[0].Identifier(), resilience.FallbackConfig{})
	for _, n := range ranked[1:] {
		fg.AddFallback(n.Identifier(), n)
	}

	return resilience.ExecuteWithResult(fg, func(n *node.Node) (*node.Node, error) {
		if !n.Connected() {
			return nil, fmt.Errorf("node %q disconnected", n.Identifier())
		}
		return n, nil
	})
}

// rankNodes orders candidates best-pick-first by the manager's configured
// selection policy: a priority-weighted draw first when Options.UsePriority
// is set, then the remaining candidates sorted by the load-aware policy
// (least hosted players, or least reported Lavalink CPU load).
func (m *Manager) rankNodes(candidates []*node.Node) []*node.Node {
	ranked := make([]*node.Node, 0, len(candidates))
	rest := candidates

	if m.opts.UsePriority {
		if picked := priorityPick(candidates); picked != nil {
			ranked = append(ranked, picked)
			rest = make([]*node.Node, 0, len(candidates)-1)
			for _, n := range candidates {
				if n != picked {
					rest = append(rest, n)
				}
			}
		}
	}

	switch m.opts.NodeSelection {
	case config.SelectLeastLoad:
		sort.SliceStable(rest, func(i, j int) bool { return loadRatio(rest[i]) < loadRatio(rest[j]) })
	default:
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].Stats().Players < rest[j].Stats().Players })
	}
	return append(ranked, rest...)
}

func (m *Manager) connectedNodes() []*node.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*node.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		if n.Connected() {
			out = append(out, n)
		}
	}
	return out
}

// priorityPick draws one node from candidates with Priority() > 0, weighted
// by priority/sum(priority). Returns nil if no candidate has positive
// priority, so the caller can fall through to the load-aware policy.
func priorityPick(candidates []*node.Node) *node.Node {
	var total int
	weighted := make([]*node.Node, 0, len(candidates))
	for _, n := range candidates {
		if n.Priority() > 0 {
			total += n.Priority()
			weighted = append(weighted, n)
		}
	}
	if total == 0 {
		return nil
	}
	draw := rand.Intn(total)
	for _, n := range weighted {
		draw -= n.Priority()
		if draw < 0 {
			return n
		}
	}
	return weighted[len(weighted)-1]
}

// loadRatio returns n's lavalinkLoad/cores ratio; nodes that haven't
// reported stats yet (Cores == 0) are treated as maximally loaded so a
// freshly connected node doesn't win by default.
func loadRatio(n *node.Node) float64 {
	stats := n.Stats()
	if stats.CPU.Cores == 0 {
		return 1.0
	}
	return stats.CPU.LavalinkLoad / float64(stats.CPU.Cores)
}

// NodeStats reports a point-in-time view of every node's load and hosted
// player count, for diagnostics and load-aware host-application logic.
type NodeStats struct {
	Identifier     string
	Connected      bool
	Players        int
	PlayingPlayers int
	LoadRatio      float64
}

// NodeStats returns [NodeStats] for every node in the pool.
func (m *Manager) NodeStats() []NodeStats {
	m.mu.RLock()
	nodes := make([]*node.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	m.mu.RUnlock()

	out := make([]NodeStats, 0, len(nodes))
	for _, n := range nodes {
		stats := n.Stats()
		out = append(out, NodeStats{
			Identifier:     n.Identifier(),
			Connected:      n.Connected(),
			Players:        stats.Players,
			PlayingPlayers: stats.PlayingPlayers,
			LoadRatio:      loadRatio(n),
		})
	}
	return out
}
