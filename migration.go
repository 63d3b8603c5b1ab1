package wavepool

import (
	"context"
	"log/slog"
	"time"

	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/player"
)

// migratePlayersOff re-hosts every player currently bound to identifier on
// a different usable node: rebinds the player, pushes its cached voice
// state, and resumes playback from its last known position. No destroy
// call is sent to the old node. Players that can't find a usable
// destination are left bound to the dead node; nothing re-attempts their
// migration later.
func (m *Manager) migratePlayersOff(identifier string) {
	for _, p := range m.playersOnNode(identifier) {
		m.autoMoveNode(p, identifier)
	}
}

func (m *Manager) playersOnNode(identifier string) []*player.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*player.Player
	for _, p := range m.players {
		if n := p.Node(); n != nil && n.Identifier() == identifier {
			out = append(out, p)
		}
	}
	return out
}

// autoMoveNode migrates a single player off fromIdentifier: it selects a
// replacement node, rebinds the player object, and resumes playback via
// [player.Player.Resume]. The node-side player on the old node is not
// destroyed.
func (m *Manager) autoMoveNode(p *player.Player, fromIdentifier string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dest, err := m.useableNode()
	if err != nil {
		m.log.Error("wavepool: no usable node for migration", "guild", p.GuildID(), "from", fromIdentifier, "error", err)
		return
	}

	p.SetNode(dest)
	m.bus.Publish(events.Event{
		Type: events.PlayerMove, GuildID: p.GuildID(),
		Payload: map[string]string{"from": fromIdentifier, "to": dest.Identifier()},
	})

	if err := p.Resume(ctx); err != nil {
		m.log.Error("wavepool: resume after migration failed", "guild", p.GuildID(), "node", dest.Identifier(), "error", err)
		return
	}

	if m.metrics != nil {
		m.metrics.PlayerMigrations.Add(ctx, 1)
	}
	slog.Info("wavepool: migrated player", "guild", p.GuildID(), "from", fromIdentifier, "to", dest.Identifier())
}
