package wavepool

import (
	"context"
	"fmt"
	"sort"

	"github.com/wavepool/wavepool/internal/config"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/player"
	"github.com/wavepool/wavepool/track"
)

// CreatePlayerOptions configures a new guild player via
// [Manager.CreatePlayer].
type CreatePlayerOptions struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	SelfDeaf       bool
	SelfMute       bool
	Volume         int
	BotUserID      any

	// Node pins the player to a specific node identifier; empty selects one
	// via [Manager.useableNode].
	Node string
}

// CreatePlayer selects a hosting node (or uses the pinned one), constructs
// a [player.Player], and adds it to the pool. Returns the existing player
// unchanged if one already exists for the guild.
func (m *Manager) CreatePlayer(ctx context.Context, opts CreatePlayerOptions) (*player.Player, error) {
	if p, ok := m.GetPlayer(opts.GuildID); ok {
		return p, nil
	}

	var n *node.Node
	if opts.Node != "" {
		m.mu.RLock()
		n = m.nodes[opts.Node]
		m.mu.RUnlock()
		if n == nil {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, opts.Node)
		}
	} else {
		var err error
		n, err = m.useableNode()
		if err != nil {
			return nil, err
		}
	}

	p := m.newPlayer(n, player.Options{
		GuildID:           opts.GuildID,
		TextChannelID:     opts.TextChannelID,
		VoiceChannelID:    opts.VoiceChannelID,
		SelfDeaf:          opts.SelfDeaf,
		SelfMute:          opts.SelfMute,
		Volume:            opts.Volume,
		MaxPreviousTracks: m.opts.MaxPreviousTracks,
		AutoplayTries:     m.opts.AutoplayTries,
		BotUserID:         opts.BotUserID,
	}, player.Dependencies{
		Bus:            m.bus,
		Send:           m.opts.Send,
		Autoplay:       m.autoplayFor(n),
		RequestDestroy: m.removePlayer,
	})

	p.SetAutoplay(m.opts.AutoplayEnabled)

	m.mu.Lock()
	m.players[opts.GuildID] = p
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActivePlayers.Add(ctx, 1)
	}
	return p, nil
}

// newPlayer constructs a player via the registered [config.KindPlayer]
// factory, falling back to [player.New] when none is registered.
func (m *Manager) newPlayer(n *node.Node, opts player.Options, deps player.Dependencies) *player.Player {
	if m.opts.Registry != nil {
		if raw, err := m.opts.Registry.Lookup(config.KindPlayer); err == nil {
			if factory, ok := raw.(playerFactory); ok {
				return factory(n, opts, deps)
			}
		}
	}
	return player.New(n, opts, deps)
}

// autoplayFor adapts the manager's [autoplay.Resolver] into the
// player.Dependencies.Autoplay shape, binding it to n as the resolution
// target; returns nil (autoplay disabled) if no resolver is configured.
func (m *Manager) autoplayFor(n *node.Node) func(ctx context.Context, ending track.Track) ([]track.Track, error) {
	resolver := m.opts.Autoplay
	if resolver == nil {
		return nil
	}
	return func(ctx context.Context, ending track.Track) ([]track.Track, error) {
		tracks, err := resolver.Resolve(ctx, n, ending)
		outcome := "hit"
		if err != nil || len(tracks) == 0 {
			outcome = "miss"
		}
		if m.metrics != nil {
			m.metrics.RecordAutoplayResolution(ctx, string(ending.SourceName), outcome)
		}
		return tracks, err
	}
}

// GetPlayer returns the player for guildID, if any.
func (m *Manager) GetPlayer(guildID string) (*player.Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Players returns every player currently in the pool, ordered by guild id
// for deterministic iteration (used by shutdown/diagnostic listings).
func (m *Manager) Players() []*player.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*player.Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuildID() < out[j].GuildID() })
	return out
}

// DestroyPlayer tears down guildID's player (disconnecting voice) and
// removes it from the pool.
func (m *Manager) DestroyPlayer(ctx context.Context, guildID string) error {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrGuildNotFound, guildID)
	}
	return p.Destroy(ctx, true)
}

// removePlayer deletes guildID from the pool without touching its voice
// connection or node-side state; wired as player.Dependencies.RequestDestroy
// so [player.Player.Destroy] can notify the manager once its own teardown
// is complete.
func (m *Manager) removePlayer(guildID string) {
	m.mu.Lock()
	_, existed := m.players[guildID]
	delete(m.players, guildID)
	m.mu.Unlock()
	if existed {
		_ = m.store.DeletePlayerSnapshot(guildID)
		if m.metrics != nil {
			m.metrics.ActivePlayers.Add(context.Background(), -1)
		}
	}
}
