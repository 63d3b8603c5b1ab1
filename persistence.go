package wavepool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/wavepool/wavepool/filters"
	"github.com/wavepool/wavepool/internal/session"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/player"
	"github.com/wavepool/wavepool/track"
)

// SavePlayerState snapshots guildID's current player to the session store.
func (m *Manager) SavePlayerState(guildID string) error {
	p, ok := m.GetPlayer(guildID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrGuildNotFound, guildID)
	}
	return m.store.SavePlayerSnapshot(p.ToSnapshot())
}

// SaveAllPlayerStates snapshots every live player concurrently and waits
// for every write to finish; the writes do not observe ctx, but ctx's error
// is returned if ctx is done by the time a write finishes. Individual
// snapshot failures are logged and otherwise ignored so one bad player
// doesn't block the rest.
func (m *Manager) SaveAllPlayerStates(ctx context.Context) error {
	players := m.Players()
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range players {
		p := p
		g.Go(func() error {
			if err := m.store.SavePlayerSnapshot(p.ToSnapshot()); err != nil {
				slog.Error("wavepool: save player snapshot failed", "guild", p.GuildID(), "error", err)
			}
			return gctx.Err()
		})
	}
	return g.Wait()
}

// HandleShutdown snapshots every live player, then closes every node
// connection. The snapshot pass runs under a deadline of
// Options.ShutdownGracePeriod; it still waits for every write, and the
// deadline's error is returned if the period elapsed first. Intended to be
// called from the host application's signal handler before process exit.
func (m *Manager) HandleShutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ShutdownGracePeriod)
	defer cancel()

	err := m.SaveAllPlayerStates(ctx)

	for _, n := range m.Nodes() {
		_ = n.Close()
	}
	return err
}

// LoadPlayerStates restores snapshots found in the session store whose
// NodeID matches nodeID (restores snapshots for every node when nodeID is
// empty): for each, it creates a player pinned to the snapshot's original
// node (falling back to normal node selection if that node is no longer in
// the pool), restores queue/filter/repeat state, and resumes playback from
// the saved position. Returns the restored players, best-effort: a single
// snapshot failing to restore is logged and skipped rather than aborting
// the rest. Every processed snapshot, restored or not, is deleted from the
// store afterward.
func (m *Manager) LoadPlayerStates(ctx context.Context, nodeID string) ([]*player.Player, error) {
	guildIDs, err := m.store.ListPlayerSnapshots()
	if err != nil {
		return nil, fmt.Errorf("wavepool: list player snapshots: %w", err)
	}

	restored := make([]*player.Player, 0, len(guildIDs))
	for _, guildID := range guildIDs {
		if nodeID != "" {
			snap, err := m.store.LoadPlayerSnapshot(guildID)
			if err != nil || snap.NodeID != nodeID {
				continue
			}
		}

		p, err := m.restorePlayer(ctx, guildID)
		if err != nil {
			slog.Error("wavepool: restore player failed", "guild", guildID, "error", err)
		} else {
			restored = append(restored, p)
		}
		if err := m.store.DeletePlayerSnapshot(guildID); err != nil {
			slog.Error("wavepool: delete processed snapshot failed", "guild", guildID, "error", err)
		}
	}
	return restored, nil
}

func (m *Manager) restorePlayer(ctx context.Context, guildID string) (*player.Player, error) {
	snap, err := m.store.LoadPlayerSnapshot(guildID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	nodeID := snap.NodeID
	pinned := m.hasNode(nodeID)
	if !pinned {
		nodeID = ""
	}

	p, err := m.CreatePlayer(ctx, CreatePlayerOptions{
		GuildID:        snap.GuildID,
		TextChannelID:  snap.TextChannelID,
		VoiceChannelID: snap.VoiceChannelID,
		Volume:         snap.Volume,
		Node:           nodeID,
	})
	if err != nil {
		return nil, fmt.Errorf("create player: %w", err)
	}

	applySnapshotState(p, snap)

	if len(snap.VoiceState) > 0 {
		var vs player.VoiceState
		if err := json.Unmarshal(snap.VoiceState, &vs); err == nil {
			_ = p.UpdateVoiceState(ctx, vs)
		}
	}

	if pinned {
		if ok, err := nodeHasSession(ctx, p.Node(), guildID); err != nil {
			slog.Warn("wavepool: could not reconcile restored player against node's live session list", "guild", guildID, "node", nodeID, "error", err)
		} else if !ok {
			_ = p.Destroy(ctx, false)
			return nil, fmt.Errorf("node %q has no matching session for guild %q", nodeID, guildID)
		}
	}

	if err := p.Resume(ctx); err != nil {
		return p, fmt.Errorf("resume: %w", err)
	}
	return p, nil
}

// nodeHasSession reports whether n currently hosts a live player for
// guildID, used to reconcile a restored snapshot against the node's actual
// session state before resuming playback on it.
func nodeHasSession(ctx context.Context, n *node.Node, guildID string) (bool, error) {
	live, err := n.Rest.GetAllPlayers(ctx)
	if err != nil {
		return false, err
	}
	for _, pl := range live {
		if pl.GuildID == guildID {
			return true, nil
		}
	}
	return false, nil
}

// applySnapshotState restores repeat flags, autoplay state, filters,
// playback position, and queue contents from snap onto p, in place.
func applySnapshotState(p *player.Player, snap session.PlayerSnapshot) {
	p.HandlePlayerUpdate(node.PlayerStateInfo{Position: snap.Position})
	p.SetTrackRepeat(snap.TrackRepeat)
	p.SetQueueRepeat(snap.QueueRepeat)
	p.SetDynamicRepeat(snap.DynamicRepeat, 0)
	p.SetAutoplay(snap.IsAutoplay)

	if len(snap.Filters) > 0 {
		var stack filters.Stack
		if err := json.Unmarshal(snap.Filters, &stack); err == nil {
			*p.Filters() = stack
		}
	}

	if snap.CurrentTrack != nil {
		var current track.Track
		if err := json.Unmarshal(snap.CurrentTrack, &current); err == nil {
			p.Queue().Current = &current
		}
	}
	if tracks := decodeTrackList(snap.Upcoming); len(tracks) > 0 {
		p.Queue().Add(tracks)
	}
	for _, raw := range snap.Previous {
		var t track.Track
		if err := json.Unmarshal(raw, &t); err == nil {
			p.Queue().PushPrevious(t)
		}
	}
}

func decodeTrackList(raws []json.RawMessage) []track.Track {
	out := make([]track.Track, 0, len(raws))
	for _, raw := range raws {
		var t track.Track
		if err := json.Unmarshal(raw, &t); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) hasNode(identifier string) bool {
	if identifier == "" {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[identifier]
	return ok
}
