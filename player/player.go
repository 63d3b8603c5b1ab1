// Package player implements the per-guild player state machine: queue
// progression, repeat modes, autoplay chaining, voice-channel binding,
// and the filter stack, all driven by REST calls to the player's hosting
// node and by that node's event-stream frames.
package player

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/filters"
	"github.com/wavepool/wavepool/internal/session"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/queue"
	"github.com/wavepool/wavepool/track"
)

// State is a player's voice-connection lifecycle state.
type State string

const (
	StateConnected    State = "connected"
	StateConnecting   State = "connecting"
	StateDisconnected State = "disconnected"
	StateDisconnecting State = "disconnecting"
	StateDestroying   State = "destroying"
)

// VoiceState is the correlated pair of asynchronous voice events the
// manager feeds into a player: the channel session id and the voice
// server credential.
type VoiceState struct {
	SessionID string
	Token     string
	Endpoint  string
}

// ready reports whether both halves of the voice handshake are present.
func (v VoiceState) ready() bool { return v.SessionID != "" && v.Token != "" && v.Endpoint != "" }

// Options configures a new [Player].
type Options struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	SelfDeaf       bool
	SelfMute       bool
	Volume         int

	MaxPreviousTracks int
	AutoplayTries     int
	BotUserID         any
}

// Dependencies are the collaborators injected into a player at
// construction, standing in for what would otherwise be direct
// references back to the manager.
type Dependencies struct {
	Bus *events.Bus

	// Send transmits a voice-gateway payload (op 4, join/leave/move) for
	// this player's guild to the chat platform.
	Send func(guildID string, payload map[string]any) error

	// Autoplay resolves replacement tracks for an ending track. It may be
	// nil, in which case autoplay is always treated as exhausted.
	Autoplay func(ctx context.Context, ending track.Track) ([]track.Track, error)

	// RequestDestroy notifies the owning manager that this player should
	// be removed from its pool; called once the player has finished its
	// own local teardown.
	RequestDestroy func(guildID string)
}

// Player is one guild's audio session: exactly one hosting [node.Node],
// a queue, a filter stack, and voice/playback state.
type Player struct {
	deps Dependencies

	mu sync.RWMutex

	guildID        string
	textChannelID  string
	voiceChannelID string
	selfDeaf       bool
	selfMute       bool

	node  *node.Node
	queue *queue.Queue
	filt  *filters.Stack

	voice VoiceState
	state State

	playing  bool
	paused   bool
	volume   int
	position int64

	trackRepeat   bool
	queueRepeat   bool
	dynamicRepeat bool
	dynamicRepeatIntervalMs int64

	isAutoplay    bool
	autoplayTries int
	autoplayBudget int
	botUserID     any

	userData map[string]any
}

// New constructs a [Player] bound to n, publishing [events.PlayerCreate]
// and [events.PlayerStateUpdate](PlayerCreateChange) once wired.
func New(n *node.Node, opts Options, deps Dependencies) *Player {
	if opts.Volume <= 0 {
		opts.Volume = 100
	}
	if opts.AutoplayTries <= 0 {
		opts.AutoplayTries = 3
	}
	p := &Player{
		deps:           deps,
		guildID:        opts.GuildID,
		textChannelID:  opts.TextChannelID,
		voiceChannelID: opts.VoiceChannelID,
		selfDeaf:       opts.SelfDeaf,
		selfMute:       opts.SelfMute,
		node:           n,
		filt:           &filters.Stack{},
		state:          StateDisconnected,
		volume:         opts.Volume,
		autoplayTries:  opts.AutoplayTries,
		autoplayBudget: opts.AutoplayTries,
		botUserID:      opts.BotUserID,
		userData:       make(map[string]any),
	}
	p.queue = queue.New(opts.MaxPreviousTracks, opts.BotUserID, p.onQueueChange)

	if deps.Bus != nil {
		deps.Bus.Publish(events.Event{Type: events.PlayerCreate, GuildID: p.guildID, Payload: p})
	}
	p.emitStateUpdate(events.PlayerCreateChange)
	return p
}

// GuildID returns the player's identity.
func (p *Player) GuildID() string { return p.guildID }

// Node returns the player's current hosting node.
func (p *Player) Node() *node.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.node
}

// SetNode rebinds the player to a new hosting node, used by migration.
func (p *Player) SetNode(n *node.Node) {
	p.mu.Lock()
	p.node = n
	p.mu.Unlock()
}

// Queue returns the player's queue.
func (p *Player) Queue() *queue.Queue { return p.queue }

// Filters returns the player's filter stack.
func (p *Player) Filters() *filters.Stack { return p.filt }

// State returns the player's voice-connection lifecycle state.
func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Playing, Paused, Volume, Position report current playback state.
func (p *Player) Playing() bool  { p.mu.RLock(); defer p.mu.RUnlock(); return p.playing }
func (p *Player) Paused() bool   { p.mu.RLock(); defer p.mu.RUnlock(); return p.paused }
func (p *Player) Volume() int    { p.mu.RLock(); defer p.mu.RUnlock(); return p.volume }
func (p *Player) Position() int64 { p.mu.RLock(); defer p.mu.RUnlock(); return p.position }

// VoiceChannelID, TextChannelID report the player's channel bindings.
func (p *Player) VoiceChannelID() string { p.mu.RLock(); defer p.mu.RUnlock(); return p.voiceChannelID }
func (p *Player) TextChannelID() string  { p.mu.RLock(); defer p.mu.RUnlock(); return p.textChannelID }

// UserData returns the player's caller-owned metadata map.
func (p *Player) UserData() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.userData
}

// onQueueChange relays queue mutations as PlayerStateUpdate(QueueChange)
// events, matching §4.3's "every mutation emits PlayerStateUpdate".
func (p *Player) onQueueChange(ct queue.ChangeType, tracks []track.Track) {
	p.publish(events.Event{
		Type:    events.PlayerStateUpdate,
		GuildID: p.guildID,
		Change:  events.QueueChange,
		Payload: map[string]any{"changeType": ct, "tracks": tracks},
	})
}

func (p *Player) publish(ev events.Event) {
	if p.deps.Bus != nil {
		p.deps.Bus.Publish(ev)
	}
}

func (p *Player) emitStateUpdate(change events.ChangeType) {
	p.publish(events.Event{Type: events.PlayerStateUpdate, GuildID: p.guildID, Change: change})
}

// --- Playback operations (§4.5) ---

// PlayOptions configures a play request.
type PlayOptions struct {
	NoReplace   bool
	StartTimeMs int64
	EndTimeMs   int64
}

// Play starts playback of queue.Current, shifting one track out of the
// upcoming sequence first if Current is nil.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	current := p.queue.Current
	if current == nil {
		if next, ok := p.queue.ShiftUpcoming(); ok {
			current = &next
			p.queue.Current = current
		}
	}
	p.mu.Unlock()

	if current == nil {
		return fmt.Errorf("player: queue is empty")
	}
	return p.playTrack(ctx, *current, PlayOptions{})
}

// PlayTrack replaces Current immediately with t.
func (p *Player) PlayTrack(ctx context.Context, t track.Track, opts ...PlayOptions) error {
	var o PlayOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	p.mu.Lock()
	p.queue.Current = &t
	p.mu.Unlock()
	return p.playTrack(ctx, t, o)
}

func (p *Player) playTrack(ctx context.Context, t track.Track, opts PlayOptions) error {
	patch := map[string]any{"encodedTrack": t.Encoded}
	if opts.StartTimeMs > 0 {
		patch["position"] = opts.StartTimeMs
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("player: marshal play patch: %w", err)
	}
	n := p.Node()
	if _, err := n.Rest.UpdatePlayer(ctx, p.guildID, body, opts.NoReplace); err != nil {
		return fmt.Errorf("player: play: %w", err)
	}
	p.mu.Lock()
	p.playing = true
	p.paused = false
	p.mu.Unlock()
	p.emitStateUpdate(events.TrackChange)
	return nil
}

// Stop drops amount-1 upcoming tracks then asks the node to stop the
// current track, which triggers a node-side TrackEnd(Stopped).
func (p *Player) Stop(ctx context.Context, amount int) error {
	if amount < 1 {
		amount = 1
	}
	if amount > 1 {
		p.queue.Remove(0, amount-1)
	}
	body, err := json.Marshal(map[string]any{"encodedTrack": nil})
	if err != nil {
		return fmt.Errorf("player: marshal stop patch: %w", err)
	}
	n := p.Node()
	if _, err := n.Rest.UpdatePlayer(ctx, p.guildID, body, false); err != nil {
		return fmt.Errorf("player: stop: %w", err)
	}
	return nil
}

// Pause toggles paused state.
func (p *Player) Pause(ctx context.Context, paused bool) error {
	body, err := json.Marshal(map[string]any{"paused": paused})
	if err != nil {
		return fmt.Errorf("player: marshal pause patch: %w", err)
	}
	n := p.Node()
	if _, err := n.Rest.UpdatePlayer(ctx, p.guildID, body, true); err != nil {
		return fmt.Errorf("player: pause: %w", err)
	}
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
	p.emitStateUpdate(events.PauseChange)
	return nil
}

// Seek moves playback position to ms.
func (p *Player) Seek(ctx context.Context, ms int64) error {
	body, err := json.Marshal(map[string]any{"position": ms})
	if err != nil {
		return fmt.Errorf("player: marshal seek patch: %w", err)
	}
	n := p.Node()
	if _, err := n.Rest.UpdatePlayer(ctx, p.guildID, body, true); err != nil {
		return fmt.Errorf("player: seek: %w", err)
	}
	p.mu.Lock()
	p.position = ms
	p.mu.Unlock()
	return nil
}

// SetVolume sets playback volume, clamped to [0, 1000].
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1000 {
		volume = 1000
	}
	body, err := json.Marshal(map[string]any{"volume": volume})
	if err != nil {
		return fmt.Errorf("player: marshal volume patch: %w", err)
	}
	n := p.Node()
	if _, err := n.Rest.UpdatePlayer(ctx, p.guildID, body, true); err != nil {
		return fmt.Errorf("player: set volume: %w", err)
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	p.emitStateUpdate(events.VolumeChange)
	return nil
}

// UpdateFilters pushes the filter stack's current non-nil blocks to the
// hosting node via a filters PATCH.
func (p *Player) UpdateFilters(ctx context.Context) error {
	return p.pushFilters(ctx)
}

// ClearFilters resets every filter block and preset flag, then pushes the
// cleared (empty) filter payload to the hosting node.
func (p *Player) ClearFilters(ctx context.Context) error {
	p.filt.Clear()
	return p.pushFilters(ctx)
}

func (p *Player) pushFilters(ctx context.Context) error {
	payload, err := p.filt.Payload()
	if err != nil {
		return fmt.Errorf("player: marshal filters payload: %w", err)
	}
	body, err := json.Marshal(map[string]any{"filters": json.RawMessage(payload)})
	if err != nil {
		return fmt.Errorf("player: marshal filters patch: %w", err)
	}
	n := p.Node()
	if _, err := n.Rest.UpdatePlayer(ctx, p.guildID, body, true); err != nil {
		return fmt.Errorf("player: update filters: %w", err)
	}
	p.emitStateUpdate(events.FiltersChange)
	return nil
}

// Previous restarts the most recent history entry, pushing the current
// track back onto the front of upcoming. Fails if history is empty.
func (p *Player) Previous(ctx context.Context) error {
	p.mu.Lock()
	prev, ok := p.queue.PopPrevious()
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("player: no previous track")
	}
	if p.queue.Current != nil {
		p.queue.PushFrontUpcoming(*p.queue.Current)
	}
	p.mu.Unlock()
	return p.PlayTrack(ctx, prev)
}

// Restart replays Current from position 0.
func (p *Player) Restart(ctx context.Context) error {
	p.mu.RLock()
	current := p.queue.Current
	p.mu.RUnlock()
	if current == nil {
		return fmt.Errorf("player: no current track")
	}
	return p.playTrack(ctx, *current, PlayOptions{})
}

// --- Repeat flags (pairwise exclusive) ---

// SetTrackRepeat enables or disables track-repeat, clearing the other two
// repeat flags when enabling.
func (p *Player) SetTrackRepeat(on bool) {
	p.mu.Lock()
	p.trackRepeat = on
	if on {
		p.queueRepeat = false
		p.dynamicRepeat = false
	}
	p.mu.Unlock()
	p.emitStateUpdate(events.RepeatChange)
}

// SetQueueRepeat enables or disables queue-repeat, clearing the other two
// repeat flags when enabling.
func (p *Player) SetQueueRepeat(on bool) {
	p.mu.Lock()
	p.queueRepeat = on
	if on {
		p.trackRepeat = false
		p.dynamicRepeat = false
	}
	p.mu.Unlock()
	p.emitStateUpdate(events.RepeatChange)
}

// SetDynamicRepeat enables or disables dynamic-shuffle repeat with the
// given reshuffle interval, clearing the other two repeat flags when
// enabling.
func (p *Player) SetDynamicRepeat(on bool, intervalMs int64) {
	p.mu.Lock()
	p.dynamicRepeat = on
	p.dynamicRepeatIntervalMs = intervalMs
	if on {
		p.trackRepeat = false
		p.queueRepeat = false
	}
	p.mu.Unlock()
	p.emitStateUpdate(events.RepeatChange)
}

// SetAutoplay enables or disables autoplay chaining, resetting the
// per-exhaustion retry budget back to its configured maximum.
func (p *Player) SetAutoplay(on bool) {
	p.mu.Lock()
	p.isAutoplay = on
	p.autoplayBudget = p.autoplayTries
	p.mu.Unlock()
	p.emitStateUpdate(events.AutoPlayChange)
}

// --- Voice lifecycle ---

// Connect sends the platform voice-join payload and transitions to
// Connecting.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.state = StateConnecting
	guildID, channelID, selfMute, selfDeaf := p.guildID, p.voiceChannelID, p.selfMute, p.selfDeaf
	p.mu.Unlock()

	if p.deps.Send == nil {
		return fmt.Errorf("player: no voice send callback configured")
	}
	return p.deps.Send(guildID, map[string]any{
		"op": 4,
		"d": map[string]any{
			"guild_id":   guildID,
			"channel_id": channelID,
			"self_mute":  selfMute,
			"self_deaf":  selfDeaf,
		},
	})
}

// Disconnect sends the platform voice-leave payload and transitions
// Disconnecting -> Disconnected.
func (p *Player) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.state = StateDisconnecting
	guildID := p.guildID
	p.mu.Unlock()

	if p.deps.Send != nil {
		if err := p.deps.Send(guildID, map[string]any{
			"op": 4,
			"d": map[string]any{"guild_id": guildID, "channel_id": nil},
		}); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.state = StateDisconnected
	p.mu.Unlock()
	p.emitStateUpdate(events.ConnectionChange)
	return nil
}

// Destroy optionally disconnects voice, destroys the node-side player,
// requests removal from the manager's pool, and emits PlayerDestroy.
func (p *Player) Destroy(ctx context.Context, disconnect bool) error {
	p.mu.Lock()
	p.state = StateDestroying
	p.mu.Unlock()

	if disconnect {
		_ = p.Disconnect(ctx)
	}
	n := p.Node()
	if n != nil {
		_ = n.Rest.DestroyPlayer(ctx, p.guildID)
	}
	if p.deps.RequestDestroy != nil {
		p.deps.RequestDestroy(p.guildID)
	}
	p.publish(events.Event{Type: events.PlayerDestroy, GuildID: p.guildID})
	p.emitStateUpdate(events.PlayerDestroyChange)
	return nil
}

// UpdateVoiceState merges a voice-server or voice-state update into the
// player's cached [VoiceState] and, once both halves are present, pushes
// the voice payload to the hosting node. This is invoked by the manager's
// updateVoiceState routing (§4.8); it does not itself interpret the raw
// gateway packet.
func (p *Player) UpdateVoiceState(ctx context.Context, partial VoiceState) error {
	p.mu.Lock()
	if partial.Token != "" {
		p.voice.Token = partial.Token
		p.voice.Endpoint = partial.Endpoint
	}
	if partial.SessionID != "" {
		p.voice.SessionID = partial.SessionID
	}
	ready := p.voice.ready()
	voice := p.voice
	p.mu.Unlock()

	if !ready {
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"voice": map[string]any{
			"token":     voice.Token,
			"endpoint":  voice.Endpoint,
			"sessionId": voice.SessionID,
		},
	})
	if err != nil {
		return fmt.Errorf("player: marshal voice patch: %w", err)
	}
	n := p.Node()
	if _, err := n.Rest.UpdatePlayer(ctx, p.guildID, body, true); err != nil {
		return fmt.Errorf("player: push voice: %w", err)
	}

	p.mu.Lock()
	p.state = StateConnected
	p.mu.Unlock()
	p.emitStateUpdate(events.ConnectionChange)
	return nil
}

// Resume re-pushes the player's cached voice state to its (presumably new)
// hosting node and replays Current from its last known position. Used by
// both node-migration and crash-restart restore paths, which both leave a
// player with cached state but no node-side player yet.
func (p *Player) Resume(ctx context.Context) error {
	p.mu.RLock()
	voice := p.voice
	current := p.queue.Current
	position := p.position
	paused := p.paused
	volume := p.volume
	p.mu.RUnlock()

	if voice.ready() {
		if err := p.UpdateVoiceState(ctx, voice); err != nil {
			return fmt.Errorf("player: resume: push voice: %w", err)
		}
	}

	n := p.Node()
	if volume > 0 {
		body, err := json.Marshal(map[string]any{"volume": volume})
		if err == nil {
			_, _ = n.Rest.UpdatePlayer(ctx, p.guildID, body, true)
		}
	}

	if current == nil {
		return nil
	}
	if err := p.playTrack(ctx, *current, PlayOptions{StartTimeMs: position}); err != nil {
		return fmt.Errorf("player: resume: replay current track: %w", err)
	}
	if paused {
		_ = p.Pause(ctx, true)
	}
	return nil
}

// SetVoiceChannel updates the bound voice channel, emitting
// [events.ChannelChange] if it actually changed.
func (p *Player) SetVoiceChannel(channelID string) {
	p.mu.Lock()
	changed := p.voiceChannelID != channelID
	p.voiceChannelID = channelID
	p.mu.Unlock()
	if changed {
		p.emitStateUpdate(events.ChannelChange)
	}
}

// ToSnapshot serializes the player's persisted state for crash-safe
// storage, excluding any back-reference to its hosting node or manager.
func (p *Player) ToSnapshot() session.PlayerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := session.PlayerSnapshot{
		GuildID:        p.guildID,
		VoiceChannelID: p.voiceChannelID,
		TextChannelID:  p.textChannelID,
		TrackRepeat:    p.trackRepeat,
		QueueRepeat:    p.queueRepeat,
		DynamicRepeat:  p.dynamicRepeat,
		Paused:         p.paused,
		Volume:         p.volume,
		Position:       p.position,
		IsAutoplay:     p.isAutoplay,
		AutoplayTries:  p.autoplayBudget,
		UserData:       p.userData,
	}
	if p.node != nil {
		snap.NodeID = p.node.Identifier()
	}
	if voice, err := json.Marshal(p.voice); err == nil {
		snap.VoiceState = voice
	}
	if filtersPayload, err := p.filt.Payload(); err == nil {
		snap.Filters = filtersPayload
	}
	if p.queue.Current != nil {
		if raw, err := json.Marshal(p.queue.Current); err == nil {
			snap.CurrentTrack = raw
		}
	}
	snap.Upcoming = marshalTracks(p.queue.Upcoming())
	snap.Previous = marshalTracks(p.queue.Previous())
	return snap
}

func marshalTracks(tracks []track.Track) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(tracks))
	for _, t := range tracks {
		if raw, err := json.Marshal(t); err == nil {
			out = append(out, raw)
		}
	}
	return out
}
