package player

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/track"
)

// TrackEndReason enumerates why a node reported TrackEndEvent.
type TrackEndReason string

const (
	ReasonReplaced TrackEndReason = "replaced"
	ReasonLoadFailed TrackEndReason = "loadFailed"
	ReasonStopped    TrackEndReason = "stopped"
	ReasonFinished   TrackEndReason = "finished"
	ReasonCleanup    TrackEndReason = "cleanup"
)

// terminalCloseCodes are WebSocketClosedEvent codes that mean the voice
// session cannot be recovered and the player must be destroyed.
var terminalCloseCodes = map[int]bool{4014: true, 4022: true}

// HandleNodeEvent is wired as the hosting node's OnPlayerEvent callback
// for this player's guild. It dispatches by the frame's "type" field per
// §4.5's event handler table.
func (p *Player) HandleNodeEvent(ctx context.Context, raw json.RawMessage) {
	switch gjson.GetBytes(raw, "type").String() {
	case "TrackStartEvent":
		p.handleTrackStart()
	case "TrackEndEvent":
		p.handleTrackEnd(ctx, raw)
	case "TrackStuckEvent":
		p.handleTrackStuck(ctx, raw)
	case "TrackExceptionEvent":
		p.handleTrackException(ctx, raw)
	case "WebSocketClosedEvent":
		p.handleSocketClosed(ctx, raw)
	case "SegmentsLoaded":
		p.publish(events.Event{Type: events.SponsorSegmentsLoaded, GuildID: p.guildID, Payload: raw})
	case "SegmentSkipped":
		p.publish(events.Event{Type: events.SponsorSegmentSkipped, GuildID: p.guildID, Payload: raw})
	case "ChapterStarted":
		p.publish(events.Event{Type: events.ChapterStarted, GuildID: p.guildID, Payload: raw})
	case "ChaptersLoaded":
		p.publish(events.Event{Type: events.ChaptersLoaded, GuildID: p.guildID, Payload: raw})
	}
}

// HandlePlayerUpdate is wired as the hosting node's OnPlayerUpdate
// callback: it syncs position/ping/connected and, if position actually
// moved, emits TrackChange(timeUpdate).
func (p *Player) HandlePlayerUpdate(state node.PlayerStateInfo) {
	p.mu.Lock()
	changed := p.position != state.Position
	p.position = state.Position
	if state.Connected {
		p.state = StateConnected
	}
	p.mu.Unlock()

	if changed {
		p.publish(events.Event{
			Type: events.PlayerStateUpdate, GuildID: p.guildID,
			Change: events.TrackChange, Payload: map[string]any{"timeUpdate": true, "position": state.Position},
		})
	}
}

func (p *Player) handleTrackStart() {
	p.mu.Lock()
	p.playing = true
	p.paused = false
	p.mu.Unlock()
	p.publish(events.Event{Type: events.TrackStart, GuildID: p.guildID})
}

func (p *Player) handleTrackEnd(ctx context.Context, raw json.RawMessage) {
	reason := TrackEndReason(gjson.GetBytes(raw, "reason").String())
	p.publish(events.Event{Type: events.TrackEnd, GuildID: p.guildID, Payload: reason})

	switch reason {
	case ReasonReplaced:
		// no queue advance: another play command already caused this.
		return
	case ReasonLoadFailed:
		if !p.tryAutoplayFallback(ctx) {
			p.advanceFromFinished(ctx)
		}
	case ReasonStopped:
		// Only advance if the caller explicitly requested a skip by
		// leaving upcoming tracks and expecting the next one to play;
		// otherwise this is a terminal stop.
		if p.queue.Len() > 0 {
			p.advanceFromFinished(ctx)
		} else {
			p.publish(events.Event{Type: events.QueueEnd, GuildID: p.guildID})
		}
	case ReasonFinished, ReasonCleanup:
		p.handleFinishedOrCleanup(ctx)
	}
}

// handleFinishedOrCleanup implements the repeat-mode branch of the
// TrackEnd reason matrix (§4.5).
func (p *Player) handleFinishedOrCleanup(ctx context.Context) {
	p.mu.RLock()
	trackRepeat, queueRepeat, dynamicRepeat := p.trackRepeat, p.queueRepeat, p.dynamicRepeat
	current := p.queue.Current
	p.mu.RUnlock()

	switch {
	case trackRepeat && current != nil:
		_ = p.playTrack(ctx, *current, PlayOptions{})
	case queueRepeat && current != nil:
		p.queue.Add([]track.Track{*current})
		p.advanceFromFinished(ctx)
	case dynamicRepeat && current != nil:
		p.queue.Add([]track.Track{*current})
		p.queue.RoundRobinShuffle()
		p.advanceFromFinished(ctx)
	default:
		p.advanceFromFinished(ctx)
	}
}

// advanceFromFinished pushes Current to history, shifts the next upcoming
// track into Current, and plays it; if upcoming is empty it falls back to
// autoplay (if enabled) or emits QueueEnd.
func (p *Player) advanceFromFinished(ctx context.Context) {
	p.mu.Lock()
	if p.queue.Current != nil {
		p.queue.PushPrevious(*p.queue.Current)
	}
	next, ok := p.queue.ShiftUpcoming()
	if ok {
		p.queue.Current = &next
	} else {
		p.queue.Current = nil
	}
	p.mu.Unlock()

	if ok {
		_ = p.playTrack(ctx, next, PlayOptions{})
		return
	}

	if p.tryAutoplayFallback(ctx) {
		return
	}
	p.publish(events.Event{Type: events.QueueEnd, GuildID: p.guildID})
}

// tryAutoplayFallback asks the configured autoplay resolver for
// replacement tracks seeded by the most recent history entry. Returns
// true if a track was found and queued. A failed or empty resolution
// consumes one unit of autoplay budget; a successful one resets the budget
// to the configured AutoplayTries.
func (p *Player) tryAutoplayFallback(ctx context.Context) bool {
	p.mu.RLock()
	enabled := p.isAutoplay
	budget := p.autoplayBudget
	p.mu.RUnlock()

	if !enabled || budget <= 0 || p.deps.Autoplay == nil {
		return false
	}

	p.mu.RLock()
	seeds := p.queue.Previous()
	p.mu.RUnlock()
	if len(seeds) == 0 {
		return false
	}
	seed := seeds[len(seeds)-1]

	candidates, err := p.deps.Autoplay(ctx, seed)
	if err != nil || len(candidates) == 0 {
		p.mu.Lock()
		p.autoplayBudget--
		p.mu.Unlock()
		return false
	}

	for i := range candidates {
		candidates[i].Requester = p.botUserID
	}
	p.queue.Add(candidates)
	p.mu.Lock()
	p.autoplayBudget = p.autoplayTries
	current := p.queue.Current
	p.mu.Unlock()

	// Add promotes the first candidate straight to Current when Current was
	// nil (the usual case here, since advanceFromFinished clears it before
	// calling this); only fall back to a shift if that didn't happen.
	if current == nil {
		next, ok := p.queue.ShiftUpcoming()
		if !ok {
			return false
		}
		p.mu.Lock()
		p.queue.Current = &next
		p.mu.Unlock()
		current = &next
	}
	_ = p.playTrack(ctx, *current, PlayOptions{})
	return true
}

// handleTrackStuck stops the wedged track and leaves the advance to the
// TrackEndEvent(stopped) the node sends in response to that stop; calling
// advanceFromFinished here too would double-advance once that event lands.
func (p *Player) handleTrackStuck(ctx context.Context, raw json.RawMessage) {
	p.publish(events.Event{Type: events.TrackStuck, GuildID: p.guildID})
	p.publish(events.Event{Type: events.TrackError, GuildID: p.guildID})
	_ = p.Stop(ctx, 1)
}

func (p *Player) handleTrackException(ctx context.Context, raw json.RawMessage) {
	message := gjson.GetBytes(raw, "exception.message").String()
	if p.tryAutoplayFallback(ctx) {
		return
	}
	p.publish(events.Event{Type: events.TrackError, GuildID: p.guildID, Message: message})
	p.advanceFromFinished(ctx)
}

func (p *Player) handleSocketClosed(ctx context.Context, raw json.RawMessage) {
	code := int(gjson.GetBytes(raw, "code").Int())
	p.publish(events.Event{Type: events.SocketClosed, GuildID: p.guildID, Payload: code})

	if terminalCloseCodes[code] {
		slog.Warn("player: terminal voice close code, destroying", "guildId", p.guildID, "code", code)
		_ = p.Destroy(ctx, false)
	}
}
