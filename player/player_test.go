package player_test

import (
	"context"
	"testing"

	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/filters"
	"github.com/wavepool/wavepool/internal/nodetest"
	"github.com/wavepool/wavepool/player"
	"github.com/wavepool/wavepool/track"
)

func TestNew_DefaultsVolumeAndAutoplayTries(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)

	bus := events.NewBus()
	p := player.New(n, player.Options{GuildID: "guild-1"}, player.Dependencies{Bus: bus})

	if p.Volume() != 100 {
		t.Errorf("got volume %d, want default 100", p.Volume())
	}
	if got := p.ToSnapshot().AutoplayTries; got != 3 {
		t.Errorf("got autoplay tries %d, want default 3", got)
	}
}

func TestPlayTrack_UpdatesPlayingState(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "song")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	if !p.Playing() || p.Paused() {
		t.Errorf("got playing=%v paused=%v, want playing=true paused=false", p.Playing(), p.Paused())
	}
	if rec.changesOf(events.TrackChange) == 0 {
		t.Error("expected at least one TrackChange update")
	}
}

func TestPlay_PullsFromUpcomingWhenCurrentEmpty(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	p.Queue().Add([]track.Track{sampleTrack("enc-1", "song")})
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !p.Playing() {
		t.Error("expected playing=true after Play pulled the sole upcoming track")
	}
}

func TestPlay_FailsOnEmptyQueue(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.Play(context.Background()); err == nil {
		t.Error("expected error playing an empty queue")
	}
}

func TestStop_SucceedsWhilePlaying(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "song")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	if err := p.Stop(context.Background(), 1); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestPause_TogglesStateAndEmitsPauseChange(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	if err := p.Pause(context.Background(), true); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !p.Paused() {
		t.Error("expected paused=true")
	}
	if rec.changesOf(events.PauseChange) != 1 {
		t.Errorf("got %d PauseChange events, want 1", rec.changesOf(events.PauseChange))
	}
}

func TestSetVolume_ClampsToValidRange(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.SetVolume(context.Background(), 5000); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if p.Volume() != 1000 {
		t.Errorf("got %d, want clamped to 1000", p.Volume())
	}

	if err := p.SetVolume(context.Background(), -10); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if p.Volume() != 0 {
		t.Errorf("got %d, want clamped to 0", p.Volume())
	}
}

func TestUpdateFilters_SendsNonNilBlocksAndEmitsFiltersChange(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	if err := p.Filters().ApplyPreset(filters.PresetNightcore, 0); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if err := p.UpdateFilters(context.Background()); err != nil {
		t.Fatalf("UpdateFilters: %v", err)
	}
	if rec.changesOf(events.FiltersChange) != 1 {
		t.Errorf("got %d FiltersChange events, want 1", rec.changesOf(events.FiltersChange))
	}
}

func TestClearFilters_ResetsStackAndPushesEmptyPayload(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.Filters().ApplyPreset(filters.PresetBassBoost, 2); err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if err := p.ClearFilters(context.Background()); err != nil {
		t.Fatalf("ClearFilters: %v", err)
	}
	for preset, active := range p.Filters().FiltersStatus() {
		if active {
			t.Errorf("preset %q still active after ClearFilters", preset)
		}
	}
}

func TestSetTrackRepeat_ClearsOtherRepeatFlags(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	p.SetQueueRepeat(true)
	p.SetTrackRepeat(true)

	snap := p.ToSnapshot()
	if !snap.TrackRepeat || snap.QueueRepeat {
		t.Errorf("got trackRepeat=%v queueRepeat=%v, want true/false", snap.TrackRepeat, snap.QueueRepeat)
	}
}

func TestSetDynamicRepeat_ClearsOtherRepeatFlags(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	p.SetTrackRepeat(true)
	p.SetDynamicRepeat(true, 30000)

	snap := p.ToSnapshot()
	if !snap.DynamicRepeat || snap.TrackRepeat {
		t.Errorf("got dynamicRepeat=%v trackRepeat=%v, want true/false", snap.DynamicRepeat, snap.TrackRepeat)
	}
}

func TestPrevious_FailsWithoutHistory(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.Previous(context.Background()); err == nil {
		t.Error("expected error with empty history")
	}
}

func TestConnect_SendsVoiceJoinPayload(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)

	var gotOp int
	p, _ := newTestPlayer(t, n, func(deps *player.Dependencies) {
		deps.Send = func(guildID string, payload map[string]any) error {
			if op, ok := payload["op"].(int); ok {
				gotOp = op
			}
			return nil
		}
	})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if gotOp != 4 {
		t.Errorf("got op %d, want 4", gotOp)
	}
}

func TestDisconnect_ReturnsToDisconnectedState(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, func(deps *player.Dependencies) {
		deps.Send = func(string, map[string]any) error { return nil }
	})

	if err := p.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if p.State() != player.StateDisconnected {
		t.Errorf("got state %v, want Disconnected", p.State())
	}
	if rec.changesOf(events.ConnectionChange) == 0 {
		t.Error("expected ConnectionChange event")
	}
}

func TestDestroy_InvokesRequestDestroyAndEmitsPlayerDestroy(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)

	var destroyed string
	p, rec := newTestPlayer(t, n, func(deps *player.Dependencies) {
		deps.RequestDestroy = func(guildID string) { destroyed = guildID }
	})

	if err := p.Destroy(context.Background(), false); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if destroyed != "guild-1" {
		t.Errorf("got %q, want guild-1", destroyed)
	}

	found := false
	for _, ev := range rec.all() {
		if ev.Type == events.PlayerDestroy {
			found = true
		}
	}
	if !found {
		t.Error("expected PlayerDestroy event")
	}
}

func TestUpdateVoiceState_PushesOnlyOnceBothHalvesPresent(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	if err := p.UpdateVoiceState(context.Background(), player.VoiceState{SessionID: "sess-1"}); err != nil {
		t.Fatalf("UpdateVoiceState: %v", err)
	}
	if rec.changesOf(events.ConnectionChange) != 0 {
		t.Error("expected no push with only half the voice state present")
	}

	if err := p.UpdateVoiceState(context.Background(), player.VoiceState{Token: "tok", Endpoint: "endpoint"}); err != nil {
		t.Fatalf("UpdateVoiceState: %v", err)
	}
	if rec.changesOf(events.ConnectionChange) != 1 {
		t.Errorf("got %d ConnectionChange events, want 1 once both halves present", rec.changesOf(events.ConnectionChange))
	}
	if p.State() != player.StateConnected {
		t.Errorf("got state %v, want Connected", p.State())
	}
}

func TestSetAutoplay_ResetsBudgetToConfiguredTries(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	p.SetAutoplay(true)
	if rec.changesOf(events.AutoPlayChange) != 1 {
		t.Errorf("got %d AutoPlayChange events, want 1", rec.changesOf(events.AutoPlayChange))
	}

	snap := p.ToSnapshot()
	if !snap.IsAutoplay {
		t.Error("expected IsAutoplay=true in snapshot")
	}
	if snap.AutoplayTries != 2 {
		t.Errorf("got autoplay budget %d, want 2 (configured AutoplayTries)", snap.AutoplayTries)
	}
}

func TestToSnapshot_PopulatesNodeAndChannelFields(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	snap := p.ToSnapshot()
	if snap.GuildID != "guild-1" {
		t.Errorf("got guildId %q, want guild-1", snap.GuildID)
	}
	if snap.NodeID != "node-a" {
		t.Errorf("got nodeId %q, want node-a", snap.NodeID)
	}
	if snap.VoiceChannelID != "voice-1" || snap.TextChannelID != "text-1" {
		t.Errorf("got voice=%q text=%q, want voice-1/text-1", snap.VoiceChannelID, snap.TextChannelID)
	}
}

func TestSetVoiceChannel_EmitsChannelChangeOnlyWhenChanged(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	p.SetVoiceChannel("voice-1") // unchanged
	if rec.changesOf(events.ChannelChange) != 0 {
		t.Error("expected no ChannelChange for a no-op update")
	}

	p.SetVoiceChannel("voice-2")
	if rec.changesOf(events.ChannelChange) != 1 {
		t.Errorf("got %d ChannelChange events, want 1", rec.changesOf(events.ChannelChange))
	}
	if p.VoiceChannelID() != "voice-2" {
		t.Errorf("got %q, want voice-2", p.VoiceChannelID())
	}
}
