package player_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/internal/nodetest"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/player"
	"github.com/wavepool/wavepool/track"
)

func trackEndFrame(reason string) json.RawMessage {
	return json.RawMessage(`{"type":"TrackEndEvent","reason":"` + reason + `"}`)
}

func TestHandleTrackEnd_ReplacedDoesNotAdvanceQueue(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.HandleNodeEvent(context.Background(), trackEndFrame("replaced"))

	if p.Queue().Current == nil || p.Queue().Current.Encoded != "enc-1" {
		t.Error("expected Current to remain unchanged after a Replaced TrackEnd")
	}
}

func TestHandleTrackEnd_FinishedAdvancesToNextUpcoming(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.Queue().Add([]track.Track{sampleTrack("enc-2", "second")})

	p.HandleNodeEvent(context.Background(), trackEndFrame("finished"))

	if p.Queue().Current == nil || p.Queue().Current.Encoded != "enc-2" {
		t.Errorf("expected Current to advance to enc-2, got %+v", p.Queue().Current)
	}
	if !p.Playing() {
		t.Error("expected playing=true after advancing to the next track")
	}
}

func TestHandleTrackEnd_StoppedWithEmptyQueueEmitsQueueEnd(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.HandleNodeEvent(context.Background(), trackEndFrame("stopped"))

	found := false
	for _, ev := range rec.all() {
		if ev.Type == events.QueueEnd {
			found = true
		}
	}
	if !found {
		t.Error("expected QueueEnd event when Stopped with nothing upcoming")
	}
}

func TestHandleTrackEnd_StoppedWithUpcomingAdvances(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.Queue().Add([]track.Track{sampleTrack("enc-2", "second")})

	p.HandleNodeEvent(context.Background(), trackEndFrame("stopped"))

	if p.Queue().Current == nil || p.Queue().Current.Encoded != "enc-2" {
		t.Errorf("expected Stopped with upcoming to advance to enc-2, got %+v", p.Queue().Current)
	}
}

func TestHandleTrackEnd_TrackRepeatReplaysCurrent(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.SetTrackRepeat(true)

	p.HandleNodeEvent(context.Background(), trackEndFrame("finished"))

	if p.Queue().Current == nil || p.Queue().Current.Encoded != "enc-1" {
		t.Errorf("expected track-repeat to keep replaying enc-1, got %+v", p.Queue().Current)
	}
	if !p.Playing() {
		t.Error("expected playing=true after track-repeat replay")
	}
}

func TestHandleTrackEnd_QueueRepeatRequeuesCurrentThenAdvances(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, _ := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.SetQueueRepeat(true)

	p.HandleNodeEvent(context.Background(), trackEndFrame("finished"))

	if p.Queue().Current == nil || p.Queue().Current.Encoded != "enc-1" {
		t.Errorf("expected queue-repeat to cycle back to enc-1, got %+v", p.Queue().Current)
	}
	if p.Queue().Len() != 0 {
		t.Errorf("expected upcoming to be drained back to 0 after the cycle, got %d", p.Queue().Len())
	}
}

func TestHandleTrackEnd_AutoplayFallbackFillsEmptyQueue(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)

	called := false
	p, _ := newTestPlayer(t, n, func(deps *player.Dependencies) {
		deps.Autoplay = func(ctx context.Context, ending track.Track) ([]track.Track, error) {
			called = true
			return []track.Track{sampleTrack("enc-auto", "autoplayed")}, nil
		}
	})
	p.SetAutoplay(true)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.HandleNodeEvent(context.Background(), trackEndFrame("finished"))

	if !called {
		t.Fatal("expected autoplay resolver to be invoked")
	}
	if p.Queue().Current == nil || p.Queue().Current.Encoded != "enc-auto" {
		t.Errorf("expected autoplay track to become Current, got %+v", p.Queue().Current)
	}
}

func TestHandleTrackEnd_AutoplayFailureFallsThroughToQueueEnd(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)

	p, rec := newTestPlayer(t, n, func(deps *player.Dependencies) {
		deps.Autoplay = func(ctx context.Context, ending track.Track) ([]track.Track, error) {
			return nil, nil
		}
	})
	p.SetAutoplay(true)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.HandleNodeEvent(context.Background(), trackEndFrame("finished"))

	found := false
	for _, ev := range rec.all() {
		if ev.Type == events.QueueEnd {
			found = true
		}
	}
	if !found {
		t.Error("expected QueueEnd once autoplay returns no candidates")
	}
}

func TestHandleSocketClosed_TerminalCodeDestroysPlayer(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)

	destroyed := false
	p, rec := newTestPlayer(t, n, func(deps *player.Dependencies) {
		deps.RequestDestroy = func(string) { destroyed = true }
	})

	p.HandleNodeEvent(context.Background(), json.RawMessage(`{"type":"WebSocketClosedEvent","code":4014}`))

	if !destroyed {
		t.Error("expected terminal close code to trigger destruction")
	}
	found := false
	for _, ev := range rec.all() {
		if ev.Type == events.SocketClosed {
			found = true
		}
	}
	if !found {
		t.Error("expected SocketClosed event to be published regardless of destruction")
	}
}

func TestHandleSocketClosed_NonTerminalCodeDoesNotDestroy(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)

	destroyed := false
	p, _ := newTestPlayer(t, n, func(deps *player.Dependencies) {
		deps.RequestDestroy = func(string) { destroyed = true }
	})

	p.HandleNodeEvent(context.Background(), json.RawMessage(`{"type":"WebSocketClosedEvent","code":1000}`))

	if destroyed {
		t.Error("expected a non-terminal close code to leave the player alive")
	}
}

func TestHandlePlayerUpdate_EmitsTrackChangeOnPositionMove(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	p.HandlePlayerUpdate(node.PlayerStateInfo{Position: 1500, Connected: true})

	if p.Position() != 1500 {
		t.Errorf("got position %d, want 1500", p.Position())
	}
	if rec.changesOf(events.TrackChange) != 1 {
		t.Errorf("got %d TrackChange events, want 1", rec.changesOf(events.TrackChange))
	}
}

func TestHandlePlayerUpdate_NoEventWhenPositionUnchanged(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	p.HandlePlayerUpdate(node.PlayerStateInfo{Position: 0, Connected: true})

	if rec.changesOf(events.TrackChange) != 0 {
		t.Error("expected no TrackChange when position did not move from its zero value")
	}
}

func TestHandleTrackStuck_StopsAndPublishesEvents(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	n := newTestNode(t, srv)
	p, rec := newTestPlayer(t, n, nil)

	if err := p.PlayTrack(context.Background(), sampleTrack("enc-1", "first")); err != nil {
		t.Fatalf("PlayTrack: %v", err)
	}
	p.HandleNodeEvent(context.Background(), json.RawMessage(`{"type":"TrackStuckEvent","thresholdMs":1000}`))

	foundStuck, foundError := false, false
	for _, ev := range rec.all() {
		switch ev.Type {
		case events.TrackStuck:
			foundStuck = true
		case events.TrackError:
			foundError = true
		}
	}
	if !foundStuck || !foundError {
		t.Errorf("expected both TrackStuck and TrackError events, got stuck=%v error=%v", foundStuck, foundError)
	}
}
