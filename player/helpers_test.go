package player_test

import (
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/internal/nodetest"
	"github.com/wavepool/wavepool/internal/session"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/player"
	"github.com/wavepool/wavepool/track"
)

// newTestNode builds a [node.Node] wired to srv, following the same
// URL-parsing helper shape used by the node package's own tests.
func newTestNode(t *testing.T, srv *nodetest.Server) *node.Node {
	t.Helper()
	u, err := url.Parse(srv.URL())
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessionData"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	n := node.New(node.Config{
		Identifier: "node-a",
		Host:       u.Hostname(),
		Port:       port,
		Password:   srv.Password,
		ClientID:   "client-1",
		ClientName: "wavepool-test",
	}, store, node.Handlers{})
	return n
}

// recorder collects every event published on a bus, safe for concurrent
// access from the player's own goroutines.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) record(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event{}, r.events...)
}

func (r *recorder) changesOf(t events.ChangeType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == events.PlayerStateUpdate && ev.Change == t {
			n++
		}
	}
	return n
}

// newTestPlayer builds a [player.Player] bound to n, publishing onto a
// fresh bus recorded by the returned recorder. sends/autoplay/destroy
// overrides deps beyond the bus when non-nil.
func newTestPlayer(t *testing.T, n *node.Node, configure func(*player.Dependencies)) (*player.Player, *recorder) {
	t.Helper()
	bus := events.NewBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.record)

	deps := player.Dependencies{Bus: bus}
	if configure != nil {
		configure(&deps)
	}

	p := player.New(n, player.Options{
		GuildID:           "guild-1",
		TextChannelID:     "text-1",
		VoiceChannelID:    "voice-1",
		MaxPreviousTracks: 5,
		AutoplayTries:     2,
		BotUserID:         "bot-1",
	}, deps)
	return p, rec
}

func sampleTrack(encoded, title string) track.Track {
	return track.Track{
		Encoded:    encoded,
		Title:      title,
		Author:     "author",
		DurationMs: 1000,
		URI:        "https://example.com/" + encoded,
		SourceName: track.SourceYouTube,
		Identifier: encoded,
		CustomData: map[string]any{},
	}
}
