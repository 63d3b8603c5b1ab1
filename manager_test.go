package wavepool_test

import (
	"context"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/wavepool/wavepool"
	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/internal/nodetest"
	"github.com/wavepool/wavepool/internal/session"
)

// newTestManager builds a [wavepool.Manager] backed by a temp-dir session
// store, following the same per-test isolation the node/player packages
// already use.
func newTestManager(t *testing.T) *wavepool.Manager {
	t.Helper()
	store, err := session.NewStore(filepath.Join(t.TempDir(), "sessionData"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	mgr, err := wavepool.New(wavepool.Options{
		ClientID:     "client-1",
		SessionStore: store,
		Send:         func(guildID string, payload map[string]any) error { return nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mgr
}

func addTestNode(t *testing.T, mgr *wavepool.Manager, srv *nodetest.Server, identifier string) {
	t.Helper()
	u, err := url.Parse(srv.URL())
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	if _, err := mgr.CreateNode(context.Background(), wavepool.NodeOptions{
		Identifier: identifier,
		Host:       u.Hostname(),
		Port:       port,
		Password:   srv.Password,
	}); err != nil {
		t.Fatalf("CreateNode(%s): %v", identifier, err)
	}
}

func TestNew_RequiresClientID(t *testing.T) {
	if _, err := wavepool.New(wavepool.Options{}); err == nil {
		t.Error("expected error constructing a Manager with no ClientID")
	}
}

func TestCreateNode_AddsToPoolAndEmitsEvent(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	mgr := newTestManager(t)

	rec := &recorder{}
	mgr.Bus().SubscribeAll(rec.record)

	addTestNode(t, mgr, srv, "node-a")

	nodes := mgr.Nodes()
	if len(nodes) != 1 || nodes[0].Identifier() != "node-a" {
		t.Fatalf("got %+v, want one node named node-a", nodes)
	}
	if rec.countOf(events.NodeCreate) == 0 {
		t.Error("expected a NodeCreate event")
	}
}

func TestCreateNode_DuplicateIdentifierFails(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	mgr := newTestManager(t)
	addTestNode(t, mgr, srv, "node-a")

	u, _ := url.Parse(srv.URL())
	port, _ := strconv.Atoi(u.Port())
	_, err := mgr.CreateNode(context.Background(), wavepool.NodeOptions{
		Identifier: "node-a",
		Host:       u.Hostname(),
		Port:       port,
		Password:   srv.Password,
	})
	if err == nil {
		t.Error("expected an error reusing an existing node identifier")
	}
}

func TestDestroyNode_RemovesFromPool(t *testing.T) {
	srv := nodetest.New("secret")
	defer srv.Close()
	mgr := newTestManager(t)
	addTestNode(t, mgr, srv, "node-a")

	if err := mgr.DestroyNode("node-a"); err != nil {
		t.Fatalf("DestroyNode: %v", err)
	}
	if len(mgr.Nodes()) != 0 {
		t.Errorf("got %d nodes, want 0 after DestroyNode", len(mgr.Nodes()))
	}
}

func TestDestroyNode_UnknownIdentifierFails(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.DestroyNode("no-such-node"); err == nil {
		t.Error("expected an error destroying an unknown node")
	}
}

// recorder collects bus events, safe for concurrent access since the bus
// may dispatch from background goroutines (node handler callbacks).
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) record(ev events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, ev)
	r.mu.Unlock()
}

func (r *recorder) countOf(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
