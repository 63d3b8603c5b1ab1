// Package wavepool orchestrates a pool of audio nodes and the per-guild
// players hosted across them: node selection, voice-packet routing,
// search, autoplay wiring, and crash-safe session persistence. Node,
// player, queue, filter, and autoplay semantics live in their own
// packages; this package is the glue a host application wires up once.
package wavepool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wavepool/wavepool/autoplay"
	"github.com/wavepool/wavepool/events"
	"github.com/wavepool/wavepool/internal/config"
	"github.com/wavepool/wavepool/internal/observe"
	"github.com/wavepool/wavepool/internal/session"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/player"
	"github.com/wavepool/wavepool/track"
)

// Sentinel errors for expected, checked conditions: callers match with
// errors.Is, call sites add context with fmt.Errorf's %w.
var (
	ErrNoUsableNode  = errors.New("wavepool: no connected node available")
	ErrNodeNotFound  = errors.New("wavepool: node not found")
	ErrGuildNotFound = errors.New("wavepool: no player for guild")
	ErrNodeExists    = errors.New("wavepool: node identifier already in use")
)

// nodeFactory and playerFactory are the function shapes a host application
// may register under [config.KindNode]/[config.KindPlayer] on a
// [config.Registry] to replace the built-in constructors.
type nodeFactory = func(node.Config, session.Backend, node.Handlers) *node.Node
type playerFactory = func(*node.Node, player.Options, player.Dependencies) *player.Player

// Options configures a [Manager]. The zero value is invalid; use [New].
type Options struct {
	ClientID   string
	ClientName string
	ClusterID  int

	DefaultSearchPlatform track.Source

	AutoplayEnabled         bool
	AutoplaySearchPlatforms []track.Source
	AutoplayTries           int

	MaxPreviousTracks         int
	ReplaceYouTubeCredentials bool
	BlockedWords              []string
	TrackPartial              []string

	UsePriority   bool
	NodeSelection config.NodeSelection

	// ShutdownGracePeriod is the deadline HandleShutdown places on its
	// snapshot pass. Snapshot writes are not interrupted when it elapses;
	// HandleShutdown then returns the deadline's error.
	ShutdownGracePeriod time.Duration

	// Send transmits an outbound voice-gateway payload for a guild to the
	// chat platform. Required for any player to ever connect voice.
	Send func(guildID string, payload map[string]any) error

	// Autoplay resolves replacement tracks when a player's queue runs dry.
	// Nil disables autoplay regardless of AutoplayEnabled.
	Autoplay *autoplay.Resolver

	// SessionStore overrides the default on-disk store; nil constructs one
	// rooted at [session.DefaultRoot].
	SessionStore session.Backend

	// Bus overrides the default event bus; nil constructs a fresh one.
	Bus *events.Bus

	// Metrics overrides the default OpenTelemetry instruments; nil uses
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Registry supplies factory overrides for node/player construction; nil
	// means every component uses the built-in default constructor.
	Registry *config.Registry

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.ClientName == "" {
		o.ClientName = "wavepool"
	}
	if o.DefaultSearchPlatform == "" {
		o.DefaultSearchPlatform = track.SourceYouTube
	}
	if o.AutoplayTries <= 0 {
		o.AutoplayTries = 3
	}
	if o.MaxPreviousTracks <= 0 {
		o.MaxPreviousTracks = 20
	}
	if o.NodeSelection == "" {
		o.NodeSelection = config.SelectLeastPlayers
	}
	if o.ShutdownGracePeriod <= 0 {
		o.ShutdownGracePeriod = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Manager owns the node pool and the guild→player map, and is the single
// entry point a host application drives: [Manager.Search] resolves
// tracks, [Manager.CreatePlayer] spins up a guild's session,
// [Manager.UpdateVoiceState] routes gateway voice packets, and
// [Manager.HandleShutdown] snapshots everything for a later
// [Manager.LoadPlayerStates].
type Manager struct {
	opts    Options
	bus     *events.Bus
	store   session.Backend
	builder *track.Builder
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.RWMutex
	nodes   map[string]*node.Node
	players map[string]*player.Player
}

// New validates opts, applies defaults, and returns a ready [Manager] with
// an empty node pool — callers add nodes with [Manager.CreateNode] before
// creating any player.
func New(opts Options) (*Manager, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("wavepool: ClientID is required")
	}
	opts.applyDefaults()

	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	store := opts.SessionStore
	if store == nil {
		var err error
		store, err = session.NewStore(session.DefaultRoot)
		if err != nil {
			return nil, fmt.Errorf("wavepool: create default session store: %w", err)
		}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	var builderOpts []track.Option
	if len(opts.TrackPartial) > 0 {
		builderOpts = append(builderOpts, track.WithPartial(opts.TrackPartial...))
	}
	if opts.ReplaceYouTubeCredentials {
		builderOpts = append(builderOpts, track.WithYouTubeCredentialCleanup(opts.BlockedWords))
	}

	return &Manager{
		opts:    opts,
		bus:     bus,
		store:   store,
		builder: track.NewBuilder(builderOpts...),
		metrics: metrics,
		log:     opts.Logger,
		nodes:   make(map[string]*node.Node),
		players: make(map[string]*player.Player),
	}, nil
}

// Bus returns the manager's event bus, for host applications that want to
// subscribe before creating any node or player.
func (m *Manager) Bus() *events.Bus { return m.bus }

// NodeOptions describes one audio node to add to the pool via
// [Manager.CreateNode].
type NodeOptions struct {
	Identifier       string
	Host             string
	Port             int
	Password         string
	Secure           bool
	Priority         int
	RetryAmount      int
	RetryDelay       time.Duration
	ResumeStatus     bool
	ResumeTimeoutSec int
	RequestTimeout   time.Duration
}

// CreateNode adds a node to the pool, dials it, and wires its event
// stream to player dispatch and migration. The identifier defaults to
// Host if empty.
func (m *Manager) CreateNode(ctx context.Context, opts NodeOptions) (*node.Node, error) {
	identifier := opts.Identifier
	if identifier == "" {
		identifier = opts.Host
	}

	m.mu.Lock()
	if _, exists := m.nodes[identifier]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNodeExists, identifier)
	}
	m.mu.Unlock()

	cfg := node.Config{
		Identifier:       identifier,
		Host:             opts.Host,
		Port:             opts.Port,
		Secure:           opts.Secure,
		Password:         opts.Password,
		Priority:         opts.Priority,
		RetryAmount:      opts.RetryAmount,
		RetryDelay:       opts.RetryDelay,
		ResumeStatus:     opts.ResumeStatus,
		ResumeTimeoutSec: opts.ResumeTimeoutSec,
		RequestTimeout:   opts.RequestTimeout,
		ClientID:         m.opts.ClientID,
		ClientName:       m.opts.ClientName,
		ClusterID:        m.opts.ClusterID,
	}
	handlers := m.nodeHandlers(identifier)

	n := m.newNode(cfg, handlers)

	if err := n.Connect(ctx); err != nil {
		return nil, fmt.Errorf("wavepool: connect node %q: %w", identifier, err)
	}
	if err := n.RefreshInfo(ctx); err != nil {
		m.log.Warn("wavepool: initial node info fetch failed", "node", identifier, "error", err)
	}

	m.mu.Lock()
	m.nodes[identifier] = n
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveNodes.Add(ctx, 1)
	}
	m.bus.Publish(events.Event{Type: events.NodeCreate, NodeID: identifier, Payload: n})
	return n, nil
}

// newNode constructs a node via the registered [config.KindNode] factory,
// falling back to [node.New] when none is registered.
func (m *Manager) newNode(cfg node.Config, handlers node.Handlers) *node.Node {
	if m.opts.Registry != nil {
		if raw, err := m.opts.Registry.Lookup(config.KindNode); err == nil {
			if factory, ok := raw.(nodeFactory); ok {
				return factory(cfg, m.store, handlers)
			}
		}
	}
	return node.New(cfg, m.store, handlers)
}

// nodeHandlers builds the node.Handlers set routing a node's event stream
// into per-guild player dispatch and manager-level lifecycle events.
func (m *Manager) nodeHandlers(identifier string) node.Handlers {
	return node.Handlers{
		OnReady: func(sessionID string, resumed bool) {
			m.log.Info("wavepool: node ready",
				"node", identifier, "sessionId", sessionID, "resumed", resumed,
				"correlationId", uuid.NewString())
		},
		OnPlayerUpdate: func(guildID string, state node.PlayerStateInfo) {
			if p, ok := m.GetPlayer(guildID); ok {
				p.HandlePlayerUpdate(state)
			}
		},
		OnPlayerEvent: func(guildID string, raw json.RawMessage) {
			if p, ok := m.GetPlayer(guildID); ok {
				p.HandleNodeEvent(context.Background(), raw)
			}
		},
		OnConnect: func() {
			m.bus.Publish(events.Event{Type: events.NodeConnect, NodeID: identifier})
		},
		OnReconnecting: func(attempt, max int) {
			m.bus.Publish(events.Event{Type: events.NodeReconnect, NodeID: identifier, Payload: map[string]int{"attempt": attempt, "max": max}})
			if m.metrics != nil {
				m.metrics.NodeReconnects.Add(context.Background(), 1)
			}
		},
		OnDisconnect: func(err error) {
			m.bus.Publish(events.Event{Type: events.NodeDisconnect, NodeID: identifier, Err: err})
		},
		OnTerminal: func(err error) {
			m.log.Error("wavepool: node failed permanently, migrating players", "node", identifier, "error", err)
			if m.metrics != nil {
				m.metrics.RecordNodeError(context.Background(), identifier, "terminal")
			}
			m.bus.Publish(events.Event{Type: events.NodeError, NodeID: identifier, Err: err})
			go m.destroyNodeAndMigrate(identifier)
		},
	}
}

// DestroyNode closes identifier's connection, migrates every player it
// hosted to a different usable node, and removes it from the pool.
func (m *Manager) DestroyNode(identifier string) error {
	m.mu.Lock()
	n, ok := m.nodes[identifier]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNodeNotFound, identifier)
	}
	delete(m.nodes, identifier)
	m.mu.Unlock()

	_ = n.Close()
	if m.metrics != nil {
		m.metrics.ActiveNodes.Add(context.Background(), -1)
	}
	m.bus.Publish(events.Event{Type: events.NodeDestroy, NodeID: identifier})
	m.migratePlayersOff(identifier)
	return nil
}

// destroyNodeAndMigrate is DestroyNode's path from a terminal node
// failure: the node's connection is already dead, so only bookkeeping and
// migration remain.
func (m *Manager) destroyNodeAndMigrate(identifier string) {
	m.mu.Lock()
	delete(m.nodes, identifier)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveNodes.Add(context.Background(), -1)
	}
	m.bus.Publish(events.Event{Type: events.NodeDestroy, NodeID: identifier})
	m.migratePlayersOff(identifier)
}

// Nodes returns every node currently in the pool.
func (m *Manager) Nodes() []*node.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*node.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}
