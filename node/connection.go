package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wavepool/wavepool/internal/observe"
	"github.com/wavepool/wavepool/internal/session"
)

// State is a node connection's position in its lifecycle state machine:
// Disconnected -> Connecting -> Connected -> (Closed -> Reconnecting ->
// Connecting). Destroy is terminal and reachable from any state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closed
	Reconnecting
	Destroyed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Reconnecting:
		return "reconnecting"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Stats is a node's most recently reported resource snapshot.
type Stats struct {
	Players         int         `json:"players"`
	PlayingPlayers  int         `json:"playingPlayers"`
	Uptime          int64       `json:"uptime"`
	Memory          MemoryStats `json:"memory"`
	CPU             CPUStats    `json:"cpu"`
	FrameStats      *FrameStats `json:"frameStats,omitempty"`
}

// MemoryStats is the memory block nested in [Stats].
type MemoryStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// CPUStats is the cpu block nested in [Stats], used by leastLoad node
// selection (lavalinkLoad / cores).
type CPUStats struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

// FrameStats is the optional frame-send block nested in [Stats].
type FrameStats struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// Handlers are the callbacks a node connection invokes as it processes
// inbound frames and lifecycle transitions. Every field is optional; a nil
// handler is simply skipped. Handlers run synchronously on the read-loop
// goroutine (the first OnConnect runs on the goroutine calling
// [Connection.Connect]) and must not block for long.
type Handlers struct {
	OnReady        func(sessionID string, resumed bool)
	OnStats        func(Stats)
	OnPlayerUpdate func(guildID string, state PlayerStateInfo)
	OnPlayerEvent  func(guildID string, raw json.RawMessage)
	OnConnect      func()
	OnReconnecting func(attempt, max int)
	OnDisconnect   func(err error)
	OnTerminal     func(err error)
}

// ConnectionConfig configures a [Connection].
type ConnectionConfig struct {
	Identifier string
	Host       string
	Port       int
	Secure     bool
	Password   string

	ClientID   string
	ClientName string
	ClusterID  int

	RetryAmount  int
	RetryDelay   time.Duration
	ResumeStatus bool
	ResumeTimeoutSec int
}

// Connection is one audio node's WebSocket session: dial, read-loop
// dispatch, and bounded fixed-delay reconnect on unsolicited close.
type Connection struct {
	cfg   ConnectionConfig
	store session.Backend
	h     Handlers

	mu        sync.RWMutex
	conn      *websocket.Conn
	state     State
	sessionID string
	stats     Stats

	restClient *RestClient

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnection builds a [Connection]; call [Connection.Connect] to dial.
func NewConnection(cfg ConnectionConfig, store session.Backend, h Handlers) *Connection {
	if cfg.RetryAmount <= 0 {
		cfg.RetryAmount = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	return &Connection{cfg: cfg, store: store, h: h, state: Disconnected}
}

// SetRestClient attaches the REST client sharing this connection's session
// id, so "ready" frames can push updateSession immediately.
func (c *Connection) SetRestClient(rc *RestClient) {
	c.mu.Lock()
	c.restClient = rc
	c.mu.Unlock()
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID returns the session id assigned by the node's last "ready"
// frame, or "" if none has arrived yet.
func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Stats returns the most recently ingested stats snapshot.
func (c *Connection) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect dials the node's WebSocket endpoint and starts the read loop.
// The context governs the connection's entire lifetime, including every
// later reconnect attempt; canceling it tears the connection down for
// good.
func (c *Connection) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.dial(ctx); err != nil {
		cancel()
		return err
	}

	c.wg.Add(1)
	go c.readLoop(ctx)
	return nil
}

func (c *Connection) dial(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "node.connect", trace.WithAttributes(observe.Attr("node", c.cfg.Identifier)))
	defer span.End()
	start := time.Now()

	err := c.doDial(ctx)

	observe.DefaultMetrics().NodeConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("node", c.cfg.Identifier)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Connection) doDial(ctx context.Context) error {
	c.setState(Connecting)

	scheme := "ws"
	if c.cfg.Secure {
		scheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s:%d/v4/websocket", scheme, c.cfg.Host, c.cfg.Port)

	header := http.Header{
		"Authorization": []string{c.cfg.Password},
		"User-Id":       []string{c.cfg.ClientID},
		"Client-Name":   []string{c.cfg.ClientName},
	}
	if c.cfg.ResumeStatus {
		if sid, ok, _ := c.store.LoadSessionID(session.SessionIDKey(c.cfg.Identifier, c.cfg.ClusterID)); ok && sid != "" {
			header.Set("Session-Id", sid)
		}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("node: dial %s: %w", c.cfg.Identifier, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(Connected)

	if c.h.OnConnect != nil {
		c.h.OnConnect()
	}
	return nil
}

// readLoop owns the connection's socket: it reads frames until the socket
// closes or ctx is cancelled, then either reconnects (unsolicited close)
// or exits quietly (ctx cancelled).
func (c *Connection) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.setState(Closed)
			if c.h.OnDisconnect != nil {
				c.h.OnDisconnect(err)
			}
			if c.reconnect(ctx) {
				continue
			}
			if c.h.OnTerminal != nil {
				c.h.OnTerminal(fmt.Errorf("node: exhausted reconnect budget: %w", err))
			}
			return
		}
		c.dispatch(data)
	}
}

// reconnect retries the dial up to cfg.RetryAmount times with a fixed
// delay between attempts (no exponential backoff: a missing node comes
// back at a predictable interval, not a growing one). Returns true once a
// dial succeeds.
func (c *Connection) reconnect(ctx context.Context) bool {
	c.setState(Reconnecting)
	for attempt := 1; attempt <= c.cfg.RetryAmount; attempt++ {
		if c.h.OnReconnecting != nil {
			c.h.OnReconnecting(attempt, c.cfg.RetryAmount)
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.cfg.RetryDelay):
		}

		if err := c.dial(ctx); err == nil {
			return true
		}
	}
	return false
}

// dispatch routes one inbound frame by its "op" discriminator.
func (c *Connection) dispatch(data []byte) {
	switch gjson.GetBytes(data, "op").String() {
	case "ready":
		c.handleReady(data)
	case "stats":
		c.handleStats(data)
	case "playerUpdate":
		c.handlePlayerUpdate(data)
	case "event":
		c.handlePlayerEvent(data)
	}
}

func (c *Connection) handleReady(data []byte) {
	sessionID := gjson.GetBytes(data, "sessionId").String()
	resumed := gjson.GetBytes(data, "resumed").Bool()

	if resumed {
		_, span := observe.StartSpan(context.Background(), "node.resume",
			trace.WithAttributes(observe.Attr("node", c.cfg.Identifier)))
		span.End()
	}

	c.mu.Lock()
	c.sessionID = sessionID
	rc := c.restClient
	c.mu.Unlock()

	if c.store != nil && sessionID != "" {
		_ = c.store.SaveSessionID(session.SessionIDKey(c.cfg.Identifier, c.cfg.ClusterID), sessionID)
	}

	if c.h.OnReady != nil {
		c.h.OnReady(sessionID, resumed)
	}

	if rc != nil {
		go func() {
			_ = rc.UpdateSession(context.Background(), c.cfg.ResumeStatus, c.cfg.ResumeTimeoutSec)
		}()
	}
}

func (c *Connection) handleStats(data []byte) {
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	if c.h.OnStats != nil {
		c.h.OnStats(stats)
	}
}

func (c *Connection) handlePlayerUpdate(data []byte) {
	guildID := gjson.GetBytes(data, "guildId").String()
	var state PlayerStateInfo
	if err := json.Unmarshal([]byte(gjson.GetBytes(data, "state").Raw), &state); err != nil {
		return
	}
	if c.h.OnPlayerUpdate != nil {
		c.h.OnPlayerUpdate(guildID, state)
	}
}

func (c *Connection) handlePlayerEvent(data []byte) {
	guildID := gjson.GetBytes(data, "guildId").String()
	if c.h.OnPlayerEvent != nil {
		c.h.OnPlayerEvent(guildID, json.RawMessage(data))
	}
}

// Close tears the connection down for good: cancels its context (which
// stops any in-flight or future reconnect loop) and closes the socket.
// Calling Close more than once is safe.
func (c *Connection) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	conn := c.conn
	c.state = Destroyed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "node destroyed")
	}
	c.wg.Wait()
	return nil
}
