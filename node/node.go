// Package node drives one audio node: a REST client for control
// operations, a WebSocket connection for the event/stats stream, and the
// node's advertised capabilities and live resource stats.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/wavepool/wavepool/internal/session"
)

// Config describes one audio node's address, credentials, and connection
// policy, independent of any particular config file format.
type Config struct {
	Identifier       string
	Host             string
	Port             int
	Secure           bool
	Password         string
	Priority         int
	RetryAmount      int
	RetryDelay       time.Duration
	ResumeStatus     bool
	ResumeTimeoutSec int
	RequestTimeout   time.Duration

	ClientID   string
	ClientName string
	ClusterID  int
}

// Node is one audio node's live handle: address, credentials, REST
// client, WebSocket connection, and cached capability/resource state.
type Node struct {
	cfg Config

	Rest *RestClient
	conn *Connection

	mu   sync.RWMutex
	info *NodeInfo
}

// New builds a [Node] wired to store for session id persistence and h for
// connection lifecycle/event callbacks. The node is not yet connected;
// call [Node.Connect].
func New(cfg Config, store session.Backend, h Handlers) *Node {
	n := &Node{cfg: cfg}

	onLost := h.OnTerminal
	n.conn = NewConnection(ConnectionConfig{
		Identifier:       cfg.Identifier,
		Host:             cfg.Host,
		Port:             cfg.Port,
		Secure:           cfg.Secure,
		Password:         cfg.Password,
		ClientID:         cfg.ClientID,
		ClientName:       cfg.ClientName,
		ClusterID:        cfg.ClusterID,
		RetryAmount:      cfg.RetryAmount,
		RetryDelay:       cfg.RetryDelay,
		ResumeStatus:     cfg.ResumeStatus,
		ResumeTimeoutSec: cfg.ResumeTimeoutSec,
	}, store, h)

	n.Rest = NewRestClient(RestConfig{
		Identifier:     cfg.Identifier,
		Host:           cfg.Host,
		Port:           cfg.Port,
		Secure:         cfg.Secure,
		Password:       cfg.Password,
		RequestTimeout: cfg.RequestTimeout,
		SessionID:      n.conn.SessionID,
		OnLost: func() {
			if onLost != nil {
				onLost(ErrNodeLost)
			}
		},
	})
	n.conn.SetRestClient(n.Rest)

	return n
}

// Identifier returns the node's configured identifier.
func (n *Node) Identifier() string { return n.cfg.Identifier }

// Priority returns the node's configured selection priority.
func (n *Node) Priority() int { return n.cfg.Priority }

// Connected reports whether the underlying WebSocket is currently up.
func (n *Node) Connected() bool { return n.conn.State() == Connected }

// State returns the underlying connection's lifecycle state.
func (n *Node) State() State { return n.conn.State() }

// Stats returns the most recently ingested resource stats snapshot.
func (n *Node) Stats() Stats { return n.conn.Stats() }

// SessionID returns the node's currently assigned WebSocket session id.
func (n *Node) SessionID() string { return n.conn.SessionID() }

// Info returns the node's cached capability descriptor, or nil if it has
// not been fetched yet via [Node.RefreshInfo].
func (n *Node) Info() *NodeInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.info
}

// RefreshInfo fetches and caches the node's capability descriptor.
func (n *Node) RefreshInfo(ctx context.Context) error {
	info, err := n.Rest.Info(ctx)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.info = info
	n.mu.Unlock()
	return nil
}

// SupportsSource reports whether the node's cached info advertises source
// managers for the given name (e.g. "youtube", "spotify"). Returns true
// when info has not been fetched yet, so callers default to "assume
// supported" rather than silently excluding every platform.
func (n *Node) SupportsSource(name string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.info == nil {
		return true
	}
	for _, sm := range n.info.SourceManagers {
		if sm == name {
			return true
		}
	}
	return false
}

// Connect dials the node's WebSocket connection.
func (n *Node) Connect(ctx context.Context) error {
	return n.conn.Connect(ctx)
}

// Close tears down the node's WebSocket connection. It does not migrate
// hosted players or issue any REST calls — that orchestration belongs to
// the manager, which knows about every player a node hosts.
func (n *Node) Close() error {
	return n.conn.Close()
}
