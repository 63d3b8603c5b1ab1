// Package session persists the two pieces of state the manager needs to
// survive a process restart: the WebSocket session id a node assigned on
// resume-enabled connect, and a point-in-time snapshot of every live
// player. Both are stored as JSON files under a fixed working-directory
// sub-path, written with a temp-file-then-rename so a reader never
// observes a partially written file.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultRoot is the sub-path under the process working directory that
// holds session ids and player snapshots, matching the layout a restored
// process expects to find on disk.
const DefaultRoot = "wavepool/sessionData"

// PlayerSnapshot is the serialized form of one live player, as written by
// the manager before shutdown and read back on restart. Fields mirror the
// player's persisted state; back-references to the manager are
// deliberately absent.
type PlayerSnapshot struct {
	GuildID     string         `json:"guildId"`
	NodeID      string         `json:"nodeId"`
	VoiceChannelID string      `json:"voiceChannelId"`
	TextChannelID  string      `json:"textChannelId"`
	VoiceState  json.RawMessage `json:"voiceState,omitempty"`

	CurrentTrack json.RawMessage   `json:"currentTrack,omitempty"`
	Upcoming     []json.RawMessage `json:"upcoming,omitempty"`
	Previous     []json.RawMessage `json:"previous,omitempty"`

	Filters json.RawMessage `json:"filters,omitempty"`

	TrackRepeat   bool  `json:"trackRepeat"`
	QueueRepeat   bool  `json:"queueRepeat"`
	DynamicRepeat bool  `json:"dynamicRepeat"`
	Paused        bool  `json:"paused"`
	Volume        int   `json:"volume"`
	Position      int64 `json:"position"`

	IsAutoplay    bool `json:"isAutoplay"`
	AutoplayTries int  `json:"autoplayTries"`

	UserData map[string]any `json:"userData,omitempty"`
}

// Backend is the persistence surface [wavepool.Manager] needs: node session
// ids and per-guild player snapshots. [Store] is the default file-backed
// implementation; [PostgresStore] is an alternative backed by PostgreSQL.
type Backend interface {
	LoadSessionID(key string) (id string, ok bool, err error)
	SaveSessionID(key, id string) error
	SavePlayerSnapshot(snap PlayerSnapshot) error
	LoadPlayerSnapshot(guildID string) (PlayerSnapshot, error)
	ListPlayerSnapshots() ([]string, error)
	DeletePlayerSnapshot(guildID string) error
}

var _ Backend = (*Store)(nil)

// Store reads and writes session ids and player snapshots under root.
// Safe for concurrent use; at most one writer per key is serialized by an
// internal mutex, satisfying the "at most one writer per guildId" policy
// the snapshot files require.
type Store struct {
	root string
	mu   sync.Mutex
}

// NewStore returns a [Store] rooted at root, creating the directory tree
// if it does not yet exist. An empty root defaults to [DefaultRoot]
// resolved against the current working directory.
func NewStore(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(filepath.Join(root, "players"), 0o755); err != nil {
		return nil, fmt.Errorf("session: create store directories: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) sessionIDsPath() string {
	return filepath.Join(s.root, "sessionIds.json")
}

func (s *Store) playerPath(guildID string) string {
	return filepath.Join(s.root, "players", guildID+".json")
}

// SessionIDKey builds the "{identifier}:{clusterId}" lookup key used for
// both storing and reading a node's resumed session id.
func SessionIDKey(identifier string, clusterID int) string {
	return fmt.Sprintf("%s:%d", identifier, clusterID)
}

// LoadSessionID returns the session id stored under key, or "" with
// ok=false if no session id map exists yet or key is absent from it.
func (s *Store) LoadSessionID(key string) (id string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readSessionIDs()
	if err != nil {
		return "", false, err
	}
	id, ok = m[key]
	return id, ok, nil
}

// SaveSessionID persists id under key in the session id map, replacing any
// previous value, and atomically rewrites the whole file.
func (s *Store) SaveSessionID(key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readSessionIDs()
	if err != nil {
		return err
	}
	m[key] = id
	return writeJSONAtomic(s.sessionIDsPath(), m)
}

func (s *Store) readSessionIDs() (map[string]string, error) {
	data, err := os.ReadFile(s.sessionIDsPath())
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: read session id map: %w", err)
	}
	m := make(map[string]string)
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("session: decode session id map: %w", err)
	}
	return m, nil
}

// SavePlayerSnapshot writes snap to its guild's snapshot file, overwriting
// any previous snapshot for that guild.
func (s *Store) SavePlayerSnapshot(snap PlayerSnapshot) error {
	if snap.GuildID == "" {
		return fmt.Errorf("session: snapshot missing guildId")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.playerPath(snap.GuildID), snap)
}

// LoadPlayerSnapshot reads back the snapshot for guildID.
func (s *Store) LoadPlayerSnapshot(guildID string) (PlayerSnapshot, error) {
	var snap PlayerSnapshot
	data, err := os.ReadFile(s.playerPath(guildID))
	if err != nil {
		return snap, fmt.Errorf("session: read snapshot for %q: %w", guildID, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("session: decode snapshot for %q: %w", guildID, err)
	}
	return snap, nil
}

// ListPlayerSnapshots returns the guild ids of every snapshot currently on
// disk, used by loadPlayerStates to discover restorable players and by
// shutdown cleanup to find stale files.
func (s *Store) ListPlayerSnapshots() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "players"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: list snapshots: %w", err)
	}
	guildIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".json" {
			guildIDs = append(guildIDs, name[:len(name)-len(ext)])
		}
	}
	return guildIDs, nil
}

// DeletePlayerSnapshot removes the snapshot file for guildID, if any. It is
// not an error for the file to already be absent.
func (s *Store) DeletePlayerSnapshot(guildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.playerPath(guildID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: delete snapshot for %q: %w", guildID, err)
	}
	return nil
}

// writeJSONAtomic marshals v and replaces path with the result via a
// temp-file-write-then-rename, so concurrent readers never see a partial
// write and a crash mid-write never corrupts the previous contents.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("session: create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("session: rename into place: %w", err)
	}
	return nil
}
