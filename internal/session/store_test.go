package session_test

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/wavepool/wavepool/internal/session"
)

func newStore(t *testing.T) *session.Store {
	t.Helper()
	s, err := session.NewStore(filepath.Join(t.TempDir(), "sessionData"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestLoadSessionID_AbsentReturnsNotOK(t *testing.T) {
	s := newStore(t)
	_, ok, err := s.LoadSessionID(session.SessionIDKey("nodeA", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unseen key")
	}
}

func TestSaveAndLoadSessionID_RoundTrips(t *testing.T) {
	s := newStore(t)
	key := session.SessionIDKey("nodeA", 2)
	if err := s.SaveSessionID(key, "sess-123"); err != nil {
		t.Fatalf("SaveSessionID: %v", err)
	}
	got, ok, err := s.LoadSessionID(key)
	if err != nil {
		t.Fatalf("LoadSessionID: %v", err)
	}
	if !ok || got != "sess-123" {
		t.Errorf("got (%q, %v), want (sess-123, true)", got, ok)
	}
}

func TestSaveSessionID_PreservesOtherKeys(t *testing.T) {
	s := newStore(t)
	if err := s.SaveSessionID(session.SessionIDKey("nodeA", 0), "a"); err != nil {
		t.Fatalf("SaveSessionID: %v", err)
	}
	if err := s.SaveSessionID(session.SessionIDKey("nodeB", 0), "b"); err != nil {
		t.Fatalf("SaveSessionID: %v", err)
	}
	got, ok, _ := s.LoadSessionID(session.SessionIDKey("nodeA", 0))
	if !ok || got != "a" {
		t.Errorf("nodeA: got (%q, %v), want (a, true)", got, ok)
	}
}

func TestSavePlayerSnapshot_RequiresGuildID(t *testing.T) {
	s := newStore(t)
	if err := s.SavePlayerSnapshot(session.PlayerSnapshot{}); err == nil {
		t.Fatal("expected error for missing guildId")
	}
}

func TestSaveAndLoadPlayerSnapshot_RoundTrips(t *testing.T) {
	s := newStore(t)
	snap := session.PlayerSnapshot{
		GuildID:    "guild-1",
		NodeID:     "nodeA",
		Volume:     80,
		Paused:     true,
		AutoplayTries: 3,
	}
	if err := s.SavePlayerSnapshot(snap); err != nil {
		t.Fatalf("SavePlayerSnapshot: %v", err)
	}
	got, err := s.LoadPlayerSnapshot("guild-1")
	if err != nil {
		t.Fatalf("LoadPlayerSnapshot: %v", err)
	}
	if got.NodeID != "nodeA" || got.Volume != 80 || !got.Paused || got.AutoplayTries != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestListPlayerSnapshots_ReturnsGuildIDs(t *testing.T) {
	s := newStore(t)
	_ = s.SavePlayerSnapshot(session.PlayerSnapshot{GuildID: "g1"})
	_ = s.SavePlayerSnapshot(session.PlayerSnapshot{GuildID: "g2"})

	got, err := s.ListPlayerSnapshots()
	if err != nil {
		t.Fatalf("ListPlayerSnapshots: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "g1" || got[1] != "g2" {
		t.Errorf("got %v, want [g1 g2]", got)
	}
}

func TestDeletePlayerSnapshot_RemovesFileAndIsIdempotent(t *testing.T) {
	s := newStore(t)
	_ = s.SavePlayerSnapshot(session.PlayerSnapshot{GuildID: "g1"})

	if err := s.DeletePlayerSnapshot("g1"); err != nil {
		t.Fatalf("DeletePlayerSnapshot: %v", err)
	}
	if err := s.DeletePlayerSnapshot("g1"); err != nil {
		t.Errorf("second delete should be a no-op, got: %v", err)
	}
	got, err := s.ListPlayerSnapshots()
	if err != nil {
		t.Fatalf("ListPlayerSnapshots: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no snapshots left, got %v", got)
	}
}
