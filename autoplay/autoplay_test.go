package autoplay_test

import (
	"context"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/wavepool/wavepool/autoplay"
	"github.com/wavepool/wavepool/internal/nodetest"
	"github.com/wavepool/wavepool/internal/session"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/track"
)

func newTestNode(t *testing.T, srv *nodetest.Server, sourceManagers []string) *node.Node {
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

	srv.SetInfoResponder(func() map[string]any {
		return map[string]any{
			"version":        map[string]any{"semver": "4.0.0"},
			"sourceManagers": sourceManagers,
			"filters":        []string{},
			"plugins":        []any{},
		}
	})
	if err := n.RefreshInfo(context.Background()); err != nil {
		t.Fatalf("RefreshInfo: %v", err)
	}
	return n
}

func seedTrack() track.Track {
	return track.Track{
		Encoded:    "seed-enc",
		Title:      "Seed Song",
		Author:     "Seed Author",
		URI:        "https://example.com/seed",
		SourceName: track.SourceYouTube,
		Identifier: "seed-id",
		CustomData: map[string]any{},
	}
}

func rawTrack(encoded, title, source string) map[string]any {
	return map[string]any{
		"encoded": encoded,
		"info": map[string]any{
			"identifier": encoded,
			"title":      title,
			"author":     "author",
			"length":     1000,
			"uri":        "https://example.com/" + encoded,
			"sourceName": source,
		},
	}
}

func TestResolve_FirstNonEmptyPlatformInPriorityOrderWins(t *testing.T) {
	srv := nodetest.New("pw")
	t.Cleanup(srv.Close)
	n := newTestNode(t, srv, []string{"youtube", "deezer"})

	srv.SetLoadTracksResponder(func(identifier string) map[string]any {
		if identifier == "dzrec:seed-id" {
			return map[string]any{
				"loadType": "search",
				"data":     []any{rawTrack("dz-1", "Deezer Rec", "deezer")},
			}
		}
		return map[string]any{"loadType": "empty", "data": map[string]any{}}
	})

	builder := track.NewBuilder()
	resolver := autoplay.New(autoplay.Config{
		Platforms: []track.Source{track.SourceYouTube, track.SourceDeezer},
	}, builder, map[track.Source]autoplay.StrategyFunc{
		track.SourceDeezer: autoplay.NewNodeRecommendationStrategy(track.SourceDeezer),
	}, nil)

	seed := seedTrack()
	seed.SourceName = track.SourceDeezer
	seed.Identifier = "seed-id"
	out, err := resolver.Resolve(context.Background(), n, seed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out) != 1 || out[0].Title != "Deezer Rec" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestResolve_FallsBackToMetadataWhenAllPlatformsEmpty(t *testing.T) {
	srv := nodetest.New("pw")
	t.Cleanup(srv.Close)
	n := newTestNode(t, srv, []string{"youtube"})

	srv.SetLoadTracksResponder(func(identifier string) map[string]any {
		if identifier == "youtube:Fallback Artist - Fallback Title" {
			return map[string]any{
				"loadType": "search",
				"data":     []any{rawTrack("fb-1", "Fallback Title", "youtube")},
			}
		}
		return map[string]any{"loadType": "empty", "data": map[string]any{}}
	})

	builder := track.NewBuilder()
	resolver := autoplay.New(autoplay.Config{
		Platforms:              []track.Source{track.SourceYouTube},
		DefaultSearchPlatform:  track.SourceYouTube,
	}, builder, map[track.Source]autoplay.StrategyFunc{
		track.SourceYouTube: func(ctx context.Context, h autoplay.Helpers, seed track.Track) ([]track.Track, error) {
			return nil, nil
		},
	}, fakeMetadata{artist: "Fallback Artist", title: "Fallback Title"})

	out, err := resolver.Resolve(context.Background(), n, seedTrack())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out) != 1 || out[0].Title != "Fallback Title" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestResolve_NoSupportedPlatformsGoesStraightToMetadata(t *testing.T) {
	srv := nodetest.New("pw")
	t.Cleanup(srv.Close)
	n := newTestNode(t, srv, []string{"youtube"})

	srv.SetLoadTracksResponder(func(identifier string) map[string]any {
		return map[string]any{
			"loadType": "search",
			"data":     []any{rawTrack("m-1", "Metadata Hit", "youtube")},
		}
	})

	builder := track.NewBuilder()
	resolver := autoplay.New(autoplay.Config{
		Platforms:             []track.Source{track.SourceSpotify},
		DefaultSearchPlatform: track.SourceYouTube,
	}, builder, map[track.Source]autoplay.StrategyFunc{
		track.SourceSpotify: func(ctx context.Context, h autoplay.Helpers, seed track.Track) ([]track.Track, error) {
			t.Fatal("spotify strategy should not run when node doesn't support it")
			return nil, nil
		},
	}, fakeMetadata{artist: "A", title: "Metadata Hit"})

	out, err := resolver.Resolve(context.Background(), n, seedTrack())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out) != 1 || out[0].Title != "Metadata Hit" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestResolve_NoMetadataConfiguredReturnsEmptyWithoutError(t *testing.T) {
	srv := nodetest.New("pw")
	t.Cleanup(srv.Close)
	n := newTestNode(t, srv, []string{"youtube"})
	srv.SetLoadTracksResponder(func(identifier string) map[string]any {
		return map[string]any{"loadType": "empty", "data": map[string]any{}}
	})

	builder := track.NewBuilder()
	resolver := autoplay.New(autoplay.Config{
		Platforms: []track.Source{track.SourceYouTube},
	}, builder, map[track.Source]autoplay.StrategyFunc{
		track.SourceYouTube: func(ctx context.Context, h autoplay.Helpers, seed track.Track) ([]track.Track, error) {
			return nil, nil
		},
	}, nil)

	out, err := resolver.Resolve(context.Background(), n, seedTrack())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no candidates, got %+v", out)
	}
}

func TestHelpers_ReseedSkipsSearchWhenAlreadyTargetPlatform(t *testing.T) {
	srv := nodetest.New("pw")
	t.Cleanup(srv.Close)
	n := newTestNode(t, srv, []string{"deezer"})
	srv.SetLoadTracksResponder(func(identifier string) map[string]any {
		t.Fatalf("unexpected search for %q: seed already matches target platform", identifier)
		return nil
	})

	h := autoplay.Helpers{Node: n, Builder: track.NewBuilder()}
	seed := seedTrack()
	seed.SourceName = track.SourceDeezer
	out, err := h.Reseed(context.Background(), seed, track.SourceDeezer)
	if err != nil {
		t.Fatalf("Reseed: %v", err)
	}
	if out.Identifier != seed.Identifier {
		t.Fatalf("expected unchanged seed, got %+v", out)
	}
}

func TestHelpers_ReseedResearchesOnTargetPlatformWhenMismatched(t *testing.T) {
	srv := nodetest.New("pw")
	t.Cleanup(srv.Close)
	n := newTestNode(t, srv, []string{"deezer"})
	srv.SetLoadTracksResponder(func(identifier string) map[string]any {
		if identifier == "deezer:Seed Author - Seed Song" {
			return map[string]any{
				"loadType": "search",
				"data":     []any{rawTrack("dz-seed", "Reseeded", "deezer")},
			}
		}
		return map[string]any{"loadType": "empty", "data": map[string]any{}}
	})

	h := autoplay.Helpers{Node: n, Builder: track.NewBuilder()}
	out, err := h.Reseed(context.Background(), seedTrack(), track.SourceDeezer)
	if err != nil {
		t.Fatalf("Reseed: %v", err)
	}
	if out.Title != "Reseeded" {
		t.Fatalf("unexpected reseed result: %+v", out)
	}
}

func TestHelpers_ReseedErrorsWhenNoMatchFound(t *testing.T) {
	srv := nodetest.New("pw")
	t.Cleanup(srv.Close)
	n := newTestNode(t, srv, []string{"deezer"})
	srv.SetLoadTracksResponder(func(identifier string) map[string]any {
		return map[string]any{"loadType": "empty", "data": map[string]any{}}
	})

	h := autoplay.Helpers{Node: n, Builder: track.NewBuilder()}
	if _, err := h.Reseed(context.Background(), seedTrack(), track.SourceDeezer); err == nil {
		t.Fatal("expected error when no reseed match is found")
	}
}

type fakeMetadata struct {
	artist, title string
	err           error
}

func (f fakeMetadata) SimilarTrack(ctx context.Context, artist, title string) (string, string, error) {
	return f.artist, f.title, f.err
}
