package wavepool

import (
	"context"
	"fmt"
	"strings"

	"github.com/wavepool/wavepool/internal/config"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/track"
)

// SearchResult is the normalized outcome of [Manager.Search]: exactly one
// of Tracks (single/search load) or Playlist is populated, mirroring
// [node.LoadResult]'s discriminated shape without leaking the node
// package's wire types to callers.
type SearchResult struct {
	Type     node.LoadResultType
	Tracks   []track.Track
	Playlist *node.PlaylistInfo
	Error    string
}

// Search resolves query against the given node (or a freshly selected
// usable one if n is nil). A bare query (no "://" and no recognised
// platform prefix already present) is searched against
// Options.DefaultSearchPlatform.
func (m *Manager) Search(ctx context.Context, n *node.Node, query string) (SearchResult, error) {
	if n == nil {
		var err error
		n, err = m.useableNode()
		if err != nil {
			return SearchResult{}, err
		}
	}

	identifier := m.resolveIdentifier(query)
	result, err := n.Rest.LoadTracks(ctx, identifier)
	if err != nil {
		return SearchResult{}, fmt.Errorf("wavepool: search %q: %w", query, err)
	}

	out := SearchResult{Type: result.Type, Error: result.Error}
	if len(result.Tracks) > 0 {
		out.Tracks = m.builder.BuildAll(result.Tracks, nil)
	}
	out.Playlist = result.Playlist
	return out, nil
}

// resolveIdentifier prefixes a bare query with the default search
// platform's Lavalink search prefix; URLs and already-prefixed queries
// ("scsearch:", "ytsearch:", a platform name followed by ':', etc.) are
// passed through unchanged.
func (m *Manager) resolveIdentifier(query string) string {
	if strings.Contains(query, "://") {
		return query
	}
	if idx := strings.Index(query, ":"); idx > 0 && !strings.Contains(query[:idx], " ") {
		return query
	}
	prefix := config.SearchPlatform(m.opts.DefaultSearchPlatform).Prefix()
	if prefix == "" {
		return query
	}
	return prefix + ":" + query
}

// DecodeTrack converts a single opaque base64 track identifier back into a
// canonical [track.Track] without resolving anything from upstream.
func (m *Manager) DecodeTrack(ctx context.Context, n *node.Node, encoded string) (track.Track, error) {
	tracks, err := m.DecodeTracks(ctx, n, []string{encoded})
	if err != nil {
		return track.Track{}, err
	}
	if len(tracks) == 0 {
		return track.Track{}, fmt.Errorf("wavepool: decode track: no result for identifier")
	}
	return tracks[0], nil
}

// DecodeTracks converts opaque base64 track identifiers back into
// canonical [track.Track] values, using n (or a freshly selected usable
// node if n is nil).
func (m *Manager) DecodeTracks(ctx context.Context, n *node.Node, encoded []string) ([]track.Track, error) {
	if n == nil {
		var err error
		n, err = m.useableNode()
		if err != nil {
			return nil, err
		}
	}
	raws, err := n.Rest.DecodeTracks(ctx, encoded)
	if err != nil {
		return nil, fmt.Errorf("wavepool: decode tracks: %w", err)
	}
	return m.builder.BuildAll(raws, nil), nil
}
