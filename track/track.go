// Package track defines the canonical Track type played by a player's queue
// and the builder that canonicalizes raw audio-node track payloads into it.
package track

import "fmt"

// Source identifies the provider a track's audio was resolved against.
type Source string

const (
	SourceYouTube    Source = "youtube"
	SourceSpotify    Source = "spotify"
	SourceSoundCloud Source = "soundcloud"
	SourceDeezer     Source = "deezer"
	SourceTidal      Source = "tidal"
	SourceVKMusic    Source = "vkmusic"
	SourceQobuz      Source = "qobuz"
	SourceUnknown    Source = "unknown"
)

// thumbnailSizes maps the fixed set of YouTube thumbnail sizes accepted by
// [Track.DisplayThumbnail] to their image file names.
var thumbnailSizes = map[string]string{
	"default": "default.jpg",
	"mqdefault": "mqdefault.jpg",
	"hqdefault": "hqdefault.jpg",
	"sddefault": "sddefault.jpg",
	"maxresdefault": "maxresdefault.jpg",
}

// Track is an internal, canonical representation of a playable unit of
// audio. It is immutable aside from Title/Author normalization performed by
// the builder (see [Builder.Build]).
type Track struct {
	// Encoded is the opaque base64 identifier assigned by the hosting audio
	// node. It is always present, even under partial-field projection.
	Encoded string

	Title      string
	Author     string
	DurationMs int64
	Seekable   bool
	Stream     bool
	URI        string
	ArtworkURL string
	ISRC       string
	SourceName Source
	Identifier string

	// Requester identifies who queued this track, typically a chat-platform
	// user id. Autoplay-inserted tracks carry the player's cached bot-user
	// handle here.
	Requester any

	// PluginInfo carries plugin-supplied metadata from the hosting node,
	// opaque to this library.
	PluginInfo map[string]any

	// CustomData is an arbitrary, caller-owned metadata map. Always
	// initialized to a non-nil map by the builder.
	CustomData map[string]any
}

// DisplayThumbnail resolves a thumbnail URL for size. size must be one of
// "default", "mqdefault", "hqdefault", "sddefault", "maxresdefault"; any
// other value falls back to "default". Only meaningful for YouTube-sourced
// tracks — other sources return ArtworkURL unchanged.
func (t Track) DisplayThumbnail(size string) string {
	if t.SourceName != SourceYouTube {
		return t.ArtworkURL
	}
	file, ok := thumbnailSizes[size]
	if !ok {
		file = thumbnailSizes["default"]
	}
	return fmt.Sprintf("https://img.youtube.com/vi/%s/%s", t.Identifier, file)
}

// Keep applies a partial-field projection in place, dropping every field
// whose name (as listed in kept) is absent. Encoded is always retained
// regardless of kept's contents. An empty kept leaves t unchanged (no
// projection configured).
func (t *Track) Keep(kept map[string]bool) {
	if len(kept) == 0 {
		return
	}
	if !kept["title"] {
		t.Title = ""
	}
	if !kept["author"] {
		t.Author = ""
	}
	if !kept["duration"] {
		t.DurationMs = 0
	}
	if !kept["identifier"] {
		t.Identifier = ""
	}
	if !kept["uri"] {
		t.URI = ""
	}
	if !kept["artworkUrl"] {
		t.ArtworkURL = ""
	}
	if !kept["isrc"] {
		t.ISRC = ""
	}
	if !kept["sourceName"] {
		t.SourceName = ""
	}
	if !kept["requester"] {
		t.Requester = nil
	}
}
