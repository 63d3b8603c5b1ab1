package track

import (
	"regexp"
	"strings"
)

// RawTrack is the shape of a single track entry in an audio node's
// /v4/loadtracks or /v4/decodetracks response.
type RawTrack struct {
	Encoded string       `json:"encoded"`
	Info    RawTrackInfo `json:"info"`
	PluginInfo map[string]any `json:"pluginInfo"`
}

// RawTrackInfo is the "info" object nested inside [RawTrack].
type RawTrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl"`
	ISRC       string `json:"isrc"`
	SourceName string `json:"sourceName"`
}

// sourceAliases normalizes raw node source-name strings to the fixed
// [Source] enum.
var sourceAliases = map[string]Source{
	"youtube":    SourceYouTube,
	"ytmusic":    SourceYouTube,
	"spotify":    SourceSpotify,
	"soundcloud": SourceSoundCloud,
	"deezer":     SourceDeezer,
	"tidal":      SourceTidal,
	"vkmusic":    SourceVKMusic,
	"qobuz":      SourceQobuz,
}

// Builder canonicalizes [RawTrack] payloads into [Track] values, applying
// partial-field projection and optional YouTube title/author cleanup.
type Builder struct {
	partial                   map[string]bool
	replaceYouTubeCredentials bool
	blockedWords              []*regexp.Regexp
}

// Option configures a [Builder].
type Option func(*Builder)

// WithPartial restricts built tracks to the given field names. Valid names
// mirror the [Track] JSON-ish field vocabulary: title, author, duration,
// identifier, uri, artworkUrl, isrc, sourceName, requester. The opaque
// identifier (Encoded) is always retained.
func WithPartial(fields ...string) Option {
	return func(b *Builder) {
		if len(fields) == 0 {
			return
		}
		b.partial = make(map[string]bool, len(fields))
		for _, f := range fields {
			b.partial[f] = true
		}
	}
}

// WithYouTubeCredentialCleanup enables title/author normalization for
// YouTube-sourced tracks, stripping the given blocked words (matched
// case-insensitively as whole, regex-escaped tokens).
func WithYouTubeCredentialCleanup(blockedWords []string) Option {
	return func(b *Builder) {
		b.replaceYouTubeCredentials = true
		b.blockedWords = make([]*regexp.Regexp, 0, len(blockedWords))
		for _, w := range blockedWords {
			if w == "" {
				continue
			}
			b.blockedWords = append(b.blockedWords, regexp.MustCompile(`(?i)`+regexp.QuoteMeta(w)))
		}
	}
}

// NewBuilder returns a [Builder] configured by opts.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build canonicalizes raw into a [Track], attaching requester and an empty
// CustomData map, applying source normalization, YouTube cleanup (if
// enabled), and partial-field projection (if configured).
func (b *Builder) Build(raw RawTrack, requester any) Track {
	t := Track{
		Encoded:    raw.Encoded,
		Title:      raw.Info.Title,
		Author:     raw.Info.Author,
		DurationMs: raw.Info.Length,
		Seekable:   raw.Info.IsSeekable,
		Stream:     raw.Info.IsStream,
		URI:        raw.Info.URI,
		ArtworkURL: raw.Info.ArtworkURL,
		ISRC:       raw.Info.ISRC,
		Identifier: raw.Info.Identifier,
		Requester:  requester,
		PluginInfo: raw.PluginInfo,
		CustomData: map[string]any{},
	}

	if src, ok := sourceAliases[strings.ToLower(raw.Info.SourceName)]; ok {
		t.SourceName = src
	} else {
		t.SourceName = SourceUnknown
	}

	if t.SourceName == SourceYouTube && t.ArtworkURL == "" {
		t.ArtworkURL = t.DisplayThumbnail("default")
	}

	if b.replaceYouTubeCredentials && t.SourceName == SourceYouTube {
		b.cleanYouTubeCredentials(&t)
	}

	t.Keep(b.partial)
	return t
}

// BuildAll canonicalizes a slice of raw tracks, preserving order.
func (b *Builder) BuildAll(raws []RawTrack, requester any) []Track {
	out := make([]Track, len(raws))
	for i, raw := range raws {
		out[i] = b.Build(raw, requester)
	}
	return out
}

var (
	topicSuffix = regexp.MustCompile(`(?i)\s*-\s*Topic\s*$`)
	topicPrefix = regexp.MustCompile(`(?i)^\s*Topic\s*-\s*`)
	atPrefix    = regexp.MustCompile(`@\S*`)
	emptyBrackets = regexp.MustCompile(`\(\s*\)|\[\s*\]|\{\s*\}`)
)

// cleanYouTubeCredentials normalizes t.Title and t.Author in place: it
// removes the "- Topic"/"Topic -" auto-generated-channel markers, strips
// the builder's blocked-word list, balances brackets left dangling by that
// removal, drops now-empty bracket pairs and @-mention prefixes, and — when
// the title still contains " - " with a left side matching the cleaned
// author — splits it into author/title.
func (b *Builder) cleanYouTubeCredentials(t *Track) {
	t.Author = b.cleanField(t.Author)
	t.Title = b.cleanField(t.Title)

	if idx := strings.Index(t.Title, " - "); idx >= 0 {
		left := strings.TrimSpace(t.Title[:idx])
		if left != "" && strings.EqualFold(left, t.Author) {
			t.Author = left
			t.Title = strings.TrimSpace(t.Title[idx+3:])
		}
	}
}

// cleanField applies the shared normalization steps to a single string.
func (b *Builder) cleanField(s string) string {
	s = topicSuffix.ReplaceAllString(s, "")
	s = topicPrefix.ReplaceAllString(s, "")
	for _, re := range b.blockedWords {
		s = re.ReplaceAllString(s, "")
	}
	s = balanceBrackets(s)
	s = emptyBrackets.ReplaceAllString(s, "")
	s = atPrefix.ReplaceAllString(s, "")
	return strings.TrimSpace(collapseSpaces(s))
}

// balanceBrackets drops any bracket character that does not have a matching
// opposite within s, left to right, for each of (), [], {}.
func balanceBrackets(s string) string {
	pairs := []struct{ open, close byte }{{'(', ')'}, {'[', ']'}, {'{', '}'}}
	runes := []rune(s)
	for _, p := range pairs {
		depth := 0
		drop := make([]bool, len(runes))
		for i, r := range runes {
			switch byte(r) {
			case p.open:
				depth++
			case p.close:
				if depth == 0 {
					drop[i] = true
				} else {
					depth--
				}
			}
		}
		// Any opens left unmatched at end of string are dropped too.
		if depth > 0 {
			remaining := depth
			for i := len(runes) - 1; i >= 0 && remaining > 0; i-- {
				if byte(runes[i]) == p.open {
					drop[i] = true
					remaining--
				}
			}
		}
		kept := make([]rune, 0, len(runes))
		for i, r := range runes {
			if !drop[i] {
				kept = append(kept, r)
			}
		}
		runes = kept
	}
	return string(runes)
}

// collapseSpaces reduces runs of whitespace to a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
