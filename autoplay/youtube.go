package autoplay

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"

	"github.com/wavepool/wavepool/track"
)

// NewYouTubeStrategy returns the platform strategy that builds a YouTube
// mix URL from the seed's video id (…&list=RD<id>&index=N) and re-searches
// it, landing on a pseudo-random position within the generated mix.
func NewYouTubeStrategy() StrategyFunc {
	return func(ctx context.Context, h Helpers, seed track.Track) ([]track.Track, error) {
		ytSeed, err := h.Reseed(ctx, seed, track.SourceYouTube)
		if err != nil {
			return nil, err
		}
		id := youtubeVideoID(ytSeed)
		if id == "" {
			return nil, fmt.Errorf("autoplay: no youtube video id for %q", ytSeed.Title)
		}
		index := 2 + rand.Intn(23) // spec range: 2..24 inclusive
		mixURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s&list=RD%s&index=%d", id, id, index)
		return h.Search(ctx, mixURL)
	}
}

// youtubeVideoID extracts a video id from t, preferring the canonical
// Identifier and falling back to parsing the watch/short URL forms.
func youtubeVideoID(t track.Track) string {
	if t.Identifier != "" {
		return t.Identifier
	}
	u, err := url.Parse(t.URI)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	if strings.Contains(u.Host, "youtu.be") {
		return strings.TrimPrefix(u.Path, "/")
	}
	return ""
}
