package autoplay

import (
	"context"
	"fmt"

	"github.com/wavepool/wavepool/track"
)

// nodeRecommendationPrefixes maps each node-hosted recommendation platform
// to the identifier prefix its hosting node's loadtracks endpoint expects.
var nodeRecommendationPrefixes = map[track.Source]string{
	track.SourceDeezer:  "dzrec",
	track.SourceTidal:   "tdrec",
	track.SourceVKMusic: "vkrec",
	track.SourceQobuz:   "qbrec",
}

// NewNodeRecommendationStrategy returns the platform strategy shared by
// deezer, tidal, vkmusic, and qobuz: each resolves recommendations entirely
// through the hosting node's loadtracks endpoint via a fixed prefix, with
// no external HTTP call of its own.
func NewNodeRecommendationStrategy(platform track.Source) StrategyFunc {
	prefix, ok := nodeRecommendationPrefixes[platform]
	return func(ctx context.Context, h Helpers, seed track.Track) ([]track.Track, error) {
		if !ok {
			return nil, fmt.Errorf("autoplay: %s has no node recommendation prefix", platform)
		}
		platformSeed, err := h.Reseed(ctx, seed, platform)
		if err != nil {
			return nil, err
		}
		return h.Search(ctx, fmt.Sprintf("%s:%s", prefix, platformSeed.Identifier))
	}
}
