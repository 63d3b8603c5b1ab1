// Package autoplay resolves replacement tracks for a player whose queue is
// about to run dry: an ordered list of recommendation platforms is
// intersected with the hosting node's advertised source managers, each
// platform's strategy is raced concurrently, and the first non-empty result
// in platform-priority order wins. If every platform comes back empty, a
// configured metadata service is queried for a similar (artist, title) pair
// as a last resort.
package autoplay

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/wavepool/wavepool/internal/resilience"
	"github.com/wavepool/wavepool/node"
	"github.com/wavepool/wavepool/track"
)

// StrategyFunc resolves 0..N candidate tracks for one platform given an
// ending track as the recommendation seed. Implementations must not
// include seed's own URI in the result — [Resolver.Resolve] also filters
// this defensively.
type StrategyFunc func(ctx context.Context, h Helpers, seed track.Track) ([]track.Track, error)

// Helpers are the collaborators every platform strategy needs: the node to
// search/recommend against and the builder to canonicalize raw results.
type Helpers struct {
	Node    *node.Node
	Builder *track.Builder
}

// Search resolves query (a platform-prefixed identifier, a direct URL, or
// an already-built recommendation handle) against h.Node's loadtracks
// endpoint, canonicalizing any results through h.Builder.
func (h Helpers) Search(ctx context.Context, query string) ([]track.Track, error) {
	result, err := h.Node.Rest.LoadTracks(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("autoplay: search %q: %w", query, err)
	}
	if result == nil || len(result.Tracks) == 0 {
		return nil, nil
	}
	return h.Builder.BuildAll(result.Tracks, nil), nil
}

// Reseed returns seed unchanged if it already originates from platform,
// otherwise re-searches "<author> - <title>" on platform via the node and
// substitutes the top match — the "if the input track's URI is not of the
// target platform, re-search first" rule shared by every strategy.
func (h Helpers) Reseed(ctx context.Context, seed track.Track, platform track.Source) (track.Track, error) {
	if seed.SourceName == platform {
		return seed, nil
	}
	matches, err := h.Search(ctx, fmt.Sprintf("%s:%s - %s", platform, seed.Author, seed.Title))
	if err != nil {
		return track.Track{}, err
	}
	if len(matches) == 0 {
		return track.Track{}, fmt.Errorf("autoplay: no %s match for %q", platform, seed.Title)
	}
	return matches[0], nil
}

// MetadataLookup resolves a similar (artist, title) pair as a last resort
// when every platform strategy returns nothing.
type MetadataLookup interface {
	SimilarTrack(ctx context.Context, artist, title string) (resolvedArtist, resolvedTitle string, err error)
}

// Config configures a [Resolver].
type Config struct {
	// Platforms is the ordered priority list; only entries the hosting
	// node actually advertises are consulted for a given Resolve call.
	Platforms []track.Source

	// DefaultSearchPlatform is used to resolve the metadata-service
	// fallback's (artist, title) pair into a playable track.
	DefaultSearchPlatform track.Source

	// CircuitBreaker tunes the per-platform breaker guarding each
	// strategy; Name is overwritten per-platform.
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Resolver implements the C6 autoplay lookup.
type Resolver struct {
	cfg        Config
	builder    *track.Builder
	strategies map[track.Source]StrategyFunc
	breakers   map[track.Source]*resilience.CircuitBreaker
	metadata   MetadataLookup
}

// New builds a [Resolver]. strategies need not cover every platform named
// in cfg.Platforms — platforms with no registered strategy are silently
// skipped. metadata may be nil to disable the last-resort fallback.
func New(cfg Config, builder *track.Builder, strategies map[track.Source]StrategyFunc, metadata MetadataLookup) *Resolver {
	if cfg.DefaultSearchPlatform == "" {
		cfg.DefaultSearchPlatform = track.SourceYouTube
	}
	breakers := make(map[track.Source]*resilience.CircuitBreaker, len(strategies))
	for platform := range strategies {
		cbCfg := cfg.CircuitBreaker
		cbCfg.Name = "autoplay:" + string(platform)
		breakers[platform] = resilience.NewCircuitBreaker(cbCfg)
	}
	return &Resolver{cfg: cfg, builder: builder, strategies: strategies, breakers: breakers, metadata: metadata}
}

// Resolve produces candidate next tracks for seed, hosted by n.
func (r *Resolver) Resolve(ctx context.Context, n *node.Node, seed track.Track) ([]track.Track, error) {
	platforms := r.intersect(n)
	if len(platforms) == 0 {
		return r.metadataFallback(ctx, n, seed)
	}

	results := make([][]track.Track, len(platforms))
	g, gctx := errgroup.WithContext(ctx)
	h := Helpers{Node: n, Builder: r.builder}
	for i, platform := range platforms {
		i, platform := i, platform
		g.Go(func() error {
			fn := r.strategies[platform]
			if fn == nil {
				return nil
			}
			breaker := r.breakers[platform]
			err := breaker.Execute(func() error {
				tracks, err := fn(gctx, h, seed)
				if err != nil {
					return err
				}
				results[i] = filterSeedURI(tracks, seed.URI)
				return nil
			})
			if err != nil {
				slog.Debug("autoplay: platform strategy failed", "platform", platform, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() // individual failures are absorbed; a surviving non-empty result still wins

	for _, tracks := range results {
		if len(tracks) > 0 {
			return tracks, nil
		}
	}
	return r.metadataFallback(ctx, n, seed)
}

// intersect returns cfg.Platforms filtered to those n actually advertises.
func (r *Resolver) intersect(n *node.Node) []track.Source {
	out := make([]track.Source, 0, len(r.cfg.Platforms))
	for _, p := range r.cfg.Platforms {
		if n.SupportsSource(string(p)) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Resolver) metadataFallback(ctx context.Context, n *node.Node, seed track.Track) ([]track.Track, error) {
	if r.metadata == nil {
		return nil, nil
	}
	artist, title, err := r.metadata.SimilarTrack(ctx, seed.Author, seed.Title)
	if err != nil {
		return nil, fmt.Errorf("autoplay: metadata fallback: %w", err)
	}
	if artist == "" && title == "" {
		return nil, nil
	}
	h := Helpers{Node: n, Builder: r.builder}
	query := fmt.Sprintf("%s:%s - %s", r.cfg.DefaultSearchPlatform, artist, title)
	return h.Search(ctx, query)
}

func filterSeedURI(tracks []track.Track, seedURI string) []track.Track {
	if seedURI == "" {
		return tracks
	}
	out := make([]track.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.URI != seedURI {
			out = append(out, t)
		}
	}
	return out
}
