package autoplay

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/wavepool/wavepool/track"
)

// SoundCloudConfig configures [NewSoundCloudStrategy].
type SoundCloudConfig struct {
	HTTPClient *http.Client
}

// NewSoundCloudStrategy returns the platform strategy that scrapes a
// track's "/recommended" page for anchor hrefs, since SoundCloud has no
// public recommendations API.
func NewSoundCloudStrategy(cfg SoundCloudConfig) StrategyFunc {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, h Helpers, seed track.Track) ([]track.Track, error) {
		scSeed, err := h.Reseed(ctx, seed, track.SourceSoundCloud)
		if err != nil {
			return nil, err
		}
		hrefs, err := fetchRecommendedHrefs(ctx, client, scSeed.URI+"/recommended")
		if err != nil {
			return nil, err
		}
		if len(hrefs) == 0 {
			return nil, nil
		}
		picked := hrefs[rand.Intn(len(hrefs))]
		return h.Search(ctx, "soundcloud:"+picked)
	}
}

func fetchRecommendedHrefs(ctx context.Context, client *http.Client, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("autoplay: build soundcloud request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("autoplay: soundcloud request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("autoplay: soundcloud request: status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("autoplay: parse soundcloud page: %w", err)
	}

	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && isRecommendedTrackHref(attr.Val) {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hrefs, nil
}

// isRecommendedTrackHref keeps relative track-page links, discarding set,
// recommended-page, and user-profile links that share the same markup.
func isRecommendedTrackHref(href string) bool {
	if !strings.HasPrefix(href, "/") {
		return false
	}
	if strings.HasSuffix(href, "/recommended") || strings.Contains(href, "/sets/") {
		return false
	}
	return strings.Count(href, "/") == 2
}
