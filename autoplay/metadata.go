package autoplay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// MetadataServiceConfig configures [NewMetadataFallback].
type MetadataServiceConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewMetadataFallback returns a [MetadataLookup] backed by a third-party
// similar-track-by-(artist,title) API, consulted only once every platform
// strategy has returned no candidates. Returns a lookup that always
// reports "nothing found" if BaseURL or APIKey is unset, so callers can
// wire it unconditionally without a nil check.
func NewMetadataFallback(cfg MetadataServiceConfig) MetadataLookup {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &metadataLookup{cfg: cfg, client: client}
}

type metadataLookup struct {
	cfg    MetadataServiceConfig
	client *http.Client
}

func (m *metadataLookup) SimilarTrack(ctx context.Context, artist, title string) (string, string, error) {
	if m.cfg.APIKey == "" || m.cfg.BaseURL == "" {
		return "", "", nil
	}
	u := fmt.Sprintf("%s/similar?artist=%s&title=%s&api_key=%s",
		m.cfg.BaseURL, url.QueryEscape(artist), url.QueryEscape(title), url.QueryEscape(m.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", "", fmt.Errorf("autoplay: build metadata request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("autoplay: metadata request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", "", nil
	}
	if resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("autoplay: metadata request: status %d", resp.StatusCode)
	}

	var body struct {
		Artist string `json:"artist"`
		Title  string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", fmt.Errorf("autoplay: decode metadata response: %w", err)
	}
	return body.Artist, body.Title, nil
}
