package autoplay

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/wavepool/wavepool/track"
)

// SpotifyConfig configures [NewSpotifyStrategy]'s token acquisition: the
// shared secret used to derive a time-based one-time password in place of a
// registered OAuth client, matching the open web player's anti-automation
// check.
type SpotifyConfig struct {
	Secret     []byte
	HTTPClient *http.Client

	// TokenURL and RecommendationsURL override the upstream Spotify hosts;
	// left unset, the real open.spotify.com/api.spotify.com endpoints are
	// used.
	TokenURL           string
	RecommendationsURL string
}

const (
	defaultSpotifyTokenURL           = "https://open.spotify.com/get_access_token"
	defaultSpotifyRecommendationsURL = "https://api.spotify.com/v1/recommendations"
)

// NewSpotifyStrategy returns the platform strategy that calls Spotify's
// recommendations endpoint seeded by the input track.
func NewSpotifyStrategy(cfg SpotifyConfig) StrategyFunc {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	secret := cfg.Secret
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultSpotifyTokenURL
	}
	recommendationsURL := cfg.RecommendationsURL
	if recommendationsURL == "" {
		recommendationsURL = defaultSpotifyRecommendationsURL
	}

	return func(ctx context.Context, h Helpers, seed track.Track) ([]track.Track, error) {
		spotifySeed, err := h.Reseed(ctx, seed, track.SourceSpotify)
		if err != nil {
			return nil, err
		}
		token, err := spotifyAccessToken(ctx, client, tokenURL, secret)
		if err != nil {
			return nil, err
		}
		candidateIDs, err := fetchSpotifyRecommendations(ctx, client, recommendationsURL, token, spotifySeed.Identifier)
		if err != nil {
			return nil, err
		}
		if len(candidateIDs) == 0 {
			return nil, nil
		}
		picked := candidateIDs[rand.Intn(len(candidateIDs))]
		return h.Search(ctx, "spotify:"+picked)
	}
}

func spotifyAccessToken(ctx context.Context, client *http.Client, tokenURL string, secret []byte) (string, error) {
	code := generateTOTP(secret, time.Now())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		tokenURL+"?reason=transport&productType=web-player&totp="+code, nil)
	if err != nil {
		return "", fmt.Errorf("autoplay: build spotify token request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("autoplay: spotify token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("autoplay: spotify token request: status %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("autoplay: decode spotify token: %w", err)
	}
	return body.AccessToken, nil
}

func fetchSpotifyRecommendations(ctx context.Context, client *http.Client, recommendationsURL, token, seedTrackID string) ([]string, error) {
	u := fmt.Sprintf("%s?seed_tracks=%s&limit=10", recommendationsURL, seedTrackID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("autoplay: build spotify recommendations request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("autoplay: spotify recommendations request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("autoplay: spotify recommendations: status %d", resp.StatusCode)
	}
	var body struct {
		Tracks []struct {
			ID string `json:"id"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("autoplay: decode spotify recommendations: %w", err)
	}
	ids := make([]string, 0, len(body.Tracks))
	for _, t := range body.Tracks {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// generateTOTP implements RFC 4226/6238's HOTP truncation over a counter
// derived from a 30-second time window, matching the 6-digit code the
// Spotify web player expects in its get_access_token query string.
func generateTOTP(secret []byte, at time.Time) string {
	counter := uint64(at.Unix() / 30)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(buf)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", truncated%1000000)
}
