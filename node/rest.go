package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wavepool/wavepool/internal/observe"
	"github.com/wavepool/wavepool/track"
)

// guildNotFoundMessage is the body message a node sends for operations
// against a guild it has no player for. The rest client normalizes this
// case to an empty, non-error result rather than surfacing it as a failure.
const guildNotFoundMessage = "Guild not found"

// ErrNodeLost is wrapped into the error returned by any rest call that
// receives an HTTP 404 whose body is not the "Guild not found" message,
// whatever the endpoint, taken to mean the node dropped the session the
// client believed was live. OnLost, if set, is
// invoked synchronously before the error is returned so the caller can
// trigger node destroy+recreate.
var ErrNodeLost = fmt.Errorf("node: session lost")

// PlayerInfo mirrors one player entry as reported by a node's REST API.
type PlayerInfo struct {
	GuildID   string          `json:"guildId"`
	Track     *track.RawTrack `json:"track,omitempty"`
	Volume    int             `json:"volume"`
	Paused    bool            `json:"paused"`
	State     PlayerStateInfo `json:"state"`
	Voice     VoiceInfo       `json:"voice"`
	Filters   json.RawMessage `json:"filters,omitempty"`
}

// PlayerStateInfo is the node-reported connection/playback position state
// nested in a [PlayerInfo].
type PlayerStateInfo struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int64 `json:"ping"`
}

// VoiceInfo is the node-reported voice credentials nested in a [PlayerInfo].
type VoiceInfo struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// LoadResultType enumerates the shapes a track-load response can take.
type LoadResultType string

const (
	LoadTypeTrack    LoadResultType = "track"
	LoadTypeSearch   LoadResultType = "search"
	LoadTypePlaylist LoadResultType = "playlist"
	LoadTypeEmpty    LoadResultType = "empty"
	LoadTypeError    LoadResultType = "error"
)

// LoadResult is the normalized response from loadTracks.
type LoadResult struct {
	Type     LoadResultType
	Tracks   []track.RawTrack
	Playlist *PlaylistInfo
	Error    string
}

// PlaylistInfo carries playlist metadata for [LoadTypePlaylist] results.
type PlaylistInfo struct {
	Name       string `json:"name"`
	SelectedTrack int `json:"selectedTrack"`
}

// NodeInfo mirrors the node's GET /v4/info response.
type NodeInfo struct {
	Version        VersionInfo `json:"version"`
	SourceManagers []string    `json:"sourceManagers"`
	Filters        []string    `json:"filters"`
	Plugins        []PluginInfo `json:"plugins"`
}

// VersionInfo is the semver block nested in [NodeInfo].
type VersionInfo struct {
	Semver string `json:"semver"`
}

// PluginInfo identifies one plugin advertised by a node.
type PluginInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// RestConfig configures a [RestClient].
type RestConfig struct {
	// Identifier names the node this client talks to, attached to every
	// span and metric this client records.
	Identifier string

	Host           string
	Port           int
	Secure         bool
	Password       string
	RequestTimeout time.Duration

	// SessionID is consulted for every session-scoped request; callers
	// supply a getter because the session id changes asynchronously on
	// "ready" frames received by the node connection sharing this client.
	SessionID func() string

	// OnLost, if set, is invoked once the first time a session-scoped
	// request comes back 404, signalling the hosting node should be
	// destroyed and recreated.
	OnLost func()
}

// RestClient issues typed REST operations against one audio node.
type RestClient struct {
	httpClient *http.Client
	baseURL    string
	password   string
	identifier string
	sessionID  func() string
	onLost     func()
}

// NewRestClient builds a [RestClient] from cfg.
func NewRestClient(cfg RestConfig) *RestClient {
	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sessionID := cfg.SessionID
	if sessionID == nil {
		sessionID = func() string { return "" }
	}
	onLost := cfg.OnLost
	if onLost != nil {
		var once sync.Once
		lost := onLost
		onLost = func() { once.Do(lost) }
	}
	return &RestClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		password:   cfg.Password,
		identifier: cfg.Identifier,
		sessionID:  sessionID,
		onLost:     onLost,
	}
}

// GetAllPlayers lists every player currently hosted by this node's session.
func (c *RestClient) GetAllPlayers(ctx context.Context) ([]PlayerInfo, error) {
	body, err := c.do(ctx, "getAllPlayers", http.MethodGet, c.sessionPath("/players"), nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var players []PlayerInfo
	if err := json.Unmarshal(body, &players); err != nil {
		return nil, fmt.Errorf("node: decode players: %w", err)
	}
	return players, nil
}

// UpdatePlayer PATCHes guildID's player with patch (a JSON object built by
// the caller — encodedTrack, filters, voice, paused, volume, position, any
// subset). noReplace mirrors the query parameter of the same name.
func (c *RestClient) UpdatePlayer(ctx context.Context, guildID string, patch []byte, noReplace bool) (*PlayerInfo, error) {
	path := c.sessionPath("/players/" + url.PathEscape(guildID))
	if noReplace {
		path += "?noReplace=true"
	} else {
		path += "?noReplace=false"
	}
	body, err := c.do(ctx, "updatePlayer", http.MethodPatch, path, patch)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var info PlayerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("node: decode updated player: %w", err)
	}
	return &info, nil
}

// DestroyPlayer deletes guildID's player from the node's session.
func (c *RestClient) DestroyPlayer(ctx context.Context, guildID string) error {
	_, err := c.do(ctx, "destroyPlayer", http.MethodDelete, c.sessionPath("/players/"+url.PathEscape(guildID)), nil)
	return err
}

// UpdateSession configures resume behaviour for this node's session.
func (c *RestClient) UpdateSession(ctx context.Context, resuming bool, timeoutSec int) error {
	body, err := json.Marshal(map[string]any{"resuming": resuming, "timeout": timeoutSec})
	if err != nil {
		return fmt.Errorf("node: marshal session update: %w", err)
	}
	_, err = c.do(ctx, "updateSession", http.MethodPatch, c.sessionPath(""), body)
	return err
}

// LoadTracks resolves identifier (a search query, a platform-prefixed
// query, or a direct URL) via the node's load-tracks endpoint.
func (c *RestClient) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	path := "/v4/loadtracks?identifier=" + url.QueryEscape(identifier)
	body, err := c.do(ctx, "loadTracks", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return &LoadResult{Type: LoadTypeEmpty}, nil
	}
	return parseLoadResult(body)
}

// DecodeTracks converts opaque base64 track identifiers back into raw
// track metadata without resolving anything from upstream.
func (c *RestClient) DecodeTracks(ctx context.Context, encoded []string) ([]track.RawTrack, error) {
	payload, err := json.Marshal(encoded)
	if err != nil {
		return nil, fmt.Errorf("node: marshal decode request: %w", err)
	}
	body, err := c.do(ctx, "decodeTracks", http.MethodPost, "/v4/decodetracks", payload)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var tracks []track.RawTrack
	if err := json.Unmarshal(body, &tracks); err != nil {
		return nil, fmt.Errorf("node: decode decoded tracks: %w", err)
	}
	return tracks, nil
}

// Info fetches the node's capability descriptor.
func (c *RestClient) Info(ctx context.Context) (*NodeInfo, error) {
	body, err := c.do(ctx, "info", http.MethodGet, "/v4/info", nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var info NodeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("node: decode info: %w", err)
	}
	return &info, nil
}

// Plugin issues a GET against a plugin-scoped endpoint rooted at the
// node's session-player path (e.g. lyrics, sponsor segments), returning
// the raw response body.
func (c *RestClient) Plugin(ctx context.Context, guildID, subpath string) ([]byte, error) {
	path := c.sessionPath("/players/" + url.PathEscape(guildID) + "/" + subpath)
	return c.do(ctx, "plugin", http.MethodGet, path, nil)
}

func (c *RestClient) sessionPath(suffix string) string {
	return "/v4/sessions/" + url.PathEscape(c.sessionID()) + suffix
}

// do issues one HTTP request and applies the node rest error policy:
// a "Guild not found" body is normalized to (nil, nil); a 404 response
// marks the node lost (invoking onLost) and returns ErrNodeLost; a
// transport-level failure (no response at all) is returned unwrapped for
// the caller to decide whether to retry.
func (c *RestClient) do(ctx context.Context, operation, method, path string, body []byte) ([]byte, error) {
	ctx, span := observe.StartSpan(ctx, "node.rest."+operation,
		trace.WithAttributes(observe.Attr("node", c.identifier), observe.Attr("operation", operation)))
	defer span.End()

	start := time.Now()
	respBody, status, err := c.doRequest(ctx, method, path, body)
	duration := time.Since(start)

	metrics := observe.DefaultMetrics()
	metrics.RESTDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		observe.Attr("node", c.identifier), observe.Attr("operation", operation)))
	metrics.RecordRESTRequest(ctx, c.identifier, operation, status)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return respBody, err
}

func (c *RestClient) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, "error", fmt.Errorf("node: build request: %w", err)
	}
	req.Header.Set("Authorization", c.password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "error", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "error", fmt.Errorf("node: read response: %w", err)
	}

	if gjson.GetBytes(respBody, "message").String() == guildNotFoundMessage {
		return nil, "not_found", nil
	}

	if resp.StatusCode == http.StatusNotFound {
		if c.onLost != nil {
			c.onLost()
		}
		return nil, "lost", ErrNodeLost
	}

	if resp.StatusCode >= 300 {
		return nil, "error", fmt.Errorf("node: %s %s: unexpected status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil, "ok", nil
	}
	return respBody, "ok", nil
}

func parseLoadResult(body []byte) (*LoadResult, error) {
	loadType := gjson.GetBytes(body, "loadType").String()
	result := &LoadResult{Type: LoadResultType(loadType)}

	switch result.Type {
	case LoadTypeTrack:
		var single track.RawTrack
		if err := json.Unmarshal([]byte(gjson.GetBytes(body, "data").Raw), &single); err != nil {
			return nil, fmt.Errorf("node: decode loaded track: %w", err)
		}
		result.Tracks = []track.RawTrack{single}
	case LoadTypeSearch:
		if err := json.Unmarshal([]byte(gjson.GetBytes(body, "data").Raw), &result.Tracks); err != nil {
			return nil, fmt.Errorf("node: decode search results: %w", err)
		}
	case LoadTypePlaylist:
		data := gjson.GetBytes(body, "data")
		var playlist struct {
			Info  PlaylistInfo      `json:"info"`
			Tracks []track.RawTrack `json:"tracks"`
		}
		if err := json.Unmarshal([]byte(data.Raw), &playlist); err != nil {
			return nil, fmt.Errorf("node: decode playlist: %w", err)
		}
		result.Playlist = &playlist.Info
		result.Tracks = playlist.Tracks
	case LoadTypeError:
		result.Error = gjson.GetBytes(body, "data.message").String()
	case LoadTypeEmpty:
		// no data
	default:
		return nil, fmt.Errorf("node: unrecognised loadType %q", loadType)
	}
	return result, nil
}

// PlaylistDuration sums every track's duration, used by the manager to
// attach a total-duration figure to playlist load results.
func PlaylistDuration(tracks []track.RawTrack) int64 {
	var total int64
	for _, t := range tracks {
		total += t.Info.Length
	}
	return total
}
