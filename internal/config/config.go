// Package config provides the configuration schema, loader, and hot-reload
// watcher for the wavepool node pool and manager options.
package config

// LogLevel controls log verbosity for a wavepool-driven application.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// NodeSelection selects the load-aware policy used to pick a node for a new
// player when UsePriority is false.
type NodeSelection string

const (
	// SelectLeastPlayers picks the connected node with the fewest hosted
	// players. This is the default.
	SelectLeastPlayers NodeSelection = "leastPlayers"

	// SelectLeastLoad picks the connected node with the lowest reported
	// Lavalink-style CPU load (cpu.lavalinkLoad / cpu.cores).
	SelectLeastLoad NodeSelection = "leastLoad"
)

// IsValid reports whether s is a recognised node selection policy.
func (s NodeSelection) IsValid() bool {
	return s == SelectLeastPlayers || s == SelectLeastLoad
}

// SearchPlatform names a search/recommendation back end used as the default
// prefix for bare (non-URL) search queries and by the autoplay resolver.
type SearchPlatform string

const (
	PlatformYouTube    SearchPlatform = "youtube"
	PlatformSpotify    SearchPlatform = "spotify"
	PlatformDeezer     SearchPlatform = "deezer"
	PlatformSoundCloud SearchPlatform = "soundcloud"
	PlatformTidal      SearchPlatform = "tidal"
	PlatformVKMusic    SearchPlatform = "vkmusic"
	PlatformQobuz      SearchPlatform = "qobuz"
)

// searchPrefixes maps a [SearchPlatform] to the Lavalink identifier prefix
// used for bare-query searches against that platform (e.g. "ytsearch:").
var searchPrefixes = map[SearchPlatform]string{
	PlatformYouTube:    "ytsearch",
	PlatformSpotify:    "spsearch",
	PlatformDeezer:     "dzsearch",
	PlatformSoundCloud: "scsearch",
	PlatformTidal:      "tdsearch",
	PlatformVKMusic:    "vksearch",
	PlatformQobuz:      "qbsearch",
}

// Prefix returns the Lavalink search-identifier prefix for the platform, or
// the empty string if unrecognised.
func (p SearchPlatform) Prefix() string {
	return searchPrefixes[p]
}

// TrackPartial names a single Track field kept after partial-field
// projection (see the track package's Builder.Partial option).
type TrackPartial string

const (
	PartialTitle      TrackPartial = "title"
	PartialAuthor     TrackPartial = "author"
	PartialDuration   TrackPartial = "duration"
	PartialIdentifier TrackPartial = "identifier"
	PartialURI        TrackPartial = "uri"
	PartialArtworkURL TrackPartial = "artworkUrl"
	PartialISRC       TrackPartial = "isrc"
	PartialSourceName TrackPartial = "sourceName"
	PartialRequester  TrackPartial = "requester"
)

// Config is the root configuration structure loaded from a YAML file by
// [Load]/[LoadFromReader], mirroring the fields of the programmatic
// manager Options.
type Config struct {
	ClientID    string         `yaml:"client_id"`
	ClientName  string         `yaml:"client_name"`
	ClusterID   int            `yaml:"cluster_id"`
	LogLevel    LogLevel       `yaml:"log_level"`
	Nodes       []NodeConfig   `yaml:"nodes"`
	Autoplay    AutoplayConfig `yaml:"autoplay"`
	Search      SearchConfig   `yaml:"search"`
	Persistence Persistence    `yaml:"persistence"`

	// HealthAddr, if set, serves /healthz and /readyz on this address
	// (e.g. ":8080"). Leave empty to disable the health endpoint.
	HealthAddr string `yaml:"health_addr"`
}

// NodeConfig describes a single audio node entry in the pool.
type NodeConfig struct {
	// Identifier uniquely names this node across restarts; it keys the
	// on-disk session-ID map. Defaults to Host if empty.
	Identifier string `yaml:"identifier"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Secure   bool   `yaml:"secure"`

	// Priority weights probabilistic node selection when UsePriority is set
	// on the manager. 0 excludes the node from priority-based selection.
	Priority int `yaml:"priority"`

	RetryAmount int `yaml:"retry_amount"`
	RetryDelayMs int `yaml:"retry_delay_ms"`

	ResumeStatus    bool `yaml:"resume_status"`
	ResumeTimeoutSec int `yaml:"resume_timeout_sec"`

	RequestTimeoutMs int `yaml:"request_timeout_ms"`
}

// AutoplayConfig controls automatic recommendation chaining when a queue
// would otherwise end.
type AutoplayConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Platforms []SearchPlatform `yaml:"platforms"`
	Tries     int              `yaml:"tries"`

	// LastFmAPIKey enables the last-resort metadata lookup used once every
	// configured platform strategy returns no candidates.
	LastFmAPIKey string `yaml:"last_fm_api_key"`
}

// SearchConfig controls default search behaviour and track-field trimming.
type SearchConfig struct {
	DefaultPlatform           SearchPlatform `yaml:"default_platform"`
	Selection                 NodeSelection  `yaml:"node_selection"`
	UsePriority                bool           `yaml:"use_priority"`
	ReplaceYouTubeCredentials bool           `yaml:"replace_youtube_credentials"`
	BlockedWords               []string       `yaml:"blocked_words"`
	TrackPartial               []TrackPartial `yaml:"track_partial"`
	MaxPreviousTracks          int            `yaml:"max_previous_tracks"`
}

// Persistence selects and configures the session-snapshot backend.
type Persistence struct {
	// Backend is "file" (default) or "postgres".
	Backend string `yaml:"backend"`

	// Dir is the base directory for the file backend. Defaults to
	// "<cwd>/wavepool/sessionData".
	Dir string `yaml:"dir"`

	// PostgresDSN configures the postgres backend. Ignored for Backend="file".
	PostgresDSN string `yaml:"postgres_dsn"`
}
