package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; node connection
// parameters (host/port/password/secure) require a full node recreation and
// are surfaced via NodesChanged rather than applied as an in-place update.
type ConfigDiff struct {
	NodesAdded       []string // identifiers of nodes present only in the new config
	NodesRemoved     []string // identifiers of nodes present only in the old config
	NodesChanged     []string // identifiers whose connection parameters changed
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	AutoplayChanged  bool
	SearchChanged    bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}

	oldNodes := make(map[string]*NodeConfig, len(old.Nodes))
	for i := range old.Nodes {
		oldNodes[old.Nodes[i].Identifier] = &old.Nodes[i]
	}
	newNodes := make(map[string]*NodeConfig, len(new.Nodes))
	for i := range new.Nodes {
		newNodes[new.Nodes[i].Identifier] = &new.Nodes[i]
	}

	for id, oldNode := range oldNodes {
		newNode, exists := newNodes[id]
		if !exists {
			d.NodesRemoved = append(d.NodesRemoved, id)
			continue
		}
		if nodeConnectionChanged(oldNode, newNode) {
			d.NodesChanged = append(d.NodesChanged, id)
		}
	}
	for id := range newNodes {
		if _, exists := oldNodes[id]; !exists {
			d.NodesAdded = append(d.NodesAdded, id)
		}
	}

	if !autoplayEqual(old.Autoplay, new.Autoplay) {
		d.AutoplayChanged = true
	}
	if !searchEqual(old.Search, new.Search) {
		d.SearchChanged = true
	}

	return d
}

// nodeConnectionChanged reports whether a or b differ in any field that
// requires tearing down and recreating the WebSocket connection.
func nodeConnectionChanged(a, b *NodeConfig) bool {
	return a.Host != b.Host ||
		a.Port != b.Port ||
		a.Password != b.Password ||
		a.Secure != b.Secure
}

func autoplayEqual(a, b AutoplayConfig) bool {
	if a.Enabled != b.Enabled || a.Tries != b.Tries || a.LastFmAPIKey != b.LastFmAPIKey {
		return false
	}
	if len(a.Platforms) != len(b.Platforms) {
		return false
	}
	for i := range a.Platforms {
		if a.Platforms[i] != b.Platforms[i] {
			return false
		}
	}
	return true
}

func searchEqual(a, b SearchConfig) bool {
	if a.DefaultPlatform != b.DefaultPlatform ||
		a.Selection != b.Selection ||
		a.UsePriority != b.UsePriority ||
		a.ReplaceYouTubeCredentials != b.ReplaceYouTubeCredentials ||
		a.MaxPreviousTracks != b.MaxPreviousTracks {
		return false
	}
	if len(a.BlockedWords) != len(b.BlockedWords) || len(a.TrackPartial) != len(b.TrackPartial) {
		return false
	}
	for i := range a.BlockedWords {
		if a.BlockedWords[i] != b.BlockedWords[i] {
			return false
		}
	}
	for i := range a.TrackPartial {
		if a.TrackPartial[i] != b.TrackPartial[i] {
			return false
		}
	}
	return true
}

// HasChanges reports whether the diff carries any detected change.
func (d ConfigDiff) HasChanges() bool {
	return len(d.NodesAdded) > 0 || len(d.NodesRemoved) > 0 || len(d.NodesChanged) > 0 ||
		d.LogLevelChanged || d.AutoplayChanged || d.SearchChanged
}
