package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Search.DefaultPlatform == "" {
		cfg.Search.DefaultPlatform = PlatformYouTube
	}
	if cfg.Search.Selection == "" {
		cfg.Search.Selection = SelectLeastPlayers
	}
	if cfg.Search.MaxPreviousTracks <= 0 {
		cfg.Search.MaxPreviousTracks = 20
	}
	if cfg.Autoplay.Tries <= 0 {
		cfg.Autoplay.Tries = 3
	}
	if cfg.Persistence.Backend == "" {
		cfg.Persistence.Backend = "file"
	}
	if cfg.Persistence.Backend == "file" && cfg.Persistence.Dir == "" {
		cfg.Persistence.Dir = "wavepool/sessionData"
	}

	for i := range cfg.Nodes {
		n := &cfg.Nodes[i]
		if n.Identifier == "" {
			n.Identifier = n.Host
		}
		if n.Port == 0 {
			n.Port = 2333
		}
		if n.RetryAmount <= 0 {
			n.RetryAmount = 5
		}
		if n.RetryDelayMs <= 0 {
			n.RetryDelayMs = 3000
		}
		if n.ResumeTimeoutSec <= 0 {
			n.ResumeTimeoutSec = 60
		}
		if n.RequestTimeoutMs <= 0 {
			n.RequestTimeoutMs = 10000
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Search.DefaultPlatform != "" && cfg.Search.DefaultPlatform.Prefix() == "" {
		errs = append(errs, fmt.Errorf("search.default_platform %q is not a recognised search platform", cfg.Search.DefaultPlatform))
	}
	if cfg.Search.Selection != "" && !cfg.Search.Selection.IsValid() {
		errs = append(errs, fmt.Errorf("search.node_selection %q is invalid; valid values: leastPlayers, leastLoad", cfg.Search.Selection))
	}
	if cfg.Persistence.Backend != "" && cfg.Persistence.Backend != "file" && cfg.Persistence.Backend != "postgres" {
		errs = append(errs, fmt.Errorf("persistence.backend %q is invalid; valid values: file, postgres", cfg.Persistence.Backend))
	}
	if cfg.Persistence.Backend == "postgres" && cfg.Persistence.PostgresDSN == "" {
		errs = append(errs, errors.New("persistence.postgres_dsn is required when persistence.backend is postgres"))
	}

	identifiersSeen := make(map[string]int, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		prefix := fmt.Sprintf("nodes[%d]", i)
		if n.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host is required", prefix))
		}
		if n.Password == "" {
			slog.Warn("node configured without a password", "host", n.Host, "port", n.Port)
		}
		if prev, ok := identifiersSeen[n.Identifier]; ok {
			errs = append(errs, fmt.Errorf("%s.identifier %q is a duplicate of nodes[%d]", prefix, n.Identifier, prev))
		}
		identifiersSeen[n.Identifier] = i
		if n.Priority < 0 {
			errs = append(errs, fmt.Errorf("%s.priority must be >= 0", prefix))
		}
	}

	if len(cfg.Nodes) == 0 {
		slog.Warn("no nodes configured; the manager will have no node to connect to")
	}

	for i, p := range cfg.Autoplay.Platforms {
		if p.Prefix() == "" {
			errs = append(errs, fmt.Errorf("autoplay.platforms[%d] %q is not a recognised search platform", i, p))
		}
	}

	return errors.Join(errs...)
}
