// Command example wires a minimal Discord bot to a wavepool manager: one
// node pool, one slash-free text-trigger player per guild, autoplay, and
// crash-safe state persisted across restarts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wavepool/wavepool"
	"github.com/wavepool/wavepool/autoplay"
	"github.com/wavepool/wavepool/internal/config"
	"github.com/wavepool/wavepool/internal/health"
	"github.com/wavepool/wavepool/internal/observe"
	"github.com/wavepool/wavepool/internal/session"
	"github.com/wavepool/wavepool/track"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wavepool: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wavepool: %v\n", err)
		}
		return 1
	}
	slog.SetDefault(newLogger(cfg.LogLevel))

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: cfg.ClientName,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Error("telemetry shutdown error", "err", err)
		}
	}()

	store, err := buildSessionStore(context.Background(), cfg.Persistence)
	if err != nil {
		slog.Error("failed to open session store", "err", err)
		return 1
	}

	discord, err := discordgo.New("Bot " + os.Getenv("WAVEPOOL_DISCORD_TOKEN"))
	if err != nil {
		slog.Error("failed to create discord session", "err", err)
		return 1
	}
	discord.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	mgr, err := wavepool.New(wavepool.Options{
		ClientID:                  cfg.ClientID,
		ClientName:                cfg.ClientName,
		ClusterID:                 cfg.ClusterID,
		DefaultSearchPlatform:     track.Source(cfg.Search.DefaultPlatform),
		AutoplayEnabled:           cfg.Autoplay.Enabled,
		AutoplaySearchPlatforms:  toTrackSources(cfg.Autoplay.Platforms),
		AutoplayTries:             cfg.Autoplay.Tries,
		MaxPreviousTracks:         cfg.Search.MaxPreviousTracks,
		ReplaceYouTubeCredentials: cfg.Search.ReplaceYouTubeCredentials,
		BlockedWords:              cfg.Search.BlockedWords,
		TrackPartial:              toStringSlice(cfg.Search.TrackPartial),
		UsePriority:               cfg.Search.UsePriority,
		NodeSelection:             cfg.Search.Selection,
		Send:                      makeVoiceSender(discord),
		Autoplay:                  buildAutoplayResolver(cfg, buildTrackBuilder(cfg)),
		SessionStore:              store,
	})
	if err != nil {
		slog.Error("failed to create manager", "err", err)
		return 1
	}

	registerDiscordHandlers(discord, mgr)

	if cfg.HealthAddr != "" {
		srv := startHealthServer(cfg.HealthAddr, mgr)
		defer srv.Close()
	}

	watcher, err := config.NewWatcher(*configPath, func(old, updated *config.Config) {
		applyConfigDiff(mgr, old, updated)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := discord.Open(); err != nil {
		slog.Error("failed to open discord session", "err", err)
		return 1
	}
	defer discord.Close()

	for _, n := range cfg.Nodes {
		if _, err := mgr.CreateNode(ctx, wavepool.NodeOptions{
			Identifier:       n.Identifier,
			Host:             n.Host,
			Port:             n.Port,
			Password:         n.Password,
			Secure:           n.Secure,
			Priority:         n.Priority,
			RetryAmount:      n.RetryAmount,
			RetryDelay:       time.Duration(n.RetryDelayMs) * time.Millisecond,
			ResumeStatus:     n.ResumeStatus,
			ResumeTimeoutSec: n.ResumeTimeoutSec,
			RequestTimeout:   time.Duration(n.RequestTimeoutMs) * time.Millisecond,
		}); err != nil {
			slog.Error("failed to connect node", "node", n.Identifier, "err", err)
		}
	}

	if restored, err := mgr.LoadPlayerStates(ctx, ""); err != nil {
		slog.Error("failed to load player states", "err", err)
	} else if len(restored) > 0 {
		slog.Info("restored players from previous session", "count", len(restored))
	}

	slog.Info("wavepool ready — press Ctrl+C to shut down")
	<-ctx.Done()

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := mgr.HandleShutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSessionStore opens the session.Backend named by cfg: the file-backed
// store by default, or a PostgreSQL-backed store when cfg.Backend is
// "postgres".
func buildSessionStore(ctx context.Context, cfg config.Persistence) (session.Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return session.NewStore(cfg.Dir)
	case "postgres":
		return session.NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("wavepool: persistence backend %q not supported", cfg.Backend)
	}
}

// applyConfigDiff reacts to a config.Watcher reload by creating, destroying,
// or recreating nodes to match the new node list, and swapping the default
// logger if the log level changed. Autoplay/search changes are reported by
// [config.Diff] but take effect only on the next restart — the manager
// builds its autoplay resolver and search options once, at construction.
func applyConfigDiff(mgr *wavepool.Manager, old, updated *config.Config) {
	diff := config.Diff(old, updated)
	if diff.LogLevelChanged {
		slog.SetDefault(newLogger(diff.NewLogLevel))
	}

	byID := make(map[string]config.NodeConfig, len(updated.Nodes))
	for _, n := range updated.Nodes {
		byID[n.Identifier] = n
	}

	for _, id := range append(append([]string{}, diff.NodesRemoved...), diff.NodesChanged...) {
		if err := mgr.DestroyNode(id); err != nil {
			slog.Error("config reload: failed to destroy node", "node", id, "err", err)
		}
	}
	for _, id := range append(append([]string{}, diff.NodesAdded...), diff.NodesChanged...) {
		n, ok := byID[id]
		if !ok {
			continue
		}
		if _, err := mgr.CreateNode(context.Background(), wavepool.NodeOptions{
			Identifier:       n.Identifier,
			Host:             n.Host,
			Port:             n.Port,
			Password:         n.Password,
			Secure:           n.Secure,
			Priority:         n.Priority,
			RetryAmount:      n.RetryAmount,
			RetryDelay:       time.Duration(n.RetryDelayMs) * time.Millisecond,
			ResumeStatus:     n.ResumeStatus,
			ResumeTimeoutSec: n.ResumeTimeoutSec,
			RequestTimeout:   time.Duration(n.RequestTimeoutMs) * time.Millisecond,
		}); err != nil {
			slog.Error("config reload: failed to create node", "node", id, "err", err)
		}
	}
	if diff.LogLevelChanged || len(diff.NodesAdded) > 0 || len(diff.NodesRemoved) > 0 || len(diff.NodesChanged) > 0 {
		slog.Info("config reload applied",
			"nodesAdded", len(diff.NodesAdded), "nodesRemoved", len(diff.NodesRemoved), "nodesChanged", len(diff.NodesChanged))
	}
}

// startHealthServer serves /healthz, /readyz, and /metrics on addr in the
// background. Readiness requires at least one connected node in mgr's pool;
// /metrics exposes the OTel Prometheus exporter bridge started by
// observe.InitProvider for scraping.
func startHealthServer(addr string, mgr *wavepool.Manager) *http.Server {
	h := health.New(health.Checker{
		Name: "nodes",
		Check: func(ctx context.Context) error {
			for _, n := range mgr.Nodes() {
				if n.Connected() {
					return nil
				}
			}
			return errors.New("no connected nodes")
		},
	})
	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: observe.Middleware(observe.DefaultMetrics())(mux)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("health server stopped", "err", err)
		}
	}()
	return srv
}

// makeVoiceSender adapts discordgo's raw gateway send into the
// player.Dependencies.Send shape the manager wires into every player.
func makeVoiceSender(discord *discordgo.Session) func(guildID string, payload map[string]any) error {
	return func(guildID string, payload map[string]any) error {
		d, _ := payload["d"].(map[string]any)
		channelID, _ := d["channel_id"].(string)
		selfMute, _ := d["self_mute"].(bool)
		selfDeaf, _ := d["self_deaf"].(bool)
		return discord.ChannelVoiceJoinManual(guildID, channelID, selfMute, selfDeaf)
	}
}

// registerDiscordHandlers wires VOICE_SERVER_UPDATE/VOICE_STATE_UPDATE
// dispatches into the manager's voice-packet routing, plus a minimal
// "!play <query>" text trigger for demonstration.
func registerDiscordHandlers(discord *discordgo.Session, mgr *wavepool.Manager) {
	discord.AddHandler(func(s *discordgo.Session, vsu *discordgo.VoiceServerUpdate) {
		if err := mgr.UpdateVoiceServer(context.Background(), vsu); err != nil {
			slog.Error("voice server update failed", "guild", vsu.GuildID, "err", err)
		}
	})
	discord.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if vs.UserID != s.State.User.ID {
			return
		}
		if err := mgr.UpdateVoiceState(context.Background(), vs.VoiceState); err != nil {
			slog.Error("voice state update failed", "guild", vs.GuildID, "err", err)
		}
	})
	discord.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		handlePlayCommand(context.Background(), mgr, s, m)
	})
}

func handlePlayCommand(ctx context.Context, mgr *wavepool.Manager, s *discordgo.Session, m *discordgo.MessageCreate) {
	if !strings.HasPrefix(m.Content, "!play ") {
		return
	}
	query := strings.TrimPrefix(m.Content, "!play ")

	channel, err := s.State.Channel(m.ChannelID)
	if err != nil {
		return
	}

	p, err := mgr.CreatePlayer(ctx, wavepool.CreatePlayerOptions{
		GuildID:       channel.GuildID,
		TextChannelID: m.ChannelID,
		BotUserID:     s.State.User.ID,
	})
	if err != nil {
		slog.Error("create player failed", "guild", channel.GuildID, "err", err)
		return
	}

	result, err := mgr.Search(ctx, p.Node(), query)
	if err != nil || len(result.Tracks) == 0 {
		slog.Warn("search returned nothing", "query", query, "err", err)
		return
	}
	p.Queue().Add([]track.Track{result.Tracks[0]})
	if !p.Playing() {
		_ = p.Play(ctx)
	}
}

// buildTrackBuilder mirrors the options the manager itself applies to its
// own builder, so autoplay-resolved tracks are canonicalized identically.
func buildTrackBuilder(cfg *config.Config) *track.Builder {
	opts := []track.Option{track.WithPartial(toStringSlice(cfg.Search.TrackPartial)...)}
	if cfg.Search.ReplaceYouTubeCredentials {
		opts = append(opts, track.WithYouTubeCredentialCleanup(cfg.Search.BlockedWords))
	}
	return track.NewBuilder(opts...)
}

// buildAutoplayResolver wires every autoplay strategy available from the
// corpus to its matching platform, and the last.fm-style metadata fallback
// if an API key is configured.
func buildAutoplayResolver(cfg *config.Config, builder *track.Builder) *autoplay.Resolver {
	strategies := map[track.Source]autoplay.StrategyFunc{
		track.SourceDeezer:     autoplay.NewNodeRecommendationStrategy(track.SourceDeezer),
		track.SourceTidal:      autoplay.NewNodeRecommendationStrategy(track.SourceTidal),
		track.SourceVKMusic:    autoplay.NewNodeRecommendationStrategy(track.SourceVKMusic),
		track.SourceQobuz:      autoplay.NewNodeRecommendationStrategy(track.SourceQobuz),
		track.SourceSpotify:    autoplay.NewSpotifyStrategy(autoplay.SpotifyConfig{Secret: []byte(os.Getenv("WAVEPOOL_SPOTIFY_SECRET"))}),
		track.SourceSoundCloud: autoplay.NewSoundCloudStrategy(autoplay.SoundCloudConfig{}),
		track.SourceYouTube:    autoplay.NewYouTubeStrategy(),
	}

	var metadata autoplay.MetadataLookup
	if cfg.Autoplay.LastFmAPIKey != "" {
		metadata = autoplay.NewMetadataFallback(autoplay.MetadataServiceConfig{
			BaseURL: "https://ws.audioscrobbler.com/2.0",
			APIKey:  cfg.Autoplay.LastFmAPIKey,
		})
	}

	return autoplay.New(autoplay.Config{
		Platforms:             toTrackSources(cfg.Autoplay.Platforms),
		DefaultSearchPlatform: track.Source(cfg.Search.DefaultPlatform),
	}, builder, strategies, metadata)
}

func toTrackSources(platforms []config.SearchPlatform) []track.Source {
	out := make([]track.Source, len(platforms))
	for i, p := range platforms {
		out[i] = track.Source(p)
	}
	return out
}

func toStringSlice(partials []config.TrackPartial) []string {
	out := make([]string, len(partials))
	for i, p := range partials {
		out[i] = string(p)
	}
	return out
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
