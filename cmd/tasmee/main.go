// Command tasmee is the Quran recitation verification server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hifzlab/tasmee/internal/config"
	"github.com/hifzlab/tasmee/internal/health"
	"github.com/hifzlab/tasmee/internal/observe"
	"github.com/hifzlab/tasmee/internal/quran/source"
	"github.com/hifzlab/tasmee/internal/server"
	"github.com/hifzlab/tasmee/internal/session"
	"github.com/hifzlab/tasmee/internal/store"
	"github.com/hifzlab/tasmee/internal/verify"
	"github.com/hifzlab/tasmee/pkg/asr"
	"github.com/hifzlab/tasmee/pkg/asr/iqra"
	"github.com/hifzlab/tasmee/pkg/asr/openai"
	"github.com/hifzlab/tasmee/pkg/asr/whispercpp"
	"github.com/hifzlab/tasmee/pkg/audio"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tasmee: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tasmee: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("tasmee starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "tasmee",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── ASR providers ─────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	primary, backup, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Canonical text source ─────────────────────────────────────────────────
	src, err := buildSource(cfg)
	if err != nil {
		slog.Error("failed to open quran source", "err", err)
		return 1
	}
	checkers := []health.Checker{health.SourceChecker(src)}

	// ── Result store (optional) ───────────────────────────────────────────────
	srvCfg := server.Config{
		Addr: cfg.Server.ListenAddr,
		Verify: verify.Config{
			Source: src,
			Session: session.Config{
				Primary: primary,
				Backup:  backup,
				Stream: asr.StreamConfig{
					SampleRate: audio.SampleRate,
					Channels:   audio.Channels,
				},
				ReadyTimeout: time.Duration(cfg.Session.ReadyTimeoutMs) * time.Millisecond,
				QueueSize:    cfg.Session.QueueSize,
			},
		},
	}
	if tls := cfg.Server.TLS; tls != nil {
		srvCfg.CertFile = tls.CertFile
		srvCfg.KeyFile = tls.KeyFile
	}

	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to open postgres pool", "err", err)
			return 1
		}
		defer pool.Close()

		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate result store", "err", err)
			return 1
		}
		srvCfg.Store = pg
		checkers = append(checkers, health.StoreChecker(pool))
		slog.Info("result store enabled")
	}
	srvCfg.Checkers = checkers

	srv, err := server.New(srvCfg)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	// ── Config watcher ────────────────────────────────────────────────────────
	// Only the log level is applied live; everything else is wired at startup
	// and logged as needing a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		for _, setting := range d.RestartRequired {
			slog.Warn("config change requires a restart to take effect", "setting", setting)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders lists the ASR implementations that ship with Tasmee.
var builtinProviders = []string{"iqra", "openai", "whispercpp"}

// registerBuiltinProviders wires the built-in ASR factories into reg. Each
// factory turns a config.ProviderEntry into a connected-on-demand provider.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("iqra", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []iqra.Option
		if entry.APIKey != "" {
			opts = append(opts, iqra.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, iqra.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, iqra.WithLanguage(entry.Language))
		}
		return iqra.New(entry.Endpoint, opts...)
	})

	reg.Register("openai", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, openai.WithLanguage(entry.Language))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, openai.WithSilenceThresholdMs(ms))
		}
		if ms := optInt(entry.Options, "max_buffer_duration_ms"); ms > 0 {
			opts = append(opts, openai.WithMaxBufferDurationMs(ms))
		}
		return openai.New(entry.APIKey, opts...)
	})

	reg.Register("whispercpp", func(entry config.ProviderEntry) (asr.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whispercpp.Option
		if entry.Language != "" {
			opts = append(opts, whispercpp.WithLanguage(entry.Language))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whispercpp.WithSilenceThresholdMs(ms))
		}
		if ms := optInt(entry.Options, "max_buffer_duration_ms"); ms > 0 {
			opts = append(opts, whispercpp.WithMaxBufferDurationMs(ms))
		}
		return whispercpp.New(modelPath, opts...)
	})

	for _, name := range builtinProviders {
		slog.Debug("registered provider", "kind", "asr", "name", name)
	}
}

// buildProviders instantiates the primary and optional backup ASR providers
// named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (primary, backup asr.Provider, err error) {
	primary, err = reg.Create(cfg.Providers.Primary)
	if err != nil {
		return nil, nil, fmt.Errorf("create primary provider %q: %w", cfg.Providers.Primary.Name, err)
	}
	slog.Info("provider created", "role", "primary", "name", cfg.Providers.Primary.Name)

	if cfg.Providers.Backup.Configured() {
		backup, err = reg.Create(cfg.Providers.Backup)
		if err != nil {
			return nil, nil, fmt.Errorf("create backup provider %q: %w", cfg.Providers.Backup.Name, err)
		}
		slog.Info("provider created", "role", "backup", "name", cfg.Providers.Backup.Name)
	}
	return primary, backup, nil
}

// buildSource constructs the canonical-text source selected in cfg.
func buildSource(cfg *config.Config) (source.Source, error) {
	switch cfg.Quran.Source {
	case config.SourceAPI:
		var opts []source.APIOption
		if cfg.Quran.API.BaseURL != "" {
			opts = append(opts, source.WithBaseURL(cfg.Quran.API.BaseURL))
		}
		if cfg.Quran.API.TimeoutMs > 0 {
			opts = append(opts, source.WithTimeout(time.Duration(cfg.Quran.API.TimeoutMs)*time.Millisecond))
		}
		return source.NewAPI(opts...), nil
	default:
		return source.NewFile(cfg.Quran.File)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Tasmee — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Primary ASR", cfg.Providers.Primary.Name, cfg.Providers.Primary.Model)
	printProvider("Backup ASR", cfg.Providers.Backup.Name, cfg.Providers.Backup.Model)
	if cfg.Quran.Source == config.SourceAPI {
		fmt.Printf("║  Quran source    : %-19s ║\n", "alquran.cloud API")
	} else {
		fmt.Printf("║  Quran source    : %-19s ║\n", trimCell(cfg.Quran.File))
	}
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Result store    : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Result store    : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  TLS             : %-19s ║\n", "(plain http)")
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, trimCell(value))
}

func trimCell(value string) string {
	if len(value) > 19 {
		return value[:16] + "…"
	}
	return value
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map, tolerating the
// numeric types YAML decoding produces. Returns 0 when absent or non-numeric.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
