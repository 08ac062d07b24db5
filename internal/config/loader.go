package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownProviderNames lists the ASR provider names that ship with Tasmee.
// Used by [Validate] to warn about unrecognised provider names.
var KnownProviderNames = []string{"iqra", "openai", "whispercpp"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
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

// applyDefaults fills fields whose zero value is not a usable setting.
// Component-level defaults (session timeouts, API base URL) are applied by
// the components themselves so that direct construction behaves the same.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Quran.Source == "" {
		cfg.Quran.Source = SourceFile
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Canonical-text source
	switch cfg.Quran.Source {
	case SourceFile, "":
		if cfg.Quran.Source == SourceFile && cfg.Quran.File == "" {
			errs = append(errs, errors.New(`quran.file is required when quran.source is "file"`))
		}
	case SourceAPI:
		if cfg.Quran.API.TimeoutMs < 0 {
			errs = append(errs, fmt.Errorf("quran.api.timeout_ms %d must not be negative", cfg.Quran.API.TimeoutMs))
		}
	default:
		errs = append(errs, fmt.Errorf("quran.source %q is invalid; valid values: file, api", cfg.Quran.Source))
	}

	// Providers
	if !cfg.Providers.Primary.Configured() {
		errs = append(errs, errors.New("providers.primary.name is required"))
	} else {
		errs = append(errs, validateProvider("providers.primary", cfg.Providers.Primary)...)
	}
	if cfg.Providers.Backup.Configured() {
		errs = append(errs, validateProvider("providers.backup", cfg.Providers.Backup)...)
		if cfg.Providers.Backup.Name == cfg.Providers.Primary.Name {
			slog.Warn("backup provider is the same implementation as primary; an outage will likely take out both",
				"name", cfg.Providers.Backup.Name,
			)
		}
	} else {
		slog.Warn("no backup provider configured; sessions will not fail over")
	}

	// Session
	if cfg.Session.ReadyTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("session.ready_timeout_ms %d must not be negative", cfg.Session.ReadyTimeoutMs))
	}
	if cfg.Session.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("session.queue_size %d must not be negative", cfg.Session.QueueSize))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; verification results will not be persisted")
	}

	return errors.Join(errs...)
}

// validateProvider checks the per-implementation required fields of a single
// provider entry. prefix is the dotted config path used in error messages.
func validateProvider(prefix string, e ProviderEntry) []error {
	var errs []error

	if !slices.Contains(KnownProviderNames, e.Name) {
		slog.Warn("unknown provider name — may be a typo or an externally registered provider",
			"entry", prefix,
			"name", e.Name,
			"known", KnownProviderNames,
		)
	}

	switch e.Name {
	case "iqra":
		if e.Endpoint == "" {
			errs = append(errs, fmt.Errorf(`%s.endpoint is required for provider "iqra"`, prefix))
		}
	case "openai":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf(`%s.api_key is required for provider "openai"`, prefix))
		}
	case "whispercpp":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf(`%s.model (the GGML model path) is required for provider "whispercpp"`, prefix))
		}
	}
	return errs
}
