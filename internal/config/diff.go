package config

import "reflect"

// ConfigDiff describes what changed between two configs. The log level is the
// only setting applied without a restart; everything else (listen address,
// providers, source, store) is wired at startup, so changes there are
// reported for the operator to act on.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the dotted paths of changed settings that only
	// take effect after a restart.
	RestartRequired []string
}

// Changed reports whether the diff carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Quran != new.Quran {
		d.RestartRequired = append(d.RestartRequired, "quran")
	}
	if !providerEqual(old.Providers.Primary, new.Providers.Primary) {
		d.RestartRequired = append(d.RestartRequired, "providers.primary")
	}
	if !providerEqual(old.Providers.Backup, new.Providers.Backup) {
		d.RestartRequired = append(d.RestartRequired, "providers.backup")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}

	return d
}

// tlsEqual compares two optional TLS blocks.
func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// providerEqual compares two provider entries including their free-form
// Options maps, which rules out plain struct equality.
func providerEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.Endpoint != b.Endpoint ||
		a.BaseURL != b.BaseURL || a.Model != b.Model || a.Language != b.Language {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
