package internal

import "log/slog"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config         *Config
	logger         *slog.Logger
	watchManifests bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON stdout logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithManifestWatch makes the server apply manifests.path to itself and
// re-apply it on change.
func WithManifestWatch(on bool) Option {
	return func(a *application) {
		a.watchManifests = on
	}
}
