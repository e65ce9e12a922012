package loop

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	brokerURL   string
	logger      *slog.Logger
	version     string
	detector    Detector
}

// WithPort overrides the TCP port from config (LOOP_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithBrokerURL overrides the MQTT broker URL from config
// (LOOP_MQTT_BROKER_URL env var). An empty value leaves the config setting
// in place.
func WithBrokerURL(url string) Option {
	return func(o *resolvedOptions) { o.brokerURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDetector replaces the built-in synthetic damage detector with a real
// CV backend. Only the last call wins.
func WithDetector(d Detector) Option {
	return func(o *resolvedOptions) { o.detector = d }
}
