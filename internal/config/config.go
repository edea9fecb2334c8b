package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Media     MediaConfig     `yaml:"media"`
	Session   SessionConfig   `yaml:"session"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Status    StatusConfig    `yaml:"status"`
	Recording RecordingConfig `yaml:"recording"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the HTTP/WebSocket listener configuration.
type ServerConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	WSPath      string `yaml:"ws_path"`
}

// MediaConfig points at the media engine's control API.
type MediaConfig struct {
	Endpoint              string  `yaml:"endpoint"`
	Token                 string  `yaml:"token"`
	TimeoutSeconds        float64 `yaml:"timeout_seconds"`
	HealthIntervalSeconds float64 `yaml:"health_interval_seconds"`
}

// SessionConfig holds the disconnect grace windows.
type SessionConfig struct {
	StreamerGraceSeconds float64 `yaml:"streamer_grace_seconds"`
	ViewerGraceSeconds   float64 `yaml:"viewer_grace_seconds"`
}

// BroadcastConfig holds the periodic fan-out intervals.
type BroadcastConfig struct {
	HeartbeatIntervalSeconds   float64 `yaml:"heartbeat_interval_seconds"`
	ActiveRoomsIntervalSeconds float64 `yaml:"active_rooms_interval_seconds"`
}

// StatusConfig points at the persistence collaborator.
type StatusConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	Token          string  `yaml:"token"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// RecordingConfig holds the shared secret the recording service presents.
type RecordingConfig struct {
	SharedSecret string `yaml:"shared_secret"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "0.0.0.0",
			Port:        8080,
			WSPath:      "/ws",
		},
		Media: MediaConfig{
			Endpoint:              "http://127.0.0.1:3100",
			TimeoutSeconds:        10,
			HealthIntervalSeconds: 10,
		},
		Session: SessionConfig{
			StreamerGraceSeconds: 60,
			ViewerGraceSeconds:   5,
		},
		Broadcast: BroadcastConfig{
			HeartbeatIntervalSeconds:   30,
			ActiveRoomsIntervalSeconds: 5,
		},
		Status: StatusConfig{
			Endpoint:       "http://127.0.0.1:4000",
			TimeoutSeconds: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses the configuration file, applies environment
// overrides for secrets and validates the result. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Secrets can always be supplied via the environment, overriding the
	// file so deployments never need credentials on disk.
	if v, ok := os.LookupEnv("BEAMCAST_STATUS_TOKEN"); ok {
		config.Status.Token = v
	}
	if v, ok := os.LookupEnv("BEAMCAST_MEDIA_TOKEN"); ok {
		config.Media.Token = v
	}
	if v, ok := os.LookupEnv("BEAMCAST_RECORDING_SECRET"); ok {
		config.Recording.SharedSecret = v
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.WSPath == "" || c.Server.WSPath[0] != '/' {
		return fmt.Errorf("ws_path must start with '/', got %q", c.Server.WSPath)
	}
	if c.Media.Endpoint == "" {
		return fmt.Errorf("media endpoint is required")
	}
	if c.Session.StreamerGraceSeconds <= 0 {
		return fmt.Errorf("streamer grace must be positive, got %v", c.Session.StreamerGraceSeconds)
	}
	if c.Session.ViewerGraceSeconds <= 0 {
		return fmt.Errorf("viewer grace must be positive, got %v", c.Session.ViewerGraceSeconds)
	}
	if c.Broadcast.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.Broadcast.HeartbeatIntervalSeconds)
	}
	if c.Broadcast.ActiveRoomsIntervalSeconds <= 0 {
		return fmt.Errorf("active rooms interval must be positive, got %v", c.Broadcast.ActiveRoomsIntervalSeconds)
	}
	if c.Status.Endpoint == "" {
		return fmt.Errorf("status endpoint is required")
	}
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics path must start with '/', got %q", c.Metrics.Path)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// StreamerGrace returns the streamer grace window as a duration.
func (c *SessionConfig) StreamerGrace() time.Duration {
	return time.Duration(c.StreamerGraceSeconds * float64(time.Second))
}

// ViewerGrace returns the viewer grace window as a duration.
func (c *SessionConfig) ViewerGrace() time.Duration {
	return time.Duration(c.ViewerGraceSeconds * float64(time.Second))
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c *BroadcastConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds * float64(time.Second))
}

// ActiveRoomsInterval returns the admin broadcast period as a duration.
func (c *BroadcastConfig) ActiveRoomsInterval() time.Duration {
	return time.Duration(c.ActiveRoomsIntervalSeconds * float64(time.Second))
}

// Timeout returns the collaborator request timeout as a duration.
func (c *StatusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// Timeout returns the media engine request timeout as a duration.
func (c *MediaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// HealthInterval returns the media engine health poll period.
func (c *MediaConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds * float64(time.Second))
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}
