// Package config loads the server configuration from a file and the
// IRONFRONT_* environment, applies defaults, and validates the result.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ironfront/server/internal/compress"
)

const envPrefix = "IRONFRONT"

// Config is the root of the server configuration file.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" json:"server"`
	Gateway     GatewayConfig     `mapstructure:"gateway" json:"gateway"`
	Replication ReplicationConfig `mapstructure:"replication" json:"replication"`
	Game        GameConfig        `mapstructure:"game" json:"game"`
	Log         LogConfig         `mapstructure:"log" json:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics" json:"metrics"`
}

// ServerConfig controls the public HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" json:"addr" jsonschema:"description=Bind address for the HTTP and websocket listener"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" jsonschema:"description=Grace period for in-flight requests on shutdown"`
}

// GatewayConfig controls websocket session handling.
type GatewayConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval" jsonschema:"description=Heartbeat cadence advertised to joining clients"`
	ClientTimeout     time.Duration `mapstructure:"client_timeout" json:"client_timeout" jsonschema:"description=Window after which a silent session is disconnected"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" json:"write_timeout" jsonschema:"description=Deadline for a single websocket write"`
	MaxPayloadBytes   int64         `mapstructure:"max_payload_bytes" json:"max_payload_bytes" jsonschema:"description=Read limit for a single websocket message"`
}

// ReplicationConfig controls the state replication loop.
type ReplicationConfig struct {
	TickRate         int    `mapstructure:"tick_rate" json:"tick_rate" jsonschema:"description=Snapshot ticks per second"`
	Compression      string `mapstructure:"compression" json:"compression" jsonschema:"description=Snapshot compression: none zlib snappy or zstd"`
	CompressionLevel int    `mapstructure:"compression_level" json:"compression_level" jsonschema:"description=Codec-specific compression level"`
}

// GameConfig holds the match parameters the world is created with.
type GameConfig struct {
	MapName     string  `mapstructure:"map_name" json:"map_name" jsonschema:"description=Map announced to joining clients"`
	MapExtent   float64 `mapstructure:"map_extent" json:"map_extent" jsonschema:"description=Half-width of the playable area in world units"`
	ChatHistory int     `mapstructure:"chat_history" json:"chat_history" jsonschema:"description=Chat messages replayed to a joining client"`
}

// LogConfig controls log output and rotation.
type LogConfig struct {
	Level      string `mapstructure:"level" json:"level" jsonschema:"description=Minimum level: debug info warn or error"`
	File       string `mapstructure:"file" json:"file,omitempty" jsonschema:"description=Log file path; empty logs to stderr only"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb" jsonschema:"description=Size in megabytes before the log file is rotated"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups" jsonschema:"description=Rotated files to keep"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days" jsonschema:"description=Days to retain rotated files"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr" jsonschema:"description=Bind address for the metrics listener"`
	Path    string `mapstructure:"path" json:"path" jsonschema:"description=HTTP path serving the metrics"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			HeartbeatInterval: 5 * time.Second,
			ClientTimeout:     15 * time.Second,
			WriteTimeout:      10 * time.Second,
			MaxPayloadBytes:   64 * 1024,
		},
		Replication: ReplicationConfig{
			TickRate:         30,
			Compression:      "zlib",
			CompressionLevel: 6,
		},
		Game: GameConfig{
			MapName:     "karelia",
			MapExtent:   2048,
			ChatHistory: 64,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9091",
			Path:    "/metrics",
		},
	}
}

// Load reads the configuration file at path, applies IRONFRONT_* environment
// overrides on top of the defaults, and validates the result. An empty path
// skips the file and uses defaults plus environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if path != "" {
		dir := filepath.Dir(path)
		filename := filepath.Base(path)
		ext := filepath.Ext(filename)

		v.SetConfigName(strings.TrimSuffix(filename, ext))
		v.SetConfigType(strings.TrimPrefix(ext, "."))
		v.AddConfigPath(dir)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides resolve even
// without a config file.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)

	v.SetDefault("gateway.heartbeat_interval", def.Gateway.HeartbeatInterval)
	v.SetDefault("gateway.client_timeout", def.Gateway.ClientTimeout)
	v.SetDefault("gateway.write_timeout", def.Gateway.WriteTimeout)
	v.SetDefault("gateway.max_payload_bytes", def.Gateway.MaxPayloadBytes)

	v.SetDefault("replication.tick_rate", def.Replication.TickRate)
	v.SetDefault("replication.compression", def.Replication.Compression)
	v.SetDefault("replication.compression_level", def.Replication.CompressionLevel)

	v.SetDefault("game.map_name", def.Game.MapName)
	v.SetDefault("game.map_extent", def.Game.MapExtent)
	v.SetDefault("game.chat_history", def.Game.ChatHistory)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.addr", def.Metrics.Addr)
	v.SetDefault("metrics.path", def.Metrics.Path)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Gateway.HeartbeatInterval <= 0 {
		return fmt.Errorf("gateway.heartbeat_interval must be positive, got %s", c.Gateway.HeartbeatInterval)
	}
	if c.Gateway.ClientTimeout <= c.Gateway.HeartbeatInterval {
		return fmt.Errorf("gateway.client_timeout %s must exceed the heartbeat interval %s",
			c.Gateway.ClientTimeout, c.Gateway.HeartbeatInterval)
	}
	if c.Gateway.MaxPayloadBytes <= 0 {
		return fmt.Errorf("gateway.max_payload_bytes must be positive, got %d", c.Gateway.MaxPayloadBytes)
	}
	if c.Replication.TickRate < 1 || c.Replication.TickRate > 240 {
		return fmt.Errorf("replication.tick_rate must be within [1, 240], got %d", c.Replication.TickRate)
	}
	if _, err := compress.ParseAlgorithm(c.Replication.Compression); err != nil {
		return fmt.Errorf("replication.compression: %w", err)
	}
	if c.Game.MapExtent <= 0 {
		return fmt.Errorf("game.map_extent must be positive, got %v", c.Game.MapExtent)
	}
	if c.Game.ChatHistory < 0 {
		return fmt.Errorf("game.chat_history must not be negative, got %d", c.Game.ChatHistory)
	}
	if strings.TrimSpace(c.Game.MapName) == "" {
		return fmt.Errorf("game.map_name must not be empty")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return fmt.Errorf("metrics.addr must not be empty when metrics are enabled")
	}
	return nil
}

// TickInterval converts the configured tick rate into a ticker period.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Replication.TickRate)
}

// CompressionAlgorithm parses the configured snapshot codec.
func (c *Config) CompressionAlgorithm() (compress.Algorithm, error) {
	return compress.ParseAlgorithm(c.Replication.Compression)
}
