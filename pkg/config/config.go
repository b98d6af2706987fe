package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete authproxy configuration. The same file configures
// both roles: the manager reads broker, dispatcher, handles, stats,
// namespace, content and metadata; edges read edge. Both read logging,
// server and integrity.
//
// Sources in order of precedence:
//  1. Environment variables (AUTHPROXY_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Integrity  IntegrityConfig  `mapstructure:"integrity" yaml:"integrity"`
	Broker     BrokerConfig     `mapstructure:"broker" yaml:"broker"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	Handles    HandlesConfig    `mapstructure:"handles" yaml:"handles"`
	Stats      StatsConfig      `mapstructure:"stats" yaml:"stats"`
	Namespace  NamespaceConfig  `mapstructure:"namespace" yaml:"namespace"`
	Edge       EdgeConfig       `mapstructure:"edge" yaml:"edge"`
	Content    ContentConfig    `mapstructure:"content" yaml:"content"`
	Metadata   MetadataConfig   `mapstructure:"metadata" yaml:"metadata"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive, normalized to
	// uppercase).
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
	Metrics         MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// IntegrityConfig selects the request signing key. Exactly one of Key and
// KeyFile must be set; KeyFile is a keytab whose SHA-1 digest becomes the
// key.
type IntegrityConfig struct {
	Algorithm string `mapstructure:"algorithm" yaml:"algorithm" validate:"required,oneof=hmac-sha1 hmac-sha256 blake2b-256"`

	// Key is the base64-encoded shared key.
	Key string `mapstructure:"key" yaml:"key,omitempty"`

	KeyFile string `mapstructure:"key_file" yaml:"key_file,omitempty"`
}

// BackoffConfig is a retry schedule.
type BackoffConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" yaml:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier" validate:"gte=1"`
	MaxRetries      uint64        `mapstructure:"max_retries" yaml:"max_retries"`
}

// BrokerConfig configures the manager's public endpoint.
type BrokerConfig struct {
	Listen         string          `mapstructure:"listen" yaml:"listen" validate:"required"`
	MaxConnections int             `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`
	IdleTimeout    time.Duration   `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	QueueSize      int             `mapstructure:"queue_size" yaml:"queue_size" validate:"gt=0"`
	MaxRecordSize  int             `mapstructure:"max_record_size" yaml:"max_record_size" validate:"gt=0"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig throttles inbound requests. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             uint `mapstructure:"burst" yaml:"burst"`
}

// DispatcherConfig configures the manager's worker pool.
type DispatcherConfig struct {
	Workers            int           `mapstructure:"workers" yaml:"workers" validate:"gt=0"`
	ReplyRetries       int           `mapstructure:"reply_retries" yaml:"reply_retries" validate:"gt=0"`
	ReplyRetryInterval time.Duration `mapstructure:"reply_retry_interval" yaml:"reply_retry_interval" validate:"gt=0"`
	Reconnect          BackoffConfig `mapstructure:"reconnect" yaml:"reconnect"`
}

// HandlesConfig controls the idle handle sweeper.
type HandlesConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"gt=0"`
}

// StatsConfig controls the timing aggregate fold.
type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
}

// NamespaceConfig configures the manager's namespace.
type NamespaceConfig struct {
	// Host and Port are advertised by LOCATE.
	Host     string `mapstructure:"host" yaml:"host" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	Capacity uint64 `mapstructure:"capacity" yaml:"capacity" validate:"gt=0"`
}

// EdgeConfig configures the proxy facade used by edge processes.
type EdgeConfig struct {
	ManagerAddress string        `mapstructure:"manager_address" yaml:"manager_address" validate:"required"`
	ManagerHost    string        `mapstructure:"manager_host" yaml:"manager_host" validate:"required"`
	LocalPort      int           `mapstructure:"local_port" yaml:"local_port" validate:"min=1,max=65535"`
	CollapsePort   int           `mapstructure:"collapse_port" yaml:"collapse_port" validate:"min=0,max=65535"`
	PoolSize       int           `mapstructure:"pool_size" yaml:"pool_size" validate:"gt=0"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" yaml:"receive_timeout" validate:"gt=0"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout" validate:"gt=0"`
	Connect        BackoffConfig `mapstructure:"connect" yaml:"connect"`
}

// ContentConfig selects the content store. Only the section matching Type
// is used; it is decoded by the store factory.
type ContentConfig struct {
	Type       string         `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem s3"`
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`
	S3         map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// MetadataConfig selects the metadata store and its read cache.
type MetadataConfig struct {
	Type   string         `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`
	Cache  CacheConfig    `mapstructure:"cache" yaml:"cache"`
}

// CacheConfig configures the metadata read cache.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxEntries int64         `mapstructure:"max_entries" yaml:"max_entries" validate:"gt=0"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`
}

// Load reads configuration from configPath (or the default location when
// empty), the environment and defaults, then validates it. A missing file
// is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// AUTHPROXY_EDGE_MANAGER_ADDRESS overrides edge.manager_address.
	v.SetEnvPrefix("AUTHPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}

	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnv registers every known key so that AutomaticEnv applies to keys
// absent from the file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.shutdown_timeout", "server.metrics.enabled", "server.metrics.port",
		"integrity.algorithm", "integrity.key", "integrity.key_file",
		"broker.listen", "broker.max_connections", "broker.queue_size",
		"dispatcher.workers",
		"namespace.host", "namespace.port",
		"edge.manager_address", "edge.manager_host", "edge.local_port",
		"edge.collapse_port", "edge.pool_size", "edge.receive_timeout",
		"content.type", "metadata.type", "metadata.cache.enabled",
	} {
		_ = v.BindEnv(key)
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/authproxy, ~/.config/authproxy, or
// the working directory when neither can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "authproxy")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "authproxy")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory.
func GetConfigDir() string {
	return getConfigDir()
}
