package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"taskrelay/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Offline    OfflineConfig    `yaml:"offline"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type StorageConfig struct {
	// Backend selects the durable store: "sqlite" or "bolt".
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
	BoltPath   string `yaml:"bolt_path"`
	// Namespace isolates one session's queue from another sharing the
	// same store file.
	Namespace string `yaml:"namespace"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type RemoteConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
}

// Timeout returns the request timeout as a duration.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type MonitorConfig struct {
	// ProbeURL is polled to detect connectivity. Empty means the
	// simulated monitor is used (tests, embedded hosts).
	ProbeURL             string `yaml:"probe_url"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int    `yaml:"probe_timeout_seconds"`
}

func (m MonitorConfig) ProbeInterval() time.Duration {
	return time.Duration(m.ProbeIntervalSeconds) * time.Second
}

func (m MonitorConfig) ProbeTimeout() time.Duration {
	return time.Duration(m.ProbeTimeoutSeconds) * time.Second
}

type OfflineConfig struct {
	AutoSyncEnabled     bool   `yaml:"auto_sync_enabled"`
	SyncOnReconnect     bool   `yaml:"sync_on_reconnect"`
	SyncIntervalSeconds int    `yaml:"sync_interval_seconds"`
	MaxQueueSize        int    `yaml:"max_queue_size"`
	ConflictResolution  string `yaml:"conflict_resolution"`
	RetentionDays       int    `yaml:"retention_days"`
	MaxAttempts         int    `yaml:"max_attempts"`
}

// Settings converts the YAML section into the runtime settings model.
func (o OfflineConfig) Settings() models.Settings {
	return models.Settings{
		AutoSyncEnabled:      o.AutoSyncEnabled,
		SyncOnReconnect:      o.SyncOnReconnect,
		SyncInterval:         time.Duration(o.SyncIntervalSeconds) * time.Second,
		MaxQueueSize:         o.MaxQueueSize,
		ConflictResolution:   o.ConflictResolution,
		OfflineDataRetention: o.RetentionDays,
		MaxAttempts:          o.MaxAttempts,
	}
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment may already be populated.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before parsing.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required")
		}
	case "bolt":
		if c.Storage.BoltPath == "" {
			return errors.New("storage.bolt_path is required")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote.base_url is required")
	}

	return c.Offline.Settings().Validate()
}

func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "default"
	}

	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 15
	}
	if c.Remote.RPS == 0 {
		c.Remote.RPS = 10
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = 5
	}

	if c.Monitor.ProbeIntervalSeconds == 0 {
		c.Monitor.ProbeIntervalSeconds = 10
	}
	if c.Monitor.ProbeTimeoutSeconds == 0 {
		c.Monitor.ProbeTimeoutSeconds = 3
	}

	if c.Offline.SyncIntervalSeconds == 0 {
		c.Offline.SyncIntervalSeconds = int(models.DefaultSyncInterval / time.Second)
	}
	if c.Offline.MaxQueueSize == 0 {
		c.Offline.MaxQueueSize = models.DefaultMaxQueueSize
	}
	if c.Offline.ConflictResolution == "" {
		c.Offline.ConflictResolution = models.ResolveTimestamp
	}
	if c.Offline.RetentionDays == 0 {
		c.Offline.RetentionDays = models.DefaultRetentionDays
	}

	if c.API.Enabled && c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
