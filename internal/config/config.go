package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Lilanga/booking-pal/internal/models"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfigurationMissing is returned when the calendar id or the service
// account credentials are not configured.
var ErrConfigurationMissing = errors.New("configuration missing")

type Config struct {
	App          AppConfig          `yaml:"app"`
	Calendar     CalendarConfig     `yaml:"calendar"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Remote       RemoteConfig       `yaml:"remote"`
	Queue        QueueConfig        `yaml:"queue"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment" env:"BOOKINGPAL_ENV"`
	Version     string `yaml:"version"`
}

// CalendarConfig identifies the room calendar. Both values are opaque to
// the sync engine.
type CalendarConfig struct {
	ID              string `yaml:"id" env:"BOOKINGPAL_CALENDAR_ID"`
	Title           string `yaml:"title" env:"BOOKINGPAL_ROOM_NAME"`
	CredentialsFile string `yaml:"credentials_file" env:"BOOKINGPAL_CREDENTIALS_FILE"`
	TimeZone        string `yaml:"time_zone" env:"BOOKINGPAL_TIME_ZONE"`
}

// Location returns the calendar's zone, time.Local when unset or unknown.
func (c CalendarConfig) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

type DatabaseConfig struct {
	Path      string         `yaml:"path" env:"BOOKINGPAL_DB_PATH"`
	Snapshots SnapshotConfig `yaml:"snapshots"`
}

// SnapshotConfig controls periodic copies of the local database so a kiosk
// can be re-imaged without losing queued actions.
type SnapshotConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Dir      string        `yaml:"dir"`
	Keep     int           `yaml:"keep"`
}

type RedisConfig struct {
	Address  string `yaml:"address" env:"BOOKINGPAL_REDIS_ADDR"`
	Password string `yaml:"password" env:"BOOKINGPAL_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SyncConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type ConnectivityConfig struct {
	ProbeURL string        `yaml:"probe_url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RemoteConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

type QueueConfig struct {
	MaxAttempts   int    `yaml:"max_attempts"`
	DeadLetterKey string `yaml:"dead_letter_key"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
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

type LoggingConfig struct {
	Level    string `yaml:"level" env:"BOOKINGPAL_LOG_LEVEL"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type TelegramConfig struct {
	BotToken     string  `yaml:"bot_token" env:"BOOKINGPAL_TELEGRAM_TOKEN"`
	AlertChatIDs []int64 `yaml:"alert_chat_ids"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional on kiosks provisioned through the config file only
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Calendar.ID == "" {
		return fmt.Errorf("%w: calendar.id", ErrConfigurationMissing)
	}
	if c.Calendar.CredentialsFile == "" {
		return fmt.Errorf("%w: calendar.credentials_file", ErrConfigurationMissing)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Calendar.TimeZone != "" {
		if _, err := time.LoadLocation(c.Calendar.TimeZone); err != nil {
			return fmt.Errorf("calendar.time_zone: %w", err)
		}
	}
	if c.Remote.Jitter < 0 || c.Remote.Jitter > 1 {
		return fmt.Errorf("remote.jitter must be within [0, 1], got %v", c.Remote.Jitter)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "booking-pal"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/booking_pal.db"
	}

	if c.Database.Snapshots.Interval == 0 {
		c.Database.Snapshots.Interval = 24 * time.Hour
	}
	if c.Database.Snapshots.Dir == "" {
		c.Database.Snapshots.Dir = "data/snapshots"
	}
	if c.Database.Snapshots.Keep == 0 {
		c.Database.Snapshots.Keep = 7
	}

	if c.Sync.Interval == 0 {
		c.Sync.Interval = models.DefaultSyncInterval
	}
	if c.Sync.StaleAfter == 0 {
		c.Sync.StaleAfter = models.DefaultStaleAfter
	}

	if c.Connectivity.ProbeURL == "" {
		c.Connectivity.ProbeURL = models.DefaultProbeURL
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = models.DefaultHeartbeatInterval
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = models.DefaultProbeTimeout
	}

	if c.Remote.MinInterval == 0 {
		c.Remote.MinInterval = models.DefaultRemoteMinInterval
	}
	if c.Remote.MaxAttempts == 0 {
		c.Remote.MaxAttempts = models.DefaultRemoteMaxAttempts
	}
	if c.Remote.BaseDelay == 0 {
		c.Remote.BaseDelay = models.DefaultRemoteBaseDelay
	}
	if c.Remote.MaxDelay == 0 {
		c.Remote.MaxDelay = models.DefaultRemoteMaxDelay
	}
	if c.Remote.Jitter == 0 {
		c.Remote.Jitter = models.DefaultRemoteJitter
	}

	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = models.DefaultQueueMaxAttempts
	}
	if c.Queue.DeadLetterKey == "" {
		c.Queue.DeadLetterKey = "booking_pal:offline_queue:deadletter"
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
