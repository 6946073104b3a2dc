package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rezerv/internal/models"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
	Reservation ReservationConfig `yaml:"reservation"`
	Worker      WorkerConfig      `yaml:"worker"`
	Hub         HubConfig         `yaml:"hub"`
	Exports     ExportConfig      `yaml:"exports"`
	Resources   []models.Resource `yaml:"resources"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
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

type ReservationConfig struct {
	// CancellationLeadHours окно до заезда, внутри которого номер не отменяется
	CancellationLeadHours int     `yaml:"cancellation_lead_hours"`
	TableRate             float64 `yaml:"table_rate"`
	// SweepIntervalMinutes период автозавершения истёкших броней
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	RateLimitRequests    int `yaml:"rate_limit_requests"`
	RateLimitWindow      int `yaml:"rate_limit_window"`
}

type WorkerConfig struct {
	QueueSize    int `yaml:"queue_size"`
	MaxAttempts  int `yaml:"max_attempts"`
	RetryDelayMs int `yaml:"retry_delay_ms"`
}

type HubConfig struct {
	ObserverBufferSize int `yaml:"observer_buffer_size"`
	SendTimeoutMs      int `yaml:"send_timeout_ms"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api keys configured")
	}

	return ValidateResources(c.Resources)
}

func ValidateResources(resources []models.Resource) error {
	ids := make(map[int64]bool)
	for _, resource := range resources {
		if resource.ID == 0 {
			return fmt.Errorf("resource '%s' has invalid ID 0", resource.Name)
		}
		if ids[resource.ID] {
			return fmt.Errorf("duplicate resource ID found: %d", resource.ID)
		}
		ids[resource.ID] = true

		if resource.Kind != models.KindRoom && resource.Kind != models.KindTable {
			return fmt.Errorf("resource %d has unknown kind '%s'", resource.ID, resource.Kind)
		}
		if resource.OwnerKind != models.OwnerHotel && resource.OwnerKind != models.OwnerRestaurant {
			return fmt.Errorf("resource %d has unknown owner kind '%s'", resource.ID, resource.OwnerKind)
		}
		if resource.Capacity < 1 {
			return fmt.Errorf("resource %d has invalid capacity %d", resource.ID, resource.Capacity)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	if c.Reservation.CancellationLeadHours == 0 {
		c.Reservation.CancellationLeadHours = models.CancellationLeadHours
	}
	if c.Reservation.SweepIntervalMinutes == 0 {
		c.Reservation.SweepIntervalMinutes = 10
	}
	if c.Reservation.RateLimitRequests == 0 {
		c.Reservation.RateLimitRequests = models.DefaultRateLimitRequests
	}
	if c.Reservation.RateLimitWindow == 0 {
		c.Reservation.RateLimitWindow = models.DefaultRateLimitWindow
	}

	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = models.WorkerQueueSize
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Worker.RetryDelayMs == 0 {
		c.Worker.RetryDelayMs = 1000
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}

	if c.Hub.ObserverBufferSize == 0 {
		c.Hub.ObserverBufferSize = models.ObserverBufferSize
	}
	if c.Hub.SendTimeoutMs == 0 {
		c.Hub.SendTimeoutMs = models.BroadcastSendTimeoutMs
	}
}
