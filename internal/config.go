package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Enforcement   EnforcementConfig   `mapstructure:"enforcement"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

// GatewayConfig holds Wompi connection settings. EventsSecret is the fallback
// integrity secret used when a tenant has no secret of its own.
type GatewayConfig struct {
	APIURL         string        `mapstructure:"api_url" validate:"required,url"`
	PublicKey      string        `mapstructure:"public_key"`
	PrivateKey     string        `mapstructure:"private_key"`
	EventsSecret   string        `mapstructure:"events_secret" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type EnforcementConfig struct {
	MaxConfirmAttempts int           `mapstructure:"max_confirm_attempts"`
	ConfirmInterval    time.Duration `mapstructure:"confirm_interval"`
	DefaultCutOffHour  int           `mapstructure:"default_cutoff_hour"`
	Tracker            TrackerConfig `mapstructure:"tracker"`
}

// TrackerConfig points at the GPS tracker backend that relays hardware
// commands to devices in the field.
type TrackerConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	APIToken       string        `mapstructure:"api_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	RecoveryOlderThan  time.Duration `mapstructure:"recovery_older_than"`
	InvoiceGeneration  string        `mapstructure:"invoice_generation_time"`
	EnforcementEnabled bool          `mapstructure:"enforcement_enabled"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- ENV FALLBACK -----------------

// LoadConfigFromEnv builds a Config from environment variables. Used for
// container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Gateway: GatewayConfig{
			APIURL:         getEnv("GATEWAY_API_URL", "https://production.wompi.co/v1"),
			PublicKey:      getEnv("GATEWAY_PUBLIC_KEY", ""),
			PrivateKey:     getEnv("GATEWAY_PRIVATE_KEY", ""),
			EventsSecret:   getEnv("GATEWAY_EVENTS_SECRET", ""),
			RequestTimeout: getEnvAsDuration("GATEWAY_REQUEST_TIMEOUT", 15*time.Second),
		},
		Enforcement: EnforcementConfig{
			MaxConfirmAttempts: getEnvAsInt("ENFORCEMENT_MAX_CONFIRM_ATTEMPTS", 12),
			ConfirmInterval:    getEnvAsDuration("ENFORCEMENT_CONFIRM_INTERVAL", 5*time.Second),
			DefaultCutOffHour:  getEnvAsInt("ENFORCEMENT_DEFAULT_CUTOFF_HOUR", 6),
			Tracker: TrackerConfig{
				APIURL:         getEnv("TRACKER_API_URL", ""),
				APIToken:       getEnv("TRACKER_API_TOKEN", ""),
				RequestTimeout: getEnvAsDuration("TRACKER_REQUEST_TIMEOUT", 10*time.Second),
			},
		},
		Scheduler: SchedulerConfig{
			TickInterval:       getEnvAsDuration("SCHEDULER_TICK_INTERVAL", time.Minute),
			RecoveryOlderThan:  getEnvAsDuration("SCHEDULER_RECOVERY_OLDER_THAN", 30*time.Minute),
			InvoiceGeneration:  getEnv("SCHEDULER_INVOICE_GENERATION_TIME", "00:05"),
			EnforcementEnabled: getEnv("SCHEDULER_ENFORCEMENT_ENABLED", "true") == "true",
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Enforcement.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("enforcement config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *GatewayConfig) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	if c.EventsSecret == "" {
		return errors.New("events_secret is required as the default integrity secret")
	}
	return nil
}

func (c *EnforcementConfig) Validate() error {
	if c.MaxConfirmAttempts < 1 {
		return errors.New("max_confirm_attempts must be at least 1")
	}
	if c.ConfirmInterval <= 0 {
		return errors.New("confirm_interval must be positive")
	}
	if c.DefaultCutOffHour < 0 || c.DefaultCutOffHour > 23 {
		return errors.New("default_cutoff_hour must be between 0 and 23")
	}
	return nil
}
