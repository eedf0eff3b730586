package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Auth      AuthConfig      `yaml:"auth"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Payments  PaymentsConfig  `yaml:"payments"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DBNAME"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE"`
	MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type RabbitMQConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RABBITMQ_ENABLED"`
	Host     string `yaml:"host" env:"RABBITMQ_HOST"`
	Port     int    `yaml:"port" env:"RABBITMQ_PORT"`
	User     string `yaml:"user" env:"RABBITMQ_USER"`
	Password string `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost    string `yaml:"vhost" env:"RABBITMQ_VHOST"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	Issuer    string        `yaml:"issuer" env:"AUTH_ISSUER"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL"`
}

type RealtimeConfig struct {
	SendBuffer  int           `yaml:"send_buffer" env:"REALTIME_SEND_BUFFER"`
	AuthTimeout time.Duration `yaml:"auth_timeout" env:"REALTIME_AUTH_TIMEOUT"`
}

type IngestionConfig struct {
	DefaultBranchID string        `yaml:"default_branch_id" env:"INGESTION_DEFAULT_BRANCH_ID"`
	DefaultUserID   string        `yaml:"default_user_id" env:"INGESTION_DEFAULT_USER_ID"`
	PendingTTL      time.Duration `yaml:"pending_ttl" env:"INGESTION_PENDING_TTL"`
	PendingPerKey   int           `yaml:"pending_per_key" env:"INGESTION_PENDING_PER_KEY"`
	Integrations    []Integration `yaml:"integrations"`
}

// Integration seeds an integration row at startup.
type Integration struct {
	Platform      string `yaml:"platform"`
	Active        bool   `yaml:"active"`
	BranchID      string `yaml:"branch_id"`
	DefaultUserID string `yaml:"default_user_id"`
}

type PaymentsConfig struct {
	VerifyTimeout time.Duration `yaml:"verify_timeout" env:"PAYMENTS_VERIFY_TIMEOUT"`
	Gateways      []Gateway     `yaml:"gateways"`
}

type Gateway struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base_url"`
	KeyID   string `yaml:"key_id"`
	Secret  string `yaml:"secret"`
}

// Default returns the configuration used when a field is absent from both
// the file and the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "restaurant",
			Password: "restaurant",
			Database: "restaurant",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
		},
		Auth: AuthConfig{
			Issuer:   "restaurant-sync",
			TokenTTL: 12 * time.Hour,
		},
		Realtime: RealtimeConfig{
			SendBuffer:  64,
			AuthTimeout: 5 * time.Second,
		},
		Ingestion: IngestionConfig{
			DefaultBranchID: "main",
			DefaultUserID:   "system",
			PendingTTL:      5 * time.Minute,
			PendingPerKey:   16,
		},
		Payments: PaymentsConfig{
			VerifyTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig reads the YAML file at configPath (a missing file is allowed)
// and then applies environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port >= 65536 {
		return fmt.Errorf("server.port must be in [1, 65535]: %d", c.Server.Port)
	}
	if c.Payments.VerifyTimeout <= 0 {
		return fmt.Errorf("payments.verify_timeout must be positive")
	}
	for _, g := range c.Payments.Gateways {
		if g.Name == "" {
			return fmt.Errorf("payments.gateways: name is required")
		}
		if g.Kind != "signature" && g.Kind != "poll" {
			return fmt.Errorf("payments.gateways[%s]: unknown kind %q", g.Name, g.Kind)
		}
	}
	return nil
}
