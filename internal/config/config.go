// Package config loads client configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the full client configuration.
type Config struct {
	API     APIConfig
	Storage StorageConfig
	Sync    SyncConfig
	Hub     HubConfig
	Logging LoggingConfig
}

// APIConfig configures the remote budget API.
type APIConfig struct {
	BaseURL string `validate:"required,url"`
	Token   string `validate:"required"`
	Timeout time.Duration
}

// StorageConfig configures the local store.
type StorageConfig struct {
	DataDir string `validate:"required"`
}

// SyncConfig configures the sync engine and orchestrator.
type SyncConfig struct {
	Interval      time.Duration `validate:"required,min=1s"`
	QueueCapacity int           `validate:"required,min=1"`
	ProbeURL      string        `validate:"omitempty,url"`
	ProbeInterval time.Duration
}

// HubConfig configures the local websocket event hub for the UI.
type HubConfig struct {
	ListenAddr string `validate:"required"`
}

type LoggingConfig struct {
	Level string
}

// Load reads configuration from a .env file (if present) and the
// process environment, then validates it.
func Load() (*Config, error) {
	godotenv.Load()

	timeout, err := time.ParseDuration(getEnv("API_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_TIMEOUT: %w", err)
	}

	interval, err := time.ParseDuration(getEnv("SYNC_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_INTERVAL: %w", err)
	}

	probeInterval, err := time.ParseDuration(getEnv("PROBE_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PROBE_INTERVAL: %w", err)
	}

	capacity, err := strconv.Atoi(getEnv("QUEUE_CAPACITY", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_CAPACITY: %w", err)
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL: getEnv("API_BASE_URL", "http://localhost:8080/api"),
			Token:   os.Getenv("API_TOKEN"),
			Timeout: timeout,
		},
		Storage: StorageConfig{
			DataDir: getEnv("DATA_DIR", defaultDataDir()),
		},
		Sync: SyncConfig{
			Interval:      interval,
			QueueCapacity: capacity,
			ProbeURL:      os.Getenv("PROBE_URL"),
			ProbeInterval: probeInterval,
		},
		Hub: HubConfig{
			ListenAddr: getEnv("HUB_LISTEN_ADDR", "localhost:8090"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".budget-planner"
	}
	return home + "/.budget-planner"
}
