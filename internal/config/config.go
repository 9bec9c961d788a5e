// Package config handles loading and validation of service configuration.
// Supports both development (env vars, optionally from .env) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/mod/semver"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretID   string

	API     APIConfig
	Storage StorageConfig

	// AbandonAfter is the idle delay before a cart is reported abandoned.
	AbandonAfter time.Duration

	// RefreshSchedule is the cron spec for reloading logged-in carts. Empty disables it.
	RefreshSchedule string

	// MinClientVersion rejects clients announcing an older semver. Empty accepts all.
	MinClientVersion string
}

// APIConfig describes the storefront cart API.
type APIConfig struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key,omitempty"`
	Timeout   time.Duration `json:"-"`
	RateLimit float64       `json:"rate_limit,omitempty"`
	ChromeTLS bool          `json:"chrome_tls,omitempty"`
}

// StorageConfig selects where profile storage lives.
type StorageConfig struct {
	Backend       string `json:"backend"`
	Dir           string `json:"dir,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// secretPayload is the JSON stored in Secret Manager.
type secretPayload struct {
	APIKey        string `json:"api_key"`
	RedisPassword string `json:"redis_password"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → .env + ENV vars → Secret Manager for secrets in production.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	// A missing .env is fine; real env vars always win over it
	_ = godotenv.Load()

	cfg := &Config{
		Port:             envOrDefault("PORT", "8080"),
		Environment:      envOrDefault("ENVIRONMENT", "development"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		GCPProject:       os.Getenv("GCP_PROJECT"),
		SecretID:         envOrDefault("SECRET_ID", "storefront-cart"),
		RefreshSchedule:  os.Getenv("REFRESH_SCHEDULE"),
		MinClientVersion: os.Getenv("MIN_CLIENT_VERSION"),
		API: APIConfig{
			BaseURL: os.Getenv("API_BASE_URL"),
			APIKey:  os.Getenv("API_KEY"),
		},
		Storage: StorageConfig{
			Backend:       envOrDefault("STORAGE_BACKEND", StorageMemory),
			Dir:           envOrDefault("STORAGE_DIR", "./data"),
			RedisAddr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
		},
	}

	var err error
	if cfg.API.Timeout, err = durationEnv("API_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.AbandonAfter, err = durationEnv("ABANDON_AFTER", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.API.RateLimit, err = floatEnv("API_RATE_LIMIT"); err != nil {
		return nil, err
	}
	if cfg.Storage.RedisDB, err = intEnv("REDIS_DB"); err != nil {
		return nil, err
	}
	cfg.API.ChromeTLS = os.Getenv("CHROME_TLS") == "true"

	// Secrets come from Secret Manager in production
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading secrets: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Use a struct that matches the JSON structure
	var fileConfig struct {
		Port             string        `json:"port"`
		Environment      string        `json:"environment"`
		LogLevel         string        `json:"log_level"`
		API              APIConfig     `json:"api"`
		APITimeout       string        `json:"api_timeout"`
		Storage          StorageConfig `json:"storage"`
		AbandonAfter     string        `json:"abandon_after"`
		RefreshSchedule  string        `json:"refresh_schedule"`
		MinClientVersion string        `json:"min_client_version"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:             withDefault(fileConfig.Port, "8080"),
		Environment:      withDefault(fileConfig.Environment, "development"),
		LogLevel:         withDefault(fileConfig.LogLevel, "info"),
		API:              fileConfig.API,
		Storage:          fileConfig.Storage,
		RefreshSchedule:  fileConfig.RefreshSchedule,
		MinClientVersion: fileConfig.MinClientVersion,
	}
	cfg.Storage.Backend = withDefault(cfg.Storage.Backend, StorageMemory)

	if cfg.API.Timeout, err = parseDuration("api_timeout", fileConfig.APITimeout, 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.AbandonAfter, err = parseDuration("abandon_after", fileConfig.AbandonAfter, 30*time.Minute); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches secrets from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_id}/versions/latest
// Values present in the secret override the environment.
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecret(result.Payload.Data)
}

// applySecret merges a secret payload into the config.
func (c *Config) applySecret(data []byte) error {
	var secret secretPayload
	if err := json.Unmarshal(data, &secret); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if secret.APIKey != "" {
		c.API.APIKey = secret.APIKey
	}
	if secret.RedisPassword != "" {
		c.Storage.RedisPassword = secret.RedisPassword
	}
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API_BASE_URL %q", c.API.BaseURL)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("STORAGE_DIR is required for file storage")
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for redis storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (memory, file or redis)", c.Storage.Backend)
	}

	if c.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(c.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid REFRESH_SCHEDULE: %w", err)
		}
	}

	if c.MinClientVersion != "" && !semver.IsValid(c.MinClientVersion) {
		return fmt.Errorf("MIN_CLIENT_VERSION %q is not a semantic version (want vMAJOR.MINOR.PATCH)", c.MinClientVersion)
	}

	if c.AbandonAfter <= 0 {
		return fmt.Errorf("ABANDON_AFTER must be positive")
	}

	return nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	return parseDuration(key, os.Getenv(key), defaultVal)
}

func parseDuration(name, val string, defaultVal time.Duration) (time.Duration, error) {
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, val, err)
	}
	return d, nil
}

func floatEnv(key string) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return f, nil
}

func intEnv(key string) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return n, nil
}
