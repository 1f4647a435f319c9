package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	DBHost      string
	DBPort      string
	DBUsername  string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// BridgeURL is the local automation bridge endpoint.
	BridgeURL string

	// Cloud API settings.
	GraphBaseURL string
	ClientID     string
	ClientSecret string
	TenantID     string
	TokenPath    string

	// Mailbox is the mailbox name the mirror syncs under.
	Mailbox string
	// SyncWindowDays bounds how far back the initial sync reaches.
	SyncWindowDays int
	// SyncInterval is the pause between periodic delta sync runs.
	SyncInterval time.Duration

	Timezone string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("COSMAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	windowDays, err := getEnvIntOrDefault("COSMAIL_SYNC_WINDOW_DAYS", 30)
	if err != nil {
		return nil, err
	}

	syncInterval, err := getEnvDurationOrDefault("COSMAIL_SYNC_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:    env,
		DBHost:         getEnvOrDefault("COSMAIL_DB_HOST", "localhost"),
		DBPort:         getEnvOrDefault("COSMAIL_DB_PORT", "5432"),
		DBUsername:     getEnvOrDefault("COSMAIL_DB_USER", "cosmail"),
		DBPassword:     os.Getenv("COSMAIL_DB_PASSWORD"),
		DBName:         getEnvOrDefault("COSMAIL_DB_NAME", "cosmail"),
		DBSSLMode:      getEnvOrDefault("COSMAIL_DB_SSLMODE", "disable"),
		BridgeURL:      getEnvOrDefault("COSMAIL_BRIDGE_URL", "http://127.0.0.1:8379"),
		GraphBaseURL:   getEnvOrDefault("COSMAIL_GRAPH_BASE_URL", "https://graph.microsoft.com/v1.0"),
		ClientID:       os.Getenv("COSMAIL_CLIENT_ID"),
		ClientSecret:   os.Getenv("COSMAIL_CLIENT_SECRET"),
		TenantID:       getEnvOrDefault("COSMAIL_TENANT_ID", "common"),
		TokenPath:      getEnvOrDefault("COSMAIL_TOKEN_PATH", "token.json"),
		Mailbox:        getEnvOrDefault("COSMAIL_MAILBOX", "inbox"),
		SyncWindowDays: windowDays,
		SyncInterval:   syncInterval,
		Timezone:       getEnvOrDefault("TZ", "UTC"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("COSMAIL_DB_PASSWORD is required")
	}

	if c.SyncWindowDays <= 0 {
		return fmt.Errorf("COSMAIL_SYNC_WINDOW_DAYS must be positive")
	}

	if c.SyncInterval < time.Minute {
		return fmt.Errorf("COSMAIL_SYNC_INTERVAL must be at least 1m")
	}

	// Cloud credentials are optional: without them the engine runs with the
	// local bridge only. They are only valid as a pair.
	if (c.ClientID == "") != (c.ClientSecret == "") {
		return fmt.Errorf("COSMAIL_CLIENT_ID and COSMAIL_CLIENT_SECRET must be set together")
	}

	return nil
}

// CloudConfigured reports whether the cloud fallback has credentials at all.
func (c *Config) CloudConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     fmt.Sprintf("%s:%s", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 5m: %w", key, err)
	}
	return parsed, nil
}
