package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	MarketplaceBaseURL      string
	MarketplaceClientID     string
	MarketplaceClientSecret string

	SyncTriggerSecret string
	HTTPAddr          string

	SyncInterval    int // minutes between scheduled syncs
	PollInterval    int // seconds between scheduler checks
	ShutdownTimeout int // seconds
	PageSize        int // items per marketplace page
	LockStaleAfter  int // minutes before a held sync lock is considered stale
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	baseURL := os.Getenv("MARKETPLACE_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("MARKETPLACE_BASE_URL is required")
	}

	clientID := os.Getenv("MARKETPLACE_CLIENT_ID")
	clientSecret := os.Getenv("MARKETPLACE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		fmt.Println("Warning: MARKETPLACE_CLIENT_ID or MARKETPLACE_CLIENT_SECRET not set, marketplace API will not work")
	}

	triggerSecret := os.Getenv("SYNC_TRIGGER_SECRET")
	if triggerSecret == "" {
		fmt.Println("Warning: SYNC_TRIGGER_SECRET not set, manual sync trigger will be disabled")
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	return &Config{
		DatabaseURL:             dbURL,
		MarketplaceBaseURL:      baseURL,
		MarketplaceClientID:     clientID,
		MarketplaceClientSecret: clientSecret,
		SyncTriggerSecret:       triggerSecret,
		HTTPAddr:                httpAddr,
		SyncInterval:            envInt("SYNC_INTERVAL_MINUTES", 360), // sync every 6 hours
		PollInterval:            envInt("POLL_INTERVAL_SECONDS", 60),
		ShutdownTimeout:         envInt("SHUTDOWN_TIMEOUT_SECONDS", 30),
		PageSize:                envInt("SYNC_PAGE_SIZE", 100),
		LockStaleAfter:          envInt("SYNC_LOCK_STALE_MINUTES", 30),
	}, nil
}

// envInt reads an integer environment variable, falling back to def when
// unset or malformed
func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Printf("Warning: %s=%q is not a number, using default %d\n", key, raw, def)
		return def
	}
	return v
}
