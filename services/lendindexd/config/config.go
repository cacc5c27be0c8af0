package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the lending indexer.
type Config struct {
	ListenAddress  string
	DatabaseURL    string
	NodeURL        string
	NodeAuthToken  string
	DefaultTZ      *time.Location
	ReplayFrom     int64
	ReconOutputDir string
	ReconRunHour   int
	ReconRunMinute int
	ReconDryRun    bool
	ReconWindow    time.Duration
}

// FromEnv loads configuration from environment variables required by
// the service. The node auth token falls back to VAULTLEND_RPC_TOKEN so
// a co-deployed indexer can share the node's credential.
func FromEnv() (*Config, error) {
	listen := getEnvDefault("LENDINDEX_LISTEN", ":7102")

	dbURL := os.Getenv("LENDINDEX_DB_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("LENDINDEX_DB_URL is required")
	}

	nodeURL := strings.TrimSpace(os.Getenv("LENDINDEX_NODE_URL"))
	if nodeURL == "" {
		return nil, fmt.Errorf("LENDINDEX_NODE_URL is required")
	}

	token := strings.TrimSpace(os.Getenv("LENDINDEX_NODE_TOKEN"))
	if token == "" {
		token = strings.TrimSpace(os.Getenv("VAULTLEND_RPC_TOKEN"))
	}

	tzName := getEnvDefault("LENDINDEX_TZ_DEFAULT", "UTC")
	tz, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid LENDINDEX_TZ_DEFAULT %q: %w", tzName, err)
	}

	// ReplayFrom below zero means "resume from the stored cursor". The
	// override exists because stream sequence numbers restart with the
	// node, so a node rebuild needs the cursor rewound explicitly.
	replayFrom := int64(-1)
	if raw := strings.TrimSpace(os.Getenv("LENDINDEX_REPLAY_FROM")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("invalid LENDINDEX_REPLAY_FROM %q", raw)
		}
		replayFrom = parsed
	}

	reconDir := getEnvDefault("LENDINDEX_RECON_OUTPUT_DIR", "lendindexd-data/recon")
	reconHour := parseIntEnv("LENDINDEX_RECON_RUN_HOUR", 0)
	reconMinute := parseIntEnv("LENDINDEX_RECON_RUN_MINUTE", 10)
	reconDryRun := parseBoolEnv("LENDINDEX_RECON_DRY_RUN", false)
	windowHours := parseIntEnv("LENDINDEX_RECON_WINDOW_HOURS", 24)
	if windowHours <= 0 {
		return nil, fmt.Errorf("invalid LENDINDEX_RECON_WINDOW_HOURS %d", windowHours)
	}

	return &Config{
		ListenAddress:  listen,
		DatabaseURL:    dbURL,
		NodeURL:        nodeURL,
		NodeAuthToken:  token,
		DefaultTZ:      tz,
		ReplayFrom:     replayFrom,
		ReconOutputDir: reconDir,
		ReconRunHour:   reconHour,
		ReconRunMinute: reconMinute,
		ReconDryRun:    reconDryRun,
		ReconWindow:    time.Duration(windowHours) * time.Hour,
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}
