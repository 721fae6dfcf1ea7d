// Package config handles matchlink configuration via environment variables.
//
// All variables are prefixed with MATCHLINK_. Configuration is loaded with
// LoadFromEnv() and checked with Validate() before use.
//
// Environment Variables:
//   - MATCHLINK_ENV="production" or "development" (default "development")
//   - MATCHLINK_DATA_DIR="./data" (default "./data")
//   - MATCHLINK_IN_MEMORY=true — use the in-memory store instead of Badger
//   - MATCHLINK_LINK_WINDOW_MS=15000 — linking time window override
//   - MATCHLINK_LINK_MAX_PER_EVENT=3 — per-event link cap override
//   - MATCHLINK_CATALOG_FILE=./catalog.yaml — YAML catalog override file
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all matchlink configuration loaded from environment
// variables.
type Config struct {
	// Environment selects the logger profile: "production" or
	// "development".
	Environment string

	// DataDir is the Badger data directory. Ignored when InMemory is set.
	DataDir string

	// InMemory selects the in-memory store instead of Badger.
	InMemory bool

	// LinkWindowMS overrides the catalog's time window when positive.
	LinkWindowMS int64

	// LinkMaxPerEvent overrides the catalog's per-event link cap when
	// positive.
	LinkMaxPerEvent int

	// CatalogFile is an optional YAML catalog override file.
	CatalogFile string
}

// LoadFromEnv builds a Config from the MATCHLINK_* environment variables.
// Unset or malformed values fall back to defaults.
func LoadFromEnv() *Config {
	return &Config{
		Environment:     getEnv("MATCHLINK_ENV", "development"),
		DataDir:         getEnv("MATCHLINK_DATA_DIR", "./data"),
		InMemory:        getEnvBool("MATCHLINK_IN_MEMORY", false),
		LinkWindowMS:    getEnvInt64("MATCHLINK_LINK_WINDOW_MS", 0),
		LinkMaxPerEvent: int(getEnvInt64("MATCHLINK_LINK_MAX_PER_EVENT", 0)),
		CatalogFile:     getEnv("MATCHLINK_CATALOG_FILE", ""),
	}
}

// Validate checks the configuration for usability.
func (c *Config) Validate() error {
	if c.Environment != "production" && c.Environment != "development" {
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("data dir required unless MATCHLINK_IN_MEMORY is set")
	}
	if c.LinkWindowMS < 0 {
		return fmt.Errorf("link window must not be negative, got %d", c.LinkWindowMS)
	}
	if c.LinkMaxPerEvent < 0 {
		return fmt.Errorf("link cap must not be negative, got %d", c.LinkMaxPerEvent)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
