/*
Copyright (C) 2026 Pixelmesa

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Store backend selection.
type StoreBackend string

const (
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
// The display schedule itself lives in the store, not here.
type Config struct {
	Environment string
	InstanceID  string

	// Schedule store
	StoreBackend StoreBackend
	ConfigPath   string // schedule document path (file backend)
	StoreDSN     string // sqlite DSN (sqlite backend)

	// Browser
	BrowserBin      string
	UserDataDir     string
	BrowserArgs     []string // extra launch flags
	ReapStrayOnBoot bool

	// HTTP configuration API; /metrics is served on the same listener.
	HTTPEnabled bool
	HTTPBind    string
	HTTPPort    int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"KIOSKD_ENV", "KIOSK_ENV"}, "development"),
		InstanceID:  getEnvAny([]string{"KIOSKD_INSTANCE_ID", "KIOSK_INSTANCE_ID"}, ""),

		StoreBackend: StoreBackend(getEnvAny([]string{"KIOSKD_STORE_BACKEND", "KIOSK_STORE_BACKEND"}, string(StoreFile))),
		ConfigPath:   getEnvAny([]string{"KIOSKD_CONFIG_PATH", "KIOSK_CONFIG_PATH"}, "./config.json"),
		StoreDSN:     getEnvAny([]string{"KIOSKD_STORE_DSN", "KIOSK_STORE_DSN"}, ""),

		BrowserBin:      getEnvAny([]string{"KIOSKD_BROWSER_BIN", "KIOSK_BROWSER_BIN"}, "chromium"),
		UserDataDir:     getEnvAny([]string{"KIOSKD_USER_DATA_DIR", "KIOSK_USER_DATA_DIR"}, "./chromium_user_data"),
		ReapStrayOnBoot: getEnvBoolAny([]string{"KIOSKD_REAP_STRAYS", "KIOSK_REAP_STRAYS"}, true),

		HTTPEnabled: getEnvBoolAny([]string{"KIOSKD_HTTP_ENABLED", "KIOSK_HTTP_ENABLED"}, true),
		HTTPBind:    getEnvAny([]string{"KIOSKD_HTTP_BIND", "KIOSK_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"KIOSKD_HTTP_PORT", "KIOSK_HTTP_PORT"}, 8080),

		TracingEnabled:    getEnvBoolAny([]string{"KIOSKD_TRACING_ENABLED", "KIOSK_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"KIOSKD_OTLP_ENDPOINT", "KIOSK_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"KIOSKD_TRACING_SAMPLE_RATE", "KIOSK_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if extra := getEnvAny([]string{"KIOSKD_BROWSER_ARGS", "KIOSK_BROWSER_ARGS"}, ""); extra != "" {
		cfg.BrowserArgs = strings.Fields(extra)
	}

	if cfg.StoreBackend != StoreFile && cfg.StoreBackend != StoreSQLite {
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}

	if cfg.StoreBackend == StoreSQLite && cfg.StoreDSN == "" {
		return nil, fmt.Errorf("KIOSKD_STORE_DSN must be provided for the sqlite backend")
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port %d", cfg.HTTPPort)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	return cfg, nil
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
