// Package config reads process configuration from environment variables.
// Everything here is read-only after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/probekit/mailprobe/internal/logger"
)

// Config holds all application configuration.
type Config struct {
	Telegram TelegramConfig
	Limits   LimitsConfig
	SMTP     SMTPConfig
	Domains  DomainsConfig
	Ops      OpsConfig
	Log      logger.Config
}

// TelegramConfig holds the chat-transport settings.
type TelegramConfig struct {
	Token    string
	AdminIDs []string
}

// LimitsConfig bounds per-user and process-wide resource usage.
type LimitsConfig struct {
	BatchSize            int
	MaxRecipients        int
	SessionTimeout       time.Duration
	RateLimitMax         int
	RateLimitWindow      time.Duration
	MaxConcurrentBatches int
}

// SMTPConfig holds outbound-connection timeouts.
type SMTPConfig struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	LocalName      string
}

// DomainsConfig locates the persisted sender-domain pool.
type DomainsConfig struct {
	File string
}

// OpsConfig holds the operational HTTP endpoint settings.
type OpsConfig struct {
	Addr string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Token:    getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminIDs: splitList(getEnv("TELEGRAM_ADMIN_IDS", "")),
		},
		Limits: LimitsConfig{
			BatchSize:            getIntEnv("BATCH_SIZE", 5),
			MaxRecipients:        getIntEnv("MAX_RECIPIENTS", 100),
			SessionTimeout:       getDurationEnv("SESSION_TIMEOUT", 30*time.Minute),
			RateLimitMax:         getIntEnv("RATE_LIMIT_MAX", 10),
			RateLimitWindow:      getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			MaxConcurrentBatches: getIntEnv("MAX_CONCURRENT_BATCHES", 4),
		},
		SMTP: SMTPConfig{
			ConnectTimeout: getDurationEnv("SMTP_CONNECT_TIMEOUT", 15*time.Second),
			SendTimeout:    getDurationEnv("SMTP_SEND_TIMEOUT", 30*time.Second),
			LocalName:      getEnv("SMTP_LOCAL_NAME", "localhost"),
		},
		Domains: DomainsConfig{
			File: getEnv("DOMAINS_FILE", "domains.json"),
		},
		Ops: OpsConfig{
			Addr: getEnv("OPS_ADDR", ":9090"),
		},
		Log: logger.Config{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			Output:    getEnv("LOG_OUTPUT", "stdout"),
			AddSource: getBoolEnv("LOG_ADD_SOURCE", false),
		},
	}
}

// Validate reports configuration errors that prevent startup.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Limits.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1")
	}
	if c.Limits.RateLimitMax < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX must be at least 1")
	}
	return nil
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns an integer from an environment variable or default.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getBoolEnv returns a boolean from an environment variable or default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getDurationEnv returns a duration from an environment variable or default.
// Accepts Go duration syntax ("90s", "30m") or a bare number of seconds.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
