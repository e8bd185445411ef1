// Package config loads runtime settings for the Nexus binaries from an
// optional .env file and the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexus/chat-app/internal/logx"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Transports.
const (
	TransportNATS  = "nats"
	TransportRelay = "relay"
)

// DefaultOperatorName is the account granted the operator role when no
// OPERATOR_NAME is configured.
const DefaultOperatorName = "Dylan2408R2"

// AppConfig holds every setting shared by cmd/tab and cmd/relay.
type AppConfig struct {
	Environment string

	// Local store
	Storage           string // redis (shared, default) | memory (this process only)
	RedisAddr         string
	RedisPrefix       string
	StorageQuotaBytes int // 0 disables the quota

	// Bus
	Transport   string // nats | relay
	ChannelName string
	NATSURL     string
	RelayURL    string

	// Relay server
	RelayAddr         string
	HeartbeatInterval time.Duration

	// Chat
	OperatorName string
}

// IsDevelopment reports whether the app runs in development mode.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// LoadConfig reads .env (if present) and the environment, applies defaults and
// validates the result.
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logx.Debug("config: no .env file, using process environment")
	}

	cfg := &AppConfig{
		Environment:  getEnv("APP_ENV", "development"),
		Storage:      strings.ToLower(getEnv("STORAGE", StorageRedis)),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix:  getEnv("REDIS_PREFIX", "nexus:"),
		Transport:    strings.ToLower(getEnv("TRANSPORT", TransportNATS)),
		ChannelName:  getEnv("CHANNEL_NAME", "nexus_global_chat_v2"),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		RelayURL:     getEnv("RELAY_URL", "ws://localhost:8090/ws"),
		RelayAddr:    getEnv("RELAY_ADDR", ":8090"),
		OperatorName: getEnv("OPERATOR_NAME", DefaultOperatorName),
	}

	quota, err := strconv.Atoi(getEnv("STORAGE_QUOTA_BYTES", "5242880"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORAGE_QUOTA_BYTES: %w", err)
	}
	if quota < 0 {
		return nil, fmt.Errorf("STORAGE_QUOTA_BYTES must not be negative, got %d", quota)
	}
	cfg.StorageQuotaBytes = quota

	interval, err := time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
	}
	cfg.HeartbeatInterval = interval

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *AppConfig) Validate() error {
	switch c.Storage {
	case StorageMemory, StorageRedis:
	default:
		return fmt.Errorf("unsupported STORAGE %q (want %s or %s)", c.Storage, StorageMemory, StorageRedis)
	}
	switch c.Transport {
	case TransportNATS, TransportRelay:
	default:
		return fmt.Errorf("unsupported TRANSPORT %q (want %s or %s)", c.Transport, TransportNATS, TransportRelay)
	}
	if strings.TrimSpace(c.ChannelName) == "" {
		return fmt.Errorf("CHANNEL_NAME must not be empty")
	}
	if c.OperatorName == "" {
		return fmt.Errorf("OPERATOR_NAME must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
