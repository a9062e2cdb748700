// Package server provides configuration helpers that define runtime
// defaults, validation, and policy selection for the coordinator.
package server

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the coordinator configuration, including the room policy and
// the transport security controls.
type Config struct {
	Port           string
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig

	// RoomPolicy fixes the room lifecycle semantics for this deployment.
	RoomPolicy RoomPolicy

	// RoomCapacity caps room membership under the implicit policy. The owned
	// policy imposes no cap regardless of this value.
	RoomCapacity int

	// HistoryLimit bounds per-room chat history; oldest entries are evicted.
	HistoryLimit int

	// MaxNameLength bounds display names, in runes after trimming.
	MaxNameLength int

	// RoomListPush selects the broad variant: every room-list-affecting
	// change is pushed to all connections. When false, clients re-pull.
	RoomListPush bool
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":3000",
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		MaxMessageSize: 64 * 1024, // enough for WebRTC SDP payloads
		RateLimit: RateLimitConfig{
			Burst:          50,
			RefillInterval: time.Second,
		},
		RoomPolicy:    PolicyImplicit,
		RoomCapacity:  5,
		HistoryLimit:  200,
		MaxNameLength: 16,
		RoomListPush:  true,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = ":3000"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.RoomPolicy != PolicyOwned {
		cfg.RoomPolicy = PolicyImplicit
	}

	if cfg.RoomCapacity < 0 {
		cfg.RoomCapacity = 0
	}

	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}

	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = 16
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if policy := os.Getenv("ROOM_POLICY"); policy != "" {
		cfg.RoomPolicy = parseRoomPolicy(policy, cfg.RoomPolicy)
	}

	if capacity := os.Getenv("ROOM_CAPACITY"); capacity != "" {
		cfg.RoomCapacity = parseIntValue(capacity, cfg.RoomCapacity)
	}

	if limit := os.Getenv("ROOM_HISTORY_LIMIT"); limit != "" {
		cfg.HistoryLimit = parseIntValue(limit, cfg.HistoryLimit)
	}

	if push := os.Getenv("ROOM_LIST_PUSH"); push != "" {
		if parsed, err := strconv.ParseBool(push); err == nil {
			cfg.RoomListPush = parsed
		}
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseRoomPolicy(value string, defaultValue RoomPolicy) RoomPolicy {
	switch RoomPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicyImplicit:
		return PolicyImplicit
	case PolicyOwned:
		return PolicyOwned
	default:
		return defaultValue
	}
}
