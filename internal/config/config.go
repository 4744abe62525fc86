// Package config holds gateway configuration.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host    string
	Port    int
	Verbose bool
	Debug   bool

	// Backend TabbyAPI connection.
	BackendURL     string
	BackendAPIKey  string
	BackendTimeout time.Duration

	// Bearer token required from clients; empty disables auth.
	AuthAPIKey string

	// Models matching any of these substrings get reasoning-marker and
	// tool-call translation; everything else is passed through.
	ModelPatterns []string

	// Session store.
	SessionStoreEnabled     bool
	SessionStoreBackend     string
	SessionStorePath        string
	SessionTTL              time.Duration
	MaxMessagesPerSession   int
	RequireSessionForRepair bool

	// Output shaping.
	EnableReasoningSplit bool
	EnableThinkingBlocks bool
	EnableCharBlocking   bool
	BannedStrings        []string
}

// DefaultFromEnv creates a ServerConfig with defaults from environment
// variables. Load a .env file before calling when one is present.
func DefaultFromEnv() *ServerConfig {
	return &ServerConfig{
		Host:    envOrDefault("MINIMAX_GATE_HOST", "0.0.0.0"),
		Port:    envInt("MINIMAX_GATE_PORT", 8001),
		Verbose: envBool("MINIMAX_GATE_VERBOSE", false),
		Debug:   envBool("MINIMAX_GATE_DEBUG", false),

		BackendURL:     envOrDefault("MINIMAX_GATE_BACKEND_URL", "http://localhost:8000"),
		BackendAPIKey:  strings.TrimSpace(os.Getenv("MINIMAX_GATE_BACKEND_API_KEY")),
		BackendTimeout: time.Duration(envInt("MINIMAX_GATE_BACKEND_TIMEOUT", 300)) * time.Second,

		AuthAPIKey: strings.TrimSpace(os.Getenv("MINIMAX_GATE_AUTH_API_KEY")),

		ModelPatterns: envList("MINIMAX_GATE_MODEL_PATTERNS", []string{"minimax"}),

		SessionStoreEnabled:     envBool("MINIMAX_GATE_SESSION_STORE_ENABLED", true),
		SessionStoreBackend:     envOrDefault("MINIMAX_GATE_SESSION_STORE_BACKEND", "memory"),
		SessionStorePath:        envOrDefault("MINIMAX_GATE_SESSION_STORE_PATH", "sessions.db"),
		SessionTTL:              time.Duration(envInt("MINIMAX_GATE_SESSION_TTL", 3600)) * time.Second,
		MaxMessagesPerSession:   envInt("MINIMAX_GATE_MAX_MESSAGES_PER_SESSION", 200),
		RequireSessionForRepair: envBool("MINIMAX_GATE_REQUIRE_SESSION_FOR_REPAIR", false),

		EnableReasoningSplit: envBool("MINIMAX_GATE_ENABLE_REASONING_SPLIT", true),
		EnableThinkingBlocks: envBool("MINIMAX_GATE_ENABLE_THINKING_BLOCKS", true),
		EnableCharBlocking:   envBool("MINIMAX_GATE_ENABLE_CHAR_BLOCKING", false),
		BannedStrings:        envList("MINIMAX_GATE_BANNED_STRINGS", nil),
	}
}

// IsTranslatedModel reports whether the model gets reasoning and tool-call
// translation.
func (c *ServerConfig) IsTranslatedModel(model string) bool {
	lower := strings.ToLower(model)
	for _, pattern := range c.ModelPatterns {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func envList(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
