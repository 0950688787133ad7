// Package config provides environment configuration for the SDK binaries.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the demo client and the simulator.
type Config struct {
	// Simulator server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Transport selects the demo client's backend: "rest" or "nats".
	Transport string

	// REST transport settings
	BaseURL string
	WSURL   string

	// NATS transport settings
	NATSURL   string
	NATSToken string

	// JWT settings (dev auth between demo client and simulator)
	JWTSecret     string
	JWTExpiration time.Duration

	// Identity
	AppUserID      string
	ConversationID string

	// Typing debounce
	TypingIdleTimeout time.Duration

	// Responder (simulator auto-reply)
	AnthropicAPIKey string
	OpenAIAPIKey    string
	ResponderModel  string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Simulator server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Transport
		Transport: getEnv("CHATKIT_TRANSPORT", "rest"),

		// REST transport
		BaseURL: getEnv("CHATKIT_BASE_URL", "http://localhost:8080"),
		WSURL:   getEnv("CHATKIT_WS_URL", "ws://localhost:8080"),

		// NATS transport
		NATSURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 24*time.Hour),

		// Identity
		AppUserID:      getEnv("CHATKIT_APP_USER_ID", "demo-user"),
		ConversationID: getEnv("CHATKIT_CONVERSATION_ID", ""),

		// Typing
		TypingIdleTimeout: getDurationEnv("CHATKIT_TYPING_IDLE_TIMEOUT", 10*time.Second),

		// Responder
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		ResponderModel:  getEnv("RESPONDER_MODEL", ""),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
