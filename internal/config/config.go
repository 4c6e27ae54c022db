package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisURL    string

	SessionSecret string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	GeminiAPIKey      string
	GeminiModel       string
	GeminiVisionModel string

	LogLevel  string
	LogFormat string

	// ReportSchedule is a cron expression for the nightly report batch,
	// evaluated in ReportTimezone.
	ReportSchedule string
	ReportTimezone string

	ReportWebhookURL    string
	ReportWebhookSecret string

	// ChatHistoryWindow is the number of recent messages loaded as
	// context for a conversation turn.
	ChatHistoryWindow int
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:        getEnvWithDefault("PORT", "8080"),
		Env:         getEnvWithDefault("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),

		SessionSecret: os.Getenv("SESSION_SECRET"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),

		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnvWithDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiVisionModel: getEnvWithDefault("GEMINI_VISION_MODEL", "gemini-2.5-pro"),

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),

		ReportSchedule: getEnvWithDefault("REPORT_SCHEDULE", "0 21 * * *"),
		ReportTimezone: getEnvWithDefault("REPORT_TIMEZONE", "UTC"),

		ReportWebhookURL:    os.Getenv("REPORT_WEBHOOK_URL"),
		ReportWebhookSecret: os.Getenv("REPORT_WEBHOOK_SECRET"),

		ChatHistoryWindow: getEnvIntWithDefault("CHAT_HISTORY_WINDOW", 20),
	}

	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret-change-in-production-use-openssl-rand-hex-32"
		log.Println("WARNING: Using default SESSION_SECRET. Generate a secure secret with: openssl rand -hex 32")
	}

	if cfg.GeminiAPIKey == "" {
		log.Println("WARNING: GEMINI_API_KEY not set. Falling back to the stub model provider.")
	}

	return cfg
}

// DevMode reports whether the app runs outside production
func (c *Config) DevMode() bool {
	return c.Env != "production"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("WARNING: invalid %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
