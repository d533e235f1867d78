package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Scoring service
	EvalServiceURL string
	EvalTimeout    time.Duration
	EvalMaxRetries int
	ExportResetMS  int
	ExportWorkers  int
	ReportDir      string
	ReportMaxAge   time.Duration
	ChatMaxChars   int
	CommandRateMin int

	// Redis (optional)
	RedisURL string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		Env:            getEnvOrDefault("ENV", "development"),
		EvalServiceURL: getEnvOrDefault("EVAL_SERVICE_URL", "http://localhost:8000"),
		EvalTimeout:    time.Duration(getEnvAsIntOrDefault("EVAL_TIMEOUT_SECONDS", 30)) * time.Second,
		EvalMaxRetries: getEnvAsIntOrDefault("EVAL_MAX_RETRIES", 3),
		ExportResetMS:  getEnvAsIntOrDefault("EXPORT_RESET_MS", 1500),
		ExportWorkers:  getEnvAsIntOrDefault("EXPORT_WORKERS", 2),
		ReportDir:      getEnvOrDefault("REPORT_DIR", "./reports"),
		ReportMaxAge:   time.Duration(getEnvAsIntOrDefault("REPORT_RETENTION_HOURS", 24)) * time.Hour,
		ChatMaxChars:   getEnvAsIntOrDefault("CHAT_MAX_MESSAGE_CHARS", 4096),
		CommandRateMin: getEnvAsIntOrDefault("COMMAND_RATE_LIMIT", 60),
		RedisURL:       getEnvOrDefault("REDIS_URL", ""),
		FrontendURL:    getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.IsProduction() {
		cfg.EvalServiceURL = mustGetEnv("EVAL_SERVICE_URL")
	}

	return cfg
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	u, err := url.Parse(c.EvalServiceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("EVAL_SERVICE_URL must be an absolute http(s) URL, got %q", c.EvalServiceURL)
	}
	if c.EvalTimeout <= 0 {
		return fmt.Errorf("EVAL_TIMEOUT_SECONDS must be positive")
	}
	if c.EvalMaxRetries < 1 {
		return fmt.Errorf("EVAL_MAX_RETRIES must be at least 1")
	}
	if c.ExportResetMS <= 0 {
		return fmt.Errorf("EXPORT_RESET_MS must be positive")
	}
	if c.ExportWorkers < 1 {
		return fmt.Errorf("EXPORT_WORKERS must be at least 1")
	}
	if c.ReportDir == "" {
		return fmt.Errorf("REPORT_DIR must not be empty")
	}
	return nil
}

func (c *Config) ExportResetDelay() time.Duration {
	return time.Duration(c.ExportResetMS) * time.Millisecond
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
