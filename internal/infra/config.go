package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv        string
	BotToken      string
	ComfyBaseURL  string
	ComfyWorkflow string
	ComfyWSURL    string
	OpsAddr       string
	StatsPath     string
	LedgerPath    string
	DatabaseURL   string
	InitialGrant  int
	VideoCost     int
	AdminID       int64
	ArchiveDir    string

	RequestTimeout   time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "production"),
		BotToken:         os.Getenv("BOT_TOKEN"),
		ComfyBaseURL:     os.Getenv("COMFY_BASE_URL"),
		ComfyWorkflow:    getEnv("COMFY_WORKFLOW", "api-video"),
		ComfyWSURL:       os.Getenv("COMFY_WS_URL"),
		OpsAddr:          getEnv("OPS_ADDR", ":8081"),
		StatsPath:        getEnv("STATS_PATH", "processing_stats.json"),
		LedgerPath:       getEnv("LEDGER_PATH", "users.json"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		InitialGrant:     getEnvInt("INITIAL_GRANT", 10),
		VideoCost:        getEnvInt("VIDEO_COST", 1),
		AdminID:          getEnvInt64("ADMIN_ID", 0),
		ArchiveDir:       os.Getenv("ARCHIVE_DIR"),
		RequestTimeout:   time.Second * time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 300)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	if cfg.ComfyBaseURL == "" {
		return nil, fmt.Errorf("COMFY_BASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}
