package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// It is read once at startup and treated as immutable for the process lifetime.
type Config struct {
	HTTPAddr string

	Headless  bool
	ChromeBin string

	NavTimeout    time.Duration
	ActionTimeout time.Duration
	DetailTimeout time.Duration
	DetailRetries int

	ScrollRounds  int
	ScrollStepPx  int
	ScrollDelayMs int

	MaxConcurrency int
	RateLimitMs    int
	MaxImages      int
	RecycleEvery   int

	JobTTL      time.Duration
	JobCapacity int

	PostgresDSN   string
	CSVOutputPath string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		Headless:  getEnvBool("HEADLESS", true),
		ChromeBin: getEnv("CHROME_BIN", ""),

		NavTimeout:    getEnvDuration("NAV_TIMEOUT_MS", 45*time.Second),
		ActionTimeout: getEnvDuration("ACTION_TIMEOUT_MS", 10*time.Second),
		DetailTimeout: getEnvDuration("DETAIL_TIMEOUT_MS", 60*time.Second),
		DetailRetries: getEnvInt("DETAIL_RETRIES", 3),

		ScrollRounds:  getEnvInt("SCROLL_ROUNDS", 12),
		ScrollStepPx:  getEnvInt("SCROLL_STEP_PX", 1200),
		ScrollDelayMs: getEnvInt("SCROLL_DELAY_MS", 700),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 1500),
		MaxImages:      getEnvInt("MAX_IMAGES", 15),
		RecycleEvery:   getEnvInt("RECYCLE_EVERY", 8),

		JobTTL:      getEnvDuration("JOB_TTL_MS", 30*time.Minute),
		JobCapacity: getEnvInt("JOB_CAPACITY", 50),

		PostgresDSN:   getEnv("PG_DSN", ""),
		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/listings.csv"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		ms, err := strconv.Atoi(val)
		if err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
