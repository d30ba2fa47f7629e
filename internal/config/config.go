package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DBDriver    string
	DatabaseURL string
	SQLitePath  string
	TimeZone    string
	SessionTTL  time.Duration

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DashboardCacheTTL time.Duration

	RateLimitPerMinute      int
	RateLimitBurst          int
	ActorRateLimitPerMinute int
	ActorRateLimitBurst     int
	TrustedProxies          []string
}

// Load reads the environment, after applying an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        readString("PORT", "8080"),
		Env:         readString("APP_ENV", "production"),
		LogLevel:    readString("LOG_LEVEL", "info"),
		DBDriver:    strings.ToLower(readString("DB_DRIVER", "postgres")),
		DatabaseURL: os.Getenv("DB_DSN"),
		SQLitePath:  readString("SQLITE_PATH", "data/walkin.db"),
		TimeZone:    readString("SERVICE_TIMEZONE", "Asia/Ho_Chi_Minh"),
		SessionTTL:  readDurationMinutes("SESSION_TTL_MINUTES", 480),

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           readInt("REDIS_DB", 0),
		DashboardCacheTTL: readDurationSeconds("DASHBOARD_CACHE_TTL_SECONDS", 15),

		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		ActorRateLimitPerMinute: readInt("ACTOR_RATE_LIMIT_PER_MIN", 600),
		ActorRateLimitBurst:     readInt("ACTOR_RATE_LIMIT_BURST", 120),
		TrustedProxies:          readList("TRUSTED_PROXIES"),
	}
}

// Location resolves TimeZone. An unknown zone is an error: the service day,
// ticket numbering and every "today" count depend on it.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load SERVICE_TIMEZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func readList(key string) []string {
	var values []string
	for _, value := range strings.Split(os.Getenv(key), ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	return values
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMinutes(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Minute
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
