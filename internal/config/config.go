package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string

	// Blizzard API
	BlizzardClientID     string
	BlizzardClientSecret string
	BlizzardRegion       string
	BlizzardNamespace    string
	BlizzardLocale       string
	APICallInterval      time.Duration
	APITimeout           time.Duration
	APIMaxAttempts       int

	// Collection
	CollectInterval   time.Duration
	MaxRealms         int // realms per sweep, 0 = all
	RetentionDays     int // 0 disables the retention sweep
	ItemClassInterval time.Duration

	// Metadata backfill
	BackfillInterval  time.Duration
	BackfillBatchSize int
	// "drop" marks 404 items as having no metadata; "retry" keeps them queued.
	BackfillNotFoundPolicy string

	// Aggregation cache
	CacheTTL time.Duration
}

func Load() *Config {
	region := getEnv("BLIZZARD_REGION", "kr")

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", "root:password@tcp(127.0.0.1:3306)/wow_auction?charset=utf8mb4&parseTime=True&loc=Local"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		BlizzardClientID:     getEnv("BLIZZARD_CLIENT_ID", ""),
		BlizzardClientSecret: getEnv("BLIZZARD_CLIENT_SECRET", ""),
		BlizzardRegion:       region,
		BlizzardNamespace:    getEnv("BLIZZARD_NAMESPACE", fmt.Sprintf("dynamic-%s", region)),
		BlizzardLocale:       getEnv("BLIZZARD_LOCALE", "ko_KR"),
		APICallInterval:      getEnvDuration("API_CALL_INTERVAL", time.Second),
		APITimeout:           getEnvDuration("API_TIMEOUT", 30*time.Second),
		APIMaxAttempts:       getEnvInt("API_MAX_ATTEMPTS", 3),

		CollectInterval:   getEnvDuration("COLLECT_INTERVAL", time.Hour),
		MaxRealms:         getEnvInt("MAX_REALMS", 10),
		RetentionDays:     getEnvInt("RETENTION_DAYS", 7),
		ItemClassInterval: getEnvDuration("ITEM_CLASS_INTERVAL", 24*time.Hour),

		BackfillInterval:       getEnvDuration("BACKFILL_INTERVAL", 30*time.Second),
		BackfillBatchSize:      getEnvInt("BACKFILL_BATCH_SIZE", 5),
		BackfillNotFoundPolicy: getEnv("BACKFILL_NOT_FOUND_POLICY", "drop"),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
