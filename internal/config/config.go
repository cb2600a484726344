package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=vetclinic port=5432 sslmode=disable"

type Config struct {
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	JWTTTL      time.Duration
	CORSOrigins string
	LogLevel    string

	// Empty RedisAddress keeps locking and caching in-process.
	RedisAddress     string
	ProductCacheTTL  time.Duration
	ProductCacheSize int
	StockLockTTL     time.Duration

	// NoBatchShortfall is "report" or "clamp", see stock.NoBatchPolicy.
	NoBatchShortfall string
}

func Load() *Config {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:      getEnv("DATABASE_DSN", defaultDSN),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTTTL:           getDuration("JWT_TTL", 12*time.Hour),
		CORSOrigins:      getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		RedisAddress:     getEnv("REDIS_ADDRESS", ""),
		ProductCacheTTL:  getDuration("PRODUCT_CACHE_TTL", 30*time.Second),
		ProductCacheSize: getInt("PRODUCT_CACHE_SIZE", 1024),
		StockLockTTL:     getDuration("STOCK_LOCK_TTL", 30*time.Second),
		NoBatchShortfall: getEnv("NO_BATCH_SHORTFALL", "report"),
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	if cfg.DatabaseDSN == defaultDSN {
		log.Println("[WARN] DATABASE_DSN is using the default value, set your own Postgres connection for production.")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		log.Println("[WARN] CORS_ALLOWED_ORIGINS is using the default value, set your own domain for production.")
	}

	return cfg
}

// Validate reports the first setting that makes the service unsafe or unusable.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be a positive duration")
	}
	if c.NoBatchShortfall != "report" && c.NoBatchShortfall != "clamp" {
		return fmt.Errorf("NO_BATCH_SHORTFALL must be 'report' or 'clamp', got %q", c.NoBatchShortfall)
	}
	if c.ProductCacheSize <= 0 {
		return fmt.Errorf("PRODUCT_CACHE_SIZE must be positive")
	}
	if c.ProductCacheTTL <= 0 || c.StockLockTTL <= 0 {
		return fmt.Errorf("PRODUCT_CACHE_TTL and STOCK_LOCK_TTL must be positive durations")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[WARN] %s=%q is not a number, using %d", key, v, def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[WARN] %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}
