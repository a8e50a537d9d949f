package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Playback policy values are tunable via environment but ship with the
// defaults the product launched with.
type Config struct {
	ListenAddr string
	JWTSecret  string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO 对象存储配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// 广告策略配置
	AdInterval     time.Duration // minimum wall-clock gap between ad breaks
	AdGracePeriod  time.Duration // no ads at all for this long after a break
	SkipThreshold  int           // skips within SkipWindow that trigger a break
	SkipWindow     time.Duration // rolling window for the skip counter
	MaxAdFailures  int           // circuit breaker ceiling
	MaxAdsPerBreak int
	SignedURLTTL   time.Duration // lifetime of presigned storage URLs

	// 广告素材投放目录（fsnotify 监听）
	AdDropDir string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration in seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		JWTSecret:  getEnv("JWT_SECRET", "echofm-dev-secret"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for the password
		DBName:     getEnv("DB_NAME", "echofm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "echofm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		AdInterval:     getEnvDuration("AD_INTERVAL_SECONDS", 30*time.Minute),
		AdGracePeriod:  getEnvDuration("AD_GRACE_SECONDS", 30*time.Minute),
		SkipThreshold:  getEnvInt("AD_SKIP_THRESHOLD", 5),
		SkipWindow:     getEnvDuration("AD_SKIP_WINDOW_SECONDS", 60*time.Second),
		MaxAdFailures:  getEnvInt("AD_MAX_FAILURES", 3),
		MaxAdsPerBreak: getEnvInt("AD_MAX_PER_BREAK", 4),
		SignedURLTTL:   getEnvDuration("SIGNED_URL_TTL_SECONDS", time.Hour),

		AdDropDir: getEnv("AD_DROP_DIR", "addrop"),
	}
}
