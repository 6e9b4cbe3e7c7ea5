package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fishquiz/models"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

type Config struct {
	Port                  string
	BindAddress           string
	DBHost                string
	DBPort                string
	DBUser                string
	DBPassword            string
	DBName                string
	DBSSLMode             string
	RedisHost             string
	RedisPort             string
	RedisPassword         string
	RedisDB               int
	CacheBackend          string
	CacheTTL              time.Duration
	DuplicateAnswerPolicy string
	GinMode               string
	CORSOrigins           []string
}

func Load() *Config {
	return &Config{
		Port:                  getEnv("PORT", "8080"),
		BindAddress:           getEnv("BIND_ADDRESS", ""),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                getEnv("DB_USER", "fishquiz"),
		DBPassword:            getEnv("DB_PASSWORD", "fishquiz"),
		DBName:                getEnv("DB_NAME", "fishquiz"),
		DBSSLMode:             getEnv("DB_SSLMODE", "disable"),
		RedisHost:             getEnv("REDIS_HOST", "localhost"),
		RedisPort:             getEnv("REDIS_PORT", "6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		CacheBackend:          strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendRedis)),
		CacheTTL:              getEnvDuration("CACHE_TTL", 10*time.Minute),
		DuplicateAnswerPolicy: strings.ToLower(getEnv("DUPLICATE_ANSWER_POLICY", "last")),
		GinMode:               getEnv("GIN_MODE", "release"),
		CORSOrigins:           splitList(getEnv("CORS_ORIGINS", "*")),
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddress + ":" + c.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		glog.Warningf("invalid %s=%q, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		glog.Warningf("invalid %s=%q, using %s", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Category{},
		&models.Question{},
		&models.Answer{},
		&models.Evaluation{},
		&models.UserAnswer{},
		&models.Certificate{},
	)
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return client
}
