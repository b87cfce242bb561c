package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Database struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Config struct {
	Port           string
	LogMode        string
	MaxUploadSize  int64
	UploadDir      string
	MigrationsPath string

	Database Database
	Redis    Redis

	OpenAIAPIKey string

	// CreditsPerKTokens is the billing markup: credits charged per 1000
	// model tokens, rounded up per request.
	CreditsPerKTokens int
}

// Load reads configuration from the environment. A .env file is applied
// first if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		LogMode:        getEnv("LOG_MODE", "dev"),
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./migrations"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
	}

	maxSize, err := strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE", "1073741824"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
	}
	cfg.MaxUploadSize = maxSize

	cfg.CreditsPerKTokens, err = strconv.Atoi(getEnv("CREDITS_PER_K_TOKENS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid CREDITS_PER_K_TOKENS: %w", err)
	}

	cfg.Database = Database{
		Type:       getEnv("DB_TYPE", "sqlite"),
		SQLitePath: getEnv("DB_PATH", "./framesift.db"),
		Host:       getEnv("DB_HOST", "localhost"),
		User:       getEnv("DB_USER", "framesift"),
		Password:   getEnv("DB_PASSWORD", ""),
		Name:       getEnv("DB_NAME", "framesift"),
	}
	cfg.Database.Port, err = strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	cfg.Redis = Redis{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASS"),
	}
	cfg.Redis.DB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
