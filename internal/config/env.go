package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL    string
	SslCertPath    string
	JWTSecret      string
	AccessTokenTTL time.Duration
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string
	S3Endpoint     string
	AIAPIKey       string
	EmbedModel     string
	EmbedDim       int
	GenModel       string
	Port           string
	CORSOrigins    []string
	LogMode        string
	MaxUploadBytes int64
	IndexWorkers   int
}

// LoadConfig loads the environment variables and returns the config.
// A missing DATABASE_URL or JWT_SECRET_KEY is an error; the caller is expected to exit.
func LoadConfig() (*Config, error) {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SslCertPath:    getEnv("SSL_CERT_PATH", ""),
		JWTSecret:      getEnv("JWT_SECRET_KEY", ""),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "files"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:       getEnvInt("EMBED_DIM", 768),
		GenModel:       getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:           getEnv("PORT", "8080"),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		LogMode:        getEnv("LOG_MODE", "development"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_MB", 25)) << 20,
		IndexWorkers:   getEnvInt("INDEX_WORKERS", 2),
	}

	var errs []error
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY not set"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return cfg, nil
}

// AIEnabled reports whether a Gemini key was configured.
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
