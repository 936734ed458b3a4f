package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort           string
	ServiceApiPort    string
	CorsAllowedOrigin string
	FrontendURL       string

	// Payments
	StripeSecretKey        string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	GatewayTimeout         time.Duration
	Currency               string
	PlatformFeePercent     decimal.Decimal // fraction, 0.10 = 10%

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	VideoBaseS3URL     string
	VideoUploadURLTTL  time.Duration
	VideoMaxSizeMB     int

	// App Defaults
	AppName        string
	PasswordRegexp string

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode,
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getSeconds := func(key, defaultValue string) (time.Duration, error) {
		n, err := strconv.ParseInt(getEnv(key, defaultValue), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return time.Duration(n) * time.Second, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "lingocrowd")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CorsAllowedOrigin = getEnv("CORS_ALLOWED_ORIGIN", "*")
	cfg.FrontendURL = getEnv("FRONTEND_URL", "http://localhost:3000")
	cfg.StripeSecretKey = getEnv("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", "")
	cfg.Currency = getEnv("CURRENCY", "usd")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@lingocrowd.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.VideoBaseS3URL = getEnv("VIDEO_BASE_S3_URL", "")
	cfg.AppName = getEnv("APP_NAME", "LingoCrowd")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")

	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	if cfg.JwtTTL, err = getSeconds("JWT_TTL_SECONDS", "3600"); err != nil {
		return nil, err
	}
	if cfg.StripeWebhookTolerance, err = getSeconds("STRIPE_WEBHOOK_TOLERANCE_SECONDS", "300"); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getSeconds("GATEWAY_TIMEOUT_SECONDS", "15"); err != nil {
		return nil, err
	}

	uploadTTLMinutes, err := strconv.ParseInt(getEnv("VIDEO_UPLOAD_URL_TTL_MINUTES", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid VIDEO_UPLOAD_URL_TTL_MINUTES: %w", err)
	}
	cfg.VideoUploadURLTTL = time.Duration(uploadTTLMinutes) * time.Minute

	cfg.VideoMaxSizeMB, err = strconv.Atoi(getEnv("VIDEO_MAX_SIZE_MB", "2048"))
	if err != nil {
		return nil, fmt.Errorf("invalid VIDEO_MAX_SIZE_MB: %w", err)
	}

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.PlatformFeePercent, err = ParseFeePercent(getEnv("PLATFORM_FEE_PERCENT", "0.10"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_FEE_PERCENT: %w", err)
	}

	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}

// ParseFeePercent parses a fee fraction such as "0.10" and checks it lies in [0, 1).
func ParseFeePercent(s string) (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("fee %s out of range [0, 1)", s)
	}
	return fee, nil
}
