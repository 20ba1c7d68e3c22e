package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	PublicBaseURL string

	// WhatsApp Cloud API
	WhatsAppToken         string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppGraphBaseURL  string
	WhatsAppAPIVersion    string

	// Ledger Service
	LedgerDriver      string
	LedgerBaseURL     string
	LedgerAPIToken    string
	LedgerTimeout     time.Duration
	LedgerEmailDomain string
	LedgerTokenSymbol string
	LedgerStatusPath  string

	// Dialogue
	MaxTransferAmount  string
	CurrencySymbol     string
	RegisterURL        string
	DownloadURL        string
	NotifyMaxAttempts  int
	NotifyBackoff      time.Duration
	BulkNotifyInterval time.Duration

	// Session + dedup stores
	SessionStore  string
	SessionTTL    time.Duration
	SessionsTable string
	DedupStore    string
	DedupTTL      time.Duration
	DedupMaxSize  int
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Inbound queue
	InboundQueue string
	SQSQueueURL  string
	WorkerCount  int

	DatabaseURL string

	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	WebhookArchiveBucket string

	// Ops alerts for ambiguous transfers
	OpsAlertEmail     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SESFromEmail      string
	SESConfigSet      string
	AlertFromName     string

	APIKey         string
	AdminJWTSecret string
	APIRateLimit   int
	APIRateBurst   int

	TransferVelocityLimit  int64
	TransferVelocityWindow time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first without overriding variables already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		WhatsAppToken:         getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppGraphBaseURL:  getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com"),
		WhatsAppAPIVersion:    getEnv("WHATSAPP_API_VERSION", "v20.0"),

		LedgerDriver:      strings.ToLower(strings.TrimSpace(getEnv("LEDGER_DRIVER", "http"))),
		LedgerBaseURL:     getEnv("LEDGER_BASE_URL", ""),
		LedgerAPIToken:    getEnv("LEDGER_API_TOKEN", ""),
		LedgerTimeout:     getEnvAsDuration("LEDGER_TIMEOUT", 10*time.Second),
		LedgerEmailDomain: getEnv("LEDGER_EMAIL_DOMAIN", "tata-mali.com"),
		LedgerTokenSymbol: getEnv("LEDGER_TOKEN_SYMBOL", "LZAR"),
		LedgerStatusPath:  getEnv("LEDGER_STATUS_PATH", ""),

		MaxTransferAmount:  getEnv("MAX_TRANSFER_AMOUNT", "10000"),
		CurrencySymbol:     getEnv("CURRENCY_SYMBOL", "R"),
		RegisterURL:        getEnv("APP_USER_REGISTER_URL", "https://your-registration-app.com/register"),
		DownloadURL:        getEnv("APP_DOWNLOAD_URL", "https://your-app.com/download"),
		NotifyMaxAttempts:  getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 3),
		NotifyBackoff:      getEnvAsDuration("NOTIFY_BACKOFF", 500*time.Millisecond),
		BulkNotifyInterval: getEnvAsDuration("BULK_NOTIFY_INTERVAL", time.Second),

		SessionStore:  strings.ToLower(strings.TrimSpace(getEnv("SESSION_STORE", "memory"))),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 30*24*time.Hour),
		SessionsTable: getEnv("SESSIONS_TABLE", "wallet_sessions"),
		DedupStore:    strings.ToLower(strings.TrimSpace(getEnv("DEDUP_STORE", "memory"))),
		DedupTTL:      getEnvAsDuration("DEDUP_TTL", 10*time.Minute),
		DedupMaxSize:  getEnvAsInt("DEDUP_MAX_SIZE", 10000),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		InboundQueue: strings.ToLower(strings.TrimSpace(getEnv("INBOUND_QUEUE", "memory"))),
		SQSQueueURL:  getEnv("SQS_QUEUE_URL", ""),
		WorkerCount:  getEnvAsInt("WORKER_COUNT", 4),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		WebhookArchiveBucket: getEnv("WEBHOOK_ARCHIVE_BUCKET", ""),

		OpsAlertEmail:     getEnv("OPS_ALERT_EMAIL", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:      getEnv("SES_CONFIGURATION_SET", ""),
		AlertFromName:     getEnv("ALERT_FROM_NAME", "Tata Mali Ops"),

		APIKey:         getEnv("API_KEY", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		APIRateLimit:   getEnvAsInt("API_RATE_LIMIT", 10),
		APIRateBurst:   getEnvAsInt("API_RATE_BURST", 20),

		TransferVelocityLimit:  getEnvAsInt64("TRANSFER_VELOCITY_LIMIT", 0),
		TransferVelocityWindow: getEnvAsDuration("TRANSFER_VELOCITY_WINDOW", time.Hour),
	}
}

// Validate reports settings that are required by the selected drivers.
func (c *Config) Validate() error {
	var errs []error
	if c.LedgerDriver == "http" {
		if c.LedgerBaseURL == "" {
			errs = append(errs, errors.New("LEDGER_BASE_URL is required when LEDGER_DRIVER=http"))
		}
		if c.LedgerAPIToken == "" {
			errs = append(errs, errors.New("LEDGER_API_TOKEN is required when LEDGER_DRIVER=http"))
		}
	} else if c.LedgerDriver != "memory" {
		errs = append(errs, fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver))
	}
	switch c.SessionStore {
	case "memory", "redis":
	case "dynamodb":
		if c.SessionsTable == "" {
			errs = append(errs, errors.New("SESSIONS_TABLE is required when SESSION_STORE=dynamodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore))
	}
	switch c.DedupStore {
	case "memory", "redis":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when DEDUP_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DEDUP_STORE %q", c.DedupStore))
	}
	switch c.InboundQueue {
	case "memory":
	case "sqs":
		if c.SQSQueueURL == "" {
			errs = append(errs, errors.New("SQS_QUEUE_URL is required when INBOUND_QUEUE=sqs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown INBOUND_QUEUE %q", c.InboundQueue))
	}
	if c.NotifyMaxAttempts < 1 {
		errs = append(errs, errors.New("NOTIFY_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
