package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (webhook dedup + rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// WhatsApp Cloud API
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppAPIVersion    string
	WhatsAppVerifyToken   string

	// AWS services
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// SQS dispatch queue (optional; empty URL disables queueing)
	SQSRegion   string
	SQSQueueURL string

	// Document generation
	PDFOutputDir  string
	PublicBaseURL string

	// Dispatch retry policy
	DispatchMaxAttempts int
	DispatchBaseDelay   time.Duration
	DispatchMaxDelay    time.Duration

	// Outbound call timeout (document generation, channel delivery)
	ProviderTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "invoiceflow",
		DBName:    "invoiceflow",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		WhatsAppAPIVersion: "v17.0",

		AWSRegion:    "us-east-1",
		SESFromEmail: "billing@invoiceflow.local",

		PDFOutputDir:  "public/invoices",
		PublicBaseURL: "http://localhost:8080",

		DispatchMaxAttempts: 3,
		DispatchBaseDelay:   500 * time.Millisecond,
		DispatchMaxDelay:    8 * time.Second,
		ProviderTimeout:     15 * time.Second,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if token := os.Getenv("WHATSAPP_ACCESS_TOKEN"); token != "" {
		cfg.WhatsAppAccessToken = token
	}

	if id := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); id != "" {
		cfg.WhatsAppPhoneNumberID = id
	}

	if v := os.Getenv("WHATSAPP_API_VERSION"); v != "" {
		cfg.WhatsAppAPIVersion = v
	}

	if token := os.Getenv("WHATSAPP_VERIFY_TOKEN"); token != "" {
		cfg.WhatsAppVerifyToken = token
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}

	if url := os.Getenv("SQS_QUEUE_URL"); url != "" {
		cfg.SQSQueueURL = url
	}

	if dir := os.Getenv("PDF_OUTPUT_DIR"); dir != "" {
		cfg.PDFOutputDir = dir
	}

	if base := os.Getenv("PUBLIC_BASE_URL"); base != "" {
		cfg.PublicBaseURL = base
	}

	if v := os.Getenv("DISPATCH_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid DISPATCH_MAX_ATTEMPTS: %q", v)
		}
		cfg.DispatchMaxAttempts = n
	}

	if v := os.Getenv("DISPATCH_BASE_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_BASE_DELAY: %w", err)
		}
		cfg.DispatchBaseDelay = d
	}

	if v := os.Getenv("DISPATCH_MAX_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_MAX_DELAY: %w", err)
		}
		cfg.DispatchMaxDelay = d
	}

	if v := os.Getenv("PROVIDER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
		}
		cfg.ProviderTimeout = d
	}

	return cfg, nil
}
