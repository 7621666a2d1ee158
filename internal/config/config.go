// Package config holds the environment-driven configuration for digestd.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is parsed from DIGEST_-prefixed environment variables.
type Config struct {
	Port            string        `env:"DIGEST_PORT" envDefault:"8080"`
	APIKey          string        `env:"DIGEST_API_KEY"`
	AllowInsecure   bool          `env:"DIGEST_ALLOW_INSECURE_NO_AUTH" envDefault:"false"`
	ReadTimeout     time.Duration `env:"DIGEST_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"DIGEST_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"DIGEST_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"DIGEST_SHUTDOWN_TIMEOUT" envDefault:"20s"`

	// AWS / LocalStack
	AWSRegion      string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string `env:"AWS_ENDPOINT_URL"` // Empty = real AWS
	DynamoDBTable  string `env:"DIGEST_DYNAMODB_TABLE" envDefault:"digest-jobs"`
	SQSQueuePrefix string `env:"DIGEST_SQS_QUEUE_PREFIX" envDefault:"digest"`

	// Quota store
	RedisAddr     string `env:"DIGEST_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"DIGEST_REDIS_PASSWORD"`
	RedisDB       int    `env:"DIGEST_REDIS_DB" envDefault:"0"`

	// Rate limiter windows, a short and a long fixed window per actor.
	QuotaShortWindow time.Duration `env:"DIGEST_QUOTA_SHORT_WINDOW" envDefault:"1m"`
	QuotaLongWindow  time.Duration `env:"DIGEST_QUOTA_LONG_WINDOW" envDefault:"24h"`
	// Default policy when the quota store is unreachable and the tier
	// snapshot does not say otherwise.
	QuotaFailOpen bool `env:"DIGEST_QUOTA_FAIL_OPEN" envDefault:"false"`

	// Worker pool
	WorkerCount  int           `env:"DIGEST_WORKER_COUNT" envDefault:"4"`
	PollInterval time.Duration `env:"DIGEST_POLL_INTERVAL" envDefault:"1s"`
	// VisibilityTimeout is the SQS visibility window and the job lease
	// length. The worker bounds each job's whole call path to fit inside
	// it, so a chunked run cannot outlive its lease mid-flight.
	VisibilityTimeout time.Duration `env:"DIGEST_VISIBILITY_TIMEOUT" envDefault:"5m"`
	// A quota-denied job past this age is failed terminally instead of
	// requeued again ("try again later").
	MaxQuotaWait time.Duration `env:"DIGEST_MAX_QUOTA_WAIT" envDefault:"24h"`

	// Completion service
	CompletionBaseURL   string        `env:"DIGEST_COMPLETION_BASE_URL" envDefault:"https://api.deepseek.com"`
	CompletionAPIKey    string        `env:"DIGEST_COMPLETION_API_KEY"`
	CompletionModel     string        `env:"DIGEST_COMPLETION_MODEL" envDefault:"deepseek-chat"`
	CompletionTimeout   time.Duration `env:"DIGEST_COMPLETION_TIMEOUT" envDefault:"2m"`
	CompletionMaxTokens int           `env:"DIGEST_COMPLETION_MAX_TOKENS" envDefault:"4000"`
	// Context ceiling of the external service, in estimated tokens; inputs
	// above it are chunked deterministically.
	CompletionContextTokens int `env:"DIGEST_COMPLETION_CONTEXT_TOKENS" envDefault:"100000"`

	// Delivery webhook for terminal job notifications. Empty disables it.
	DeliveryWebhookURL     string        `env:"DIGEST_DELIVERY_WEBHOOK_URL"`
	DeliveryWebhookTimeout time.Duration `env:"DIGEST_DELIVERY_WEBHOOK_TIMEOUT" envDefault:"10s"`

	// Scheduled digest sweeps. Cron spec in robfig/cron format; channels is
	// a comma-separated list of channel ids swept on that schedule.
	DigestCronSpec     string   `env:"DIGEST_CRON_SPEC"`
	DigestCronChannels []string `env:"DIGEST_CRON_CHANNELS" envSeparator:","`

	// Tracing
	OTELEnabled  bool   `env:"DIGEST_OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint string `env:"DIGEST_OTEL_ENDPOINT"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
