package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/groupmind/digestd/internal/completion"
	"github.com/groupmind/digestd/internal/config"
	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/metrics"
	"github.com/groupmind/digestd/internal/queue"
	"github.com/groupmind/digestd/internal/quota"
	"github.com/groupmind/digestd/internal/scheduler"
	"github.com/groupmind/digestd/internal/server"
	"github.com/groupmind/digestd/internal/state"
	"github.com/groupmind/digestd/internal/tracing"
	"github.com/groupmind/digestd/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.APIKey == "" && !cfg.AllowInsecure {
		logger.Error("refusing to start without API authentication",
			"hint", "set DIGEST_API_KEY or DIGEST_ALLOW_INSECURE_NO_AUTH=true for local development")
		os.Exit(1)
	}
	if cfg.AllowInsecure {
		logger.Warn("running without authentication, intended for local development only")
	}

	otelShutdown, err := tracing.Setup(context.Background(), "digestd", cfg.OTELEndpoint, cfg.OTELEnabled)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	awsCfg, err := buildAWSConfig(cfg)
	if err != nil {
		logger.Error("failed to configure AWS", "error", err)
		os.Exit(1)
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	store := state.NewDynamoDBStore(dynamoClient, cfg.DynamoDBTable)
	if err := store.EnsureTable(context.Background()); err != nil {
		logger.Error("failed to ensure DynamoDB table", "error", err)
		os.Exit(1)
	}
	logger.Info("DynamoDB state store ready", "table", cfg.DynamoDBTable)

	quotaStore := quota.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer quotaStore.Close()
	limiter := quota.NewLimiter(quotaStore, cfg.QuotaShortWindow, cfg.QuotaLongWindow, cfg.QuotaFailOpen, logger)

	broker := queue.NewPubSubBroker()
	defer broker.Close()

	backend := queue.New(sqsClient, store, broker, cfg.SQSQueuePrefix, cfg.VisibilityTimeout)
	backend.SetLogger(logger)
	defer backend.Close()

	metrics.Init(core.Version, "sqs+dynamodb")
	logger.Info("queue backend ready",
		"prefix", cfg.SQSQueuePrefix,
		"region", cfg.AWSRegion,
		"visibility", cfg.VisibilityTimeout,
	)

	summarizer := completion.NewClient(completion.Config{
		BaseURL:       cfg.CompletionBaseURL,
		APIKey:        cfg.CompletionAPIKey,
		Model:         cfg.CompletionModel,
		Timeout:       cfg.CompletionTimeout,
		MaxTokens:     cfg.CompletionMaxTokens,
		ContextTokens: cfg.CompletionContextTokens,
	})
	summarizer.SetLogger(logger)

	pool := worker.NewPool(backend, limiter, summarizer, worker.Config{
		Count:        cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		MaxQuotaWait: cfg.MaxQuotaWait,
		LeaseTimeout: cfg.VisibilityTimeout,
	}, logger)
	pool.Start()
	defer pool.Stop()

	var notifier *worker.WebhookNotifier
	var delivery *worker.Delivery
	if cfg.DeliveryWebhookURL != "" {
		notifier = worker.NewWebhookNotifier(cfg.DeliveryWebhookURL, cfg.DeliveryWebhookTimeout, logger)
		delivery = worker.NewDelivery(broker, notifier, logger)
		if err := delivery.Start(); err != nil {
			logger.Error("failed to start delivery loop", "error", err)
			os.Exit(1)
		}
		defer delivery.Stop()
		logger.Info("terminal event delivery enabled", "url", cfg.DeliveryWebhookURL)
	}

	// A scheduled sweep nudges the ingress collaborator over the delivery
	// webhook so it submits the channel's buffered items.
	var sweep scheduler.SweepFunc
	if notifier != nil {
		sweep = func(ctx context.Context, channelID string) error {
			return notifier.NotifyTerminal(ctx, &core.JobEvent{
				EventType: "channel.sweep",
				ChannelID: channelID,
				Timestamp: core.NowFormatted(),
			})
		}
	}
	sched := scheduler.New(backend, sweep, scheduler.Config{
		CronSpec:     cfg.DigestCronSpec,
		CronChannels: cfg.DigestCronChannels,
	}, logger)
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	router := server.NewRouter(backend, limiter, broker, logger, server.Config{APIKey: cfg.APIKey})
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("digestd listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	sched.Stop()
	pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func buildAWSConfig(cfg config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}

	// For LocalStack or custom endpoints
	if cfg.AWSEndpointURL != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.AWSEndpointURL,
					HostnameImmutable: true,
					PartitionID:       "aws",
				}, nil
			},
		)
		opts = append(opts,
			awsconfig.WithEndpointResolverWithOptions(customResolver),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	return awsconfig.LoadDefaultConfig(context.Background(), opts...)
}
