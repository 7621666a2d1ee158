// Package queue implements the durable digest job queue on AWS SQS plus the
// DynamoDB state store. SQS carries delivery; the state store is
// authoritative for job state and lease fencing.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/state"
)

// sqsAPI is the subset of the SQS client the backend uses.
type sqsAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, params *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
}

// Backend couples the SQS job queue with the DynamoDB state store. The
// single FIFO queue is partitioned by channel via MessageGroupId, so jobs
// for one channel are delivered in order while channels proceed in
// parallel.
type Backend struct {
	sqsClient   sqsAPI
	store       state.Store
	events      core.EventPublisher
	queueURLs   map[string]string // cache: logical queue name -> SQS queue URL
	queueURLsMu sync.RWMutex
	queuePrefix string
	visibility  time.Duration
	startTime   time.Time
	logger      *slog.Logger

	now func() time.Time
}

// New creates a queue backend.
func New(sqsClient sqsAPI, store state.Store, events core.EventPublisher, queuePrefix string, visibility time.Duration) *Backend {
	return &Backend{
		sqsClient:   sqsClient,
		store:       store,
		events:      events,
		queueURLs:   make(map[string]string),
		queuePrefix: queuePrefix,
		visibility:  visibility,
		startTime:   time.Now(),
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// SetLogger sets the logger for the backend.
func (b *Backend) SetLogger(logger *slog.Logger) {
	b.logger = logger
}

// Close closes the backend connection.
func (b *Backend) Close() error {
	return b.store.Close()
}

// Health returns the health status.
func (b *Backend) Health(ctx context.Context) (*core.HealthResponse, error) {
	start := time.Now()

	// Ping SQS (lightweight operation)
	_, sqsErr := b.sqsClient.ListQueues(ctx, &sqs.ListQueuesInput{
		MaxResults: aws.Int32(1),
	})

	// Ping state store
	storeErr := b.store.Ping(ctx)

	latency := time.Since(start).Milliseconds()

	resp := &core.HealthResponse{
		Version:       core.Version,
		UptimeSeconds: int64(time.Since(b.startTime).Seconds()),
	}

	if sqsErr != nil || storeErr != nil {
		resp.Status = "degraded"
		errMsg := ""
		if sqsErr != nil {
			errMsg += "SQS: " + sqsErr.Error()
		}
		if storeErr != nil {
			if errMsg != "" {
				errMsg += "; "
			}
			errMsg += "Store: " + storeErr.Error()
		}
		resp.Backend = core.BackendHealth{
			Type:   "sqs+dynamodb",
			Status: "disconnected",
			Error:  errMsg,
		}
		return resp, fmt.Errorf("health check failed: %s", errMsg)
	}

	resp.Status = "ok"
	resp.Backend = core.BackendHealth{
		Type:      "sqs+dynamodb",
		Status:    "connected",
		LatencyMs: latency,
	}
	return resp, nil
}

func (b *Backend) publish(event *core.JobEvent) {
	if b.events == nil {
		return
	}
	if err := b.events.PublishJobEvent(event); err != nil {
		b.logger.Warn("failed to publish job event", "job_id", event.JobID, "error", err)
	}
}
