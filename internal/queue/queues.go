package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS queue naming convention:
//   {prefix}-jobs.fifo      -- the digest job queue
//   {prefix}-jobs-dlq.fifo  -- its dead letter queue
//
// Both are FIFO: ordering within a MessageGroupId (the channel) is the
// per-channel delivery guarantee.

const jobQueue = "jobs"

// sqsQueueName returns the SQS queue name for a logical queue.
func (b *Backend) sqsQueueName(logical string) string {
	return b.queuePrefix + "-" + sanitizeQueueName(logical) + ".fifo"
}

// sqsDLQName returns the SQS DLQ name for a logical queue.
func (b *Backend) sqsDLQName(logical string) string {
	return b.queuePrefix + "-" + sanitizeQueueName(logical) + "-dlq.fifo"
}

// sanitizeQueueName converts a logical name to an SQS-compatible one.
// SQS allows alphanumeric, hyphens, and underscores (and .fifo suffix).
func sanitizeQueueName(name string) string {
	return strings.ReplaceAll(name, ".", "-")
}

// getOrCreateQueueURL gets (from cache) or creates an SQS queue and returns its URL.
func (b *Backend) getOrCreateQueueURL(ctx context.Context, logical string) (string, error) {
	b.queueURLsMu.RLock()
	if url, ok := b.queueURLs[logical]; ok {
		b.queueURLsMu.RUnlock()
		return url, nil
	}
	b.queueURLsMu.RUnlock()

	sqsName := b.sqsQueueName(logical)
	visibilitySec := int64(b.visibility.Seconds())
	if visibilitySec <= 0 {
		visibilitySec = 300
	}
	attrs := map[string]string{
		"ReceiveMessageWaitTimeSeconds": "20",                                 // Long polling
		"VisibilityTimeout":             fmt.Sprintf("%d", visibilitySec),     // Matches the lease
		"MessageRetentionPeriod":        "1209600",                            // 14 days
		"FifoQueue":                     "true",
		// Deduplication is explicit: every send supplies an id scoped to
		// the job's scheduling epoch (see dedupID).
		"ContentBasedDeduplication": "false",
	}

	result, err := b.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(sqsName),
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("create SQS queue %s: %w", sqsName, err)
	}

	url := *result.QueueUrl

	// Also create DLQ
	go b.ensureDLQ(context.Background(), logical, url)

	b.queueURLsMu.Lock()
	b.queueURLs[logical] = url
	b.queueURLsMu.Unlock()

	return url, nil
}

// ensureDLQ creates a dead letter queue and configures the redrive policy.
func (b *Backend) ensureDLQ(ctx context.Context, logical, mainQueueURL string) {
	dlqName := b.sqsDLQName(logical)
	dlqAttrs := map[string]string{
		"MessageRetentionPeriod":    "1209600", // 14 days
		"FifoQueue":                 "true",
		"ContentBasedDeduplication": "true",
	}

	dlqResult, err := b.sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName:  aws.String(dlqName),
		Attributes: dlqAttrs,
	})
	if err != nil {
		return
	}

	dlqAttrsResult, err := b.sqsClient.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       dlqResult.QueueUrl,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return
	}

	dlqArn, ok := dlqAttrsResult.Attributes["QueueArn"]
	if !ok {
		return
	}

	// Redrive after repeated undeleted receives, a backstop behind the
	// state-store attempt accounting.
	redrivePolicy := fmt.Sprintf(`{"deadLetterTargetArn":"%s","maxReceiveCount":"5"}`, dlqArn)
	b.sqsClient.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(mainQueueURL),
		Attributes: map[string]string{
			"RedrivePolicy": redrivePolicy,
		},
	})
}
