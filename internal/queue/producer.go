package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/groupmind/digestd/internal/core"
)

// sendToSQS sends a job as an SQS message. The message group is the
// channel, so a channel's digests are delivered one at a time and in
// order; the deduplication id covers one delivery per scheduling epoch.
func (b *Backend) sendToSQS(ctx context.Context, job *core.Job) (string, error) {
	queueURL, err := b.getOrCreateQueueURL(ctx, jobQueue)
	if err != nil {
		return "", err
	}

	body, err := EncodeJob(job)
	if err != nil {
		return "", err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:               aws.String(queueURL),
		MessageBody:            aws.String(body),
		MessageGroupId:         aws.String(job.ChannelID),
		MessageDeduplicationId: aws.String(dedupID(job)),
	}

	result, err := b.sqsClient.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("SQS SendMessage: %w", err)
	}

	return *result.MessageId, nil
}

// dedupID derives the FIFO deduplication id for one send. A parked job's
// not-before instant is part of the id: a quota postponement restores the
// attempt counter, so attempt alone would repeat an earlier send's id and
// SQS would swallow the promotion inside its 5-minute dedup interval.
// Duplicate promotions of the same epoch still collapse to one delivery.
func dedupID(job *core.Job) string {
	if job.NotBefore != "" {
		return fmt.Sprintf("%s:%d:%d", job.ID, job.Attempt, core.ParseTime(job.NotBefore).UnixMilli())
	}
	return fmt.Sprintf("%s:%d", job.ID, job.Attempt)
}

// deleteMessage removes an in-flight message. Best effort: the state store
// is authoritative, and an undeleted message is dropped at the next lease
// attempt when the conditional update rejects it.
func (b *Backend) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	queueURL, err := b.getOrCreateQueueURL(ctx, jobQueue)
	if err != nil {
		b.logger.Warn("failed to resolve queue for message delete", "error", err)
		return
	}
	if _, err := b.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}); err != nil {
		b.logger.Warn("failed to delete SQS message", "error", err)
	}
}
