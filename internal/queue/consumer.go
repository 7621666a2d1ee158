package queue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// message is one received SQS message, with the pointers already
// dereferenced.
type message struct {
	body          string
	receiptHandle string
}

// receive fetches up to max messages from the queue. The visibility
// timeout matches the lease duration, so an in-flight message stays
// hidden exactly as long as its lease can be live.
func (b *Backend) receive(ctx context.Context, queueURL string, max int) ([]message, error) {
	if max > 10 {
		max = 10
	}

	visibilitySec := int32(b.visibility.Seconds())
	if visibilitySec <= 0 {
		visibilitySec = 300
	}

	result, err := b.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: int32(max),
		VisibilityTimeout:   visibilitySec,
		WaitTimeSeconds:     0,
	})
	if err != nil {
		return nil, fmt.Errorf("SQS ReceiveMessage: %w", err)
	}

	msgs := make([]message, 0, len(result.Messages))
	for _, m := range result.Messages {
		msgs = append(msgs, message{
			body:          aws.ToString(m.Body),
			receiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}
