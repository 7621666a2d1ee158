package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/groupmind/digestd/internal/core"
)

// DynamoDBStore implements the Store interface using AWS DynamoDB.
// Single-table design with PK/SK pattern:
//   - Jobs: PK=jobID, SK="JOB"
//   - Channel metadata: PK="CHANNEL#<id>", SK="META"
//   - Due index: PK="DUE#<jobID>", SK="DUE"
//
// GSI1: GSI1PK (CHANNEL#<id>) + GSI1SK (<created_at>)
// GSI2: GSI2PK (STATE#<state>) + GSI2SK (<created_at>)
// GSI3: GSI3PK ("DUE") + GSI3SK (<due_at_ms>)
//
// All lease-holder writes are conditional on the fence token, so a worker
// whose lease expired and was re-acquired cannot clobber the new holder.
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
}

// NewDynamoDBStore creates a new DynamoDB store.
func NewDynamoDBStore(client *dynamodb.Client, tableName string) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
	}
}

// EnsureTable creates the table with GSIs if it doesn't exist.
func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err == nil {
		// Table already exists
		return nil
	}

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI3PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI3SK"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("GSI1"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI1PK"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("GSI1SK"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				ProvisionedThroughput: &types.ProvisionedThroughput{
					ReadCapacityUnits:  aws.Int64(5),
					WriteCapacityUnits: aws.Int64(5),
				},
			},
			{
				IndexName: aws.String("GSI2"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI2PK"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("GSI2SK"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				ProvisionedThroughput: &types.ProvisionedThroughput{
					ReadCapacityUnits:  aws.Int64(5),
					WriteCapacityUnits: aws.Int64(5),
				},
			},
			{
				IndexName: aws.String("GSI3"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI3PK"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("GSI3SK"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				ProvisionedThroughput: &types.ProvisionedThroughput{
					ReadCapacityUnits:  aws.Int64(5),
					WriteCapacityUnits: aws.Int64(5),
				},
			},
		},
		BillingMode: types.BillingModeProvisioned,
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(5),
			WriteCapacityUnits: aws.Int64(5),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("failed waiting for table: %w", err)
	}

	_, err = s.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(s.tableName),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String("ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable TTL: %w", err)
	}

	return nil
}

// PutJob stores a job record.
func (s *DynamoDBStore) PutJob(ctx context.Context, record *JobRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID.
func (s *DynamoDBStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       jobKey(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if result.Item == nil {
		return nil, core.NewNotFoundError("job", jobID)
	}

	var record JobRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &record, nil
}

// DeleteJob removes a job.
func (s *DynamoDBStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       jobKey(jobID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return nil
}

// AcquireLease transitions a job to processing under a fresh fence token.
// The condition admits a queued job, or a processing job whose previous
// lease has expired; anything else loses the race and gets a conflict.
func (s *DynamoDBStore) AcquireLease(ctx context.Context, req LeaseRequest) (*JobRecord, error) {
	now := core.FormatTime(req.Now)
	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       jobKey(req.JobID),
		ConditionExpression: aws.String(
			"attribute_exists(PK) AND (#state = :queued OR (#state = :processing AND lease_expires_at_ms < :now_ms))"),
		UpdateExpression: aws.String(
			"SET #state = :processing, lease_token = :token, lease_expires_at_ms = :lease_ms, " +
				"worker_id = :worker, sqs_receipt_handle = :rh, attempt = attempt + :one, " +
				"started_at = :now, updated_at = :now, GSI2PK = :gsi2pk REMOVE not_before"),
		ExpressionAttributeNames: map[string]string{"#state": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":queued":     &types.AttributeValueMemberS{Value: core.StateQueued},
			":processing": &types.AttributeValueMemberS{Value: core.StateProcessing},
			":now_ms":     &types.AttributeValueMemberN{Value: strconv.FormatInt(req.Now.UnixMilli(), 10)},
			":token":      &types.AttributeValueMemberS{Value: req.Token},
			":lease_ms":   &types.AttributeValueMemberN{Value: strconv.FormatInt(req.LeaseUntil.UnixMilli(), 10)},
			":worker":     &types.AttributeValueMemberS{Value: req.WorkerID},
			":rh":         &types.AttributeValueMemberS{Value: req.ReceiptHandle},
			":one":        &types.AttributeValueMemberN{Value: "1"},
			":now":        &types.AttributeValueMemberS{Value: now},
			":gsi2pk":     &types.AttributeValueMemberS{Value: "STATE#" + core.StateProcessing},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return nil, core.NewConflictError("job is not leasable", map[string]any{"job_id": req.JobID})
		}
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}

	var record JobRecord
	if err := attributevalue.UnmarshalMap(result.Attributes, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leased job: %w", err)
	}
	return &record, nil
}

// FinalizeJob writes a terminal state under the fence token. A condition
// failure is re-read and classified: a job already in the requested
// terminal state is treated as an idempotent success (first writer wins,
// the duplicate is absorbed), anything else is a conflict.
func (s *DynamoDBStore) FinalizeJob(ctx context.Context, upd TerminalUpdate) error {
	updateExpr := "SET #state = :state, completed_at = :at, updated_at = :at, GSI2PK = :gsi2pk " +
		"REMOVE lease_token, lease_expires_at_ms, worker_id, sqs_receipt_handle"
	exprAttrValues := map[string]types.AttributeValue{
		":state":      &types.AttributeValueMemberS{Value: upd.State},
		":at":         &types.AttributeValueMemberS{Value: upd.At},
		":gsi2pk":     &types.AttributeValueMemberS{Value: "STATE#" + upd.State},
		":token":      &types.AttributeValueMemberS{Value: upd.LeaseToken},
		":processing": &types.AttributeValueMemberS{Value: core.StateProcessing},
	}
	if upd.Result != "" {
		updateExpr += ", #result = :result"
		exprAttrValues[":result"] = &types.AttributeValueMemberS{Value: upd.Result}
	}
	if upd.ErrorKind != "" {
		updateExpr += ", last_error_kind = :ekind, last_error = :emsg"
		exprAttrValues[":ekind"] = &types.AttributeValueMemberS{Value: upd.ErrorKind}
		exprAttrValues[":emsg"] = &types.AttributeValueMemberS{Value: upd.Error}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 jobKey(upd.JobID),
		ConditionExpression: aws.String("#state = :processing AND lease_token = :token"),
		UpdateExpression:    aws.String(updateExpr),
		ExpressionAttributeNames: map[string]string{
			"#state":  "state",
			"#result": "result",
		},
		ExpressionAttributeValues: exprAttrValues,
	})
	if err == nil {
		return nil
	}
	if !isConditionalCheckFailed(err) {
		return fmt.Errorf("failed to finalize job: %w", err)
	}

	current, getErr := s.GetJob(ctx, upd.JobID)
	if getErr != nil {
		return fmt.Errorf("failed to classify finalize conflict: %w", getErr)
	}
	if current.State == upd.State {
		// Duplicate delivery of the same outcome.
		return nil
	}
	return core.NewConflictError("job already finalized", map[string]any{
		"job_id": upd.JobID,
		"state":  current.State,
	})
}

// RequeueJob returns a processing job to queued for a later attempt,
// fenced on the lease token. NotBefore delays the next lease.
func (s *DynamoDBStore) RequeueJob(ctx context.Context, upd RequeueUpdate) error {
	updateExpr := "SET #state = :queued, updated_at = :at, GSI2PK = :gsi2pk " +
		"REMOVE lease_token, lease_expires_at_ms, worker_id, sqs_receipt_handle"
	exprAttrValues := map[string]types.AttributeValue{
		":queued":     &types.AttributeValueMemberS{Value: core.StateQueued},
		":at":         &types.AttributeValueMemberS{Value: upd.UpdatedAt},
		":gsi2pk":     &types.AttributeValueMemberS{Value: "STATE#" + core.StateQueued},
		":token":      &types.AttributeValueMemberS{Value: upd.LeaseToken},
		":processing": &types.AttributeValueMemberS{Value: core.StateProcessing},
	}
	if upd.NotBefore != "" {
		updateExpr += ", not_before = :nb"
		exprAttrValues[":nb"] = &types.AttributeValueMemberS{Value: upd.NotBefore}
	}
	if upd.ErrorKind != "" {
		updateExpr += ", last_error_kind = :ekind, last_error = :emsg"
		exprAttrValues[":ekind"] = &types.AttributeValueMemberS{Value: upd.ErrorKind}
		exprAttrValues[":emsg"] = &types.AttributeValueMemberS{Value: upd.Error}
	}
	if upd.RestoreAttempt {
		updateExpr += ", attempt = attempt - :one"
		exprAttrValues[":one"] = &types.AttributeValueMemberN{Value: "1"}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       jobKey(upd.JobID),
		ConditionExpression:       aws.String("#state = :processing AND lease_token = :token"),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  map[string]string{"#state": "state"},
		ExpressionAttributeValues: exprAttrValues,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return core.NewConflictError("lease no longer held", map[string]any{"job_id": upd.JobID})
		}
		return fmt.Errorf("failed to requeue job: %w", err)
	}

	return nil
}

// CancelJob cancels a queued job. Only queued jobs are cancellable; the
// condition failure is classified against the current state.
func (s *DynamoDBStore) CancelJob(ctx context.Context, jobID, cancelledAt string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 jobKey(jobID),
		ConditionExpression: aws.String("attribute_exists(PK) AND #state = :queued"),
		UpdateExpression: aws.String(
			"SET #state = :cancelled, cancelled_at = :at, updated_at = :at, GSI2PK = :gsi2pk"),
		ExpressionAttributeNames: map[string]string{"#state": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":queued":    &types.AttributeValueMemberS{Value: core.StateQueued},
			":cancelled": &types.AttributeValueMemberS{Value: core.StateCancelled},
			":at":        &types.AttributeValueMemberS{Value: cancelledAt},
			":gsi2pk":    &types.AttributeValueMemberS{Value: "STATE#" + core.StateCancelled},
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionalCheckFailed(err) {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	current, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return getErr
	}
	if current.State == core.StateCancelled {
		return nil
	}
	return core.NewConflictError("job is not cancellable", map[string]any{
		"job_id": jobID,
		"state":  current.State,
	})
}

// ListJobsByChannel returns jobs in a channel, optionally narrowed to one
// state. The state lives outside the index key, so it is a filter.
func (s *DynamoDBStore) ListJobsByChannel(ctx context.Context, channelID, state string, limit int) ([]*JobRecord, error) {
	gsi1pk := fmt.Sprintf("CHANNEL#%s", channelID)

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsi1pk},
		},
		Limit: aws.Int32(int32(limit)),
	}
	if state != "" {
		input.FilterExpression = aws.String("#state = :state")
		input.ExpressionAttributeNames = map[string]string{"#state": "state"}
		input.ExpressionAttributeValues[":state"] = &types.AttributeValueMemberS{Value: state}
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs by channel: %w", err)
	}

	jobs := make([]*JobRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var job JobRecord
		if err := attributevalue.UnmarshalMap(item, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, nil
}

// ListJobsByState returns jobs with a specific state (paginated).
func (s *DynamoDBStore) ListJobsByState(ctx context.Context, state string, limit, offset int) ([]*JobRecord, int, error) {
	gsi2pk := fmt.Sprintf("STATE#%s", state)

	countResult, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI2"),
		KeyConditionExpression: aws.String("GSI2PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsi2pk},
		},
		Select: types.SelectCount,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs by state: %w", err)
	}

	total := int(countResult.Count)

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI2"),
		KeyConditionExpression: aws.String("GSI2PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsi2pk},
		},
		Limit: aws.Int32(int32(limit + offset)),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query jobs by state: %w", err)
	}

	// Apply offset manually (DynamoDB doesn't support offset directly)
	items := result.Items
	if offset >= len(items) {
		return []*JobRecord{}, total, nil
	}
	if offset+limit > len(items) {
		items = items[offset:]
	} else {
		items = items[offset : offset+limit]
	}

	jobs := make([]*JobRecord, 0, len(items))
	for _, item := range items {
		var job JobRecord
		if err := attributevalue.UnmarshalMap(item, &job); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		jobs = append(jobs, &job)
	}

	return jobs, total, nil
}

// CountJobsByChannelAndState counts jobs in a channel with a specific state.
func (s *DynamoDBStore) CountJobsByChannelAndState(ctx context.Context, channelID, state string) (int, error) {
	gsi1pk := fmt.Sprintf("CHANNEL#%s", channelID)

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.tableName),
		IndexName:                aws.String("GSI1"),
		KeyConditionExpression:   aws.String("GSI1PK = :pk"),
		FilterExpression:         aws.String("#state = :state"),
		ExpressionAttributeNames: map[string]string{"#state": "state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: gsi1pk},
			":state": &types.AttributeValueMemberS{Value: state},
		},
		Select: types.SelectCount,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	return int(result.Count), nil
}

// RegisterChannel creates a channel metadata record.
func (s *DynamoDBStore) RegisterChannel(ctx context.Context, name string) error {
	pk := fmt.Sprintf("CHANNEL#%s", name)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pk},
			"SK":        &types.AttributeValueMemberS{Value: "META"},
			"name":      &types.AttributeValueMemberS{Value: name},
			"paused":    &types.AttributeValueMemberBOOL{Value: false},
			"completed": &types.AttributeValueMemberN{Value: "0"},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			// Channel already exists, which is fine
			return nil
		}
		return fmt.Errorf("failed to register channel: %w", err)
	}

	return nil
}

// SetChannelPaused sets the paused status of a channel.
func (s *DynamoDBStore) SetChannelPaused(ctx context.Context, name string, paused bool) error {
	pk := fmt.Sprintf("CHANNEL#%s", name)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression: aws.String("SET paused = :paused"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":paused": &types.AttributeValueMemberBOOL{Value: paused},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set channel paused: %w", err)
	}

	return nil
}

// GetChannelStats retrieves channel metadata.
func (s *DynamoDBStore) GetChannelStats(ctx context.Context, name string) (*ChannelStats, error) {
	pk := fmt.Sprintf("CHANNEL#%s", name)

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	if result.Item == nil {
		return nil, core.NewNotFoundError("channel", name)
	}

	var stats ChannelStats
	if err := attributevalue.UnmarshalMap(result.Item, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel: %w", err)
	}

	return &stats, nil
}

// IncrementChannelCompleted increments the completed digest count.
func (s *DynamoDBStore) IncrementChannelCompleted(ctx context.Context, name string) error {
	pk := fmt.Sprintf("CHANNEL#%s", name)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression: aws.String("ADD completed :inc"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to increment channel completed: %w", err)
	}

	return nil
}

// AddDueJob adds a job to the due index.
func (s *DynamoDBStore) AddDueJob(ctx context.Context, jobID string, dueAtMs int64) error {
	pk := fmt.Sprintf("DUE#%s", jobID)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: pk},
			"SK":        &types.AttributeValueMemberS{Value: "DUE"},
			"job_id":    &types.AttributeValueMemberS{Value: jobID},
			"due_at_ms": &types.AttributeValueMemberN{Value: strconv.FormatInt(dueAtMs, 10)},
			"GSI3PK":    &types.AttributeValueMemberS{Value: "DUE"},
			"GSI3SK":    &types.AttributeValueMemberN{Value: strconv.FormatInt(dueAtMs, 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add due job: %w", err)
	}

	return nil
}

// GetDueJobs returns job IDs whose not-before instant has passed.
func (s *DynamoDBStore) GetDueJobs(ctx context.Context, nowMs int64) ([]string, error) {
	jobIDs, err := s.queryDueJobs(ctx, nowMs)
	if err == nil {
		return jobIDs, nil
	}
	if !isMissingDueIndexError(err) {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	// Compatibility fallback for tables without GSI3.
	result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("begins_with(PK, :prefix) AND SK = :sk AND due_at_ms <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: "DUE#"},
			":sk":     &types.AttributeValueMemberS{Value: "DUE"},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs, 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}

	jobIDs = make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		if jobIDAttr, ok := item["job_id"]; ok {
			if jobIDVal, ok := jobIDAttr.(*types.AttributeValueMemberS); ok {
				jobIDs = append(jobIDs, jobIDVal.Value)
			}
		}
	}

	return jobIDs, nil
}

// RemoveDueJob removes a job from the due index.
func (s *DynamoDBStore) RemoveDueJob(ctx context.Context, jobID string) error {
	pk := fmt.Sprintf("DUE#%s", jobID)

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: "DUE"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to remove due job: %w", err)
	}

	return nil
}

func (s *DynamoDBStore) queryDueJobs(ctx context.Context, nowMs int64) ([]string, error) {
	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String("GSI3"),
		KeyConditionExpression: aws.String("GSI3PK = :pk AND GSI3SK <= :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: "DUE"},
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(nowMs, 10)},
		},
	})
	if err != nil {
		return nil, err
	}

	jobIDs := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		if jobIDAttr, ok := item["job_id"]; ok {
			if jobIDVal, ok := jobIDAttr.(*types.AttributeValueMemberS); ok {
				jobIDs = append(jobIDs, jobIDVal.Value)
			}
		}
	}

	return jobIDs, nil
}

func isConditionalCheckFailed(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ConditionalCheckFailedException")
}

func isMissingDueIndexError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "The table does not have the specified index") ||
		strings.Contains(msg, "Cannot read from backfilling global secondary index")
}

func jobKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: jobID},
		"SK": &types.AttributeValueMemberS{Value: "JOB"},
	}
}

// Ping checks the connection to DynamoDB.
func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to ping DynamoDB: %w", err)
	}

	return nil
}

// Close closes the store (no-op for DynamoDB client).
func (s *DynamoDBStore) Close() error {
	return nil
}
