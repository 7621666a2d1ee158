package state

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/groupmind/digestd/internal/core"
)

// JobListFilters narrows a job listing. Empty fields match everything.
type JobListFilters struct {
	State     string
	ChannelID string
	ActorID   string
}

// ListAllJobs returns jobs matching the filters, newest first, with
// pagination. A pure state filter uses GSI2; anything else falls back to a
// scan with in-memory filtering.
func (s *DynamoDBStore) ListAllJobs(ctx context.Context, filters JobListFilters, limit, offset int) ([]*core.Job, int, error) {
	if filters.State != "" && filters.ChannelID == "" && filters.ActorID == "" {
		records, total, err := s.ListJobsByState(ctx, filters.State, limit, offset)
		if err != nil {
			return nil, 0, err
		}
		jobs := make([]*core.Job, 0, len(records))
		for _, r := range records {
			jobs = append(jobs, RecordToJob(r))
		}
		return jobs, total, nil
	}

	scanInput := &dynamodb.ScanInput{
		TableName:        aws.String(s.tableName),
		FilterExpression: aws.String("SK = :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sk": &types.AttributeValueMemberS{Value: "JOB"},
		},
	}

	var allRecords []*JobRecord
	var lastKey map[string]types.AttributeValue

	for {
		if lastKey != nil {
			scanInput.ExclusiveStartKey = lastKey
		}
		result, err := s.client.Scan(ctx, scanInput)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan jobs: %w", err)
		}

		for _, item := range result.Items {
			var record JobRecord
			if err := attributevalue.UnmarshalMap(item, &record); err != nil {
				continue
			}
			allRecords = append(allRecords, &record)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		lastKey = result.LastEvaluatedKey
	}

	var filtered []*core.Job
	for _, r := range allRecords {
		if filters.State != "" && r.State != filters.State {
			continue
		}
		if filters.ChannelID != "" && r.ChannelID != filters.ChannelID {
			continue
		}
		if filters.ActorID != "" && r.ActorID != filters.ActorID {
			continue
		}
		filtered = append(filtered, RecordToJob(r))
	}

	total := len(filtered)
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt > filtered[j].CreatedAt
	})

	if offset >= len(filtered) {
		return []*core.Job{}, total, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}
