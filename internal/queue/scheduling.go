package queue

import (
	"context"
	"fmt"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/metrics"
	"github.com/groupmind/digestd/internal/state"
)

// PromoteDue moves jobs whose not-before has passed back onto the SQS
// queue. Called periodically by the scheduler. Returns the number of
// jobs promoted.
func (b *Backend) PromoteDue(ctx context.Context) (int, error) {
	now := b.now()

	jobIDs, err := b.store.GetDueJobs(ctx, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("get due jobs: %w", err)
	}
	if len(jobIDs) == 0 {
		return 0, nil
	}

	promoted := 0
	var firstErr error
	for _, jobID := range jobIDs {
		record, err := b.store.GetJob(ctx, jobID)
		if err != nil {
			// The job is gone; the marker is stale.
			if removeErr := b.store.RemoveDueJob(ctx, jobID); removeErr != nil {
				b.logger.Warn("failed to remove stale due marker", "job_id", jobID, "error", removeErr)
			}
			continue
		}

		// Only queued jobs are promotable. A job cancelled while parked,
		// or already re-leased, just loses its marker.
		if record.State != core.StateQueued {
			if removeErr := b.store.RemoveDueJob(ctx, jobID); removeErr != nil {
				b.logger.Warn("failed to remove due marker", "job_id", jobID, "error", removeErr)
			}
			continue
		}

		job := state.RecordToJob(record)
		if _, err := b.sendToSQS(ctx, job); err != nil {
			// Leave the marker in place; the next sweep retries the send.
			b.logger.Error("failed to promote due job", "job_id", jobID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := b.store.RemoveDueJob(ctx, jobID); err != nil {
			// The send went through; a duplicate promotion is absorbed by
			// the per-epoch deduplication id.
			b.logger.Warn("failed to remove due marker after promotion", "job_id", jobID, "error", err)
		}

		promoted++
	}

	if promoted > 0 {
		metrics.DueJobsPromoted.Add(float64(promoted))
		b.logger.Info("promoted due jobs", "count", promoted)
	}
	return promoted, firstErr
}
