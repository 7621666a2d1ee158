package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/metrics"
	"github.com/groupmind/digestd/internal/state"
)

// Enqueue accepts a digest request, snapshots the actor's tier limits onto
// the job, persists it and hands it to SQS. A future NotBefore parks the
// job on the due index instead of sending it.
func (b *Backend) Enqueue(ctx context.Context, req *core.EnqueueRequest) (*core.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := b.now()

	job := &core.Job{
		ID:           req.ID,
		ChannelID:    req.ChannelID,
		ActorID:      req.ActorID,
		Items:        req.Items,
		LanguageHint: req.LanguageHint,
		State:        core.StateQueued,
		Attempt:      0,
		Retry:        req.Retry,
		NotBefore:    req.NotBefore,
		CreatedAt:    core.FormatTime(now),
		EnqueuedAt:   core.FormatTime(now),
	}
	if job.ID == "" {
		job.ID = core.NewID()
	}

	// The tier snapshot is immutable for the job's lifetime: a tier change
	// after enqueue affects only later jobs.
	if req.TierLimits != nil {
		job.TierLimits = *req.TierLimits
	} else {
		job.TierLimits = core.DefaultTierLimits(req.Tier)
	}

	if err := b.store.PutJob(ctx, state.JobToRecord(job)); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}
	if err := b.store.RegisterChannel(ctx, job.ChannelID); err != nil {
		return nil, fmt.Errorf("register channel: %w", err)
	}

	if job.NotBefore != "" {
		if nb := core.ParseTime(job.NotBefore); nb.After(now) {
			if err := b.store.AddDueJob(ctx, job.ID, nb.UnixMilli()); err != nil {
				return nil, fmt.Errorf("add due job: %w", err)
			}
			metrics.JobsEnqueued.WithLabelValues(job.ChannelID, job.TierLimits.Tier).Inc()
			b.publish(core.NewStateChangedEvent(job, "", core.StateQueued))
			return job, nil
		}
		// Past not-before is an immediate send.
		job.NotBefore = ""
	}

	if _, err := b.sendToSQS(ctx, job); err != nil {
		return nil, fmt.Errorf("send to SQS: %w", err)
	}

	metrics.JobsEnqueued.WithLabelValues(job.ChannelID, job.TierLimits.Tier).Inc()
	b.publish(core.NewStateChangedEvent(job, "", core.StateQueued))
	return job, nil
}

// Lease claims up to maxJobs jobs for workerID. Each returned job carries
// a fresh fence token; writes back to the store are rejected once the
// token is superseded.
func (b *Backend) Lease(ctx context.Context, workerID string, maxJobs int) ([]*core.Job, error) {
	if maxJobs <= 0 {
		return nil, nil
	}

	queueURL, err := b.getOrCreateQueueURL(ctx, jobQueue)
	if err != nil {
		return nil, err
	}

	now := b.now()
	var jobs []*core.Job

	for len(jobs) < maxJobs {
		batchSize := maxJobs - len(jobs)
		if batchSize > 10 {
			batchSize = 10 // SQS ReceiveMessage maximum
		}

		msgs, err := b.receive(ctx, queueURL, batchSize)
		if err != nil {
			return jobs, err
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			decoded, err := DecodeJob(msg.body)
			if err != nil {
				b.logger.Error("dropping undecodable message", "error", err)
				b.deleteMessage(ctx, msg.receiptHandle)
				continue
			}

			record, err := b.store.AcquireLease(ctx, state.LeaseRequest{
				JobID:         decoded.ID,
				WorkerID:      workerID,
				Token:         core.NewID(),
				ReceiptHandle: msg.receiptHandle,
				LeaseUntil:    now.Add(b.visibility),
				Now:           now,
			})
			if err != nil {
				// Cancelled, already terminal, or processing under a live
				// lease elsewhere. Terminal jobs drop their message;
				// in-flight ones reappear when visibility expires.
				b.discardIfSettled(ctx, decoded.ID, msg.receiptHandle)
				continue
			}

			job := state.RecordToJob(record)
			job.ReceiptHandle = msg.receiptHandle
			metrics.JobsLeased.Inc()
			b.publish(core.NewStateChangedEvent(job, core.StateQueued, core.StateProcessing))
			jobs = append(jobs, job)
		}
	}

	return jobs, nil
}

// discardIfSettled deletes the SQS message for a job that no longer needs
// delivery (terminal or missing).
func (b *Backend) discardIfSettled(ctx context.Context, jobID, receiptHandle string) {
	record, err := b.store.GetJob(ctx, jobID)
	if err != nil || core.IsTerminalState(record.State) {
		b.deleteMessage(ctx, receiptHandle)
	}
}

// Complete finalizes a leased job with its digest.
func (b *Backend) Complete(ctx context.Context, job *core.Job, result *core.DigestResult) error {
	now := core.FormatTime(b.now())

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if err := b.store.FinalizeJob(ctx, state.TerminalUpdate{
		JobID:      job.ID,
		LeaseToken: job.LeaseToken,
		State:      core.StateCompleted,
		Result:     string(resultJSON),
		At:         now,
	}); err != nil {
		return err
	}

	b.deleteMessage(ctx, job.ReceiptHandle)
	if err := b.store.IncrementChannelCompleted(ctx, job.ChannelID); err != nil {
		b.logger.Warn("failed to bump channel counter", "channel_id", job.ChannelID, "error", err)
	}

	job.State = core.StateCompleted
	job.CompletedAt = now
	job.Result = result
	metrics.JobsSettled.WithLabelValues(core.StateCompleted, "").Inc()
	b.publish(core.NewStateChangedEvent(job, core.StateProcessing, core.StateCompleted))
	return nil
}

// Fail records a processing failure. Retriable errors inside the attempt
// budget requeue the job with backoff; everything else is terminal:
// exhausted when the budget ran out or the quota wait did, failed for
// non-retriable service errors.
func (b *Backend) Fail(ctx context.Context, job *core.Job, jobErr error) (string, error) {
	now := b.now()
	kind := core.ErrorKind(jobErr)

	if core.IsRetryable(jobErr) && job.Attempt < job.MaxAttempts() {
		delay := core.CalculateBackoff(job.RetryPolicyOrDefault(), job.Attempt)
		var pe *core.PipelineError
		if errors.As(jobErr, &pe) && pe.RetryAfter > delay {
			// The service told us when to come back; believe it.
			delay = pe.RetryAfter
		}
		notBefore := now.Add(delay)

		if err := b.store.RequeueJob(ctx, state.RequeueUpdate{
			JobID:      job.ID,
			LeaseToken: job.LeaseToken,
			NotBefore:  core.FormatTime(notBefore),
			UpdatedAt:  core.FormatTime(now),
			ErrorKind:  kind,
			Error:      jobErr.Error(),
		}); err != nil {
			return "", err
		}
		if err := b.store.AddDueJob(ctx, job.ID, notBefore.UnixMilli()); err != nil {
			return "", fmt.Errorf("add due job: %w", err)
		}
		b.deleteMessage(ctx, job.ReceiptHandle)

		job.State = core.StateQueued
		job.LastErrorKind = kind
		job.LastError = jobErr.Error()
		b.publish(core.NewStateChangedEvent(job, core.StateProcessing, core.StateQueued))
		return core.StateQueued, nil
	}

	finalState := core.StateFailed
	if core.IsRetryable(jobErr) || kind == core.ErrKindQuotaExceeded {
		// Budget exhausted on a retriable error, or the quota wait ceiling
		// was reached.
		finalState = core.StateExhausted
	}

	if err := b.store.FinalizeJob(ctx, state.TerminalUpdate{
		JobID:      job.ID,
		LeaseToken: job.LeaseToken,
		State:      finalState,
		ErrorKind:  kind,
		Error:      jobErr.Error(),
		At:         core.FormatTime(now),
	}); err != nil {
		return "", err
	}
	b.deleteMessage(ctx, job.ReceiptHandle)

	job.State = finalState
	job.LastErrorKind = kind
	job.LastError = jobErr.Error()
	metrics.JobsSettled.WithLabelValues(finalState, kind).Inc()
	b.publish(core.NewStateChangedEvent(job, core.StateProcessing, finalState))
	return finalState, nil
}

// Postpone returns a quota-denied job to the queue without consuming an
// attempt; the job becomes leasable again after retryAfter.
func (b *Backend) Postpone(ctx context.Context, job *core.Job, retryAfter time.Duration) error {
	now := b.now()
	notBefore := now.Add(retryAfter)

	if err := b.store.RequeueJob(ctx, state.RequeueUpdate{
		JobID:          job.ID,
		LeaseToken:     job.LeaseToken,
		NotBefore:      core.FormatTime(notBefore),
		UpdatedAt:      core.FormatTime(now),
		ErrorKind:      core.ErrKindQuotaExceeded,
		Error:          "quota exceeded for actor",
		RestoreAttempt: true,
	}); err != nil {
		return err
	}
	if err := b.store.AddDueJob(ctx, job.ID, notBefore.UnixMilli()); err != nil {
		return fmt.Errorf("add due job: %w", err)
	}
	b.deleteMessage(ctx, job.ReceiptHandle)

	job.State = core.StateQueued
	job.Attempt--
	metrics.JobsPostponed.Inc()
	b.publish(core.NewStateChangedEvent(job, core.StateProcessing, core.StateQueued))
	return nil
}

// Cancel cancels a queued job. Processing and terminal jobs are not
// cancellable; the store classifies the refusal.
func (b *Backend) Cancel(ctx context.Context, jobID string) (*core.Job, error) {
	now := core.FormatTime(b.now())

	if err := b.store.CancelJob(ctx, jobID, now); err != nil {
		return nil, err
	}

	// Drop the due marker if the job was parked; the SQS message, if one
	// was already sent, dies at the next lease attempt.
	if err := b.store.RemoveDueJob(ctx, jobID); err != nil {
		b.logger.Warn("failed to remove due marker", "job_id", jobID, "error", err)
	}

	record, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job := state.RecordToJob(record)
	metrics.JobsSettled.WithLabelValues(core.StateCancelled, "").Inc()
	b.publish(core.NewStateChangedEvent(job, core.StateQueued, core.StateCancelled))
	return job, nil
}

// Info retrieves job details.
func (b *Backend) Info(ctx context.Context, jobID string) (*core.Job, error) {
	record, err := b.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return state.RecordToJob(record), nil
}
