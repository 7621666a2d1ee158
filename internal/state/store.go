package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/groupmind/digestd/internal/core"
)

// JobRecord represents a digest job stored in the state store (DynamoDB).
type JobRecord struct {
	ID           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	State        string `dynamodbav:"state"`
	ChannelID    string `dynamodbav:"channel_id"`
	ActorID      string `dynamodbav:"actor_id"`
	Items        string `dynamodbav:"items,omitempty"`
	LanguageHint string `dynamodbav:"language_hint,omitempty"`
	Attempt      int    `dynamodbav:"attempt"`
	TierLimits   string `dynamodbav:"tier_limits,omitempty"`
	Retry        string `dynamodbav:"retry,omitempty"`
	NotBefore    string `dynamodbav:"not_before,omitempty"`

	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at,omitempty"`
	EnqueuedAt  string `dynamodbav:"enqueued_at,omitempty"`
	StartedAt   string `dynamodbav:"started_at,omitempty"`
	CompletedAt string `dynamodbav:"completed_at,omitempty"`
	CancelledAt string `dynamodbav:"cancelled_at,omitempty"`

	Result        string `dynamodbav:"result,omitempty"`
	LastErrorKind string `dynamodbav:"last_error_kind,omitempty"`
	LastError     string `dynamodbav:"last_error,omitempty"`
	ErrorHistory  string `dynamodbav:"error_history,omitempty"`

	// Lease fencing. lease_token guards every write by the leasing worker;
	// lease_expires_at (unix ms) lets an expired lease be stolen.
	LeaseToken       string `dynamodbav:"lease_token,omitempty"`
	LeaseExpiresAtMs int64  `dynamodbav:"lease_expires_at_ms,omitempty"`
	WorkerID         string `dynamodbav:"worker_id,omitempty"`
	SQSReceiptHandle string `dynamodbav:"sqs_receipt_handle,omitempty"`

	// GSI attributes for queries. GSI1SK deliberately excludes state so the
	// fenced single-item updates never have to rebuild it.
	GSI1PK string `dynamodbav:"GSI1PK,omitempty"` // CHANNEL#<id>
	GSI1SK string `dynamodbav:"GSI1SK,omitempty"` // <created_at>
	GSI2PK string `dynamodbav:"GSI2PK,omitempty"` // STATE#<state>
	GSI2SK string `dynamodbav:"GSI2SK,omitempty"` // <created_at>
	TTL    *int64 `dynamodbav:"ttl,omitempty"`    // DynamoDB TTL
}

// LeaseRequest carries everything a lease acquisition needs. Token is the
// fence; writes by a worker whose token was superseded are rejected.
type LeaseRequest struct {
	JobID         string
	WorkerID      string
	Token         string
	ReceiptHandle string
	LeaseUntil    time.Time
	Now           time.Time
}

// RequeueUpdate returns a leased job to queued for a later attempt.
// RestoreAttempt gives back the attempt consumed at lease time, for
// postponements that never reached the external service.
type RequeueUpdate struct {
	JobID          string
	LeaseToken     string
	NotBefore      string
	UpdatedAt      string
	ErrorKind      string
	Error          string
	RestoreAttempt bool
}

// TerminalUpdate finalizes a job under a held lease.
type TerminalUpdate struct {
	JobID      string
	LeaseToken string
	State      string // completed, failed or exhausted
	Result     string // JSON, completed only
	ErrorKind  string
	Error      string
	At         string
}

// ChannelStats is the per-channel digest counters kept alongside jobs.
type ChannelStats struct {
	Name      string `dynamodbav:"name"`
	Paused    bool   `dynamodbav:"paused"`
	Completed int    `dynamodbav:"completed"`
}

// Store defines the interface for the external state store.
type Store interface {
	// Job operations
	PutJob(ctx context.Context, record *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	DeleteJob(ctx context.Context, jobID string) error

	// Lease lifecycle. AcquireLease transitions queued (or expired
	// processing) to processing; the terminal and requeue writes require
	// the fence token from the acquisition.
	AcquireLease(ctx context.Context, req LeaseRequest) (*JobRecord, error)
	FinalizeJob(ctx context.Context, upd TerminalUpdate) error
	RequeueJob(ctx context.Context, upd RequeueUpdate) error
	CancelJob(ctx context.Context, jobID, cancelledAt string) error

	// Query operations
	ListJobsByChannel(ctx context.Context, channelID, state string, limit int) ([]*JobRecord, error)
	ListJobsByState(ctx context.Context, state string, limit, offset int) ([]*JobRecord, int, error)
	ListAllJobs(ctx context.Context, filters JobListFilters, limit, offset int) ([]*core.Job, int, error)
	CountJobsByChannelAndState(ctx context.Context, channelID, state string) (int, error)

	// Channel metadata
	RegisterChannel(ctx context.Context, name string) error
	SetChannelPaused(ctx context.Context, name string, paused bool) error
	GetChannelStats(ctx context.Context, name string) (*ChannelStats, error)
	IncrementChannelCompleted(ctx context.Context, name string) error

	// Due index: jobs waiting on a not-before instant (quota retry-after or
	// retry backoff), promoted back onto the queue when due.
	AddDueJob(ctx context.Context, jobID string, dueAtMs int64) error
	GetDueJobs(ctx context.Context, nowMs int64) ([]string, error)
	RemoveDueJob(ctx context.Context, jobID string) error

	// Health check
	Ping(ctx context.Context) error

	// Close the store
	Close() error
}

// RecordToJob converts a JobRecord to a core.Job.
func RecordToJob(r *JobRecord) *core.Job {
	job := &core.Job{
		ID:            r.ID,
		ChannelID:     r.ChannelID,
		ActorID:       r.ActorID,
		LanguageHint:  r.LanguageHint,
		State:         r.State,
		Attempt:       r.Attempt,
		NotBefore:     r.NotBefore,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		EnqueuedAt:    r.EnqueuedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		CancelledAt:   r.CancelledAt,
		LastErrorKind: r.LastErrorKind,
		LastError:     r.LastError,
		LeaseToken:    r.LeaseToken,
		WorkerID:      r.WorkerID,
		ReceiptHandle: r.SQSReceiptHandle,
	}

	if r.LeaseExpiresAtMs > 0 {
		job.LeaseExpiresAt = core.FormatTime(time.UnixMilli(r.LeaseExpiresAtMs))
	}
	if r.Items != "" {
		var items []core.Item
		if json.Unmarshal([]byte(r.Items), &items) == nil {
			job.Items = items
		}
	}
	if r.TierLimits != "" {
		var limits core.TierLimits
		if json.Unmarshal([]byte(r.TierLimits), &limits) == nil {
			job.TierLimits = limits
		}
	}
	if r.Retry != "" {
		var retry core.RetryPolicy
		if json.Unmarshal([]byte(r.Retry), &retry) == nil {
			job.Retry = &retry
		}
	}
	if r.Result != "" {
		var result core.DigestResult
		if json.Unmarshal([]byte(r.Result), &result) == nil {
			job.Result = &result
		}
	}

	return job
}

// JobToRecord converts a core.Job to a JobRecord for storage.
func JobToRecord(job *core.Job) *JobRecord {
	r := &JobRecord{
		ID:            job.ID,
		SK:            "JOB",
		State:         job.State,
		ChannelID:     job.ChannelID,
		ActorID:       job.ActorID,
		LanguageHint:  job.LanguageHint,
		Attempt:       job.Attempt,
		NotBefore:     job.NotBefore,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		EnqueuedAt:    job.EnqueuedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		CancelledAt:   job.CancelledAt,
		LastErrorKind: job.LastErrorKind,
		LastError:     job.LastError,
		GSI1PK:        "CHANNEL#" + job.ChannelID,
		GSI1SK:        job.CreatedAt,
		GSI2PK:        "STATE#" + job.State,
		GSI2SK:        job.CreatedAt,
	}

	if len(job.Items) > 0 {
		itemsJSON, _ := json.Marshal(job.Items)
		r.Items = string(itemsJSON)
	}
	limitsJSON, _ := json.Marshal(job.TierLimits)
	r.TierLimits = string(limitsJSON)
	if job.Retry != nil {
		retryJSON, _ := json.Marshal(job.Retry)
		r.Retry = string(retryJSON)
	}
	if job.Result != nil {
		resultJSON, _ := json.Marshal(job.Result)
		r.Result = string(resultJSON)
	}

	return r
}
