package core

import (
	"time"
)

const (
	Version    = "0.3.0"
	TimeFormat = "2006-01-02T15:04:05.000Z"
)

// FormatTime formats a time as ISO 8601 UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time formatted as ISO 8601 UTC.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// ParseTime parses a timestamp written by FormatTime. The zero time is
// returned for empty or malformed input.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Item is a single text event inside a digest job: one message from one
// author, in channel order.
type Item struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
	SentAt string `json:"sent_at,omitempty"`
}

// Job is a digest request for one channel. It is created by the ingress,
// leased and mutated by exactly one worker at a time, and becomes immutable
// once it reaches a terminal state.
type Job struct {
	ID           string     `json:"id"`
	ChannelID    string     `json:"channel_id"`
	ActorID      string     `json:"actor_id"`
	Items        []Item     `json:"items"`
	LanguageHint string     `json:"language_hint,omitempty"`
	State        string     `json:"state"`
	Attempt      int        `json:"attempt"`
	TierLimits   TierLimits `json:"tier_limits"`

	Retry *RetryPolicy `json:"retry,omitempty"`

	// NotBefore delays leasing: a requeued job is not eligible again until
	// this instant (quota retry-after or job-level backoff).
	NotBefore string `json:"not_before,omitempty"`

	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	EnqueuedAt  string `json:"enqueued_at,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	CancelledAt string `json:"cancelled_at,omitempty"`

	Result        *DigestResult `json:"result,omitempty"`
	LastErrorKind string        `json:"last_error_kind,omitempty"`
	LastError     string        `json:"last_error,omitempty"`

	// Lease bookkeeping. Never serialized onto the wire; the state store is
	// authoritative for these.
	LeaseToken     string `json:"-"`
	LeaseExpiresAt string `json:"-"`
	WorkerID       string `json:"-"`

	// SQS receipt handle of the in-flight message, if any.
	ReceiptHandle string `json:"-"`
}

// MaxAttempts returns the job's attempt budget, falling back to the default
// retry policy when none was set at enqueue time.
func (j *Job) MaxAttempts() int {
	if j.Retry != nil && j.Retry.MaxAttempts > 0 {
		return j.Retry.MaxAttempts
	}
	return DefaultJobRetryPolicy().MaxAttempts
}

// RetryPolicyOrDefault returns the job's retry policy or the default one.
func (j *Job) RetryPolicyOrDefault() RetryPolicy {
	if j.Retry != nil {
		return *j.Retry
	}
	return DefaultJobRetryPolicy()
}

// DigestResult is the condensed artifact produced for a channel. Degraded
// marks results computed by the local extractive fallback rather than the
// external completion service.
type DigestResult struct {
	Summary      string   `json:"summary"`
	KeyTopics    []string `json:"key_topics,omitempty"`
	Participants int      `json:"participants,omitempty"`
	MessageCount int      `json:"message_count,omitempty"`
	Language     string   `json:"language,omitempty"`
	Model        string   `json:"model,omitempty"`
	TokensUsed   int      `json:"tokens_used,omitempty"`
	Chunks       int      `json:"chunks,omitempty"`
	Degraded     bool     `json:"degraded"`
}

// EnqueueRequest is the ingress request body for creating a digest job.
// The tier snapshot is taken by the ingress collaborator at enqueue time so
// that a later tier change does not alter a queued job's allowance.
type EnqueueRequest struct {
	ID           string       `json:"id,omitempty"`
	ChannelID    string       `json:"channel_id"`
	ActorID      string       `json:"actor_id"`
	Items        []Item       `json:"items"`
	LanguageHint string       `json:"language_hint,omitempty"`
	Tier         string       `json:"tier,omitempty"`
	TierLimits   *TierLimits  `json:"tier_limits,omitempty"`
	Retry        *RetryPolicy `json:"retry,omitempty"`
	NotBefore    string       `json:"not_before,omitempty"`
}

// Validate checks the request fields the pipeline cannot default.
func (r *EnqueueRequest) Validate() error {
	if r.ChannelID == "" {
		return NewValidationError("channel_id is required", nil)
	}
	if r.ActorID == "" {
		return NewValidationError("actor_id is required", nil)
	}
	if len(r.Items) == 0 {
		return NewValidationError("items must not be empty", nil)
	}
	for i, it := range r.Items {
		if it.Text == "" {
			return NewValidationError("item text must not be empty", map[string]any{"index": i})
		}
	}
	return nil
}
