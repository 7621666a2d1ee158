// Package worker runs the digest processing pool: lease jobs, enforce
// quota, call the completion service and settle the outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/metrics"
	"github.com/groupmind/digestd/internal/quota"
	"github.com/groupmind/digestd/internal/tracing"
)

// Backend is the job queue surface the pool drives.
type Backend interface {
	Lease(ctx context.Context, workerID string, maxJobs int) ([]*core.Job, error)
	Complete(ctx context.Context, job *core.Job, result *core.DigestResult) error
	Fail(ctx context.Context, job *core.Job, jobErr error) (string, error)
	Postpone(ctx context.Context, job *core.Job, retryAfter time.Duration) error
}

// Limiter admits or denies a unit of quota for an actor.
type Limiter interface {
	Check(ctx context.Context, actorID string, limits core.TierLimits) (*quota.Decision, error)
}

// Summarizer produces the digest for a leased job.
type Summarizer interface {
	Summarize(ctx context.Context, job *core.Job) (*core.DigestResult, error)
}

// Config tunes the pool.
type Config struct {
	Count        int
	PollInterval time.Duration
	// MaxQuotaWait bounds how long a job may sit quota-denied before it goes
	// terminal instead of being postponed again.
	MaxQuotaWait time.Duration
	// LeaseTimeout mirrors the queue's visibility timeout. The call path of
	// one job must settle inside it or the queue re-delivers the job to
	// another worker while this one is still mid-call.
	LeaseTimeout time.Duration
}

// Pool is a fixed set of worker goroutines.
type Pool struct {
	backend    Backend
	limiter    Limiter
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// NewPool creates a worker pool.
func NewPool(backend Backend, limiter Limiter, summarizer Summarizer, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxQuotaWait <= 0 {
		cfg.MaxQuotaWait = 24 * time.Hour
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	return &Pool{
		backend:    backend,
		limiter:    limiter,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger,
		stop:       make(chan struct{}),
		now:        time.Now,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Count; i++ {
		p.wg.Add(1)
		go p.run(fmt.Sprintf("worker-%d", i))
	}
	p.logger.Info("worker pool started", "count", p.cfg.Count)
}

// Stop signals the workers and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(workerID string) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		jobs, err := p.backend.Lease(ctx, workerID, 1)
		cancel()
		if err != nil {
			p.logger.Error("lease poll failed", "worker_id", workerID, "error", err)
			// Back off harder when the backend itself is unhappy.
			if !p.sleep(5 * p.cfg.PollInterval) {
				return
			}
			continue
		}
		if len(jobs) == 0 {
			if !p.sleep(p.cfg.PollInterval) {
				return
			}
			continue
		}

		for _, job := range jobs {
			p.ProcessJob(context.Background(), job)
		}
	}
}

// sleep waits d or until Stop; it reports whether the pool is still running.
func (p *Pool) sleep(d time.Duration) bool {
	select {
	case <-p.stop:
		return false
	case <-time.After(d):
		return true
	}
}

// ProcessJob runs one leased job through quota check, completion call and
// settlement. A panic in the pipeline is converted to a retriable failure
// rather than taking the worker down.
func (p *Pool) ProcessJob(ctx context.Context, job *core.Job) {
	ctx, span := tracing.StartSpan(ctx, "worker.process_job",
		tracing.JobID.String(job.ID),
		tracing.ChannelID.String(job.ChannelID),
		tracing.ActorID.String(job.ActorID),
		tracing.JobAttempt.Int(job.Attempt))
	defer span.End()

	metrics.WorkersActive.Inc()
	start := time.Now()
	defer func() {
		metrics.WorkersActive.Dec()
		metrics.JobDuration.WithLabelValues(job.State).Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing job", "job_id", job.ID, "panic", r)
			if _, err := p.backend.Fail(ctx, job, core.NewInternalError(fmt.Sprintf("panic: %v", r))); err != nil {
				p.logger.Error("failed to settle panicked job", "job_id", job.ID, "error", err)
			}
		}
	}()

	decision, err := p.limiter.Check(ctx, job.ActorID, job.TierLimits)
	if err != nil {
		// Quota store down and the tier fails closed. Retriable: the job
		// re-enters the queue with backoff.
		p.settleFailure(ctx, job, err)
		return
	}

	if !decision.Allowed {
		p.handleQuotaDenial(ctx, job, decision.RetryAfter)
		return
	}

	// A chunked run is several external calls plus inner backoff; the
	// deadline keeps the whole of it inside the lease, with room left to
	// settle the outcome.
	callCtx, cancelCall := context.WithTimeout(ctx, p.callBudget())
	result, err := p.summarizer.Summarize(callCtx, job)
	cancelCall()
	if err != nil {
		// Cancellation or an unexpected client error; the reserved units
		// were never spent on a delivered digest.
		tracing.RecordError(span, err)
		decision.Release(ctx)
		p.settleFailure(ctx, job, err)
		return
	}

	// The external calls happened (or the fallback stood in for them), so
	// the reservation is consumed either way.
	decision.Commit()

	if err := p.backend.Complete(ctx, job, result); err != nil {
		// Most likely the lease was lost to another worker; that worker's
		// outcome wins and this result is discarded.
		p.logger.Warn("failed to complete job", "job_id", job.ID, "error", err)
		return
	}

	tracing.SetOK(span)
	p.logger.Info("job completed",
		"job_id", job.ID, "channel_id", job.ChannelID,
		"degraded", result.Degraded, "chunks", result.Chunks)
}

// callBudget is how long the summarize call path may run inside one
// lease before the worker gives up ahead of the queue re-delivering.
func (p *Pool) callBudget() time.Duration {
	budget := p.cfg.LeaseTimeout - 30*time.Second
	if budget < p.cfg.LeaseTimeout/2 {
		budget = p.cfg.LeaseTimeout / 2
	}
	return budget
}

// handleQuotaDenial postpones a denied job, or exhausts it once it has
// waited past the quota-wait ceiling.
func (p *Pool) handleQuotaDenial(ctx context.Context, job *core.Job, retryAfter time.Duration) {
	age := p.now().Sub(core.ParseTime(job.CreatedAt))
	if age+retryAfter > p.cfg.MaxQuotaWait {
		p.logger.Warn("job exceeded maximum quota wait",
			"job_id", job.ID, "actor_id", job.ActorID, "age", age)
		p.settleFailure(ctx, job, &core.PipelineError{
			Kind:      core.ErrKindQuotaExceeded,
			Message:   "maximum quota wait exceeded, try again later",
			Retryable: false,
		})
		return
	}

	if err := p.backend.Postpone(ctx, job, retryAfter); err != nil {
		p.logger.Error("failed to postpone quota-denied job", "job_id", job.ID, "error", err)
		return
	}
	p.logger.Info("job postponed on quota",
		"job_id", job.ID, "actor_id", job.ActorID, "retry_after", retryAfter)
}

func (p *Pool) settleFailure(ctx context.Context, job *core.Job, jobErr error) {
	outcome, err := p.backend.Fail(ctx, job, jobErr)
	if err != nil {
		p.logger.Error("failed to settle job failure", "job_id", job.ID, "error", err)
		return
	}
	p.logger.Warn("job failed",
		"job_id", job.ID, "outcome", outcome, "error_kind", core.ErrorKind(jobErr), "error", jobErr)
}
