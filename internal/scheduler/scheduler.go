// Package scheduler runs the background loops: due-job promotion and the
// scheduled digest sweeps.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Queue is the backend surface the scheduler drives.
type Queue interface {
	// PromoteDue re-sends jobs whose not-before has passed.
	PromoteDue(ctx context.Context) (int, error)
	// ChannelPaused reports whether scheduled sweeps are paused for a channel.
	ChannelPaused(ctx context.Context, channelID string) bool
}

// SweepFunc opens a digest window for one channel. The ingress collaborator
// decides what a sweep means; by default it is a webhook nudge telling the
// collaborator to submit the channel's buffered items.
type SweepFunc func(ctx context.Context, channelID string) error

// Config tunes the scheduler.
type Config struct {
	// PromoteInterval is how often the due index is swept.
	PromoteInterval time.Duration
	// CronSpec and CronChannels drive scheduled digest sweeps. Empty spec
	// disables them.
	CronSpec     string
	CronChannels []string
}

// Scheduler runs background tasks for the digest pipeline.
type Scheduler struct {
	queue  Queue
	sweep  SweepFunc
	cfg    Config
	cron   *cron.Cron
	logger *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Scheduler.
func New(queue Queue, sweep SweepFunc, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	return &Scheduler{
		queue:  queue,
		sweep:  sweep,
		cfg:    cfg,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start begins all background scheduling goroutines.
func (s *Scheduler) Start() error {
	// Jobs parked on the due index (retry backoff, quota retry-after) are
	// re-sent once their not-before passes.
	s.wg.Add(1)
	go s.runLoop("due-promoter", s.cfg.PromoteInterval, func(ctx context.Context) error {
		_, err := s.queue.PromoteDue(ctx)
		return err
	})

	// SQS handles visibility natively: an expired lease reappears without a
	// stalled reaper.

	if s.cfg.CronSpec != "" && len(s.cfg.CronChannels) > 0 && s.sweep != nil {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cfg.CronSpec, s.runSweeps); err != nil {
			return err
		}
		s.cron.Start()
		s.logger.Info("digest sweep schedule installed",
			"spec", s.cfg.CronSpec, "channels", len(s.cfg.CronChannels))
	}

	return nil
}

// Stop signals all background goroutines to stop and waits for them.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

func (s *Scheduler) runLoop(name string, interval time.Duration, fn func(context.Context) error) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := fn(ctx); err != nil {
				s.logger.Error("scheduler loop error", "loop", name, "error", err)
			}
			cancel()
		}
	}
}

// runSweeps opens the digest window for every configured channel that is
// not paused.
func (s *Scheduler) runSweeps() {
	for _, channelID := range s.cfg.CronChannels {
		select {
		case <-s.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if s.queue.ChannelPaused(ctx, channelID) {
			s.logger.Info("skipping sweep for paused channel", "channel_id", channelID)
			cancel()
			continue
		}
		if err := s.sweep(ctx, channelID); err != nil {
			s.logger.Error("digest sweep failed", "channel_id", channelID, "error", err)
		} else {
			s.logger.Info("digest sweep triggered", "channel_id", channelID)
		}
		cancel()
	}
}
