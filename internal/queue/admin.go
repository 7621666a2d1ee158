package queue

import (
	"context"
	"fmt"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/state"
)

const defaultListLimit = 50

// ListJobs returns jobs matching the filters, newest first.
func (b *Backend) ListJobs(ctx context.Context, filters state.JobListFilters, limit, offset int) ([]*core.Job, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return b.store.ListAllJobs(ctx, filters, limit, offset)
}

// ChannelInfo returns a channel's metadata plus its live job counts.
func (b *Backend) ChannelInfo(ctx context.Context, channelID string) (*core.ChannelInfo, error) {
	stats, err := b.store.GetChannelStats(ctx, channelID)
	if err != nil {
		return nil, err
	}

	queued, err := b.store.CountJobsByChannelAndState(ctx, channelID, core.StateQueued)
	if err != nil {
		return nil, fmt.Errorf("count queued jobs: %w", err)
	}
	processing, err := b.store.CountJobsByChannelAndState(ctx, channelID, core.StateProcessing)
	if err != nil {
		return nil, fmt.Errorf("count processing jobs: %w", err)
	}

	return &core.ChannelInfo{
		Name:       stats.Name,
		Paused:     stats.Paused,
		Queued:     queued,
		Processing: processing,
		Completed:  stats.Completed,
	}, nil
}

// SetChannelPaused pauses or resumes scheduled digest sweeps for a channel.
// Jobs already enqueued are unaffected.
func (b *Backend) SetChannelPaused(ctx context.Context, channelID string, paused bool) (*core.ChannelInfo, error) {
	if _, err := b.store.GetChannelStats(ctx, channelID); err != nil {
		return nil, err
	}
	if err := b.store.SetChannelPaused(ctx, channelID, paused); err != nil {
		return nil, err
	}
	return b.ChannelInfo(ctx, channelID)
}

// ChannelPaused reports whether scheduled sweeps for the channel are paused.
// Unknown channels are not paused.
func (b *Backend) ChannelPaused(ctx context.Context, channelID string) bool {
	stats, err := b.store.GetChannelStats(ctx, channelID)
	if err != nil {
		return false
	}
	return stats.Paused
}
