// package poller re-derives new uploads straight from channel feeds, covering
// missed or never-established push notifications.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tubebrew.dev/websub/internal/atom"
	"tubebrew.dev/websub/internal/db"
	"tubebrew.dev/websub/internal/subscription"
)

const (
	maxFeedBody = 1 << 20

	// YouTube upload feeds carry at most 15 entries.
	maxEntriesPerChannel = 15
)

type ChannelStore interface {
	ListFollowedChannels(ctx context.Context) ([]*db.FollowedChannel, error)
}

type Dispatcher interface {
	EnqueueIngestJob(ctx context.Context, params *db.EnqueueIngestJobParams) (*db.IngestJob, error)
}

type Poller struct {
	channels ChannelStore
	jobs     Dispatcher
	client   *http.Client
	pacing   time.Duration
	window   time.Duration
	feedURL  func(channelID string) string
	now      func() time.Time
}

// New builds a poller. window bounds how far back entries are considered;
// entries published before now-window (with some slack for clock skew) were
// covered by the previous sweep. window <= 0 disables the cutoff.
func New(channels ChannelStore, jobs Dispatcher, timeout, pacing, window time.Duration) *Poller {
	return &Poller{
		channels: channels,
		jobs:     jobs,
		client:   &http.Client{Timeout: timeout},
		pacing:   pacing,
		window:   window,
		feedURL:  subscription.TopicURL,
		now:      time.Now,
	}
}

// PollAll fetches every followed channel's public feed and enqueues ingestion
// for whatever it finds. Ingestion deduplicates, so re-enqueueing already
// known videos is harmless. Per-channel failures are logged and skipped.
func (p *Poller) PollAll(ctx context.Context) error {
	channels, err := p.channels.ListFollowedChannels(ctx)
	if err != nil {
		return fmt.Errorf("list followed channels: %w", err)
	}

	slog.Info("Fallback poll starting", "channels", len(channels))

	for _, ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.pollChannel(ctx, ch.ChannelID); err != nil {
			slog.Error("fallback poll failed for channel", "channel_id", ch.ChannelID, "error", err)
		}
		p.pace(ctx)
	}

	return nil
}

func (p *Poller) pollChannel(ctx context.Context, channelID string) error {
	feedURL := p.feedURL(channelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("feed fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return err
	}

	feed, err := atom.Parse(body)
	if err != nil {
		return err
	}

	var cutoff time.Time
	if p.window > 0 {
		// Slack past the window so a sweep that ran late still overlaps
		// the previous one rather than leaving a gap.
		cutoff = p.now().Add(-p.window - time.Hour)
	}

	enqueued := 0
	for i, entry := range feed.Entries {
		if i >= maxEntriesPerChannel {
			break
		}
		if entry.VideoID == "" || entry.ChannelID == "" {
			continue
		}
		// Entries with an unparseable published time pass through; dropping
		// them would lose videos, re-enqueueing is harmless.
		if published := entry.PublishedAt(); !cutoff.IsZero() && !published.IsZero() && published.Before(cutoff) {
			continue
		}

		_, err := p.jobs.EnqueueIngestJob(ctx, &db.EnqueueIngestJobParams{
			ChannelID: entry.ChannelID,
			VideoID:   entry.VideoID,
			Title:     entry.Title,
			Source:    db.IngestSourcePoll,
		})
		if err != nil {
			slog.Error("failed to enqueue poll ingest job", "channel_id", entry.ChannelID, "video_id", entry.VideoID, "error", err)
			continue
		}
		enqueued++
	}

	slog.Info("Fallback poll for channel done", "channel_id", channelID, "entries", len(feed.Entries), "enqueued", enqueued)
	return nil
}

func (p *Poller) pace(ctx context.Context) {
	if p.pacing <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.pacing):
	}
}
