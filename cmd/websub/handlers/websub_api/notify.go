package websub_api

import (
	"context"
	"io"
	"log/slog"

	"github.com/labstack/echo/v4"
	"tubebrew.dev/websub/internal/atom"
	"tubebrew.dev/websub/internal/db"
)

const maxNotificationBody = 1 << 20

type NotificationStore interface {
	TouchLeaseNotification(ctx context.Context, channelID string) error
}

type Dispatcher interface {
	EnqueueIngestJob(ctx context.Context, params *db.EnqueueIngestJobParams) (*db.IngestJob, error)
}

// HandleNotify ingests content notifications pushed by the hub. The endpoint
// always acknowledges with 200: a non-2xx response would make the hub retry
// and eventually drop the subscription, which is worse than losing one
// malformed notification.
func HandleNotify(leases NotificationStore, jobs Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxNotificationBody))
		if err != nil {
			slog.Warn("failed to read notification body", "error", err)
			return c.String(200, "OK")
		}

		feed, err := atom.Parse(body)
		if err != nil {
			slog.Warn("unparseable notification feed", "error", err)
			return c.String(200, "OK")
		}

		ctx := c.Request().Context()
		touched := make(map[string]bool)

		for _, entry := range feed.Entries {
			if entry.VideoID == "" || entry.ChannelID == "" {
				slog.Warn("notification entry missing ids", "entry_id", entry.ID)
				continue
			}

			if !touched[entry.ChannelID] {
				touched[entry.ChannelID] = true
				if err := leases.TouchLeaseNotification(ctx, entry.ChannelID); err != nil {
					slog.Error("failed to record notification time", "channel_id", entry.ChannelID, "error", err)
				}
			}

			_, err := jobs.EnqueueIngestJob(ctx, &db.EnqueueIngestJobParams{
				ChannelID: entry.ChannelID,
				VideoID:   entry.VideoID,
				Title:     entry.Title,
				Source:    db.IngestSourcePush,
			})
			if err != nil {
				slog.Error("failed to enqueue ingest job", "video_id", entry.VideoID, "channel_id", entry.ChannelID, "error", err)
				continue
			}

			slog.Info("Notification enqueued", "video_id", entry.VideoID, "channel_id", entry.ChannelID, "title", entry.Title)
		}

		return c.String(200, "OK")
	}
}
