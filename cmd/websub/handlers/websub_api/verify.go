// package websub_api provides the hub-facing callback and monitoring handlers.
package websub_api

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"tubebrew.dev/websub/internal/db"
	"tubebrew.dev/websub/internal/subscription"
)

// defaultLeaseSeconds kicks in when the hub verifies without hub.lease_seconds;
// a verified lease must always carry an expiry or the renewal sweep would
// never pick it up again.
const defaultLeaseSeconds = int64(5 * 24 * 60 * 60)

type VerificationStore interface {
	GetLease(ctx context.Context, channelID string) (*db.ChannelLease, error)
	MarkLeaseVerified(ctx context.Context, params *db.MarkLeaseVerifiedParams) error
	MarkLeaseExpired(ctx context.Context, channelID string) error
}

// HandleVerify answers the hub's verification challenge. The challenge must
// be echoed verbatim or the hub drops the subscription.
func HandleVerify(leases VerificationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		mode := c.QueryParam("hub.mode")
		topic := c.QueryParam("hub.topic")
		challenge := c.QueryParam("hub.challenge")

		slog.Info("Hub verification request", "mode", mode, "topic", topic)

		if mode != "subscribe" && mode != "unsubscribe" {
			slog.Warn("invalid hub.mode", "mode", mode)
			return c.String(400, "invalid hub.mode")
		}

		channelID, ok := subscription.ChannelIDFromTopic(topic)
		if !ok {
			slog.Warn("invalid topic URL", "topic", topic)
			return c.String(400, "invalid topic URL")
		}

		ctx := c.Request().Context()

		if _, err := leases.GetLease(ctx, channelID); err != nil {
			// The hub retries verification on its own; an unmatched lease
			// must not error the endpoint.
			if errors.Is(err, pgx.ErrNoRows) {
				slog.Warn("verification for unknown lease", "channel_id", channelID, "mode", mode)
			} else {
				slog.Error("lease lookup failed during verification", "channel_id", channelID, "error", err)
			}
			return c.String(200, challenge)
		}

		switch mode {
		case "subscribe":
			leaseSeconds := defaultLeaseSeconds
			if raw := c.QueryParam("hub.lease_seconds"); raw != "" {
				if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
					leaseSeconds = parsed
				}
			}

			err := leases.MarkLeaseVerified(ctx, &db.MarkLeaseVerifiedParams{
				ChannelID:      channelID,
				LeaseSeconds:   &leaseSeconds,
				LeaseExpiresAt: db.Timestamptz(time.Now().Add(time.Duration(leaseSeconds) * time.Second)),
			})
			if err != nil {
				slog.Error("failed to mark lease verified", "channel_id", channelID, "error", err)
			} else {
				slog.Info("Lease verified", "channel_id", channelID, "lease_seconds", leaseSeconds)
			}
		case "unsubscribe":
			if err := leases.MarkLeaseExpired(ctx, channelID); err != nil {
				slog.Error("failed to mark lease expired", "channel_id", channelID, "error", err)
			} else {
				slog.Info("Lease expired on unsubscribe", "channel_id", channelID)
			}
		}

		return c.String(200, challenge)
	}
}
