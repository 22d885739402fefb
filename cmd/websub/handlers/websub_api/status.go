package websub_api

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/labstack/echo/v4"
	"tubebrew.dev/websub/internal/db"
)

const recentLeaseLimit = 20

type StatusStore interface {
	CountLeasesByState(ctx context.Context) ([]*db.LeaseStateCount, error)
	CountLeasesExpiringBefore(ctx context.Context, cutoff pgtype.Timestamptz) (int64, error)
	ListRecentLeases(ctx context.Context, limit int32) ([]*db.ChannelLease, error)
}

type statusResponse struct {
	Total        int64         `json:"total"`
	Pending      int64         `json:"pending"`
	Verified     int64         `json:"verified"`
	Failed       int64         `json:"failed"`
	Expired      int64         `json:"expired"`
	ExpiringSoon int64         `json:"expiring_soon"`
	Recent       []leaseStatus `json:"recent"`
}

type leaseStatus struct {
	ChannelID          string     `json:"channel_id"`
	State              string     `json:"state"`
	SubscribeAttempts  int32      `json:"subscribe_attempts"`
	LeaseExpiresAt     *time.Time `json:"lease_expires_at"`
	ExpiresIn          string     `json:"expires_in,omitempty"`
	LastNotificationAt *time.Time `json:"last_notification_at"`
	LastError          *string    `json:"last_error"`
}

// HandleStatus reports lease counts per state and the most recently updated
// leases, for eyeballing subscription health.
func HandleStatus(leases StatusStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		counts, err := leases.CountLeasesByState(ctx)
		if err != nil {
			slog.Error("failed to count leases", "error", err)
			return c.JSON(500, map[string]string{"error": "failed to load lease counts"})
		}

		resp := statusResponse{Recent: []leaseStatus{}}
		for _, count := range counts {
			resp.Total += count.Count
			switch count.State {
			case db.LeaseStatePending:
				resp.Pending = count.Count
			case db.LeaseStateVerified:
				resp.Verified = count.Count
			case db.LeaseStateFailed:
				resp.Failed = count.Count
			case db.LeaseStateExpired:
				resp.Expired = count.Count
			}
		}

		expiring, err := leases.CountLeasesExpiringBefore(ctx, db.Timestamptz(time.Now().Add(24*time.Hour)))
		if err != nil {
			slog.Error("failed to count expiring leases", "error", err)
			return c.JSON(500, map[string]string{"error": "failed to load lease counts"})
		}
		resp.ExpiringSoon = expiring

		recent, err := leases.ListRecentLeases(ctx, recentLeaseLimit)
		if err != nil {
			slog.Error("failed to list recent leases", "error", err)
			return c.JSON(500, map[string]string{"error": "failed to load recent leases"})
		}

		for _, lease := range recent {
			status := leaseStatus{
				ChannelID:          lease.ChannelID,
				State:              string(lease.State),
				SubscribeAttempts:  lease.SubscribeAttempts,
				LeaseExpiresAt:     db.NilTimePtr(lease.LeaseExpiresAt),
				LastNotificationAt: db.NilTimePtr(lease.LastNotificationAt),
				LastError:          lease.LastError,
			}
			if lease.LeaseExpiresAt.Valid {
				status.ExpiresIn = humanize.Time(lease.LeaseExpiresAt.Time)
			}
			resp.Recent = append(resp.Recent, status)
		}

		return c.JSON(200, resp)
	}
}
