// package subscription owns the lease lifecycle for channel push subscriptions.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"tubebrew.dev/websub/internal/db"
	"tubebrew.dev/websub/internal/hub"
)

const topicURLPrefix = "https://www.youtube.com/xml/feeds/videos.xml?channel_id="

// TopicURL builds the hub topic for a channel's upload feed.
func TopicURL(channelID string) string {
	return topicURLPrefix + url.QueryEscape(channelID)
}

// ChannelIDFromTopic extracts the channel id from a topic URL. The hub echoes
// our own topic back, but its input is untrusted and must be validated.
func ChannelIDFromTopic(topic string) (string, bool) {
	u, err := url.Parse(topic)
	if err != nil {
		return "", false
	}
	id := u.Query().Get("channel_id")
	if id == "" {
		return "", false
	}
	return id, true
}

// LeaseStore is the slice of the lease table the manager needs.
type LeaseStore interface {
	UpsertPendingLease(ctx context.Context, params *db.UpsertPendingLeaseParams) (*db.ChannelLease, error)
	GetLease(ctx context.Context, channelID string) (*db.ChannelLease, error)
	MarkLeaseFailed(ctx context.Context, channelID string, lastError string) error
	ListLeasesExpiringBefore(ctx context.Context, cutoff pgtype.Timestamptz) ([]*db.ChannelLease, error)
	ListLeasesForRetry(ctx context.Context, params *db.ListLeasesForRetryParams) ([]*db.ChannelLease, error)
	ListFollowedChannels(ctx context.Context) ([]*db.FollowedChannel, error)
}

type HubClient interface {
	Subscribe(ctx context.Context, topicURL, callbackURL string, mode hub.Mode) error
}

type Options struct {
	// CallbackURL is the publicly routable endpoint the hub verifies against.
	CallbackURL string

	MaxAttempts    int32
	RetryBackoff   time.Duration
	RenewalHorizon time.Duration

	// Pacing is the delay between consecutive hub calls within a sweep.
	// Sweeps are sequential on purpose; the hub rate-limits aggressive
	// subscribers.
	Pacing time.Duration
}

type Manager struct {
	store LeaseStore
	hub   HubClient
	opts  Options
	locks *channelLocks
	now   func() time.Time
}

func NewManager(store LeaseStore, hubClient HubClient, opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Hour
	}
	if opts.RenewalHorizon <= 0 {
		opts.RenewalHorizon = 48 * time.Hour
	}

	return &Manager{
		store: store,
		hub:   hubClient,
		opts:  opts,
		locks: newChannelLocks(),
		now:   time.Now,
	}
}

// Subscribe upserts the channel's lease to pending and asks the hub for a
// subscription. Hub rejections and transport errors are recorded on the lease
// and swallowed; subscription is a best-effort background process. Store
// errors propagate, an unpersisted attempt must not vanish silently.
func (m *Manager) Subscribe(ctx context.Context, channelID string, ownerID pgtype.UUID) error {
	unlock := m.locks.lock(channelID)
	defer unlock()

	lease, err := m.store.UpsertPendingLease(ctx, &db.UpsertPendingLeaseParams{
		ChannelID:   channelID,
		OwnerID:     ownerID,
		TopicURL:    TopicURL(channelID),
		CallbackURL: m.opts.CallbackURL,
	})
	if err != nil {
		return fmt.Errorf("upsert lease for %s: %w", channelID, err)
	}

	slog.Info("Requesting hub subscription", "channel_id", channelID, "attempts", lease.SubscribeAttempts)

	if err := m.hub.Subscribe(ctx, lease.TopicURL, lease.CallbackURL, hub.ModeSubscribe); err != nil {
		slog.Error("hub subscription request failed", "channel_id", channelID, "error", err)

		if markErr := m.store.MarkLeaseFailed(ctx, channelID, err.Error()); markErr != nil {
			return fmt.Errorf("mark lease failed for %s: %w", channelID, markErr)
		}
		return nil
	}

	return nil
}

// Unsubscribe sends an unsubscribe request for the channel's lease. The lease
// flips to expired only when the hub confirms through the callback. Lookup is
// by channel id alone; a missing lease is a logged no-op.
func (m *Manager) Unsubscribe(ctx context.Context, channelID string) error {
	unlock := m.locks.lock(channelID)
	defer unlock()

	lease, err := m.store.GetLease(ctx, channelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			slog.Warn("no lease to unsubscribe", "channel_id", channelID)
			return nil
		}
		return fmt.Errorf("get lease for %s: %w", channelID, err)
	}

	slog.Info("Requesting hub unsubscription", "channel_id", channelID)

	if err := m.hub.Subscribe(ctx, lease.TopicURL, lease.CallbackURL, hub.ModeUnsubscribe); err != nil {
		slog.Error("hub unsubscription request failed", "channel_id", channelID, "error", err)

		if markErr := m.store.MarkLeaseFailed(ctx, channelID, err.Error()); markErr != nil {
			return fmt.Errorf("mark lease failed for %s: %w", channelID, markErr)
		}
	}

	return nil
}

// RenewExpiring re-subscribes every verified lease expiring within the
// renewal horizon. The hub treats a repeat subscribe as a renewal.
func (m *Manager) RenewExpiring(ctx context.Context) error {
	cutoff := m.now().Add(m.opts.RenewalHorizon)
	leases, err := m.store.ListLeasesExpiringBefore(ctx, db.Timestamptz(cutoff))
	if err != nil {
		return fmt.Errorf("list expiring leases: %w", err)
	}

	if len(leases) == 0 {
		slog.Info("No expiring leases to renew")
		return nil
	}

	slog.Info("Renewing expiring leases", "count", len(leases))

	for _, lease := range leases {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.Subscribe(ctx, lease.ChannelID, lease.OwnerID); err != nil {
			slog.Error("lease renewal skipped", "channel_id", lease.ChannelID, "error", err)
		}
		m.pace(ctx)
	}

	return nil
}

// RetryFailed retries failed leases that are under the attempt cap and whose
// fixed backoff has elapsed. Leases at the cap stay failed until an operator
// steps in; they surface through the status endpoint.
func (m *Manager) RetryFailed(ctx context.Context) error {
	attemptedBefore := m.now().Add(-m.opts.RetryBackoff)
	leases, err := m.store.ListLeasesForRetry(ctx, &db.ListLeasesForRetryParams{
		MaxAttempts:     m.opts.MaxAttempts,
		AttemptedBefore: db.Timestamptz(attemptedBefore),
	})
	if err != nil {
		return fmt.Errorf("list failed leases: %w", err)
	}

	if len(leases) == 0 {
		slog.Info("No failed leases to retry")
		return nil
	}

	slog.Info("Retrying failed leases", "count", len(leases))

	for _, lease := range leases {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.Subscribe(ctx, lease.ChannelID, lease.OwnerID); err != nil {
			slog.Error("lease retry skipped", "channel_id", lease.ChannelID, "error", err)
		}
		m.pace(ctx)
	}

	return nil
}

// SubscribeToAll subscribes every followed channel that is not already
// verified. Sequential, with pacing between hub calls.
func (m *Manager) SubscribeToAll(ctx context.Context) error {
	channels, err := m.store.ListFollowedChannels(ctx)
	if err != nil {
		return fmt.Errorf("list followed channels: %w", err)
	}

	if len(channels) == 0 {
		slog.Info("No followed channels to subscribe")
		return nil
	}

	slog.Info("Subscribing to followed channels", "count", len(channels))

	for _, ch := range channels {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lease, err := m.store.GetLease(ctx, ch.ChannelID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			slog.Error("lease lookup failed, skipping channel", "channel_id", ch.ChannelID, "error", err)
			continue
		}
		if err == nil && lease.State == db.LeaseStateVerified {
			slog.Debug("already subscribed, skipping", "channel_id", ch.ChannelID)
			continue
		}

		if err := m.Subscribe(ctx, ch.ChannelID, ch.ID); err != nil {
			slog.Error("bootstrap subscribe skipped", "channel_id", ch.ChannelID, "error", err)
		}
		m.pace(ctx)
	}

	return nil
}

func (m *Manager) pace(ctx context.Context) {
	if m.opts.Pacing <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(m.opts.Pacing):
	}
}
