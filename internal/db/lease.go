package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const leaseColumns = `id, channel_id, owner_id, topic_url, callback_url, state,
	lease_seconds, lease_expires_at, last_notification_at,
	subscribe_attempts, last_subscribe_attempt_at, last_error,
	created_at, updated_at`

func scanLease(row pgx.Row) (*ChannelLease, error) {
	var l ChannelLease
	err := row.Scan(
		&l.ID, &l.ChannelID, &l.OwnerID, &l.TopicURL, &l.CallbackURL, &l.State,
		&l.LeaseSeconds, &l.LeaseExpiresAt, &l.LastNotificationAt,
		&l.SubscribeAttempts, &l.LastSubscribeAttemptAt, &l.LastError,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLeases(rows pgx.Rows) ([]*ChannelLease, error) {
	defer rows.Close()

	var leases []*ChannelLease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

type UpsertPendingLeaseParams struct {
	ChannelID   string
	OwnerID     pgtype.UUID
	TopicURL    string
	CallbackURL string
}

// UpsertPendingLease creates or refreshes the single lease row for a channel,
// moving it to pending and counting the attempt. subscribe_attempts only ever
// increases; verification does not reset it.
func (q *Queries) UpsertPendingLease(ctx context.Context, params *UpsertPendingLeaseParams) (*ChannelLease, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO channel_leases (channel_id, owner_id, topic_url, callback_url, state, subscribe_attempts, last_subscribe_attempt_at)
		VALUES ($1, $2, $3, $4, 'pending', 1, now())
		ON CONFLICT (channel_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			topic_url = EXCLUDED.topic_url,
			callback_url = EXCLUDED.callback_url,
			state = 'pending',
			subscribe_attempts = channel_leases.subscribe_attempts + 1,
			last_subscribe_attempt_at = now(),
			updated_at = now()
		RETURNING `+leaseColumns,
		params.ChannelID, params.OwnerID, params.TopicURL, params.CallbackURL)
	return scanLease(row)
}

func (q *Queries) GetLease(ctx context.Context, channelID string) (*ChannelLease, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+leaseColumns+` FROM channel_leases WHERE channel_id = $1`,
		channelID)
	return scanLease(row)
}

func (q *Queries) MarkLeaseFailed(ctx context.Context, channelID string, lastError string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE channel_leases
		SET state = 'failed', last_error = $2, updated_at = now()
		WHERE channel_id = $1`,
		channelID, lastError)
	return err
}

type MarkLeaseVerifiedParams struct {
	ChannelID      string
	LeaseSeconds   *int64
	LeaseExpiresAt pgtype.Timestamptz
}

func (q *Queries) MarkLeaseVerified(ctx context.Context, params *MarkLeaseVerifiedParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE channel_leases
		SET state = 'verified', lease_seconds = $2, lease_expires_at = $3,
			last_error = NULL, updated_at = now()
		WHERE channel_id = $1`,
		params.ChannelID, params.LeaseSeconds, params.LeaseExpiresAt)
	return err
}

func (q *Queries) MarkLeaseExpired(ctx context.Context, channelID string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE channel_leases
		SET state = 'expired', updated_at = now()
		WHERE channel_id = $1`,
		channelID)
	return err
}

func (q *Queries) TouchLeaseNotification(ctx context.Context, channelID string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE channel_leases
		SET last_notification_at = now(), updated_at = now()
		WHERE channel_id = $1`,
		channelID)
	return err
}

// ListLeasesExpiringBefore returns verified leases whose lease runs out before
// the cutoff. Renewal selection is this range query, not a per-lease timer.
func (q *Queries) ListLeasesExpiringBefore(ctx context.Context, cutoff pgtype.Timestamptz) ([]*ChannelLease, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+leaseColumns+` FROM channel_leases
		WHERE state = 'verified' AND lease_expires_at IS NOT NULL AND lease_expires_at < $1
		ORDER BY lease_expires_at`,
		cutoff)
	if err != nil {
		return nil, err
	}
	return collectLeases(rows)
}

type ListLeasesForRetryParams struct {
	MaxAttempts     int32
	AttemptedBefore pgtype.Timestamptz
}

// ListLeasesForRetry returns failed leases still under the attempt cap whose
// last attempt is old enough for the fixed backoff to have elapsed.
func (q *Queries) ListLeasesForRetry(ctx context.Context, params *ListLeasesForRetryParams) ([]*ChannelLease, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+leaseColumns+` FROM channel_leases
		WHERE state = 'failed'
			AND subscribe_attempts < $1
			AND (last_subscribe_attempt_at IS NULL OR last_subscribe_attempt_at < $2)
		ORDER BY last_subscribe_attempt_at NULLS FIRST`,
		params.MaxAttempts, params.AttemptedBefore)
	if err != nil {
		return nil, err
	}
	return collectLeases(rows)
}

type LeaseStateCount struct {
	State LeaseState
	Count int64
}

func (q *Queries) CountLeasesByState(ctx context.Context) ([]*LeaseStateCount, error) {
	rows, err := q.db.Query(ctx, `
		SELECT state, count(*) FROM channel_leases GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*LeaseStateCount
	for rows.Next() {
		var c LeaseStateCount
		if err := rows.Scan(&c.State, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, &c)
	}
	return counts, rows.Err()
}

func (q *Queries) CountLeasesExpiringBefore(ctx context.Context, cutoff pgtype.Timestamptz) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM channel_leases
		WHERE state = 'verified' AND lease_expires_at > now() AND lease_expires_at < $1`,
		cutoff).Scan(&count)
	return count, err
}

func (q *Queries) ListRecentLeases(ctx context.Context, limit int32) ([]*ChannelLease, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+leaseColumns+` FROM channel_leases
		ORDER BY created_at DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	return collectLeases(rows)
}
