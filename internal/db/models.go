package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type LeaseState string

const (
	LeaseStatePending  LeaseState = "pending"
	LeaseStateVerified LeaseState = "verified"
	LeaseStateFailed   LeaseState = "failed"
	LeaseStateExpired  LeaseState = "expired"
)

// ChannelLease is one push-subscription lease per followed channel.
type ChannelLease struct {
	ID                     pgtype.UUID
	ChannelID              string
	OwnerID                pgtype.UUID
	TopicURL               string
	CallbackURL            string
	State                  LeaseState
	LeaseSeconds           *int64
	LeaseExpiresAt         pgtype.Timestamptz
	LastNotificationAt     pgtype.Timestamptz
	SubscribeAttempts      int32
	LastSubscribeAttemptAt pgtype.Timestamptz
	LastError              *string
	CreatedAt              pgtype.Timestamptz
	UpdatedAt              pgtype.Timestamptz
}

type IngestSource string

const (
	IngestSourcePush IngestSource = "push"
	IngestSourcePoll IngestSource = "poll"
)

type IngestJob struct {
	ID             pgtype.UUID
	ChannelID      string
	VideoID        string
	Title          string
	Source         IngestSource
	Status         string
	Attempts       int32
	MaxAttempts    int32
	BackoffBaseMs  int64
	LastError      *string
	NextRunAt      pgtype.Timestamptz
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

// FollowedChannel is a channel at least one user follows.
type FollowedChannel struct {
	ID        pgtype.UUID
	ChannelID string
	Title     string
}
