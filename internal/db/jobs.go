package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const ingestJobColumns = `id, channel_id, video_id, title, source, status,
	attempts, max_attempts, backoff_base_ms, last_error,
	next_run_at, created_at, updated_at`

func scanIngestJob(row pgx.Row) (*IngestJob, error) {
	var j IngestJob
	err := row.Scan(
		&j.ID, &j.ChannelID, &j.VideoID, &j.Title, &j.Source, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.BackoffBaseMs, &j.LastError,
		&j.NextRunAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

type EnqueueIngestJobParams struct {
	ChannelID     string
	VideoID       string
	Title         string
	Source        IngestSource
	MaxAttempts   int32
	BackoffBaseMs int64
}

// EnqueueIngestJob inserts one queued ingestion task. An insert trigger sends
// NOTIFY on the ingest_jobs channel so downstream workers wake without
// polling. Delivery is at-least-once; the consumer deduplicates.
func (q *Queries) EnqueueIngestJob(ctx context.Context, params *EnqueueIngestJobParams) (*IngestJob, error) {
	jobID := uuid.New()
	pgUUID := pgtype.UUID{
		Bytes: jobID,
		Valid: true,
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := params.BackoffBaseMs
	if backoff <= 0 {
		backoff = 5000
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO ingest_jobs (id, channel_id, video_id, title, source, max_attempts, backoff_base_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+ingestJobColumns,
		pgUUID, params.ChannelID, params.VideoID, params.Title, params.Source, maxAttempts, backoff)
	return scanIngestJob(row)
}
