package db

import (
	"context"
)

// ListFollowedChannels returns every distinct channel at least one user
// follows. The channel and follow tables are owned by the dashboard; the
// worker only reads them.
func (q *Queries) ListFollowedChannels(ctx context.Context) ([]*FollowedChannel, error) {
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT c.id, c.channel_id, c.title
		FROM channels c
		JOIN user_channels uc ON uc.channel_id = c.id
		ORDER BY c.channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*FollowedChannel
	for rows.Next() {
		var c FollowedChannel
		if err := rows.Scan(&c.ID, &c.ChannelID, &c.Title); err != nil {
			return nil, err
		}
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}
