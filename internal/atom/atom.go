// package atom parses the feed documents the hub pushes for channel uploads.
package atom

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Feed is the typed form of a push notification body. A document that does
// not decode is malformed; a decoded document with zero entries is valid.
type Feed struct {
	XMLName xml.Name `xml:"feed"`
	Title   string   `xml:"title"`
	Entries []Entry  `xml:"entry"`
}

// Entry is one changed video. VideoID and ChannelID come from the yt:videoId
// and yt:channelId extension elements; either may be empty on malformed or
// deletion entries and callers skip those.
type Entry struct {
	ID        string `xml:"id"`
	VideoID   string `xml:"videoId"`
	ChannelID string `xml:"channelId"`
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
}

func Parse(b []byte) (*Feed, error) {
	var f Feed
	if err := xml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode atom feed: %w", err)
	}
	return &f, nil
}

// PublishedAt parses the entry's published timestamp; zero time when absent
// or unparseable, the hub controls the format and ingestion re-derives it.
func (e Entry) PublishedAt() time.Time {
	t, err := time.Parse(time.RFC3339, e.Published)
	if err != nil {
		return time.Time{}
	}
	return t
}
