package poller

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tubebrew.dev/websub/internal/db"
)

type fakeChannels struct {
	channels []*db.FollowedChannel
}

func (f *fakeChannels) ListFollowedChannels(ctx context.Context) ([]*db.FollowedChannel, error) {
	return f.channels, nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []*db.EnqueueIngestJobParams
}

func (f *fakeDispatcher) EnqueueIngestJob(ctx context.Context, params *db.EnqueueIngestJobParams) (*db.IngestJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, params)
	return &db.IngestJob{ChannelID: params.ChannelID, VideoID: params.VideoID}, nil
}

func feedXML(channelID string, videoIDs ...string) string {
	body := `<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">`
	for _, v := range videoIDs {
		body += fmt.Sprintf(`<entry><yt:videoId>%s</yt:videoId><yt:channelId>%s</yt:channelId><title>video %s</title></entry>`, v, channelID, v)
	}
	return body + `</feed>`
}

func TestPollAll_EnqueuesPollJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channelID := r.URL.Query().Get("channel_id")
		switch channelID {
		case "UCa":
			fmt.Fprint(w, feedXML("UCa", "vid1", "vid2"))
		case "UCb":
			fmt.Fprint(w, feedXML("UCb", "vid3"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	channels := &fakeChannels{channels: []*db.FollowedChannel{
		{ChannelID: "UCa"}, {ChannelID: "UCb"},
	}}
	jobs := &fakeDispatcher{}

	p := New(channels, jobs, 5*time.Second, 0, 0)
	p.feedURL = func(channelID string) string {
		return srv.URL + "/feed?channel_id=" + channelID
	}

	require.NoError(t, p.PollAll(context.Background()))

	require.Len(t, jobs.jobs, 3)
	for _, j := range jobs.jobs {
		require.Equal(t, db.IngestSourcePoll, j.Source)
	}
}

func TestPollAll_ChannelFailureDoesNotAbortSweep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channelID := r.URL.Query().Get("channel_id")
		switch channelID {
		case "UCbroken":
			fmt.Fprint(w, "<feed><entry>")
		case "UCmissing":
			http.NotFound(w, r)
		default:
			fmt.Fprint(w, feedXML(channelID, "vid9"))
		}
	}))
	t.Cleanup(srv.Close)

	channels := &fakeChannels{channels: []*db.FollowedChannel{
		{ChannelID: "UCbroken"}, {ChannelID: "UCmissing"}, {ChannelID: "UCok"},
	}}
	jobs := &fakeDispatcher{}

	p := New(channels, jobs, 5*time.Second, 0, 0)
	p.feedURL = func(channelID string) string {
		return srv.URL + "/feed?channel_id=" + channelID
	}

	require.NoError(t, p.PollAll(context.Background()))
	require.Len(t, jobs.jobs, 1)
	require.Equal(t, "vid9", jobs.jobs[0].VideoID)
}

func TestPollChannel_SkipsEntriesOlderThanWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour).Format(time.RFC3339)
	stale := now.Add(-72 * time.Hour).Format(time.RFC3339)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
			<entry><yt:videoId>fresh</yt:videoId><yt:channelId>UCa</yt:channelId><title>fresh</title><published>%s</published></entry>
			<entry><yt:videoId>stale</yt:videoId><yt:channelId>UCa</yt:channelId><title>stale</title><published>%s</published></entry>
			<entry><yt:videoId>undated</yt:videoId><yt:channelId>UCa</yt:channelId><title>undated</title></entry>
		</feed>`, recent, stale)
	}))
	t.Cleanup(srv.Close)

	jobs := &fakeDispatcher{}
	p := New(&fakeChannels{}, jobs, 5*time.Second, 0, 24*time.Hour)
	p.feedURL = func(string) string { return srv.URL }
	p.now = func() time.Time { return now }

	require.NoError(t, p.pollChannel(context.Background(), "UCa"))

	var ids []string
	for _, j := range jobs.jobs {
		ids = append(ids, j.VideoID)
	}
	require.Equal(t, []string{"fresh", "undated"}, ids)
}

func TestPollChannel_SkipsEntriesWithoutIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns="http://www.w3.org/2005/Atom">
			<entry><title>no ids at all</title></entry>
			<entry><yt:videoId>vid1</yt:videoId><yt:channelId>UCa</yt:channelId><title>ok</title></entry>
		</feed>`)
	}))
	t.Cleanup(srv.Close)

	jobs := &fakeDispatcher{}
	p := New(&fakeChannels{}, jobs, 5*time.Second, 0, 0)
	p.feedURL = func(string) string { return srv.URL }

	require.NoError(t, p.pollChannel(context.Background(), "UCa"))
	require.Len(t, jobs.jobs, 1)
	require.Equal(t, "vid1", jobs.jobs[0].VideoID)
}
