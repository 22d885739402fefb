package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"
	"tubebrew.dev/websub/internal/db"
	"tubebrew.dev/websub/internal/hub"
)

type fakeStore struct {
	mu       sync.Mutex
	leases   map[string]*db.ChannelLease
	channels []*db.FollowedChannel

	upsertErr error
	markErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{leases: map[string]*db.ChannelLease{}}
}

func (s *fakeStore) UpsertPendingLease(ctx context.Context, params *db.UpsertPendingLeaseParams) (*db.ChannelLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.upsertErr != nil {
		return nil, s.upsertErr
	}

	l, ok := s.leases[params.ChannelID]
	if !ok {
		l = &db.ChannelLease{ChannelID: params.ChannelID}
		s.leases[params.ChannelID] = l
	}
	l.OwnerID = params.OwnerID
	l.TopicURL = params.TopicURL
	l.CallbackURL = params.CallbackURL
	l.State = db.LeaseStatePending
	l.SubscribeAttempts++
	l.LastSubscribeAttemptAt = db.Timestamptz(time.Now())

	cp := *l
	return &cp, nil
}

func (s *fakeStore) GetLease(ctx context.Context, channelID string) (*db.ChannelLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[channelID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (s *fakeStore) MarkLeaseFailed(ctx context.Context, channelID string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.markErr != nil {
		return s.markErr
	}
	if l, ok := s.leases[channelID]; ok {
		l.State = db.LeaseStateFailed
		l.LastError = &lastError
	}
	return nil
}

func (s *fakeStore) ListLeasesExpiringBefore(ctx context.Context, cutoff pgtype.Timestamptz) ([]*db.ChannelLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*db.ChannelLease
	for _, l := range s.leases {
		if l.State == db.LeaseStateVerified && l.LeaseExpiresAt.Valid && l.LeaseExpiresAt.Time.Before(cutoff.Time) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListLeasesForRetry(ctx context.Context, params *db.ListLeasesForRetryParams) ([]*db.ChannelLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*db.ChannelLease
	for _, l := range s.leases {
		if l.State != db.LeaseStateFailed || l.SubscribeAttempts >= params.MaxAttempts {
			continue
		}
		if l.LastSubscribeAttemptAt.Valid && !l.LastSubscribeAttemptAt.Time.Before(params.AttemptedBefore.Time) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) ListFollowedChannels(ctx context.Context) ([]*db.FollowedChannel, error) {
	return s.channels, nil
}

type hubCall struct {
	topic    string
	callback string
	mode     hub.Mode
}

type fakeHub struct {
	mu    sync.Mutex
	calls []hubCall
	err   error
}

func (h *fakeHub) Subscribe(ctx context.Context, topicURL, callbackURL string, mode hub.Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, hubCall{topic: topicURL, callback: callbackURL, mode: mode})
	return h.err
}

func newTestManager(store *fakeStore, h *fakeHub) *Manager {
	return NewManager(store, h, Options{
		CallbackURL: "https://worker.example.com/websub/callback",
		Pacing:      0,
	})
}

func TestSubscribe_OneLeasePerChannel(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{}
	m := newTestManager(store, h)

	for range 3 {
		require.NoError(t, m.Subscribe(context.Background(), "UCabc", pgtype.UUID{}))
	}

	require.Len(t, store.leases, 1)
	require.EqualValues(t, 3, store.leases["UCabc"].SubscribeAttempts)
	require.Len(t, h.calls, 3)
	require.Equal(t, TopicURL("UCabc"), h.calls[0].topic)
	require.Equal(t, hub.ModeSubscribe, h.calls[0].mode)
}

func TestSubscribe_HubRejectionRecordedNotPropagated(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{err: &hub.Error{StatusCode: 422, Body: "topic not allowed"}}
	m := newTestManager(store, h)

	require.NoError(t, m.Subscribe(context.Background(), "UCabc", pgtype.UUID{}))

	l := store.leases["UCabc"]
	require.Equal(t, db.LeaseStateFailed, l.State)
	require.NotNil(t, l.LastError)
	require.Contains(t, *l.LastError, "HTTP 422")
}

func TestSubscribe_StoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("connection refused")
	m := newTestManager(store, &fakeHub{})

	err := m.Subscribe(context.Background(), "UCabc", pgtype.UUID{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
}

func TestRenewExpiring_HorizonSelection(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{}
	m := newTestManager(store, h)

	now := time.Now()
	store.leases["UCsoon"] = &db.ChannelLease{
		ChannelID:      "UCsoon",
		State:          db.LeaseStateVerified,
		LeaseExpiresAt: db.Timestamptz(now.Add(40 * time.Hour)),
	}
	store.leases["UClater"] = &db.ChannelLease{
		ChannelID:      "UClater",
		State:          db.LeaseStateVerified,
		LeaseExpiresAt: db.Timestamptz(now.Add(50 * time.Hour)),
	}

	require.NoError(t, m.RenewExpiring(context.Background()))

	require.Len(t, h.calls, 1)
	require.Equal(t, TopicURL("UCsoon"), h.calls[0].topic)
	require.Equal(t, db.LeaseStatePending, store.leases["UCsoon"].State)
	require.Equal(t, db.LeaseStateVerified, store.leases["UClater"].State)
}

func TestRetryFailed_AttemptCapAndBackoff(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{}
	m := newTestManager(store, h)

	now := time.Now()
	store.leases["UCmaxed"] = &db.ChannelLease{
		ChannelID:              "UCmaxed",
		State:                  db.LeaseStateFailed,
		SubscribeAttempts:      5,
		LastSubscribeAttemptAt: db.Timestamptz(now.Add(-72 * time.Hour)),
	}
	store.leases["UCrecent"] = &db.ChannelLease{
		ChannelID:              "UCrecent",
		State:                  db.LeaseStateFailed,
		SubscribeAttempts:      2,
		LastSubscribeAttemptAt: db.Timestamptz(now.Add(-30 * time.Minute)),
	}
	store.leases["UCstale"] = &db.ChannelLease{
		ChannelID:              "UCstale",
		State:                  db.LeaseStateFailed,
		SubscribeAttempts:      2,
		LastSubscribeAttemptAt: db.Timestamptz(now.Add(-90 * time.Minute)),
	}

	require.NoError(t, m.RetryFailed(context.Background()))

	require.Len(t, h.calls, 1)
	require.Equal(t, TopicURL("UCstale"), h.calls[0].topic)
}

func TestSubscribeToAll_SkipsVerified(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{}
	m := newTestManager(store, h)

	for _, id := range []string{"UCa", "UCb", "UCc", "UCd", "UCe"} {
		store.channels = append(store.channels, &db.FollowedChannel{ChannelID: id})
	}
	store.leases["UCd"] = &db.ChannelLease{ChannelID: "UCd", State: db.LeaseStateVerified}
	store.leases["UCe"] = &db.ChannelLease{ChannelID: "UCe", State: db.LeaseStateVerified}

	require.NoError(t, m.SubscribeToAll(context.Background()))

	require.Len(t, h.calls, 3)
	topics := map[string]bool{}
	for _, c := range h.calls {
		topics[c.topic] = true
	}
	require.True(t, topics[TopicURL("UCa")])
	require.True(t, topics[TopicURL("UCb")])
	require.True(t, topics[TopicURL("UCc")])
}

func TestSubscribeToAll_RetriesUnverifiedStates(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{}
	m := newTestManager(store, h)

	store.channels = []*db.FollowedChannel{{ChannelID: "UCfailed"}}
	store.leases["UCfailed"] = &db.ChannelLease{ChannelID: "UCfailed", State: db.LeaseStateFailed, SubscribeAttempts: 1}

	require.NoError(t, m.SubscribeToAll(context.Background()))

	require.Len(t, h.calls, 1)
	require.EqualValues(t, 2, store.leases["UCfailed"].SubscribeAttempts)
}

func TestUnsubscribe_MissingLeaseIsNoop(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{}
	m := newTestManager(store, h)

	require.NoError(t, m.Unsubscribe(context.Background(), "UCnobody"))
	require.Empty(t, h.calls)
}

func TestUnsubscribe_SendsUnsubscribeMode(t *testing.T) {
	store := newFakeStore()
	h := &fakeHub{}
	m := newTestManager(store, h)

	store.leases["UCabc"] = &db.ChannelLease{
		ChannelID:   "UCabc",
		State:       db.LeaseStateVerified,
		TopicURL:    TopicURL("UCabc"),
		CallbackURL: "https://worker.example.com/websub/callback",
	}

	require.NoError(t, m.Unsubscribe(context.Background(), "UCabc"))
	require.Len(t, h.calls, 1)
	require.Equal(t, hub.ModeUnsubscribe, h.calls[0].mode)
}

func TestChannelIDFromTopic(t *testing.T) {
	id, ok := ChannelIDFromTopic("https://www.youtube.com/xml/feeds/videos.xml?channel_id=UCabc")
	require.True(t, ok)
	require.Equal(t, "UCabc", id)

	_, ok = ChannelIDFromTopic("https://www.youtube.com/xml/feeds/videos.xml")
	require.False(t, ok)

	_, ok = ChannelIDFromTopic("://not-a-url")
	require.False(t, ok)
}

func TestTopicURLRoundTrip(t *testing.T) {
	id, ok := ChannelIDFromTopic(TopicURL("UC_x5XG1OV2P6uZZ5FSM9Ttw"))
	require.True(t, ok)
	require.Equal(t, "UC_x5XG1OV2P6uZZ5FSM9Ttw", id)
}
