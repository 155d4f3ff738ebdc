package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"Parley/internal/db"
	"Parley/internal/eventlog"
	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/repo"
	"Parley/internal/session"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Monday 10 June 2024, 15:04 UTC.
var testNow = time.Date(2024, 6, 10, 15, 4, 0, 0, time.UTC)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *testClock { return &testClock{t: testNow} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeUploader struct {
	mu     sync.Mutex
	url    string
	err    error
	calls  int
	kind   model.MediaKind
	folder string
}

func (u *fakeUploader) Upload(ctx context.Context, file media.File, kind model.MediaKind, folder string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.kind = kind
	u.folder = folder
	if u.err != nil {
		return "", u.err
	}
	return u.url, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []eventlog.Record
}

func (p *recordingPublisher) Publish(ctx context.Context, rec eventlog.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, rec.Type)
	}
	return out
}

type fixture struct {
	t      *testing.T
	store  db.Store
	repos  Repos
	clock  *testClock
	events *recordingPublisher
	logger *zap.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	clock := newClock()
	store := db.NewMemoryStore(clock.Now, logger)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	return &fixture{
		t:     t,
		store: store,
		repos: Repos{
			Users:   repo.NewUserRepository(store, logger),
			Members: repo.NewMembershipRepository(store, logger),
			Chats:   repo.NewChatRepository(store, logger),
			Typing:  repo.NewTypingRepository(store, logger),
		},
		clock:  clock,
		events: &recordingPublisher{},
		logger: logger,
	}
}

// user creates a profile and an empty membership list for uid.
func (f *fixture) user(uid, username string) *session.Session {
	f.t.Helper()
	ctx := context.Background()
	require.NoError(f.t, f.repos.Users.Create(ctx, model.User{ID: uid, Username: username, Status: model.DefaultStatus}))
	require.NoError(f.t, f.repos.Members.Create(ctx, uid))
	profile, err := f.repos.Users.Get(ctx, uid)
	require.NoError(f.t, err)
	return &session.Session{Identity: &identity.Identity{UID: uid}, Profile: profile}
}

// chat opens a conversation between a and b with fresh rows on both sides.
func (f *fixture) chat(a, b *session.Session) string {
	f.t.Helper()
	row, err := NewContactService(a, f.repos, nil, f.logger, WithClock(f.clock.Now)).AddContact(context.Background(), b.UID())
	require.NoError(f.t, err)
	return row.ChatID
}

func (f *fixture) row(uid, chatID string) model.Membership {
	f.t.Helper()
	rows, err := f.repos.Members.List(context.Background(), uid)
	require.NoError(f.t, err)
	for _, row := range rows {
		if row.ChatID == chatID {
			return row
		}
	}
	f.t.Fatalf("no row for %s in %s's list", chatID, uid)
	return model.Membership{}
}

func (f *fixture) messages(chatID string) []model.Message {
	f.t.Helper()
	msgs, err := f.repos.Chats.Messages(context.Background(), chatID)
	require.NoError(f.t, err)
	return msgs
}

func (f *fixture) profile(uid string) *model.User {
	f.t.Helper()
	u, err := f.repos.Users.Get(context.Background(), uid)
	require.NoError(f.t, err)
	return u
}

func (f *fixture) mutations(sess *session.Session, up media.Uploader) *MutationService {
	return NewMutationService(sess, f.repos, up, f.events, nil, "", f.logger, WithClock(f.clock.Now))
}

func (f *fixture) subscriptions() int {
	return f.store.(db.SubscriptionCounter).Subscriptions()
}
