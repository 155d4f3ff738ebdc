package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"Parley/internal/db"
	"Parley/internal/identity"
	"Parley/internal/model"
	"Parley/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	auth  *identity.Client
	users repo.UserRepository
	state *State

	mu   sync.Mutex
	seen []*Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := db.NewMemoryStore(nil, zap.NewNop())
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	dir := identity.NewLocalDirectory(store, identity.Config{JWTSecret: "s"}, zap.NewNop())
	f := &fixture{
		auth:  identity.NewClient(dir),
		users: repo.NewUserRepository(store, zap.NewNop()),
	}
	f.state = NewState(f.auth, f.users, zap.NewNop(), opts...)
	f.state.OnChange(func(s *Session) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.seen = append(f.seen, s)
	})
	f.state.Start()
	t.Cleanup(f.state.Stop)
	return f
}

func (f *fixture) transitions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.seen...)
}

func TestSessionResolvesProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.auth.CreateWithEmailPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, model.User{ID: id.UID, Username: "ada"}))

	require.Eventually(t, func() bool { return len(f.transitions()) == 1 }, 3*time.Second, 10*time.Millisecond)

	sess := f.transitions()[0]
	require.NotNil(t, sess)
	assert.Equal(t, id.UID, sess.UID())
	require.NotNil(t, sess.Profile)
	assert.Equal(t, "ada", sess.Profile.Username)
	assert.Same(t, sess, f.state.Current())
}

func TestSessionWithoutProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithProfileRetry(2, 5*time.Millisecond))

	_, err := f.auth.CreateWithEmailPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.transitions()) == 1 }, time.Second, 5*time.Millisecond)
	sess := f.transitions()[0]
	require.NotNil(t, sess)
	assert.Nil(t, sess.Profile)
}

func TestSessionSignOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithProfileRetry(1, time.Millisecond))

	// signing out while signed out is not a transition
	require.NoError(t, f.auth.SignOut(ctx))

	_, err := f.auth.CreateWithEmailPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.transitions()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.auth.SignOut(ctx))
	got := f.transitions()
	require.Len(t, got, 2)
	assert.Nil(t, got[1])
	assert.Nil(t, f.state.Current())
}

func TestSessionSignOutAbandonsProfileLoad(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithProfileRetry(50, 20*time.Millisecond))

	_, err := f.auth.CreateWithEmailPassword(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, f.auth.SignOut(ctx))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.transitions())
	assert.Nil(t, f.state.Current())
}

func TestSessionUID(t *testing.T) {
	var nilSession *Session
	assert.Equal(t, "", nilSession.UID())
	assert.Equal(t, "", (&Session{}).UID())
	assert.Equal(t, "u1", (&Session{Identity: &identity.Identity{UID: "u1"}}).UID())
}
