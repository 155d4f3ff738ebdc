package service

import (
	"context"
	"sync"
	"testing"

	"Parley/internal/db"
	"Parley/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerRegistryRefcounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user("p1", "one")
	f.user("p2", "two")

	var mu sync.Mutex
	changed := map[string]int{}
	reg := NewPeerRegistry(f.repos.Users, f.logger, func(uid string, u *model.User) {
		mu.Lock()
		defer mu.Unlock()
		changed[uid]++
	})

	require.NoError(t, reg.Acquire(ctx, "p1"))
	require.NoError(t, reg.Acquire(ctx, "p1"))
	assert.Equal(t, 2, reg.Refs("p1"))
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1, f.subscriptions())

	require.Eventually(t, func() bool { return reg.Get("p1") != nil }, waitFor, tick)
	assert.Equal(t, "one", reg.Get("p1").Username)

	reg.Release("p1")
	assert.Equal(t, 1, reg.Refs("p1"))
	assert.Equal(t, 1, f.subscriptions())

	reg.Release("p1")
	assert.Equal(t, 0, reg.Refs("p1"))
	assert.Nil(t, reg.Get("p1"))
	assert.Equal(t, 0, f.subscriptions())

	// releasing something never held is harmless
	reg.Release("nobody")
}

func TestPeerRegistrySync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user("p1", "one")
	f.user("p2", "two")
	f.user("p3", "three")

	reg := NewPeerRegistry(f.repos.Users, f.logger, nil)
	defer reg.Close()

	reg.Sync(ctx, map[string]int{"p1": 2, "p2": 1})
	assert.Equal(t, 2, reg.Refs("p1"))
	assert.Equal(t, 1, reg.Refs("p2"))
	assert.Equal(t, 2, f.subscriptions())

	require.Eventually(t, func() bool { return len(reg.Snapshot()) == 2 }, waitFor, tick)

	reg.Sync(ctx, map[string]int{"p1": 1, "p3": 1})
	assert.Equal(t, 1, reg.Refs("p1"))
	assert.Equal(t, 0, reg.Refs("p2"))
	assert.Equal(t, 1, reg.Refs("p3"))
	assert.Equal(t, 2, f.subscriptions())

	// p1 kept its cached profile across the resync
	assert.NotNil(t, reg.Get("p1"))
}

func TestPeerRegistryMissingProfile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	seen := make(chan *model.User, 1)
	reg := NewPeerRegistry(f.repos.Users, f.logger, func(uid string, u *model.User) {
		seen <- u
	})
	defer reg.Close()

	require.NoError(t, reg.Acquire(ctx, "ghost"))
	assert.Nil(t, <-seen)
	assert.Empty(t, reg.Snapshot())
}

func TestPeerRegistryClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user("p1", "one")

	reg := NewPeerRegistry(f.repos.Users, f.logger, nil)
	require.NoError(t, reg.Acquire(ctx, "p1"))

	reg.Close()
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, f.subscriptions())
	assert.ErrorIs(t, reg.Acquire(ctx, "p1"), db.ErrStoreClosed)
}
