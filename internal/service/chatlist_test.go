package service

import (
	"context"
	"testing"
	"time"

	"Parley/internal/eventlog"
	"Parley/internal/repo"
	"Parley/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTogglePin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))
	original := f.row("v", chatID).UpdatedAt

	chats := NewChatListService(viewer, f.repos, f.events, nil, f.logger, WithClock(f.clock.Now))

	f.clock.Advance(time.Hour)
	pinned, err := chats.TogglePin(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, pinned)
	assert.True(t, f.profile("v").IsPinned(chatID))

	row := f.row("v", chatID)
	assert.Equal(t, f.clock.Now().UnixMilli(), row.UpdatedAt)
	require.NotNil(t, row.OriginalUpdatedAt)
	assert.Equal(t, original, *row.OriginalUpdatedAt)

	f.clock.Advance(time.Hour)
	pinned, err = chats.TogglePin(ctx, chatID)
	require.NoError(t, err)
	assert.False(t, pinned)
	assert.False(t, f.profile("v").IsPinned(chatID))

	row = f.row("v", chatID)
	assert.Equal(t, original, row.UpdatedAt)
	assert.Nil(t, row.OriginalUpdatedAt)

	// pinning is private to the viewer
	assert.False(t, f.profile("p").IsPinned(chatID))
}

func TestTogglePinUnknownChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")

	chats := NewChatListService(viewer, f.repos, nil, nil, f.logger)
	_, err := chats.TogglePin(ctx, "nope")
	assert.ErrorIs(t, err, repo.ErrMembershipNotFound)
}

func TestToggleArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))
	chats := NewChatListService(viewer, f.repos, nil, nil, f.logger)

	archived, err := chats.ToggleArchive(ctx, chatID)
	require.NoError(t, err)
	assert.True(t, archived)
	assert.True(t, f.row("v", chatID).Archived)
	assert.False(t, f.row("p", chatID).Archived)

	archived, err = chats.ToggleArchive(ctx, chatID)
	require.NoError(t, err)
	assert.False(t, archived)
	assert.False(t, f.row("v", chatID).Archived)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))

	for _, text := range []string{"one", "two"} {
		_, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: text})
		require.NoError(t, err)
	}

	chats := NewChatListService(viewer, f.repos, f.events, nil, f.logger)
	require.NoError(t, chats.Clear(ctx, chatID, "p"))

	assert.Empty(t, f.messages(chatID))
	for _, uid := range []string{"v", "p"} {
		row := f.row(uid, chatID)
		assert.Equal(t, "", row.LastMessage, uid)
		assert.True(t, row.IsSeen, uid)
	}
	assert.Contains(t, f.events.types(), eventlog.TypeClear)
}

func TestOpenResetsUnread(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	peer := f.user("p", "peer")
	chatID := f.chat(viewer, peer)

	for i := 0; i < 3; i++ {
		_, err := f.mutations(peer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "v", Text: "ping"})
		require.NoError(t, err)
	}
	row := f.row("v", chatID)
	require.Equal(t, 3, row.UnreadMessages)
	require.False(t, row.IsSeen)

	require.NoError(t, NewChatListService(viewer, f.repos, nil, nil, f.logger).Open(ctx, chatID))

	row = f.row("v", chatID)
	assert.Equal(t, 0, row.UnreadMessages)
	assert.True(t, row.IsSeen)
	assert.Equal(t, "ping", row.LastMessage)
}

func TestChatListRequiresSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chats := NewChatListService(&session.Session{}, f.repos, nil, nil, f.logger)

	_, err := chats.TogglePin(ctx, "c1")
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = chats.ToggleArchive(ctx, "c1")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, chats.Clear(ctx, "c1", "p"), ErrNoSession)
	assert.ErrorIs(t, chats.Open(ctx, "c1"), ErrNoSession)
}
