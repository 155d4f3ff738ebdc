package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"Parley/internal/eventlog"
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/repo"
	"Parley/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	peer := f.user("p", "peer")
	chatID := f.chat(viewer, peer)

	f.clock.Advance(time.Minute)
	msg, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "  hello  "})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "  hello  ", msg.Text)

	msgs := f.messages(chatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.Equal(t, "  hello  ", msgs[0].Text)
	assert.Equal(t, "v", msgs[0].SenderID)
	assert.True(t, f.clock.Now().Equal(msgs[0].CreatedAt))

	mine := f.row("v", chatID)
	assert.Equal(t, "hello", mine.LastMessage)
	assert.True(t, mine.IsSeen)
	assert.Equal(t, 0, mine.UnreadMessages)
	assert.Equal(t, f.clock.Now().UnixMilli(), mine.UpdatedAt)

	theirs := f.row("p", chatID)
	assert.Equal(t, "hello", theirs.LastMessage)
	assert.False(t, theirs.IsSeen)
	assert.Equal(t, 1, theirs.UnreadMessages)

	_, err = f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "again"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.row("p", chatID).UnreadMessages)

	assert.Equal(t, []string{eventlog.TypeSend, eventlog.TypeSend}, f.events.types())
}

func TestSendReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))

	reply := &model.ReplyRef{Text: "original", SenderID: "p"}
	msg, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "answer", ReplyTo: reply})
	require.NoError(t, err)
	assert.Equal(t, reply, msg.ReplyTo)

	assert.Equal(t, reply, f.messages(chatID)[0].ReplyTo)
	assert.Equal(t, reply, f.row("v", chatID).ReplyTo)
	assert.Equal(t, reply, f.row("p", chatID).ReplyTo)
}

func TestSendAttachment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))

	up := &fakeUploader{url: "https://cdn/cat.png"}
	file := &media.File{Name: "cat.png", ContentType: "image/png", Data: []byte("png")}

	msg, err := f.mutations(viewer, up).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Attachment: file})
	require.NoError(t, err)
	require.NotNil(t, msg.Media)
	assert.Equal(t, model.MediaImage, msg.Media.Kind)
	assert.Equal(t, "https://cdn/cat.png", msg.Media.URL)
	assert.Equal(t, DefaultChatFolder, up.folder)

	assert.Equal(t, "📷 image", f.row("p", chatID).LastMessage)

	_, err = f.mutations(viewer, up).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "see", Attachment: file})
	require.NoError(t, err)
	assert.Equal(t, "see 📷", f.row("v", chatID).LastMessage)

	// blank text next to an attachment is dropped, not stored
	blank, err := f.mutations(viewer, up).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "   ", Attachment: file})
	require.NoError(t, err)
	assert.Empty(t, blank.Text)
	assert.Equal(t, "📷 image", f.row("p", chatID).LastMessage)
}

func TestSendUploadFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))
	before := f.row("p", chatID)

	up := &fakeUploader{err: media.ErrUploadFailed}
	file := &media.File{Name: "a.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}

	_, err := f.mutations(viewer, up).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "doc", Attachment: file})
	assert.ErrorIs(t, err, media.ErrUploadFailed)
	assert.Equal(t, model.MediaRaw, up.kind)

	assert.Empty(t, f.messages(chatID))
	assert.Equal(t, before, f.row("p", chatID))
	assert.Empty(t, f.events.types())
}

func TestSendRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	peer := f.user("p", "peer")
	chatID := f.chat(viewer, peer)

	tests := []struct {
		name    string
		sess    *session.Session
		req     SendRequest
		wantErr error
	}{
		{"empty text", viewer, SendRequest{ChatID: chatID, PeerID: "p", Text: "   "}, ErrEmptyMessage},
		{"no chat", viewer, SendRequest{PeerID: "p", Text: "x"}, repo.ErrInvalidID},
		{"signed out", &session.Session{}, SendRequest{ChatID: chatID, PeerID: "p", Text: "x"}, ErrNoSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mutations(tt.sess, nil).Send(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.messages(chatID))
}

func TestSendBlockedEitherWay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	peer := f.user("p", "peer")
	chatID := f.chat(viewer, peer)

	contacts := NewContactService(peer, f.repos, nil, f.logger)
	require.NoError(t, contacts.Block(ctx, chatID, "v"))

	_, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "hi"})
	assert.ErrorIs(t, err, ErrBlocked)
	_, err = f.mutations(peer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "v", Text: "hi"})
	assert.ErrorIs(t, err, ErrBlocked)

	require.NoError(t, contacts.Unblock(ctx, chatID, "v"))
	_, err = f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "hi"})
	assert.NoError(t, err)
}

func TestSendSelfChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, viewer)

	_, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "v", Text: "note to self"})
	require.NoError(t, err)

	rows, err := f.repos.Members.List(ctx, "v")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsSeen)
	assert.Equal(t, 0, rows[0].UnreadMessages)
	assert.Equal(t, "note to self", rows[0].LastMessage)
}

func TestSendMissingPeerRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	f.user("p", "peer")

	chatID, err := f.repos.Chats.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repos.Members.Append(ctx, "v", model.Membership{ChatID: chatID, ReceiverID: "p"}))

	_, err = f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", f.row("v", chatID).LastMessage)
}

func TestEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	peer := f.user("p", "peer")
	chatID := f.chat(viewer, peer)

	sent, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "helo"})
	require.NoError(t, err)
	_, err = f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "newest"})
	require.NoError(t, err)
	unreadBefore := f.row("p", chatID).UnreadMessages

	f.clock.Advance(time.Minute)
	ref := model.MessageRef{Index: 0, ID: sent.ID}
	require.NoError(t, f.mutations(viewer, nil).Edit(ctx, chatID, "p", ref, "hello"))

	msgs := f.messages(chatID)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.True(t, msgs[0].Edited)
	require.NotNil(t, msgs[0].EditedAt)
	assert.True(t, f.clock.Now().Equal(*msgs[0].EditedAt))
	assert.Equal(t, "newest", msgs[1].Text)

	// the preview stays on the newest message, the peer still gets a bump
	assert.Equal(t, "newest", f.row("v", chatID).LastMessage)
	assert.Equal(t, unreadBefore+1, f.row("p", chatID).UnreadMessages)

	t.Run("someone else's message", func(t *testing.T) {
		err := f.mutations(peer, nil).Edit(ctx, chatID, "v", ref, "hijack")
		assert.ErrorIs(t, err, ErrNotEditable)
	})

	t.Run("after the window", func(t *testing.T) {
		f.clock.Advance(EditWindow)
		err := f.mutations(viewer, nil).Edit(ctx, chatID, "p", ref, "too late")
		assert.ErrorIs(t, err, ErrNotEditable)
		assert.Equal(t, "hello", f.messages(chatID)[0].Text)
	})

	t.Run("empty text", func(t *testing.T) {
		err := f.mutations(viewer, nil).Edit(ctx, chatID, "p", ref, " ")
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("out of range", func(t *testing.T) {
		err := f.mutations(viewer, nil).Edit(ctx, chatID, "p", model.MessageRef{Index: 9}, "x")
		assert.ErrorIs(t, err, repo.ErrMessageOutOfRange)
	})
}

func TestReact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	peer := f.user("p", "peer")
	chatID := f.chat(viewer, peer)

	sent, err := f.mutations(peer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "v", Text: "joke"})
	require.NoError(t, err)
	ref := model.MessageRef{ID: sent.ID}
	svc := f.mutations(viewer, nil)

	steps := []struct {
		tag  model.Reaction
		want model.Reaction
	}{
		{model.ReactionSmile, model.ReactionSmile},
		{model.ReactionHeart, model.ReactionHeart},
		{model.ReactionHeart, ""},
	}
	for _, step := range steps {
		require.NoError(t, svc.React(ctx, chatID, ref, step.tag))
		assert.Equal(t, step.want, f.messages(chatID)[0].Reaction)
	}

	assert.Error(t, svc.React(ctx, chatID, ref, "angry"))
	assert.ErrorIs(t, svc.React(ctx, "missing-chat", ref, model.ReactionLike), repo.ErrConversationMissing)
}

func TestStar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))

	sent, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "keep"})
	require.NoError(t, err)
	ref := model.MessageRef{ID: sent.ID}

	require.NoError(t, f.mutations(viewer, nil).Star(ctx, chatID, ref))
	star := f.messages(chatID)[0].Star
	require.NotNil(t, star)
	assert.True(t, star.IsStarred)
	assert.Equal(t, "v", star.SenderID)
	assert.True(t, f.clock.Now().Equal(star.StarredAt))

	require.NoError(t, f.mutations(viewer, nil).Star(ctx, chatID, ref))
	assert.False(t, f.messages(chatID)[0].Star.IsStarred)
}

func TestMutationByIDSurvivesReordering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))

	a, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "a"})
	require.NoError(t, err)
	b, err := f.mutations(viewer, nil).Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "b"})
	require.NoError(t, err)

	// the index was captured when b sat at position 1; another client then
	// rewrote the array with b first
	ref := model.MessageRef{Index: 1, ID: b.ID}
	msgs := f.messages(chatID)
	require.NoError(t, f.repos.Chats.ReplaceMessages(ctx, chatID, []model.Message{msgs[1], msgs[0]}))

	require.NoError(t, f.mutations(viewer, nil).React(ctx, chatID, ref, model.ReactionLike))

	after := f.messages(chatID)
	assert.Equal(t, b.ID, after[0].ID)
	assert.Equal(t, model.ReactionLike, after[0].Reaction)
	assert.Equal(t, a.ID, after[1].ID)
	assert.Equal(t, model.Reaction(""), after[1].Reaction)
}

// Messages written without an id can only be addressed by position, so a
// concurrent rewrite of the array redirects the mutation to whatever now
// sits at that position.
func TestMutationByStaleIndexHitsReplacement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))

	require.NoError(t, f.repos.Chats.ReplaceMessages(ctx, chatID, []model.Message{
		{SenderID: "p", Text: "picked", CreatedAt: testNow},
	}))
	ref := model.MessageRef{Index: 0}

	require.NoError(t, f.repos.Chats.ReplaceMessages(ctx, chatID, []model.Message{
		{SenderID: "p", Text: "replacement", CreatedAt: testNow},
	}))
	require.NoError(t, f.mutations(viewer, nil).React(ctx, chatID, ref, model.ReactionSad))

	msgs := f.messages(chatID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "replacement", msgs[0].Text)
	assert.Equal(t, model.ReactionSad, msgs[0].Reaction)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, eventlog.Record) error {
	return errors.New("broker down")
}

func (failingPublisher) Close() error { return nil }

func TestSendSurvivesEventLogFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	viewer := f.user("v", "viewer")
	chatID := f.chat(viewer, f.user("p", "peer"))

	svc := NewMutationService(viewer, f.repos, nil, failingPublisher{}, nil, "", f.logger)
	_, err := svc.Send(ctx, SendRequest{ChatID: chatID, PeerID: "p", Text: "hi"})
	require.NoError(t, err)
	assert.Len(t, f.messages(chatID), 1)
}
