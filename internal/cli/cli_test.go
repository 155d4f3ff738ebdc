package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Parley/internal/identity"
	"Parley/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useStore points the commands at a fresh pebble store for the test.
func useStore(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	cfg := "store:\n  driver: pebble\n  pebble:\n    path: " + filepath.Join(dir, "data") + "\n" +
		"auth:\n  jwt_secret: cli-secret\n" +
		"session:\n  profile_retries: 2\n  profile_retry_delay: 10ms\n"
	path := filepath.Join(dir, "parley.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	t.Setenv("PARLEY_CONFIG", path)
	t.Setenv("PARLEY_TOKEN", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRegister(t *testing.T, email, username string) identity.Identity {
	t.Helper()
	out, err := execute(t, "register", "--email", email, "--password", "secret1", "--username", username)
	require.NoError(t, err)

	var id identity.Identity
	require.NoError(t, json.Unmarshal([]byte(out), &id))
	require.NotEmpty(t, id.Token)
	return id
}

func TestAccountCommands(t *testing.T) {
	useStore(t)
	ada := mustRegister(t, "ada@example.com", "ada")

	_, err := execute(t, "register", "--email", "ada2@example.com", "--password", "secret1", "--username", "ada")
	assert.ErrorContains(t, err, "username already taken")

	out, err := execute(t, "login", "--email", "ada@example.com", "--password", "secret1")
	require.NoError(t, err)
	var id identity.Identity
	require.NoError(t, json.Unmarshal([]byte(out), &id))
	assert.Equal(t, ada.UID, id.UID)

	_, err = execute(t, "login", "--email", "ada@example.com", "--password", "wrong1")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)

	out, err = execute(t, "status", "on holiday", "--token", ada.Token)
	require.NoError(t, err)
	assert.Equal(t, "status updated\n", out)

	out, err = execute(t, "logout", "--token", ada.Token)
	require.NoError(t, err)
	assert.Equal(t, "signed out\n", out)
}

func TestChatCommands(t *testing.T) {
	useStore(t)
	ada := mustRegister(t, "ada@example.com", "ada")
	bob := mustRegister(t, "bob@example.com", "bob")

	out, err := execute(t, "search", "bob", "--token", ada.Token)
	require.NoError(t, err)
	var users []model.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	assert.Equal(t, bob.UID, users[0].ID)

	out, err = execute(t, "add", bob.UID, "--token", ada.Token)
	require.NoError(t, err)
	var row model.Membership
	require.NoError(t, json.Unmarshal([]byte(out), &row))
	require.NotEmpty(t, row.ChatID)
	assert.Equal(t, bob.UID, row.ReceiverID)

	out, err = execute(t, "send", row.ChatID, "hello bob", "--token", ada.Token)
	require.NoError(t, err)
	var msg model.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msg))
	assert.Equal(t, "hello bob", msg.Text)
	assert.Equal(t, ada.UID, msg.SenderID)

	out, err = execute(t, "pin", row.ChatID, "--token", ada.Token)
	require.NoError(t, err)
	assert.Equal(t, "pinned: true\n", out)

	out, err = execute(t, "archive", row.ChatID, "--token", ada.Token)
	require.NoError(t, err)
	assert.Equal(t, "archived: true\n", out)

	_, err = execute(t, "send", "nope", "hi", "--token", ada.Token)
	assert.ErrorContains(t, err, "not in your chat list")

	_, err = execute(t, "send", row.ChatID, "hi", "--token", "garbage")
	assert.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestCommandsNeedToken(t *testing.T) {
	useStore(t)
	_, err := execute(t, "search", "bob", "--token", "")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		want string
	}{
		{"photo.png", "image/png"},
		{"notes.unknownext", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

			file, err := readFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.name, file.Name)
			assert.True(t, strings.HasPrefix(file.ContentType, tt.want), file.ContentType)
			assert.Equal(t, []byte("data"), file.Data)
		})
	}

	_, err := readFile(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestRenderConversation(t *testing.T) {
	view := &model.ConversationView{
		Peer: &model.User{Username: "bob"},
		Groups: []model.MessageGroup{{
			Label: "Today",
			Messages: []model.MessageView{
				{Message: model.Message{SenderID: "a", Text: "hi"}, Index: 0, Time: "03:04 PM", Age: "5 min ago"},
				{Message: model.Message{SenderID: "b", Text: "yo"}, Index: 1, Time: "03:06 PM", Age: "3 min ago"},
			},
		}},
		Senders:    map[string]*model.User{"b": {Username: "bob"}},
		PeerTyping: true,
	}

	out := renderConversation(view, "a")
	assert.Contains(t, out, "  0 03:04 PM you: hi\n")
	assert.Contains(t, out, "  1 03:06 PM bob: yo\n")
	assert.Contains(t, out, "last message 3 min ago\n")
	assert.Contains(t, out, "typing...\n")
}
