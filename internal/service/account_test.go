package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

const federatedSecret = "federated"

func (f *fixture) accounts(up media.Uploader) (*AccountService, *identity.Client) {
	dir := identity.NewLocalDirectory(f.store, identity.Config{JWTSecret: "jwt", FederatedSecret: federatedSecret}, f.logger)
	auth := identity.NewClient(dir)
	return NewAccountService(auth, f.repos, up, "", f.logger), auth
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	up := &fakeUploader{url: "https://cdn/ada.png"}
	accounts, auth := f.accounts(up)

	id, err := accounts.Register(ctx, RegisterRequest{
		Email:    "ada@example.com",
		Password: "secret1",
		Username: " ada ",
		Avatar:   &media.File{Name: "ada.png", ContentType: "image/png", Data: []byte("png")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ada", id.DisplayName)
	assert.Equal(t, "https://cdn/ada.png", id.PhotoURL)
	assert.NotEmpty(t, id.Token)
	assert.Equal(t, DefaultAvatarFolder, up.folder)

	profile := f.profile(id.UID)
	require.NotNil(t, profile)
	assert.Equal(t, "ada", profile.Username)
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.Equal(t, "https://cdn/ada.png", profile.Avatar)
	assert.Equal(t, model.DefaultStatus, profile.Status)
	assert.True(t, testNow.Equal(profile.CreatedAt))

	snap, err := f.store.Get(ctx, "userChats", id.UID)
	require.NoError(t, err)
	assert.True(t, snap.Exists)

	assert.Same(t, auth.Current(), id)
}

func TestRegisterRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.user("taken", "ada")

	tests := []struct {
		name    string
		req     RegisterRequest
		up      *fakeUploader
		wantErr error
	}{
		{"blank username", RegisterRequest{Email: "a@example.com", Password: "secret1", Username: " "}, &fakeUploader{}, ErrInvalidUsername},
		{"username taken", RegisterRequest{Email: "a@example.com", Password: "secret1", Username: "ada"}, &fakeUploader{}, ErrUsernameTaken},
		{"weak password", RegisterRequest{Email: "a@example.com", Password: "123", Username: "bob"}, &fakeUploader{}, identity.ErrWeakPassword},
		{
			"avatar upload fails",
			RegisterRequest{Email: "a@example.com", Password: "secret1", Username: "cy", Avatar: &media.File{Name: "x.png", ContentType: "image/png", Data: []byte("x")}},
			&fakeUploader{err: media.ErrUploadFailed},
			media.ErrUploadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts, auth := f.accounts(tt.up)
			_, err := accounts.Register(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, auth.Current())
		})
	}

	// nothing was provisioned for the failed attempts
	found, err := f.repos.Users.FindByUsername(ctx, "cy")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	accounts, _ := f.accounts(nil)

	registered, err := accounts.Register(ctx, RegisterRequest{Email: "ada@example.com", Password: "secret1", Username: "ada"})
	require.NoError(t, err)
	require.NoError(t, accounts.Logout(ctx))

	again, auth := f.accounts(nil)
	id, err := again.Login(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.UID, id.UID)
	assert.Equal(t, id, auth.Current())

	_, err = again.Login(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	accounts, auth := f.accounts(nil)

	id, err := accounts.Register(ctx, RegisterRequest{Email: "ada@example.com", Password: "secret1", Username: "ada"})
	require.NoError(t, err)
	require.NoError(t, f.repos.Users.UpdateFields(ctx, id.UID, bson.M{model.UserFieldOnline: true}))

	f.clock.Advance(time.Minute)
	require.NoError(t, accounts.Logout(ctx))
	assert.Nil(t, auth.Current())

	profile := f.profile(id.UID)
	assert.False(t, profile.Online)
	require.NotNil(t, profile.LastSeen)
	assert.True(t, f.clock.Now().Equal(*profile.LastSeen))

	// signed out already: nothing to record
	require.NoError(t, accounts.Logout(ctx))
}

func TestLoginFederated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("first sign-in provisions the profile", func(t *testing.T) {
		accounts, _ := f.accounts(nil)
		token, err := identity.SignFederated([]byte(federatedSecret), "sub-1", "ada@example.com", "Ada L", "https://img/ada", time.Minute)
		require.NoError(t, err)

		id, err := accounts.LoginFederated(ctx, token)
		require.NoError(t, err)

		profile := f.profile(id.UID)
		require.NotNil(t, profile)
		assert.Equal(t, "Ada L", profile.Username)
		assert.Equal(t, "https://img/ada", profile.Avatar)

		require.NoError(t, accounts.ChangeStatus(ctx, "busy"))

		// the second sign-in leaves the existing profile alone
		again, _ := f.accounts(nil)
		_, err = again.LoginFederated(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "busy", f.profile(id.UID).Status)
	})

	t.Run("no display name", func(t *testing.T) {
		accounts, _ := f.accounts(nil)
		token, err := identity.SignFederated([]byte(federatedSecret), "sub-2", "anon@example.com", "", "", time.Minute)
		require.NoError(t, err)

		id, err := accounts.LoginFederated(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "Unnamed", f.profile(id.UID).Username)
	})

	t.Run("bad token", func(t *testing.T) {
		accounts, _ := f.accounts(nil)
		_, err := accounts.LoginFederated(ctx, "not-a-token")
		assert.ErrorIs(t, err, identity.ErrInvalidToken)
	})
}

func TestChangeStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	accounts, _ := f.accounts(nil)

	assert.ErrorIs(t, accounts.ChangeStatus(ctx, "hi"), ErrNoSession)

	id, err := accounts.Register(ctx, RegisterRequest{Email: "ada@example.com", Password: "secret1", Username: "ada"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		status  string
		wantErr error
	}{
		{"plain", "at work", nil},
		{"at the limit", strings.Repeat("é", MaxStatusLength), nil},
		{"too long", strings.Repeat("a", MaxStatusLength+1), ErrInvalidStatus},
		{"blank", "   ", ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := accounts.ChangeStatus(ctx, tt.status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, f.profile(id.UID).Status)
		})
	}
}

func TestChangeAvatar(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	up := &fakeUploader{url: "https://cdn/new.png"}
	accounts, auth := f.accounts(up)

	_, err := accounts.ChangeAvatar(ctx, media.File{Name: "a.png", ContentType: "image/png", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNoSession)

	id, err := accounts.Register(ctx, RegisterRequest{Email: "ada@example.com", Password: "secret1", Username: "ada"})
	require.NoError(t, err)

	url, err := accounts.ChangeAvatar(ctx, media.File{Name: "a.png", ContentType: "image/png", Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/new.png", url)
	assert.Equal(t, url, f.profile(id.UID).Avatar)
	assert.Equal(t, url, auth.Current().PhotoURL)

	profile, err := accounts.Profile(ctx)
	require.NoError(t, err)
	assert.Equal(t, url, profile.Avatar)

	up.err = media.ErrUploadFailed
	_, err = accounts.ChangeAvatar(ctx, media.File{Name: "b.png", ContentType: "image/png", Data: []byte("y")})
	assert.ErrorIs(t, err, media.ErrUploadFailed)
	assert.Equal(t, url, f.profile(id.UID).Avatar)
}
