package identity

import (
	"context"
	"errors"
)

var (
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrNotSignedIn        = errors.New("not signed in")
)

const minPasswordLength = 6

// Identity is an authenticated account as the identity provider sees it.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
	Token       string `json:"token,omitempty"`
}

// Directory is the account backend: it stores credentials and issues and
// verifies session tokens. It is shared by every session in the process.
type Directory interface {
	CreateWithEmailPassword(ctx context.Context, email, password string) (*Identity, error)
	SignInWithEmailPassword(ctx context.Context, email, password string) (*Identity, error)

	// SignInWithFederated exchanges an identity token minted by an external
	// provider. created reports whether this was the account's first sign-in.
	SignInWithFederated(ctx context.Context, idToken string) (id *Identity, created bool, err error)

	UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error
	Verify(ctx context.Context, token string) (*Identity, error)
}
