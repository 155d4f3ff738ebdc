package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"Parley/internal/db"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const (
	credentialsCollection = "credentials"
	accountsCollection    = "accounts"
	federatedKeyPrefix    = "federated:"
	opTimeout             = 5 * time.Second
)

type Config struct {
	JWTSecret       string
	FederatedSecret string
	TokenTTL        time.Duration
}

type credential struct {
	UID          string `bson:"uid"`
	Email        string `bson:"email"`
	PasswordHash string `bson:"password_hash,omitempty"`
}

type account struct {
	UID         string `bson:"uid"`
	Email       string `bson:"email"`
	DisplayName string `bson:"display_name"`
	PhotoURL    string `bson:"photo_url"`
}

type localDirectory struct {
	store           db.Store
	tokens          *tokenIssuer
	federatedSecret []byte
	now             func() time.Time
	logger          *zap.Logger
}

// NewLocalDirectory keeps accounts in the document store: credentials/{key}
// maps a login (email or federated subject) to a uid, accounts/{uid} holds
// the profile the provider knows about.
func NewLocalDirectory(store db.Store, cfg Config, logger *zap.Logger) Directory {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &localDirectory{
		store: store,
		tokens: &tokenIssuer{
			secret: []byte(cfg.JWTSecret),
			ttl:    cfg.TokenTTL,
			now:    time.Now,
		},
		federatedSecret: []byte(cfg.FederatedSecret),
		now:             time.Now,
		logger:          logger,
	}
}

func (d *localDirectory) CreateWithEmailPassword(ctx context.Context, email, password string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	existing, err := d.store.Get(ctx, credentialsCollection, email)
	if err != nil {
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	if existing.Exists {
		return nil, ErrEmailInUse
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	uid := uuid.NewString()
	if err := d.createAccount(ctx, email, credential{UID: uid, Email: email, PasswordHash: hash}, account{UID: uid, Email: email}); err != nil {
		return nil, err
	}

	d.logger.Info("account created", zap.String("uid", uid))
	return d.identityFor(account{UID: uid, Email: email})
}

func (d *localDirectory) SignInWithEmailPassword(ctx context.Context, email, password string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cred credential
	if err := d.load(ctx, credentialsCollection, email, &cred); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if cred.PasswordHash == "" || !verifyPassword(password, cred.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	acct, err := d.account(ctx, cred.UID)
	if err != nil {
		return nil, err
	}
	return d.identityFor(acct)
}

func (d *localDirectory) SignInWithFederated(ctx context.Context, idToken string) (*Identity, bool, error) {
	claims, err := parseFederated(idToken, d.federatedSecret, d.now)
	if err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := federatedKeyPrefix + claims.Subject
	var cred credential
	err = d.load(ctx, credentialsCollection, key, &cred)
	switch {
	case err == nil:
		acct, err := d.account(ctx, cred.UID)
		if err != nil {
			return nil, false, err
		}
		id, err := d.identityFor(acct)
		return id, false, err
	case !errors.Is(err, db.ErrNotFound):
		return nil, false, err
	}

	uid := uuid.NewString()
	acct := account{
		UID:         uid,
		Email:       strings.ToLower(claims.Email),
		DisplayName: claims.Name,
		PhotoURL:    claims.Picture,
	}
	if err := d.createAccount(ctx, key, credential{UID: uid, Email: acct.Email}, acct); err != nil {
		return nil, false, err
	}

	d.logger.Info("federated account created", zap.String("uid", uid), zap.String("subject", claims.Subject))
	id, err := d.identityFor(acct)
	return id, true, err
}

func (d *localDirectory) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	if uid == "" {
		return ErrNotSignedIn
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	fields := bson.M{}
	if displayName != "" {
		fields["display_name"] = displayName
	}
	if photoURL != "" {
		fields["photo_url"] = photoURL
	}
	if len(fields) == 0 {
		return nil
	}
	return d.store.Update(ctx, accountsCollection, uid, fields)
}

func (d *localDirectory) Verify(ctx context.Context, token string) (*Identity, error) {
	claims, err := d.tokens.parse(token)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	acct, err := d.account(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	return &Identity{
		UID:         acct.UID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		PhotoURL:    acct.PhotoURL,
		Token:       token,
	}, nil
}

func (d *localDirectory) createAccount(ctx context.Context, key string, cred credential, acct account) error {
	if err := d.store.Set(ctx, accountsCollection, acct.UID, toDoc(acct), false); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	if err := d.store.Set(ctx, credentialsCollection, key, toDoc(cred), false); err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (d *localDirectory) account(ctx context.Context, uid string) (account, error) {
	var acct account
	err := d.load(ctx, accountsCollection, uid, &acct)
	return acct, err
}

func (d *localDirectory) load(ctx context.Context, collection, id string, v interface{}) error {
	snap, err := d.store.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	return snap.Decode(v)
}

func (d *localDirectory) identityFor(acct account) (*Identity, error) {
	token, err := d.tokens.issue(acct.UID, acct.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Identity{
		UID:         acct.UID,
		Email:       acct.Email,
		DisplayName: acct.DisplayName,
		PhotoURL:    acct.PhotoURL,
		Token:       token,
	}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func toDoc(v interface{}) bson.M {
	raw, err := bson.Marshal(v)
	if err != nil {
		return bson.M{}
	}
	var doc bson.M
	_ = bson.Unmarshal(raw, &doc)
	return doc
}
