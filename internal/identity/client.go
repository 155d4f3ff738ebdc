package identity

import (
	"context"
	"sync"
)

// Client is one session's view of the identity provider: it remembers the
// signed-in identity and pushes "identity changed" notifications to its
// listeners, including the transition to no identity on sign-out.
type Client struct {
	dir Directory

	mu        sync.Mutex
	current   *Identity
	listeners map[int]func(*Identity)
	nextID    int
}

func NewClient(dir Directory) *Client {
	return &Client{
		dir:       dir,
		listeners: make(map[int]func(*Identity)),
	}
}

// OnChange registers fn and returns a function that removes it. fn is
// called with the current identity straight away.
func (c *Client) OnChange(fn func(*Identity)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	current := c.current
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) Current() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Client) CreateWithEmailPassword(ctx context.Context, email, password string) (*Identity, error) {
	id, err := c.dir.CreateWithEmailPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.set(id)
	return id, nil
}

func (c *Client) SignInWithEmailPassword(ctx context.Context, email, password string) (*Identity, error) {
	id, err := c.dir.SignInWithEmailPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.set(id)
	return id, nil
}

func (c *Client) SignInWithFederated(ctx context.Context, idToken string) (*Identity, bool, error) {
	id, created, err := c.dir.SignInWithFederated(ctx, idToken)
	if err != nil {
		return nil, false, err
	}
	c.set(id)
	return id, created, nil
}

// Restore resumes a session from a previously issued token.
func (c *Client) Restore(ctx context.Context, token string) (*Identity, error) {
	id, err := c.dir.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	c.set(id)
	return id, nil
}

func (c *Client) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	current := c.Current()
	if current == nil {
		return ErrNotSignedIn
	}
	if err := c.dir.UpdateProfile(ctx, current.UID, displayName, photoURL); err != nil {
		return err
	}

	updated := *current
	if displayName != "" {
		updated.DisplayName = displayName
	}
	if photoURL != "" {
		updated.PhotoURL = photoURL
	}

	c.mu.Lock()
	c.current = &updated
	c.mu.Unlock()
	return nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.set(nil)
	return nil
}

func (c *Client) set(id *Identity) {
	c.mu.Lock()
	c.current = id
	fns := make([]func(*Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(id)
	}
}
