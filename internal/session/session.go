package session

import (
	"context"
	"sync"
	"time"

	"Parley/internal/identity"
	"Parley/internal/model"
	"Parley/internal/repo"

	"go.uber.org/zap"
)

const (
	DefaultProfileRetries    = 5
	DefaultProfileRetryDelay = 300 * time.Millisecond
)

// Session is the explicit "who is signed in" context handed to every
// component that acts on behalf of the user. Profile is nil when the profile
// document could not be loaded.
type Session struct {
	Identity *identity.Identity
	Profile  *model.User
}

// UID returns the signed-in user id, or "" for a nil session.
func (s *Session) UID() string {
	if s == nil || s.Identity == nil {
		return ""
	}
	return s.Identity.UID
}

// State follows an identity client and resolves the profile document for
// each signed-in identity.
type State struct {
	auth    *identity.Client
	users   repo.UserRepository
	logger  *zap.Logger
	retries int
	delay   time.Duration

	mu        sync.Mutex
	current   *Session
	listeners map[int]func(*Session)
	nextID    int
	cancel    context.CancelFunc
	unsubAuth func()
	wg        sync.WaitGroup
}

type Option func(*State)

// WithProfileRetry sets how often and how far apart the profile document is
// re-read while it has not been provisioned yet.
func WithProfileRetry(retries int, delay time.Duration) Option {
	return func(s *State) {
		if retries > 0 {
			s.retries = retries
		}
		if delay > 0 {
			s.delay = delay
		}
	}
}

func NewState(auth *identity.Client, users repo.UserRepository, logger *zap.Logger, opts ...Option) *State {
	s := &State{
		auth:      auth,
		users:     users,
		logger:    logger,
		retries:   DefaultProfileRetries,
		delay:     DefaultProfileRetryDelay,
		listeners: make(map[int]func(*Session)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins following identity changes.
func (s *State) Start() {
	unsub := s.auth.OnChange(s.identityChanged)
	s.mu.Lock()
	s.unsubAuth = unsub
	s.mu.Unlock()
}

// Stop detaches from the identity client and abandons any profile load in flight.
func (s *State) Stop() {
	s.mu.Lock()
	unsub := s.unsubAuth
	s.unsubAuth = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
}

func (s *State) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// OnChange registers fn for every session transition; nil means signed out.
func (s *State) OnChange(fn func(*Session)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Auth exposes the identity client the state follows.
func (s *State) Auth() *identity.Client {
	return s.auth
}

func (s *State) identityChanged(id *identity.Identity) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	if id == nil {
		wasSignedIn := s.current != nil
		s.current = nil
		s.mu.Unlock()
		if wasSignedIn {
			s.logger.Info("signed out")
			s.notify(nil)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		profile := s.loadProfile(ctx, id.UID)
		if ctx.Err() != nil {
			return
		}

		sess := &Session{Identity: id, Profile: profile}
		s.mu.Lock()
		s.current = sess
		s.mu.Unlock()

		s.logger.Info("signed in", zap.String("uid", id.UID), zap.Bool("profile", profile != nil))
		s.notify(sess)
	}()
}

// loadProfile absorbs the lag between identity creation and profile
// provisioning. Exhausting the retries yields nil, not an error.
func (s *State) loadProfile(ctx context.Context, uid string) *model.User {
	for attempt := 1; attempt <= s.retries; attempt++ {
		user, err := s.users.Get(ctx, uid)
		if err == nil && user != nil {
			return user
		}
		if err != nil {
			s.logger.Warn("profile load failed",
				zap.String("uid", uid),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		if attempt == s.retries {
			break
		}

		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	s.logger.Warn("profile not found, continuing without profile", zap.String("uid", uid), zap.Int("attempts", s.retries))
	return nil
}

func (s *State) notify(sess *Session) {
	s.mu.Lock()
	fns := make([]func(*Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(sess)
	}
}
