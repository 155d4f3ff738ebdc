package service

import (
	"errors"
	"time"

	"Parley/internal/repo"
)

var ErrNoSession = errors.New("no signed-in session")

// Repos bundles the typed collections the services read and write.
type Repos struct {
	Users   repo.UserRepository
	Members repo.MembershipRepository
	Chats   repo.ChatRepository
	Typing  repo.TypingRepository
}

// Option configures a synchronizer or service.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now as the local wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
