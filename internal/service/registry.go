package service

import (
	"context"
	"sync"

	"Parley/internal/db"
	"Parley/internal/model"
	"Parley/internal/repo"

	"go.uber.org/zap"
)

// PeerRegistry holds at most one live profile subscription per user id.
// Each subscription is reference counted and torn down when its count drops
// to zero. The latest snapshot of every held profile is cached, so callers
// rebuilding their view never lose a peer that was already resolved.
type PeerRegistry struct {
	users    repo.UserRepository
	logger   *zap.Logger
	onChange func(uid string, user *model.User)

	mu     sync.Mutex
	peers  map[string]*peerSub
	closed bool
}

type peerSub struct {
	refs  int
	unsub db.Unsubscribe
	user  *model.User
}

// NewPeerRegistry calls onChange from the subscription goroutines whenever a
// held profile emits; a missing profile arrives as nil.
func NewPeerRegistry(users repo.UserRepository, logger *zap.Logger, onChange func(uid string, user *model.User)) *PeerRegistry {
	if onChange == nil {
		onChange = func(string, *model.User) {}
	}
	return &PeerRegistry{
		users:    users,
		logger:   logger,
		onChange: onChange,
		peers:    make(map[string]*peerSub),
	}
}

// Acquire adds one reference to uid, subscribing on the first one.
func (r *PeerRegistry) Acquire(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return db.ErrStoreClosed
	}
	if sub, ok := r.peers[uid]; ok {
		sub.refs++
		return nil
	}

	sub := &peerSub{refs: 1}
	unsub, err := r.users.Watch(ctx, uid, func(u *model.User) {
		r.mu.Lock()
		if r.peers[uid] != sub {
			r.mu.Unlock()
			return
		}
		sub.user = u
		r.mu.Unlock()

		r.onChange(uid, u)
	})
	if err != nil {
		r.logger.Warn("peer subscription failed", zap.String("uid", uid), zap.Error(err))
		return err
	}

	sub.unsub = unsub
	r.peers[uid] = sub
	return nil
}

// Release drops one reference to uid and unsubscribes when none are left.
func (r *PeerRegistry) Release(uid string) {
	r.mu.Lock()
	sub, ok := r.peers[uid]
	if !ok {
		r.mu.Unlock()
		return
	}
	sub.refs--
	if sub.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.peers, uid)
	r.mu.Unlock()

	sub.unsub()
}

// Sync moves the held references to exactly want (uid → reference count),
// acquiring and releasing only the difference.
func (r *PeerRegistry) Sync(ctx context.Context, want map[string]int) {
	r.mu.Lock()
	have := make(map[string]int, len(r.peers))
	for uid, sub := range r.peers {
		have[uid] = sub.refs
	}
	r.mu.Unlock()

	for uid, n := range want {
		for i := have[uid]; i < n; i++ {
			if err := r.Acquire(ctx, uid); err != nil {
				break
			}
		}
	}
	for uid, n := range have {
		for i := want[uid]; i < n; i++ {
			r.Release(uid)
		}
	}
}

// Get returns the cached profile of uid, or nil when it is not held, not yet
// resolved, or missing.
func (r *PeerRegistry) Get(uid string) *model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.peers[uid]; ok {
		return sub.user
	}
	return nil
}

// Snapshot returns the cached profiles of every held uid that has resolved.
func (r *PeerRegistry) Snapshot() map[string]*model.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*model.User, len(r.peers))
	for uid, sub := range r.peers {
		if sub.user != nil {
			out[uid] = sub.user
		}
	}
	return out
}

// Refs reports the reference count held for uid.
func (r *PeerRegistry) Refs(uid string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.peers[uid]; ok {
		return sub.refs
	}
	return 0
}

// Len is the number of live subscriptions.
func (r *PeerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Close releases every subscription. Later Acquire calls fail.
func (r *PeerRegistry) Close() {
	r.mu.Lock()
	subs := r.peers
	r.peers = make(map[string]*peerSub)
	r.closed = true
	r.mu.Unlock()

	for _, sub := range subs {
		sub.unsub()
	}
}
