package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"Parley/internal/db"
	"Parley/internal/model"
	"Parley/internal/repo"
	"Parley/internal/session"

	"go.uber.org/zap"
)

// RosterSync keeps the signed-in user's ordered conversation list live.
type RosterSync struct {
	sess    *session.Session
	members repo.MembershipRepository
	users   repo.UserRepository
	logger  *zap.Logger
	now     func() time.Time

	emitMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	running   bool
	rows      []model.Membership
	pinned    []string
	peers     *PeerRegistry
	unsubs    []db.Unsubscribe
	entries   []model.RosterEntry
	listeners map[int]func([]model.RosterEntry)
	nextID    int
}

func NewRosterSync(sess *session.Session, members repo.MembershipRepository, users repo.UserRepository, logger *zap.Logger, opts ...Option) *RosterSync {
	o := buildOptions(opts)
	r := &RosterSync{
		sess:      sess,
		members:   members,
		users:     users,
		logger:    logger.With(zap.String("uid", sess.UID())),
		now:       o.now,
		listeners: make(map[int]func([]model.RosterEntry)),
	}
	if sess != nil && sess.Profile != nil {
		r.pinned = sess.Profile.Pinned
	}
	return r
}

// OnChange registers fn for every recomputed roster.
func (r *RosterSync) OnChange(fn func([]model.RosterEntry)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Start subscribes to the membership list and the viewer's own profile.
func (r *RosterSync) Start(ctx context.Context) error {
	uid := r.sess.UID()
	if uid == "" {
		return ErrNoSession
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.gen++
	gen := r.gen
	r.peers = NewPeerRegistry(r.users, r.logger, func(string, *model.User) {
		r.refresh(gen)
	})
	r.mu.Unlock()

	unsubRows, err := r.members.Watch(ctx, uid, func(doc *model.UserChats) {
		r.rowsChanged(ctx, gen, doc)
	})
	if err != nil {
		r.Stop()
		return err
	}
	r.track(gen, unsubRows)

	unsubSelf, err := r.users.Watch(ctx, uid, func(u *model.User) {
		r.mu.Lock()
		if r.gen != gen || !r.running {
			r.mu.Unlock()
			return
		}
		if u != nil {
			r.pinned = u.Pinned
		} else {
			r.pinned = nil
		}
		r.mu.Unlock()
		r.refresh(gen)
	})
	if err != nil {
		r.Stop()
		return err
	}
	r.track(gen, unsubSelf)

	r.logger.Debug("roster started")
	return nil
}

func (r *RosterSync) track(gen uint64, unsub db.Unsubscribe) {
	r.mu.Lock()
	if r.gen != gen || !r.running {
		r.mu.Unlock()
		unsub()
		return
	}
	r.unsubs = append(r.unsubs, unsub)
	r.mu.Unlock()
}

// Stop tears down every subscription, peer profiles included.
func (r *RosterSync) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.gen++
	unsubs := r.unsubs
	r.unsubs = nil
	peers := r.peers
	r.peers = nil
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if peers != nil {
		peers.Close()
	}
	r.logger.Debug("roster stopped")
}

// Entries returns the last computed roster.
func (r *RosterSync) Entries() []model.RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RosterEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Peers reports how many peer profile subscriptions are held.
func (r *RosterSync) Peers() int {
	r.mu.Lock()
	peers := r.peers
	r.mu.Unlock()
	if peers == nil {
		return 0
	}
	return peers.Len()
}

func (r *RosterSync) rowsChanged(ctx context.Context, gen uint64, doc *model.UserChats) {
	var rows []model.Membership
	if doc != nil {
		rows = doc.Chats
	}

	want := make(map[string]int)
	for _, row := range rows {
		if row.ReceiverID != "" {
			want[row.ReceiverID]++
		}
	}

	r.mu.Lock()
	if r.gen != gen || !r.running {
		r.mu.Unlock()
		return
	}
	r.rows = rows
	peers := r.peers
	r.mu.Unlock()

	// Peer snapshots are cached by peer id, so a rewritten row keeps the
	// profile it already had while the new list is reconciled.
	peers.Sync(context.WithoutCancel(ctx), want)
	r.refresh(gen)
}

func (r *RosterSync) refresh(gen uint64) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.gen != gen || !r.running {
		r.mu.Unlock()
		return
	}
	entries := OrderRoster(r.rows, r.pinned, r.sess.UID(), r.peers.Get, r.now())
	r.entries = entries

	fns := make([]func([]model.RosterEntry), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		out := make([]model.RosterEntry, len(entries))
		copy(out, entries)
		fn(out)
	}
}

// OrderRoster joins rows with their peers and orders them: pinned rows first,
// then the rest, each partition by UpdatedAt descending.
func OrderRoster(rows []model.Membership, pinned []string, viewer string, peer func(uid string) *model.User, now time.Time) []model.RosterEntry {
	pinnedSet := make(map[string]struct{}, len(pinned))
	for _, id := range pinned {
		pinnedSet[id] = struct{}{}
	}

	entries := make([]model.RosterEntry, 0, len(rows))
	for _, row := range rows {
		_, isPinned := pinnedSet[row.ChatID]
		entries = append(entries, model.RosterEntry{
			Membership: row,
			Peer:       peer(row.ReceiverID),
			Pinned:     isPinned,
			Unread:     !row.IsSeen && row.ReceiverID != viewer,
			TimeLabel:  RosterTimeLabel(row.UpdatedAt, now),
		})
	}

	top := Filter(entries, func(e model.RosterEntry) bool { return e.Pinned })
	rest := Filter(entries, func(e model.RosterEntry) bool { return !e.Pinned })
	byRecency(top)
	byRecency(rest)

	return append(append(make([]model.RosterEntry, 0, len(entries)), top...), rest...)
}

func byRecency(entries []model.RosterEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].UpdatedAt > entries[j].UpdatedAt
	})
}
