package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Parley/internal/db"
	"Parley/internal/model"
	"Parley/internal/repo"
	"Parley/internal/session"

	"github.com/adhocore/gronx"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Visibility is the state of the view the session is rendered in.
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
	VisibilityUnload  Visibility = "unload"
)

// TypingIdle is how long after the last keystroke typing is reset.
const TypingIdle = 500 * time.Millisecond

const presenceWriteTimeout = 5 * time.Second

var (
	ErrInvalidSchedule   = errors.New("invalid heartbeat schedule")
	ErrInvalidVisibility = errors.New("unknown visibility state")
)

// Reporter writes the session's online flag on every visibility transition,
// always with a server-assigned last_seen. An optional cron heartbeat
// re-asserts online while the view is visible.
type Reporter struct {
	sess      *session.Session
	users     repo.UserRepository
	heartbeat string
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	online  bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// held across every presence write so a heartbeat can never land after
	// a newer offline write
	writeMu sync.Mutex
}

func NewReporter(sess *session.Session, users repo.UserRepository, heartbeat string, logger *zap.Logger, opts ...Option) (*Reporter, error) {
	if heartbeat != "" && !gronx.IsValid(heartbeat) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, heartbeat)
	}
	o := buildOptions(opts)
	return &Reporter{
		sess:      sess,
		users:     users,
		heartbeat: heartbeat,
		logger:    logger.With(zap.String("uid", sess.UID())),
		now:       o.now,
	}, nil
}

// Start marks the user online and starts the heartbeat.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	if r.heartbeat != "" {
		hbCtx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.wg.Add(1)
		go r.runHeartbeat(hbCtx)
	}
	r.mu.Unlock()

	return r.Visibility(ctx, VisibilityVisible)
}

// Stop ends the heartbeat and marks the user offline.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	return r.Visibility(ctx, VisibilityUnload)
}

// Online reports the last state written.
func (r *Reporter) Online() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

// Visibility maps visible to online and hidden or unload to offline.
func (r *Reporter) Visibility(ctx context.Context, v Visibility) error {
	var online bool
	switch v {
	case VisibilityVisible:
		online = true
	case VisibilityHidden, VisibilityUnload:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidVisibility, v)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.write(ctx, online); err != nil {
		return err
	}

	r.mu.Lock()
	r.online = online
	r.mu.Unlock()
	return nil
}

func (r *Reporter) write(ctx context.Context, online bool) error {
	uid := r.sess.UID()
	if uid == "" {
		return ErrNoSession
	}

	err := r.users.UpdateFields(ctx, uid, bson.M{
		model.UserFieldOnline:   online,
		model.UserFieldLastSeen: db.ServerTimestamp,
	})
	if err != nil {
		r.logger.Warn("presence write failed", zap.Bool("online", online), zap.Error(err))
		return err
	}
	return nil
}

// runHeartbeat sleeps until the next tick of the schedule and re-asserts
// online if the view is still visible.
func (r *Reporter) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()

	for {
		next, err := gronx.NextTickAfter(r.heartbeat, r.now(), false)
		if err != nil {
			r.logger.Error("heartbeat schedule failed", zap.String("cron", r.heartbeat), zap.Error(err))
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.beat(ctx)
	}
}

// beat re-asserts online unless a visibility change took the view offline.
func (r *Reporter) beat(ctx context.Context) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.Online() || ctx.Err() != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, presenceWriteTimeout)
	defer cancel()
	if err := r.write(wctx, true); err != nil {
		r.logger.Debug("heartbeat skipped", zap.Error(err))
	}
}

// Typer reports typing for one composition: true on the first keystroke
// after idle, false once TypingIdle passes without another keystroke.
type Typer struct {
	typing repo.TypingRepository
	chatID string
	uid    string
	idle   time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	active  bool
	stopped bool
	seq     uint64
	timer   *time.Timer

	// writeMu orders store writes; stored is the flag last written and
	// dirty means a failed write left it unknown. Both guarded by writeMu.
	writeMu sync.Mutex
	stored  bool
	dirty   bool
}

// NewTyper builds a Typer for chatID. idle <= 0 means TypingIdle.
func NewTyper(sess *session.Session, typing repo.TypingRepository, chatID string, idle time.Duration, logger *zap.Logger) *Typer {
	if idle <= 0 {
		idle = TypingIdle
	}
	return &Typer{
		typing: typing,
		chatID: chatID,
		uid:    sess.UID(),
		idle:   idle,
		logger: logger,
	}
}

// ChatID is the conversation the composition belongs to.
func (t *Typer) ChatID() string {
	return t.chatID
}

// Keystroke registers one keystroke and restarts the idle timer.
func (t *Typer) Keystroke(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	start := !t.active
	t.active = true
	t.seq++
	seq := t.seq
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, func() { t.expire(seq) })
	t.mu.Unlock()

	if !start {
		return nil
	}
	return t.flush(ctx)
}

// Typing reports whether typing=true is currently asserted.
func (t *Typer) Typing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *Typer) expire(seq uint64) {
	t.mu.Lock()
	if t.stopped || seq != t.seq || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceWriteTimeout)
	defer cancel()
	_ = t.flush(ctx)
}

// Stop cancels the timer and writes false if typing was asserted.
func (t *Typer) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	return t.flush(ctx)
}

// flush brings the stored flag in line with the current state. Writes are
// serialized and the state is read under the write lock, so the last flush
// to run always writes the latest state even when an earlier write was slow.
func (t *Typer) flush(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	want := t.active
	t.mu.Unlock()

	if !t.dirty && want == t.stored {
		return nil
	}
	if err := t.set(ctx, want); err != nil {
		t.dirty = true
		return err
	}
	t.stored, t.dirty = want, false
	return nil
}

func (t *Typer) set(ctx context.Context, typing bool) error {
	if err := t.typing.SetTyping(ctx, t.chatID, t.uid, typing); err != nil {
		t.logger.Warn("typing write failed",
			zap.String("chat_id", t.chatID),
			zap.Bool("typing", typing),
			zap.Error(err),
		)
		return err
	}
	return nil
}
