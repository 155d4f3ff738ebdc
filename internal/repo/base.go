package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Parley/internal/db"

	"go.uber.org/zap"
)

var (
	ErrMaxRetriesExceeded  = errors.New("maximum retry attempts exceeded")
	ErrInvalidID           = errors.New("invalid id: cannot be empty")
	ErrOperationTimeout    = errors.New("operation timeout exceeded")
	ErrMembershipNotFound  = errors.New("membership row not found")
	ErrMessageOutOfRange   = errors.New("message index out of range")
	ErrConversationMissing = errors.New("conversation not found")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

// Collection names
const (
	UsersCollection     = "users"
	UserChatsCollection = "userChats"
	ChatsCollection     = "chats"
	TypingCollection    = "typingStatus"
)

type base struct {
	store  db.Store
	logger *zap.Logger
}

func newBase(store db.Store, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{store: store, logger: logger}
}

// write runs fn with a write deadline, retrying transient store failures.
func (b *base) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return b.run(ctx, op, defaultWriteTimeout, fn)
}

// read runs fn with a read deadline, retrying transient store failures.
func (b *base) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return b.run(ctx, op, defaultReadTimeout, fn)
}

func (b *base) run(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := b.ensureTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := b.waitForRetry(ctx, attempt); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry on context cancellation or non-retryable errors
		if !db.IsRetryable(err) {
			break
		}

		b.logger.Warn("store operation failed, retrying",
			zap.String("op", op),
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		b.logger.Error("store operation timeout", zap.String("op", op))
		return fmt.Errorf("%s: %w", op, ErrOperationTimeout)
	}
	if db.IsRetryable(lastErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrMaxRetriesExceeded, lastErr)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func (b *base) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func (b *base) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// get reads one document and decodes it into v. A missing document reports
// false with no error.
func (b *base) get(ctx context.Context, collection, id string, v interface{}) (bool, error) {
	if id == "" {
		return false, ErrInvalidID
	}

	var snap db.Snapshot
	err := b.read(ctx, "get "+collection, func(ctx context.Context) error {
		var err error
		snap, err = b.store.Get(ctx, collection, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if !snap.Exists {
		return false, nil
	}
	if err := snap.Decode(v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

// watch subscribes to one document and hands decoded values to fn. Missing
// documents and undecodable payloads arrive as nil.
func watch[T any](b *base, ctx context.Context, collection, id string, fn func(*T)) (db.Unsubscribe, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	return b.store.Watch(ctx, collection, id, func(snap db.Snapshot) {
		if !snap.Exists {
			fn(nil)
			return
		}
		var v T
		if err := snap.Decode(&v); err != nil {
			b.logger.Warn("undecodable document",
				zap.String("collection", collection),
				zap.String("id", id),
				zap.Error(err),
			)
			fn(nil)
			return
		}
		fn(&v)
	})
}
