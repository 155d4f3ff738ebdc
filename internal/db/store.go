package db

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrUnavailable  = errors.New("document store unavailable")
	ErrInvalidKey   = errors.New("invalid key: collection and id are required")
	ErrStoreClosed  = errors.New("document store closed")
	ErrNotAnArray   = errors.New("field is not an array")
	ErrUnsupportedQ = errors.New("unsupported filter operator")
)

// Unsubscribe tears down a live subscription. It is safe to call more than once.
type Unsubscribe func()

// Snapshot is the state of a single document at one point in time.
type Snapshot struct {
	Collection string
	ID         string
	Exists     bool
	Data       bson.M
}

// Decode copies the snapshot data into v using the bson codec.
func (s Snapshot) Decode(v interface{}) error {
	if !s.Exists {
		return ErrNotFound
	}
	raw, err := bson.Marshal(s.Data)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, v)
}

// Store is the contract every document backend satisfies.
//
// Update merges at top-level-field granularity, so replacing one element of
// a nested array means writing the whole array back. ArrayUnion and
// ArrayRemove compare elements by value.
type Store interface {
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	Set(ctx context.Context, collection, id string, data bson.M, merge bool) error
	Update(ctx context.Context, collection, id string, fields bson.M) error
	ArrayUnion(ctx context.Context, collection, id, field string, values ...interface{}) error
	ArrayRemove(ctx context.Context, collection, id, field string, values ...interface{}) error
	Query(ctx context.Context, collection string, filter bson.M) ([]Snapshot, error)

	// Watch emits the current snapshot, then the latest snapshot after each
	// change, serially, until the returned Unsubscribe is called.
	Watch(ctx context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error)
	WatchQuery(ctx context.Context, collection string, filter bson.M, fn func([]Snapshot)) (Unsubscribe, error)

	Close(ctx context.Context) error
}

type serverTimestamp struct{}

// ServerTimestamp is a placeholder value replaced by the backend's clock at
// write time. It is honoured in top-level and nested map fields, not inside
// arrays.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp placeholder.
func IsServerTimestamp(v interface{}) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// IsRetryable reports whether err is a transient backend failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrUnavailable) {
		return true
	}

	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func validKey(collection, id string) error {
	if collection == "" || id == "" {
		return ErrInvalidKey
	}
	return nil
}

// Clock returns the time used for ServerTimestamp. Backends default to time.Now.
type Clock func() time.Time
