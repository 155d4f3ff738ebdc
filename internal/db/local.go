package db

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// byteStore is the key/value surface the in-process backends share.
type byteStore interface {
	load(key string) ([]byte, bool, error)
	save(key string, value []byte) error
	scan(prefix string, fn func(key string, value []byte) error) error
	close() error
}

const keySep = "\x00"

func storageKey(collection, id string) string {
	return collection + keySep + id
}

func collectionPrefix(collection string) string {
	return collection + keySep
}

// localStore implements Store on top of a byteStore. Writes are serialized
// by mu, which makes every read-modify-write (merge, array union) atomic with
// respect to other writers in the same process.
type localStore struct {
	mu     sync.Mutex
	kv     byteStore
	broker *broker
	clock  Clock
	logger *zap.Logger
}

func newLocalStore(kv byteStore, clock Clock, logger *zap.Logger) *localStore {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &localStore{
		kv:     kv,
		broker: newBroker(),
		clock:  clock,
		logger: logger,
	}
}

func (s *localStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := validKey(collection, id); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	doc, ok, err := s.loadDoc(collection, id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Collection: collection, ID: id, Exists: ok, Data: doc}, nil
}

func (s *localStore) Set(ctx context.Context, collection, id string, data bson.M, merge bool) error {
	return s.mutate(ctx, collection, id, true, func(doc bson.M, exists bool) (bson.M, error) {
		data = resolveServerTimestamps(data, s.clock())
		if merge && exists {
			return mergeDeep(doc, data), nil
		}
		return data, nil
	})
}

func (s *localStore) Update(ctx context.Context, collection, id string, fields bson.M) error {
	return s.mutate(ctx, collection, id, false, func(doc bson.M, _ bool) (bson.M, error) {
		fields = resolveServerTimestamps(fields, s.clock())
		return applyTopLevel(doc, fields), nil
	})
}

func (s *localStore) ArrayUnion(ctx context.Context, collection, id, field string, values ...interface{}) error {
	normalized, err := normalizeValues(values)
	if err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, false, func(doc bson.M, _ bool) (bson.M, error) {
		arr, err := arrayField(doc, field)
		if err != nil {
			return nil, err
		}
		doc[field] = unionValues(arr, normalized)
		return doc, nil
	})
}

func (s *localStore) ArrayRemove(ctx context.Context, collection, id, field string, values ...interface{}) error {
	normalized, err := normalizeValues(values)
	if err != nil {
		return err
	}
	return s.mutate(ctx, collection, id, false, func(doc bson.M, _ bool) (bson.M, error) {
		arr, err := arrayField(doc, field)
		if err != nil {
			return nil, err
		}
		doc[field] = removeValues(arr, normalized)
		return doc, nil
	})
}

func (s *localStore) Query(ctx context.Context, collection string, filter bson.M) ([]Snapshot, error) {
	if collection == "" {
		return nil, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := collectionPrefix(collection)
	var out []Snapshot
	err := s.kv.scan(prefix, func(key string, value []byte) error {
		doc, err := decodeDoc(value)
		if err != nil {
			return err
		}
		ok, err := matchFilter(doc, filter)
		if err != nil || !ok {
			return err
		}
		out = append(out, Snapshot{
			Collection: collection,
			ID:         strings.TrimPrefix(key, prefix),
			Exists:     true,
			Data:       doc,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *localStore) Watch(ctx context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error) {
	read := func(ctx context.Context) (Snapshot, error) {
		return s.Get(ctx, collection, id)
	}
	return watchDocument(s.broker, s.logger, collection, id, read, fn)
}

func (s *localStore) WatchQuery(ctx context.Context, collection string, filter bson.M, fn func([]Snapshot)) (Unsubscribe, error) {
	read := func(ctx context.Context) ([]Snapshot, error) {
		return s.Query(ctx, collection, filter)
	}
	return watchQuery(s.broker, s.logger, collection, filter, read, fn)
}

func (s *localStore) Subscriptions() int {
	return s.broker.count()
}

func (s *localStore) Close(ctx context.Context) error {
	s.broker.close()
	return s.kv.close()
}

// mutate runs fn against the current document under the write lock, then
// persists the result and notifies watchers. When upsert is false a missing
// document fails with ErrNotFound.
func (s *localStore) mutate(ctx context.Context, collection, id string, upsert bool, fn func(doc bson.M, exists bool) (bson.M, error)) error {
	if err := validKey(collection, id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	doc, exists, err := s.loadDoc(collection, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !exists && !upsert {
		s.mu.Unlock()
		return ErrNotFound
	}

	next, err := fn(doc, exists)
	if err == nil {
		var raw []byte
		raw, err = encodeDoc(next)
		if err == nil {
			err = s.kv.save(storageKey(collection, id), raw)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.broker.publish(docTopic(collection, id), collectionTopic(collection))
	return nil
}

func (s *localStore) loadDoc(collection, id string) (bson.M, bool, error) {
	raw, ok, err := s.kv.load(storageKey(collection, id))
	if err != nil || !ok {
		return bson.M{}, false, err
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}
