package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const (
	redisTxAttempts = 8
	notifySegment   = ":notify:"
)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// redisStore keeps each document as a BSON blob under its own key. Writers
// use optimistic WATCH/MULTI transactions; every commit publishes on a
// notify channel so watchers in every process re-read the document.
type redisStore struct {
	client *redis.Client
	prefix string
	broker *broker
	clock  Clock
	logger *zap.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenRedisStore connects to redis, verifies the connection and starts the
// change-notification listener.
func OpenRedisStore(opts RedisOptions, clock Clock, logger *zap.Logger) (Store, error) {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Prefix == "" {
		opts.Prefix = "parley"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	listenCtx, stop := context.WithCancel(context.Background())
	s := &redisStore{
		client: rdb,
		prefix: opts.Prefix,
		broker: newBroker(),
		clock:  clock,
		logger: logger,
		cancel: stop,
	}

	s.pubsub = rdb.PSubscribe(listenCtx, s.prefix+notifySegment+"*")
	s.wg.Add(1)
	go s.listen(listenCtx)

	return s, nil
}

func (s *redisStore) docKey(collection, id string) string {
	return s.prefix + ":doc:" + collection + ":" + id
}

func (s *redisStore) idsKey(collection string) string {
	return s.prefix + ":ids:" + collection
}

func (s *redisStore) notifyChannel(topic string) string {
	return s.prefix + notifySegment + topic
}

func (s *redisStore) listen(ctx context.Context) {
	defer s.wg.Done()

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			topic := strings.TrimPrefix(msg.Channel, s.prefix+notifySegment)
			s.broker.publish(topic)
		}
	}
}

func (s *redisStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := validKey(collection, id); err != nil {
		return Snapshot{}, err
	}

	raw, err := s.client.Get(ctx, s.docKey(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{Collection: collection, ID: id, Data: bson.M{}}, nil
	}
	if err != nil {
		return Snapshot{}, classifyRedisError(err)
	}

	doc, err := decodeDoc(raw)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Collection: collection, ID: id, Exists: true, Data: doc}, nil
}

func (s *redisStore) Set(ctx context.Context, collection, id string, data bson.M, merge bool) error {
	return s.mutate(ctx, collection, id, true, func(doc bson.M, exists bool) (bson.M, error) {
		data := resolveServerTimestamps(data, s.clock())
		if merge && exists {
			return mergeDeep(doc, data), nil
		}
		return data, nil
	})
}

func (s *redisStore) Update(ctx context.Context, collection, id string, fields bson.M) error {
	return s.mutate(ctx, collection, id, false, func(doc bson.M, _ bool) (bson.M, error) {
		return applyTopLevel(doc, resolveServerTimestamps(fields, s.clock())), nil
	})
}

func (s *redisStore) ArrayUnion(ctx context.Context, collection, id, field string, values ...interface{}) error {
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

func (s *redisStore) ArrayRemove(ctx context.Context, collection, id, field string, values ...interface{}) error {
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

func (s *redisStore) Query(ctx context.Context, collection string, filter bson.M) ([]Snapshot, error) {
	if collection == "" {
		return nil, ErrInvalidKey
	}

	ids, err := s.client.SMembers(ctx, s.idsKey(collection)).Result()
	if err != nil {
		return nil, classifyRedisError(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classifyRedisError(err)
	}

	var out []Snapshot
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := decodeDoc([]byte(str))
		if err != nil {
			return nil, err
		}
		matched, err := matchFilter(doc, filter)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, Snapshot{Collection: collection, ID: ids[i], Exists: true, Data: doc})
		}
	}
	return out, nil
}

func (s *redisStore) Watch(ctx context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error) {
	read := func(ctx context.Context) (Snapshot, error) {
		return s.Get(ctx, collection, id)
	}
	return watchDocument(s.broker, s.logger, collection, id, read, fn)
}

func (s *redisStore) WatchQuery(ctx context.Context, collection string, filter bson.M, fn func([]Snapshot)) (Unsubscribe, error) {
	read := func(ctx context.Context) ([]Snapshot, error) {
		return s.Query(ctx, collection, filter)
	}
	return watchQuery(s.broker, s.logger, collection, filter, read, fn)
}

func (s *redisStore) Subscriptions() int {
	return s.broker.count()
}

func (s *redisStore) Close(ctx context.Context) error {
	s.cancel()
	s.broker.close()
	if err := s.pubsub.Close(); err != nil {
		s.logger.Warn("redis pubsub close failed", zap.Error(err))
	}
	s.wg.Wait()
	return s.client.Close()
}

// mutate is an optimistic read-modify-write. The transaction is retried when
// another writer touches the key between WATCH and EXEC.
func (s *redisStore) mutate(ctx context.Context, collection, id string, upsert bool, fn func(doc bson.M, exists bool) (bson.M, error)) error {
	if err := validKey(collection, id); err != nil {
		return err
	}

	key := s.docKey(collection, id)
	txf := func(tx *redis.Tx) error {
		doc := bson.M{}
		exists := true

		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			exists = false
		case err != nil:
			return err
		default:
			if doc, err = decodeDoc(raw); err != nil {
				return err
			}
		}

		if !exists && !upsert {
			return ErrNotFound
		}

		next, err := fn(doc, exists)
		if err != nil {
			return err
		}
		encoded, err := encodeDoc(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.SAdd(ctx, s.idsKey(collection), id)
			pipe.Publish(ctx, s.notifyChannel(docTopic(collection, id)), "")
			pipe.Publish(ctx, s.notifyChannel(collectionTopic(collection)), "")
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotAnArray) {
			return err
		}
		return classifyRedisError(err)
	}

	return fmt.Errorf("%s/%s: too many concurrent writers: %w", collection, id, ErrUnavailable)
}

func classifyRedisError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || strings.Contains(err.Error(), "pool timeout") {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
