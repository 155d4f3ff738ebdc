package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	streamRetryDelay    = time.Second
	maxStreamRetryDelay = 30 * time.Second
)

// mongoStore maps the Store contract onto native mongo operators. Document
// ids are stored as string _id values. Watches are served by one change
// stream per collection that fans out through the in-process broker.
type mongoStore struct {
	db     *mongo.Database
	broker *broker
	clock  Clock
	logger *zap.Logger

	streamsMu sync.Mutex
	streams   map[string]struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func OpenConnection(uri string, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, err
	}

	return client.Database(database), nil
}

// NewMongoStore wraps an open database. Closing the store disconnects the client.
func NewMongoStore(database *mongo.Database, clock Clock, logger *zap.Logger) Store {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &mongoStore{
		db:      database,
		broker:  newBroker(),
		clock:   clock,
		logger:  logger,
		streams: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *mongoStore) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := validKey(collection, id); err != nil {
		return Snapshot{}, err
	}

	var doc bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Snapshot{Collection: collection, ID: id, Data: bson.M{}}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}

	delete(doc, "_id")
	return Snapshot{Collection: collection, ID: id, Exists: true, Data: doc}, nil
}

func (m *mongoStore) Set(ctx context.Context, collection, id string, data bson.M, merge bool) error {
	if err := validKey(collection, id); err != nil {
		return err
	}

	coll := m.db.Collection(collection)
	if !merge {
		doc := resolveServerTimestamps(data, m.clock())
		doc["_id"] = id
		_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
		return err
	}

	set, current := bson.M{}, bson.M{}
	flattenPaths("", data, set, current)

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(current) > 0 {
		update["$currentDate"] = current
	}
	if len(update) == 0 {
		update["$setOnInsert"] = bson.M{"_id": id}
	}

	_, err := coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	return err
}

func (m *mongoStore) Update(ctx context.Context, collection, id string, fields bson.M) error {
	if err := validKey(collection, id); err != nil {
		return err
	}

	set, current := bson.M{}, bson.M{}
	for k, v := range fields {
		if IsServerTimestamp(v) {
			current[k] = true
			continue
		}
		set[k] = v
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(current) > 0 {
		update["$currentDate"] = current
	}
	if len(update) == 0 {
		return nil
	}

	return m.updateExisting(ctx, collection, id, update)
}

func (m *mongoStore) ArrayUnion(ctx context.Context, collection, id, field string, values ...interface{}) error {
	if err := validKey(collection, id); err != nil {
		return err
	}
	update := bson.M{"$addToSet": bson.M{field: bson.M{"$each": values}}}
	return m.updateExisting(ctx, collection, id, update)
}

func (m *mongoStore) ArrayRemove(ctx context.Context, collection, id, field string, values ...interface{}) error {
	if err := validKey(collection, id); err != nil {
		return err
	}
	update := bson.M{"$pull": bson.M{field: bson.M{"$in": values}}}
	return m.updateExisting(ctx, collection, id, update)
}

func (m *mongoStore) updateExisting(ctx context.Context, collection, id string, update bson.M) error {
	res, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *mongoStore) Query(ctx context.Context, collection string, filter bson.M) ([]Snapshot, error) {
	if collection == "" {
		return nil, ErrInvalidKey
	}
	if filter == nil {
		filter = Empty()
	}

	cursor, err := m.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]Snapshot, 0, len(docs))
	for _, doc := range docs {
		id := fmt.Sprint(doc["_id"])
		delete(doc, "_id")
		out = append(out, Snapshot{Collection: collection, ID: id, Exists: true, Data: doc})
	}
	return out, nil
}

func (m *mongoStore) Watch(ctx context.Context, collection, id string, fn func(Snapshot)) (Unsubscribe, error) {
	m.ensureStream(collection)
	read := func(ctx context.Context) (Snapshot, error) {
		return m.Get(ctx, collection, id)
	}
	return watchDocument(m.broker, m.logger, collection, id, read, fn)
}

func (m *mongoStore) WatchQuery(ctx context.Context, collection string, filter bson.M, fn func([]Snapshot)) (Unsubscribe, error) {
	m.ensureStream(collection)
	read := func(ctx context.Context) ([]Snapshot, error) {
		return m.Query(ctx, collection, filter)
	}
	return watchQuery(m.broker, m.logger, collection, filter, read, fn)
}

func (m *mongoStore) Subscriptions() int {
	return m.broker.count()
}

func (m *mongoStore) Close(ctx context.Context) error {
	m.cancel()
	m.broker.close()
	m.wg.Wait()

	if err := m.db.Client().Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close MongoDB connection: %w", err)
	}
	return nil
}

// ensureStream starts the change stream for collection once.
func (m *mongoStore) ensureStream(collection string) {
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()

	if _, ok := m.streams[collection]; ok {
		return
	}
	m.streams[collection] = struct{}{}

	m.wg.Add(1)
	go m.runStream(collection)
}

type changeEvent struct {
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// runStream consumes the collection's change stream and reopens it with
// backoff when it breaks. Change streams need a replica set; on a standalone
// server watches only deliver their initial snapshot.
func (m *mongoStore) runStream(collection string) {
	defer m.wg.Done()

	delay := streamRetryDelay
	for {
		err := m.consumeStream(collection)
		if m.ctx.Err() != nil {
			return
		}

		m.logger.Warn("change stream interrupted, reopening",
			zap.String("collection", collection),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > maxStreamRetryDelay {
			delay = maxStreamRetryDelay
		}
	}
}

func (m *mongoStore) consumeStream(collection string) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := m.db.Collection(collection).Watch(m.ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return err
	}
	defer cs.Close(context.Background())

	for cs.Next(m.ctx) {
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			m.logger.Warn("undecodable change event", zap.String("collection", collection), zap.Error(err))
			continue
		}
		m.broker.publish(docTopic(collection, ev.DocumentKey.ID), collectionTopic(collection))
	}
	return cs.Err()
}

// flattenPaths turns nested maps into dotted $set paths so a merge write only
// touches the leaves it names.
func flattenPaths(prefix string, data bson.M, set, current bson.M) {
	for k, v := range data {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if IsServerTimestamp(v) {
			current[path] = true
			continue
		}
		if nested, ok := asMap(v); ok && len(nested) > 0 {
			flattenPaths(path, nested, set, current)
			continue
		}
		set[path] = v
	}
}
