package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const watchReadTimeout = 30 * time.Second

// SubscriptionCounter is implemented by backends that can report how many
// live subscriptions they hold.
type SubscriptionCounter interface {
	Subscriptions() int
}

type snapshotReader func(ctx context.Context) (Snapshot, error)

type queryReader func(ctx context.Context) ([]Snapshot, error)

// watchDocument re-reads the document on every notification and hands the
// fresh snapshot to fn. A failed read is logged and skipped; the next
// notification tries again.
func watchDocument(b *broker, logger *zap.Logger, collection, id string, read snapshotReader, fn func(Snapshot)) (Unsubscribe, error) {
	if err := validKey(collection, id); err != nil {
		return nil, err
	}

	emit := func() {
		ctx, cancel := context.WithTimeout(context.Background(), watchReadTimeout)
		defer cancel()

		snap, err := read(ctx)
		if err != nil {
			logger.Warn("watch read failed",
				zap.String("collection", collection),
				zap.String("id", id),
				zap.Error(err),
			)
			return
		}
		fn(snap)
	}

	return b.subscribe(docTopic(collection, id), emit)
}

func watchQuery(b *broker, logger *zap.Logger, collection string, filter bson.M, read queryReader, fn func([]Snapshot)) (Unsubscribe, error) {
	if collection == "" {
		return nil, ErrInvalidKey
	}

	emit := func() {
		ctx, cancel := context.WithTimeout(context.Background(), watchReadTimeout)
		defer cancel()

		snaps, err := read(ctx)
		if err != nil {
			logger.Warn("watch query failed",
				zap.String("collection", collection),
				zap.Any("filter", filter),
				zap.Error(err),
			)
			return
		}
		fn(snaps)
	}

	return b.subscribe(collectionTopic(collection), emit)
}
