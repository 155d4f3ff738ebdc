package db

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	DriverMemory = "memory"
	DriverPebble = "pebble"
	DriverRedis  = "redis"
	DriverMongo  = "mongo"
)

type MongoOptions struct {
	URI      string
	Database string
}

type Options struct {
	Driver     string
	Mongo      MongoOptions
	Redis      RedisOptions
	PebblePath string
}

// Open builds the backend named by opts.Driver.
func Open(opts Options, clock Clock, logger *zap.Logger) (Store, error) {
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemoryStore(clock, logger), nil
	case DriverPebble:
		return OpenPebbleStore(opts.PebblePath, clock, logger)
	case DriverRedis:
		return OpenRedisStore(opts.Redis, clock, logger)
	case DriverMongo:
		database, err := OpenConnection(opts.Mongo.URI, opts.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return NewMongoStore(database, clock, logger), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}
