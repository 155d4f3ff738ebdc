package configuration

import (
	"context"
	"fmt"
	"time"

	"Parley/internal/db"
	"Parley/internal/eventlog"
	"Parley/internal/handler"
	"Parley/internal/hub"
	"Parley/internal/identity"
	"Parley/internal/media"
	"Parley/internal/metrics"
	"Parley/internal/repo"
	"Parley/internal/service"

	"go.uber.org/zap"
)

type Container struct {
	AuthHandler    handler.AuthHandler
	ChatHandler    handler.ChatHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Directory      identity.Directory
	Repos          service.Repos
	Uploader       media.Uploader
	Events         eventlog.Publisher
	Metrics        *metrics.Metrics
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	store db.Store
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = level
	}
	return zc.Build()
}

// OpenStore connects the document store backend named in cfg.
func OpenStore(cfg StoreConfig, logger *zap.Logger) (db.Store, error) {
	return db.Open(db.Options{
		Driver: cfg.Driver,
		Mongo:  db.MongoOptions{URI: cfg.Mongo.Uri, Database: cfg.Mongo.Database},
		Redis: db.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		},
		PebblePath: cfg.Pebble.Path,
	}, nil, logger)
}

// NewRepos wires the typed collections over store.
func NewRepos(store db.Store, logger *zap.Logger) service.Repos {
	return service.Repos{
		Users:   repo.NewUserRepository(store, logger),
		Members: repo.NewMembershipRepository(store, logger),
		Chats:   repo.NewChatRepository(store, logger),
		Typing:  repo.NewTypingRepository(store, logger),
	}
}

func NewDirectory(store db.Store, cfg AuthConfig, logger *zap.Logger) identity.Directory {
	return identity.NewLocalDirectory(store, identity.Config{
		JWTSecret:       cfg.JWTSecret,
		FederatedSecret: cfg.FederatedSecret,
		TokenTTL:        cfg.TokenTTL.Duration(),
	}, logger.Named("identity"))
}

func NewUploader(cfg MediaConfig, logger *zap.Logger) media.Uploader {
	return media.NewUploader(media.Config{
		BaseURL:      cfg.BaseURL,
		CloudName:    cfg.CloudName,
		UploadPreset: cfg.UploadPreset,
		MaxSize:      cfg.MaxSize.Int64(),
		Timeout:      cfg.Timeout.Duration(),
	}, logger.Named("media"))
}

func NewPublisher(cfg KafkaConfig, logger *zap.Logger) eventlog.Publisher {
	if !cfg.Enabled {
		return eventlog.Nop()
	}
	return eventlog.NewKafkaPublisher(eventlog.Config{Brokers: cfg.Brokers, Topic: cfg.Topic}, logger.Named("eventlog"))
}

func BuildContainer(config *Config) (*Container, error) {
	logger, err := NewLogger(config.Log)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(config.Store, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	logger.Info("document store opened", zap.String("driver", config.Store.Driver))

	repos := NewRepos(store, logger.Named("repo"))
	directory := NewDirectory(store, config.Auth, logger)
	uploader := NewUploader(config.Media, logger)
	events := NewPublisher(config.Kafka, logger)
	m := metrics.New()

	h := hub.NewHub(hub.Deps{
		Store:     store,
		Directory: directory,
		Repos:     repos,
		Uploader:  uploader,
		Events:    events,
		Metrics:   m,
		Settings: hub.Settings{
			AllowedOrigins:    config.Server.AllowedOrigins,
			Heartbeat:         config.Presence.Heartbeat,
			ChatFolder:        config.Media.ChatFolder,
			ProfileRetries:    config.Session.ProfileRetries,
			ProfileRetryDelay: config.Session.ProfileRetryDelay.Duration(),
		},
		Logger: logger,
	})

	return &Container{
		AuthHandler:    handler.NewAuthHandler(directory, repos, uploader, config.Media.AvatarFolder, logger),
		ChatHandler:    handler.NewChatHandler(directory, repos, uploader, events, m, config.Media.AvatarFolder, logger),
		MonitorHandler: handler.NewMonitorHandler(h, logger),
		Hub:            h,
		Directory:      directory,
		Repos:          repos,
		Uploader:       uploader,
		Events:         events,
		Metrics:        m,
		Config:         *config,
		Logger:         logger,
		store:          store,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			c.Logger.Warn("event log close failed", zap.Error(err))
		}
	}

	var closeErr error
	if c.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.store.Close(ctx); err != nil {
			closeErr = fmt.Errorf("failed to close document store: %w", err)
		}
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	return closeErr
}
