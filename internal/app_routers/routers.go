package approuters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"Parley/internal/configuration"
	"Parley/internal/handler"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartServer serves the gateway until SIGINT/SIGTERM or a listener failure,
// then stops the hub before draining HTTP.
func StartServer(container *configuration.Container) {
	logger := container.Logger
	srv := createAppServer(container)

	failed := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			failed <- fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-failed:
		logger.Error("gateway stopped", zap.Error(err))
	case <-ctx.Done():
		logger.Info("shutdown requested")
	}

	// views first, so sessions record offline while the store is still open
	container.Hub.Stop()

	drain, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(drain); err != nil {
		logger.Warn("http drain incomplete", zap.Error(err))
	}
	logger.Info("gateway stopped cleanly")
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(container *configuration.Container) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(corsConfig(container.Config.Server.AllowedOrigins)))
	if container.Config.Server.RateLimit > 0 {
		router.Use(handler.RateLimit(container.Config.Server.RateLimit, container.Config.Server.RateBurst))
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": "parley"})
	})

	AuthRouters(router, container)
	ChatRouters(router, container)
	MonitorRouters(router, container)

	return router
}

const shutdownTimeout = 30 * time.Second

func createAppServer(container *configuration.Container) *http.Server {
	return &http.Server{
		Addr:              container.Config.Addr(),
		Handler:           NewRouter(container),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute, // avatar uploads
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

// corsConfig allows the configured origins; "*" or an empty list allows any.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	for _, origin := range origins {
		if origin == "*" {
			origins = nil
			break
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
