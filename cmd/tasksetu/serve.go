package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasksetu-api/activity"
	"tasksetu-api/api"
	"tasksetu-api/config"
	"tasksetu-api/domain"
	"tasksetu-api/storage"
	"tasksetu-api/stream"
)

const (
	streamBuffer    = 64
	shutdownTimeout = 10 * time.Second
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auth, closeAuth, err := newAuth(cfg)
	if err != nil {
		return err
	}
	defer closeAuth()

	hub := stream.NewHub(streamBuffer)
	deps := api.Deps{Auth: auth, Hub: hub, Logger: logger}

	var rc *redis.Client
	if cfg.Redis.ConnectionString != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
		deps.Deduper = api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		deps.Health = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	}

	if cfg.LocalMode {
		mem := storage.NewMemory()
		deps.Service = domain.NewService(nil, mem, mem, activity.Fanout{mem, hub}, logger).WithEditPolicy(api.CanEdit)
		deps.Activity = mem
		logger.Info("running in local mode, state is kept in memory")
	} else {
		store, err := storage.New(cfg.Storage.ConnectionString, cfg.StorageNames())
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		cache := storage.NewCache(store, rc, cfg.Redis.TaskCacheTTL)
		dispatcher := activity.NewDispatcher(store, cfg.DispatcherConfig(), logger)
		defer dispatcher.Close()
		deps.Service = domain.NewService(nil, cache, cache, dispatcher, logger).WithEditPolicy(api.CanEdit)
		deps.Activity = store
		go stream.Listen(ctx, rc, cfg.Redis.ActivityChannel, hub, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Metrics = api.NewMetrics(reg)

	e := newServer(reg, logger)
	api.Register(e, deps)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newServer(reg *prometheus.Registry, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "tasksetu",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/api/tasks/:id/activity/stream"
		},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(api.RequestLogger(logger))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))
	return e
}

func newAuth(cfg *config.Config) (*api.Auth, func(), error) {
	if cfg.Auth.TestMode {
		return api.NewTestAuth([]byte(cfg.Auth.TestSecret)), func() {}, nil
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.WithError(err).Warn("jwks refresh failed")
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(jwks, cfg.Auth.Audience, "https://"+cfg.Auth.Domain+"/"), jwks.EndBackground, nil
}
