package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/entnt/dental-connect/internal/config"
	"github.com/entnt/dental-connect/internal/domain/access"
	"github.com/entnt/dental-connect/internal/domain/clinic"
	"github.com/entnt/dental-connect/internal/domain/notify"
	"github.com/entnt/dental-connect/internal/domain/session"
	"github.com/entnt/dental-connect/internal/platform/auth"
	"github.com/entnt/dental-connect/internal/platform/blobstore"
	"github.com/entnt/dental-connect/internal/platform/db"
	"github.com/entnt/dental-connect/internal/platform/kv"
	"github.com/entnt/dental-connect/internal/platform/middleware"
	"github.com/entnt/dental-connect/internal/platform/telemetry"
	"github.com/entnt/dental-connect/internal/platform/webhook"
	"github.com/entnt/dental-connect/internal/platform/websocket"
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// app is the wired server. Close releases the backends it opened.
type app struct {
	echo    *echo.Echo
	store   *clinic.Store
	metrics *telemetry.Metrics
	closers []func()
}

// Close runs the registered closers in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openBlob(ctx context.Context, cfg *config.Config, logger zerolog.Logger, a *app) (kv.Blob, error) {
	switch cfg.StoreBackend {
	case "memory":
		return kv.NewMemory(), nil
	case "file":
		return kv.OpenFile(cfg.StorePath, logger)
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		logger.Info().Msg("connected to database")

		blob := kv.NewPostgres(pool)
		if err := blob.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.echo.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
		return blob, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openAttachments(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	if cfg.AttachmentBackend != "s3" {
		return blobstore.NewInMemoryBlobStore(), nil
	}
	client, err := blobstore.NewS3Client(ctx)
	if err != nil {
		return nil, err
	}
	return blobstore.NewS3BlobStore(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

// metricsSink counts alerts by role.
type metricsSink struct {
	metrics *telemetry.Metrics
}

// Send counts a under its role.
func (s metricsSink) Send(_ context.Context, a notify.Alert) error {
	s.metrics.CountAlert(string(a.Role))
	return nil
}

// alertSink sends alerts to the log, the hub and the metrics inline. Kafka
// and the webhook go through a queue drained off the request path.
func alertSink(cfg *config.Config, logger zerolog.Logger, hub *websocket.Hub, metrics *telemetry.Metrics, a *app) (notify.Sink, error) {
	sinks := notify.MultiSink{
		notify.LogSink{Logger: logger.With().Str("component", "alerts").Logger()},
		notify.HubSink{Publisher: hub},
		metricsSink{metrics: metrics},
	}
	var remote notify.MultiSink
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAlertTopic)
		a.closers = append(a.closers, func() {
			if err := k.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing kafka writer")
			}
		})
		remote = append(remote, k)
	}
	if cfg.AlertWebhookURL != "" {
		d, err := webhook.NewDeliverer(cfg.AlertWebhookURL, cfg.AlertWebhookKey)
		if err != nil {
			return nil, err
		}
		remote = append(remote, notify.WebhookSink{Deliverer: d})
	}
	if len(remote) > 0 {
		q := notify.NewAsyncSink(remote, cfg.AlertQueueSize, cfg.AlertTimeout, logger)
		// Registered after the kafka closer so it drains before the writer closes.
		a.closers = append(a.closers, q.Close)
		sinks = append(sinks, q)
	}
	return sinks, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	a := &app{echo: e, metrics: telemetry.NewMetrics()}

	blob, err := openBlob(ctx, cfg, logger, a)
	if err != nil {
		a.Close()
		return nil, err
	}
	store, err := clinic.OpenStore(ctx, blob, logger, clinic.WithWriteObserver(func(k clinic.Kind) {
		a.metrics.CountChange(string(k))
	}))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	files, err := openAttachments(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("attachment storage: %w", err)
	}

	verifier, err := session.NewStaticVerifier(session.DemoAccounts(), bcrypt.DefaultCost)
	if err != nil {
		a.Close()
		return nil, err
	}
	sessions := session.NewManager(blob, verifier, logger)
	tokens := auth.NewJWTIssuer([]byte(cfg.SessionSigningKey))

	hub := websocket.NewHub(logger)
	engine := notify.NewEngine(notify.NewAckStore(blob, notify.AckScope(cfg.NotifyAckScope), logger))
	sink, err := alertSink(cfg, logger, hub, a.metrics, a)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("alert sinks: %w", err)
	}
	alerter := notify.NewAlerter(engine, sink, logger)
	store.OnChange(alerter.IncidentsChanged)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(auth.Authenticate(tokens, sessions))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	session.NewHandler(sessions, tokens, session.NewThemeStore(blob), session.Hooks{
		OnLogin: func(ctx context.Context, sid string, id session.Identity) {
			alerter.Watch(ctx, sid, id, store.Incidents())
		},
		OnLogout: func(_ context.Context, sid string, id session.Identity) {
			alerter.Unwatch(sid, id.Email())
		},
	}).RegisterRoutes(apiV1)
	access.NewHandler().RegisterRoutes(apiV1)
	clinic.NewHandler(clinic.NewService(store), files).RegisterRoutes(apiV1)
	notify.NewHandler(engine, alerter, store).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, notify.WebSocketTopics).RegisterRoutes(apiV1)

	return a, nil
}
