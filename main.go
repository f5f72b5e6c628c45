package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creativespaces/mirrify/api"
	"github.com/creativespaces/mirrify/db"
	"github.com/creativespaces/mirrify/logger"
	"github.com/creativespaces/mirrify/models"
	"github.com/creativespaces/mirrify/normalize"
	"github.com/creativespaces/mirrify/service"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
)

// app owns the long-lived components so that they can be shut down in order.
type app struct {
	echo     *echo.Echo
	pool     *service.NormalizePool
	sessions *service.SessionStore
	events   *db.Database
}

func newApp(cfg *service.Config) (*app, error) {
	events, err := db.NewDatabase(cfg.EventsDBPath)
	if err != nil {
		return nil, err
	}

	tokens, err := service.NewTokenSource(cfg.GoogleCredentials, cfg.TryOnTimeout)
	if err != nil {
		_ = events.Close()
		return nil, err
	}

	normalize.SetMaxPixels(cfg.MaxPixels)
	tiers := normalize.DefaultTiers(cfg.CompressionServiceURL, cfg.NativeTimeout, cfg.CompressionTimeout)
	pipeline := normalize.NewPipeline(tiers, normalize.WithPreShrink(cfg.PreShrinkBytes, normalize.NewLocalEncoder()))

	logger.Info().Int("workers", cfg.NormalizeWorkers).Int("queue_size", cfg.NormalizeQueueSize).Msg("initializing normalization worker pool")
	pool := service.NewNormalizePool(pipeline, cfg.NormalizeQueueSize, cfg.NormalizeWorkers)
	sessions := service.NewSessionStore(pool, cfg.SessionTTL, service.SessionPolicy{
		SingleSubject: cfg.SingleSubject,
		MaxGarments:   cfg.MaxGarments,
		Request:       models.DefaultNormalizationRequest(),
	})

	e := echo.New()
	api.Setup(e, cfg)
	api.RegisterRoutes(e, api.Deps{
		Sessions:       sessions,
		Pipeline:       pipeline,
		Native:         normalize.NewNativeEncoder(),
		Compressor:     service.NewTinifyClient(cfg.TinyPNGAPIKey, "", cfg.CompressionTimeout),
		Predictor:      service.NewTryOnClient(cfg.TryOnURL(), tokens, cfg.TryOnTimeout),
		Tokens:         tokens,
		ImageProxy:     service.NewRemoteFetcher(cfg.ProxyImageTimeout, cfg.MaxUploadBytes),
		CSVProxy:       service.NewRemoteFetcher(cfg.ProxyCSVTimeout, cfg.MaxUploadBytes),
		Events:         events,
		NativeTimeout:  cfg.NativeTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	return &app{echo: e, pool: pool, sessions: sessions, events: events}, nil
}

// close stops the session janitor, drains queued normalizations and closes
// the database.
func (a *app) close() {
	a.sessions.Stop()
	a.pool.Stop()
	if err := a.events.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close events database")
	}
}

func main() {
	envErr := godotenv.Load()

	logger.Init(logger.Level(os.Getenv("LOGLEVEL")), logger.Format(os.Getenv("LOG_FORMAT")))
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file loaded")
	}

	cfg, err := service.NewConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Str("level", cfg.LogLevel).Msg("logger initialized")

	a, err := newApp(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.sessions.StartJanitor(ctx, janitorInterval)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting server")
		if err := a.echo.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	a.close()
	logger.Info().Msg("server exited")
}
