package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gokatarajesh/selfie-quiz/internal/camera"
	"github.com/gokatarajesh/selfie-quiz/internal/config"
	"github.com/gokatarajesh/selfie-quiz/internal/game"
	"github.com/gokatarajesh/selfie-quiz/internal/imagegen"
	"github.com/gokatarajesh/selfie-quiz/internal/logging"
	"github.com/gokatarajesh/selfie-quiz/internal/question"
	"github.com/gokatarajesh/selfie-quiz/internal/server"
	ws "github.com/gokatarajesh/selfie-quiz/pkg/http/ws"
)

// Application aggregates shared infrastructure (sessions, cache, HTTP server).
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	redis    *redis.Client
	http     *http.Server
	sessions *game.Manager
}

// New bootstraps logger, question bank, optional Redis mirror, image
// generator, session manager and HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	bank := question.Default()
	if path := cfg.Game.QuestionBankPath; path != "" {
		loaded, err := question.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load question bank: %w", err)
		}
		bank = loaded
		logger.Info().Str("path", path).Int("questions", bank.Len()).Msg("question bank loaded")
	}

	var (
		redisClient *redis.Client
		store       game.SnapshotStore
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		store = game.NewRedisSnapshotStore(redisClient, cfg.Redis.SnapshotTTL, logger)
	} else {
		logger.Warn().Msg("REDIS_ADDR not set; session snapshots are not mirrored")
	}

	if cfg.Generator.APIKey == "" {
		logger.Warn().Msg("IMAGEGEN_API_KEY not set; requests are sent without credentials")
	}
	generator := imagegen.NewClient(imagegen.Config{
		URL:     cfg.Generator.URL,
		APIKey:  cfg.Generator.APIKey,
		Timeout: cfg.Generator.HTTPTimeout,
	}, nil, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := game.NewMetrics(registry)

	wsHub := ws.NewHub(logger)
	sessions := game.NewManager(game.ManagerOptions{
		Bank: bank,
		Session: game.Options{
			AutoAdvanceDelay: cfg.Game.AutoAdvanceDelay,
			GenerationWait:   cfg.Game.GenerationWait,
			FallbackImageURL: cfg.Game.FallbackImageURL,
		},
		Camera: camera.Options{
			Constraints: camera.Constraints{
				FacingMode:  "user",
				IdealWidth:  cfg.Camera.IdealWidth,
				IdealHeight: cfg.Camera.IdealHeight,
			},
			SettleDelay:    cfg.Camera.SettleDelay,
			AcquireTimeout: cfg.Camera.AcquireTimeout,
			JPEGQuality:    cfg.Camera.JPEGQuality,
		},
		Source:    cfg.Camera.Source,
		File:      cfg.Camera.File,
		Generator: generator,
		Store:     store,
		Notifier:  game.NewHubNotifier(wsHub, logger),
		Metrics:   metrics,
		IdleTTL:   cfg.Game.SessionIdleTTL,
		Interval:  cfg.Game.SweepInterval,
	}, logger)

	handler := game.NewHandler(sessions, wsHub, server.NewUpgrader(cfg.CORS), logger)
	apiServer := server.NewHTTPServer(cfg, logger, redisClient, registry, handler.Register)

	return &Application{
		cfg:      cfg,
		logger:   logger,
		redis:    redisClient,
		http:     apiServer,
		sessions: sessions,
	}, nil
}

// Run starts the HTTP server and the idle sweeper and waits for termination
// signals.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.sessions.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("http shutdown error")
		}
		return nil
	})

	err := g.Wait()

	a.sessions.Close()
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.logger.Error().Err(cerr).Msg("redis shutdown error")
		}
	}

	a.logger.Info().Msg("shutdown complete")
	return err
}
