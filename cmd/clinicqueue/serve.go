package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinicqueue/internal/config"
	"github.com/ehr/clinicqueue/internal/engine"
	"github.com/ehr/clinicqueue/internal/platform/notification"
	"github.com/ehr/clinicqueue/internal/platform/remote"
	"github.com/ehr/clinicqueue/internal/platform/websocket"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the queue engine against the front desk API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateEngine(); err != nil {
				return err
			}
			return runEngine(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

// sessionLog records refused session tokens. The token itself is owned by
// whoever set QUEUE_API_TOKEN.
type sessionLog struct {
	logger zerolog.Logger
	once   sync.Once
}

func (s *sessionLog) OnUnauthorized(err error) {
	s.once.Do(func() {
		s.logger.Error().Err(err).Msg("front desk refused the session token; set a fresh QUEUE_API_TOKEN")
	})
}

func runEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	engine.Register()

	provider := remote.NewClient(cfg.QueueAPIURL, remote.StaticToken(cfg.QueueAPIToken), cfg.RequestTimeout, logger)

	hub := websocket.NewHub(logger)
	notifiers := notification.Fanout{notification.NewLog(logger), hub}
	if cfg.RedisURL != "" {
		rdb, err := notification.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		notifiers = append(notifiers, notification.NewRedisPublisher(rdb, cfg.RedisChannel, logger))
		logger.Info().Str("channel", cfg.RedisChannel).Msg("publishing signals to redis")
	}

	profiles := engine.NewProfileCache(provider, cfg.ProfileConcurrency, cfg.RequestTimeout, logger)
	syncer := engine.NewSynchronizer(provider, profiles, engine.Options{
		RequestTimeout: cfg.RequestTimeout,
		Notifier:       notifiers,
		Session:        &sessionLog{logger: logger},
		Logger:         logger,
	})
	mutator := engine.NewMutator(provider, syncer, cfg.SkipPositions, cfg.RequestTimeout, logger)
	eng := engine.New(syncer, engine.NewTimeTicker(cfg.PollInterval), logger)

	e, api := newServer(cfg, logger, func(c echo.Context) error {
		snap := syncer.Current()
		body := map[string]interface{}{"status": "ok", "version": version}
		if !snap.Ready() {
			body["status"] = "starting"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["cycle"] = snap.Cycle
		body["stale"] = snap.Stale
		return c.JSON(http.StatusOK, body)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))
	engine.NewHandler(syncer, mutator).RegisterRoutes(api)

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	if err := runUntilSignal(e, cfg.Port, logger, eng.Stop); err != nil {
		return err
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
