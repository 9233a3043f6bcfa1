package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinicqueue/internal/config"
	"github.com/ehr/clinicqueue/internal/platform/auth"
	"github.com/ehr/clinicqueue/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicqueue",
		Short: "Clinic queue prioritization and consultation-assignment engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(frontdeskCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return logger
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: []byte(cfg.AuthSigningKey)}
}

// newServer builds the echo instance shared by serve and frontdesk: global
// middleware, the error renderer and /health. Routes that need a caller
// identity go on the returned api group.
func newServer(cfg *config.Config, logger zerolog.Logger, health echo.HandlerFunc) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	if health == nil {
		health = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
		}
	}
	e.GET("/health", health)

	api := e.Group("")
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware(jwtConfig(cfg)))
	} else {
		api.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))
	api.Use(middleware.BodyLimit("1M"))
	api.Use(middleware.RequestTimeout(2 * cfg.RequestTimeout))
	api.Use(middleware.Audit(logger))

	return e, api
}

// runUntilSignal serves e on port until SIGINT or SIGTERM, then runs stop
// and shuts the server down.
func runUntilSignal(e *echo.Echo, port string, logger zerolog.Logger, stop func()) error {
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server failed")
		if stop != nil {
			stop()
		}
		return err
	}

	logger.Info().Msg("shutting down server")
	if stop != nil {
		stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
