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

	"github.com/ehr/fhirindex/internal/domain/terminology"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/middleware"
	"github.com/ehr/fhirindex/internal/searchindex"
)

const requestTimeout = 30 * time.Second

func runServer() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	n, err := a.registry.Warm()
	if err != nil {
		logger.Error().Err(err).Int("classified", n).Msg("search parameter classification failed")
		return err
	}
	logger.Info().Int("classified", n).Msg("classified search parameters")

	e := newEcho(a)

	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.MetricsMiddleware())
	// reindex runs for as long as the tables are large
	e.Use(middleware.RequestTimeout(requestTimeout, func(c echo.Context) bool {
		return strings.HasSuffix(c.Path(), "/reindex")
	}))

	e.GET("/health", db.HealthHandler(a.pool))
	e.GET("/metrics", a.metrics.PrometheusHandler())

	admin := e.Group("/admin")
	searchindex.NewHandler(a.svc).RegisterRoutes(admin)

	fhirGroup := e.Group("/fhir")
	terminology.NewHandler(terminology.NewExpander(a.pool)).RegisterRoutes(fhirGroup)

	return e
}
