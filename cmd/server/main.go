package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"rr-tracker/internal/config"
	"rr-tracker/internal/constants"
	fxmodules "rr-tracker/internal/fx"
	"rr-tracker/internal/middleware"
	"rr-tracker/internal/scheduler"
	"rr-tracker/internal/server"
	"rr-tracker/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runScheduler),
		fx.Invoke(runServer),
	).Run()
}

func runScheduler(
	lc fx.Lifecycle,
	reconcile *service.ReconcileService,
	logger zerolog.Logger,
) {
	sched := scheduler.New(constants.FetchInterval, reconcile.Run, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sched.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sched.Stop()
			return nil
		},
	})
}

func runServer(
	lc fx.Lifecycle,
	srv *server.Server,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	handler := middleware.RequestID(logger)(c.Handler(srv.Routes()))

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Host, cfg.ServerPort),
		Handler: handler,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", httpSrv.Addr).Msg("server starting")
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
