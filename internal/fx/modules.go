package fx

import (
	"context"
	"time"

	"rr-tracker/internal/api"
	"rr-tracker/internal/ban"
	"rr-tracker/internal/config"
	"rr-tracker/internal/constants"
	"rr-tracker/internal/database"
	"rr-tracker/internal/logger"
	"rr-tracker/internal/repository"
	"rr-tracker/internal/server"
	"rr-tracker/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

// ProvideGrace computes the ban grace cutoff once at startup from the
// persisted last refresh. A failed read is treated as a cold start.
func ProvideGrace(meta *repository.MetadataRepository, log zerolog.Logger) ban.Grace {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()

	now := time.Now().UTC().UnixMilli()
	lastRefresh, err := meta.LastRefresh(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not read last refresh, assuming cold start")
		lastRefresh = 0
	}

	grace := ban.ComputeGrace(lastRefresh, now)
	if int64(grace) <= now {
		log.Info().Msg("no ban grace applied")
	} else {
		log.Info().Time("until", time.UnixMilli(int64(grace)).UTC()).Msg("ban decisions suppressed until grace cutoff")
	}
	return grace
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewVRHistoryRepository),
	fx.Provide(repository.NewMetadataRepository),
	// api client
	fx.Provide(api.NewClient),
	fx.Provide(func(c *api.Client) service.SnapshotSource { return c }),
	fx.Provide(func(c *api.Client) service.AvatarRenderer { return c }),
	// svc
	fx.Provide(ProvideGrace),
	fx.Provide(service.NewReconcileService),
	fx.Provide(service.NewQueryService),
	fx.Provide(service.NewAdminService),
	// server
	fx.Provide(server.New),
)
