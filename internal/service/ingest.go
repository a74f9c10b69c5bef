package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rr-tracker/internal/api"
	"rr-tracker/internal/ban"
	"rr-tracker/internal/bucket"
	"rr-tracker/internal/config"
	"rr-tracker/internal/constants"
	"rr-tracker/internal/domain"
	"rr-tracker/internal/repository"

	"github.com/rs/zerolog"
)

// SnapshotSource provides one poll's worth of room data.
type SnapshotSource interface {
	GetGroups(ctx context.Context) ([]api.Room, error)
}

// AvatarRenderer turns raw Mii blobs into rendered avatars, keyed by blob.
type AvatarRenderer interface {
	RenderMiis(ctx context.Context, raws []string) (map[string]string, error)
}

// Rooms outside the public versus categories carry guests and mixed modes
// whose ratings are not comparable.
var validRK = map[string]struct{}{
	"vs_10": {}, "vs_11": {}, "vs_12": {},
	"vs_20": {}, "vs_21": {}, "vs_22": {},
}

// ReconcileService merges upstream snapshots into the store. It is the only
// automatic writer; one Run is one all-or-nothing transaction.
type ReconcileService struct {
	db       *sql.DB
	players  *repository.PlayerRepository
	history  *repository.VRHistoryRepository
	meta     *repository.MetadataRepository
	source   SnapshotSource
	renderer AvatarRenderer
	grace    ban.Grace
	banCfg   ban.Config
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReconcileService(
	db *sql.DB,
	players *repository.PlayerRepository,
	history *repository.VRHistoryRepository,
	meta *repository.MetadataRepository,
	source SnapshotSource,
	renderer AvatarRenderer,
	grace ban.Grace,
	cfg *config.Config,
	logger zerolog.Logger,
) *ReconcileService {
	return &ReconcileService{
		db:       db,
		players:  players,
		history:  history,
		meta:     meta,
		source:   source,
		renderer: renderer,
		grace:    grace,
		banCfg:   ban.Config{NewPlayerCheck: cfg.NewPlayerBanCheck, DeltaCheck: cfg.VRBanCheck},
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one reconciliation cycle. A snapshot fetch failure aborts
// before any transaction begins; a render failure degrades to keeping cached
// avatars; any persistence failure rolls the whole cycle back.
func (s *ReconcileService) Run(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	rooms, err := s.source.GetGroups(fetchCtx)
	if err != nil {
		s.logger.Error().Err(err).Msg("snapshot fetch failed")
		return fmt.Errorf("failed to fetch rooms: %w", err)
	}
	snapshot := mergeRooms(rooms)
	s.logger.Debug().Int("rooms", len(rooms)).Int("players", len(snapshot)).Msg("snapshot merged")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	players := s.players.WithTx(tx)
	history := s.history.WithTx(tx)
	meta := s.meta.WithTx(tx)

	pids := make([]string, 0, len(snapshot))
	for pid := range snapshot {
		pids = append(pids, pid)
	}
	cached, err := players.GetCachedBatch(ctx, pids)
	if err != nil {
		return fmt.Errorf("failed to load cached players: %w", err)
	}

	rawByPID := make(map[string]string)
	var toRender []string
	for pid, p := range snapshot {
		if len(p.Mii) == 0 || p.Mii[0].Data == "" {
			continue
		}
		raw := p.Mii[0].Data
		rawByPID[pid] = raw
		if prev, ok := cached[pid]; !ok || prev.RawAvatarData != raw {
			toRender = append(toRender, raw)
		}
	}

	rendered := map[string]string{}
	if len(toRender) > 0 {
		renderCtx, cancelRender := context.WithTimeout(ctx, constants.ExternalAPITimeout)
		out, err := s.renderer.RenderMiis(renderCtx, toRender)
		cancelRender()
		if err != nil {
			s.logger.Error().Err(err).Int("count", len(toRender)).Msg("mii render failed, keeping cached avatars")
		} else {
			rendered = out
		}
	}

	now := s.now().UTC().UnixMilli()
	bkt := bucket.Floor(now, constants.HistoryBucketMinutes)

	upserted := 0
	for pid, in := range snapshot {
		ev := int(in.EV)
		if ev == 0 {
			// invalid sample, leave the row and history untouched
			continue
		}

		var prev *domain.CachedPlayer
		if c, ok := cached[pid]; ok {
			prev = &c
		}

		var prevBan *ban.Previous
		flagged := false
		if prev != nil {
			prevBan = &ban.Previous{EV: prev.EV, Banned: prev.Banned, LastUpdated: prev.LastUpdated}
			flagged = prev.Flagged
		}
		banned := ban.Evaluate(prevBan, ev, now, s.grace, s.banCfg)

		var rawToStore, avatarData string
		if prev != nil {
			rawToStore = prev.RawAvatarData
			avatarData = prev.AvatarData
		}
		if raw, ok := rawByPID[pid]; ok {
			rawToStore = raw
			if prev != nil && prev.RawAvatarData == raw {
				// unchanged blob, reuse the cached render
				avatarData = prev.AvatarData
			} else if out, ok := rendered[raw]; ok {
				avatarData = out
			}
		}
		avatarName := ""
		if len(in.Mii) > 0 {
			avatarName = in.Mii[0].Name
		}

		eb := 5000
		if in.EB != nil {
			eb = int(*in.EB)
		}

		p := &domain.Player{
			PID:           pid,
			FC:            in.FC,
			EB:            eb,
			EV:            ev,
			Name:          in.Name,
			RawAvatarData: rawToStore,
			AvatarData:    avatarData,
			AvatarName:    avatarName,
			Suspend:       int(in.Suspend),
			LastUpdated:   now,
			OpenHost:      in.OpenHost == "true",
			Banned:        banned,
			Flagged:       flagged,
		}
		if err := players.Upsert(ctx, p); err != nil {
			return err
		}
		if err := history.Upsert(ctx, bkt, pid, ev); err != nil {
			return err
		}
		upserted++
	}

	if err := meta.Replace(ctx, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cycle: %w", err)
	}

	s.logger.Info().Int("players", upserted).Int64("last_refresh", now).Msg("reconcile cycle committed")
	return nil
}

// mergeRooms builds the cycle's snapshot from accepted rooms, keyed by pid.
// Later rooms overwrite earlier ones for the same pid.
func mergeRooms(rooms []api.Room) map[string]api.RoomPlayer {
	players := make(map[string]api.RoomPlayer)
	for _, room := range rooms {
		if room.Type != "anybody" {
			continue
		}
		if _, ok := validRK[room.RK]; !ok {
			continue
		}
		for _, p := range room.Players {
			if p.PID == "" {
				continue
			}
			players[p.PID] = p
		}
	}
	return players
}
