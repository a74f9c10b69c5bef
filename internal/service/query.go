package service

import (
	"context"
	"time"

	"rr-tracker/internal/constants"
	"rr-tracker/internal/domain"
	"rr-tracker/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// QueryService serves the read-only endpoints. Reads always observe committed
// state; the reconciliation cycle commits atomically.
type QueryService struct {
	players *repository.PlayerRepository
	history *repository.VRHistoryRepository
	meta    *repository.MetadataRepository
	logger  zerolog.Logger
}

func NewQueryService(
	players *repository.PlayerRepository,
	history *repository.VRHistoryRepository,
	meta *repository.MetadataRepository,
	logger zerolog.Logger,
) *QueryService {
	return &QueryService{players: players, history: history, meta: meta, logger: logger}
}

// GetPlayer looks a player up by pid or, when pid is empty, by fc, and
// attaches the global leaderboard position and last refresh timestamp.
func (s *QueryService) GetPlayer(ctx context.Context, pid, fc string) (*domain.RankedPlayer, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	var p *domain.Player
	var err error
	if pid != "" {
		p, err = s.players.GetByPID(ctx, pid)
	} else {
		p, err = s.players.GetByFC(ctx, fc)
	}
	if err != nil {
		return nil, 0, err
	}

	position, err := s.players.Position(ctx, p.PID)
	if err != nil {
		return nil, 0, err
	}
	lastRefresh, err := s.meta.LastRefresh(ctx)
	if err != nil {
		return nil, 0, err
	}

	return &domain.RankedPlayer{Player: *p, Position: position}, lastRefresh, nil
}

// GetLeaderboard returns the page of players ranked start..end (1-based,
// inclusive), optionally filtered by a substring search over name and fc.
// Each entry carries its global position and 7-day rating delta.
func (s *QueryService) GetLeaderboard(ctx context.Context, start, end int, q string) (*domain.LeaderboardPage, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	limit := end - start + 1
	offset := start - 1

	var (
		page        []domain.RankedPlayer
		total       int
		lastRefresh int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.players.Leaderboard(gctx, q, limit, offset)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.players.Count(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		lastRefresh, err = s.meta.LastRefresh(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(page) > 0 {
		cutoff := time.Now().UTC().UnixMilli() - constants.VRChangeWindow.Milliseconds()
		pids := make([]string, len(page))
		for i, p := range page {
			pids[i] = p.PID
		}
		earliest, err := s.history.EarliestSince(ctx, cutoff, pids)
		if err != nil {
			return nil, err
		}
		for i := range page {
			// no sample in the window reads as 0, not as a true zero change
			if old, ok := earliest[page[i].PID]; ok {
				page[i].VRChange7d = page[i].EV - old
			}
		}
	}

	s.logger.Debug().Int("start", start).Int("end", end).Str("q", q).Int("returned", len(page)).Msg("leaderboard served")
	return &domain.LeaderboardPage{Players: page, TotalCount: total, LastRefresh: lastRefresh}, nil
}

// GetHistory returns the full ordered rating series for a player. Unknown
// pids yield an empty series rather than an error.
func (s *QueryService) GetHistory(ctx context.Context, pid string) ([]domain.RatingSample, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	samples, err := s.history.GetByPID(ctx, pid)
	if err != nil {
		return nil, 0, err
	}
	lastRefresh, err := s.meta.LastRefresh(ctx)
	if err != nil {
		return nil, 0, err
	}
	return samples, lastRefresh, nil
}
