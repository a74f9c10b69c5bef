// Package scheduler drives the reconciliation engine on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs a job on a ticker from a single goroutine. Cycles execute
// sequentially: if a cycle outlives the interval, the missed ticks are
// dropped, so two cycles can never overlap.
type Scheduler struct {
	interval time.Duration
	job      func(ctx context.Context) error
	logger   zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(interval time.Duration, job func(ctx context.Context) error, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		job:      job,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the ticker loop. Job failures are logged and never stop the
// loop; each cycle is independent.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := s.job(ctx); err != nil {
					s.logger.Error().Err(err).Dur("took", time.Since(start)).Msg("scheduled cycle failed")
				} else {
					s.logger.Debug().Dur("took", time.Since(start)).Msg("scheduled cycle finished")
				}
			}
		}
	}()
}

// Stop cancels the running cycle, if any, and waits for the loop to exit.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info().Msg("scheduler stopped")
}
