package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsAndStops(t *testing.T) {
	var runs atomic.Int32
	s := New(5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no cycles after Stop")
}

func TestSchedulerSurvivesJobFailure(t *testing.T) {
	var runs atomic.Int32
	s := New(5*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("cycle failed")
	}, zerolog.Nop())

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond,
		"failures must not stop the loop")
}

func TestSchedulerNeverOverlaps(t *testing.T) {
	var active, maxActive atomic.Int32
	s := New(time.Millisecond, func(ctx context.Context) error {
		cur := active.Add(1)
		if cur > maxActive.Load() {
			maxActive.Store(cur)
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return nil
	}, zerolog.Nop())

	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxActive.Load(), "slow cycles drop ticks instead of overlapping")
}

func TestStopWithoutStart(t *testing.T) {
	s := New(time.Minute, func(ctx context.Context) error { return nil }, zerolog.Nop())
	s.Stop()
}
