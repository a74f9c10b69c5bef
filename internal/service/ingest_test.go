package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"rr-tracker/internal/api"
	"rr-tracker/internal/ban"
	"rr-tracker/internal/bucket"
	"rr-tracker/internal/config"
	"rr-tracker/internal/constants"
	"rr-tracker/internal/database"
	"rr-tracker/internal/domain"
	"rr-tracker/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rooms []api.Room
	err   error
}

func (s *stubSource) GetGroups(ctx context.Context) ([]api.Room, error) {
	return s.rooms, s.err
}

type stubRenderer struct {
	out   map[string]string
	err   error
	calls int
}

func (s *stubRenderer) RenderMiis(ctx context.Context, raws []string) (map[string]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

type testEnv struct {
	db       *sql.DB
	players  *repository.PlayerRepository
	history  *repository.VRHistoryRepository
	meta     *repository.MetadataRepository
	source   *stubSource
	renderer *stubRenderer
	svc      *ReconcileService
	now      int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		DBPath:            filepath.Join(t.TempDir(), "test.db"),
		NewPlayerBanCheck: true,
		VRBanCheck:        true,
	}
	db, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:       db,
		players:  repository.NewPlayerRepository(db, zerolog.Nop()),
		history:  repository.NewVRHistoryRepository(db, zerolog.Nop()),
		meta:     repository.NewMetadataRepository(db, zerolog.Nop()),
		source:   &stubSource{},
		renderer: &stubRenderer{out: map[string]string{}},
		now:      1_700_000_000_000,
	}
	env.svc = NewReconcileService(db, env.players, env.history, env.meta, env.source, env.renderer, ban.Grace(0), cfg, zerolog.Nop())
	env.svc.now = func() time.Time { return time.UnixMilli(env.now) }
	return env
}

func room(players ...api.RoomPlayer) api.Room {
	r := api.Room{Type: "anybody", RK: "vs_10", Players: map[string]api.RoomPlayer{}}
	for _, p := range players {
		r.Players[p.PID] = p
	}
	return r
}

func rp(pid string, ev int) api.RoomPlayer {
	return api.RoomPlayer{PID: pid, FC: "fc-" + pid, EV: api.FlexInt(ev), Name: "name-" + pid}
}

func TestRunIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.source.rooms = []api.Room{room(rp("p1", 5000), rp("p2", 0))}

	require.NoError(t, env.svc.Run(ctx))
	require.NoError(t, env.svc.Run(ctx))

	p, err := env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5000, p.EV)
	assert.Equal(t, 5000, p.EB, "eb defaults when the snapshot omits it")
	assert.Equal(t, env.now, p.LastUpdated)
	assert.False(t, p.Banned)

	// ev == 0 is an invalid sample: no row, no history
	_, err = env.players.GetByPID(ctx, "p2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	samples, err := env.history.GetByPID(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, samples)

	samples, err = env.history.GetByPID(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, samples, 1, "identical cycles must not duplicate history rows")
	assert.Equal(t, bucket.Floor(env.now, constants.HistoryBucketMinutes), samples[0].Timestamp)
	assert.Equal(t, 5000, samples[0].VR)

	lastRefresh, err := env.meta.LastRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.now, lastRefresh)
}

func TestRunMergesAcceptedRoomsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	private := room(rp("private", 5000))
	private.Type = "private"
	battle := room(rp("battle", 5000))
	battle.RK = "bt_10"

	// later room wins for the same pid
	first := room(rp("dup", 5000))
	second := room(rp("dup", 6000), rp("solo", 7000))

	env.source.rooms = []api.Room{private, battle, first, second}
	require.NoError(t, env.svc.Run(ctx))

	for _, pid := range []string{"private", "battle"} {
		_, err := env.players.GetByPID(ctx, pid)
		assert.ErrorIs(t, err, domain.ErrNotFound, "room for %s must be filtered out", pid)
	}

	dup, err := env.players.GetByPID(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, 6000, dup.EV)

	_, err = env.players.GetByPID(ctx, "solo")
	require.NoError(t, err)
}

func TestRunAvatarCacheReuse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := rp("p1", 5000)
	p.Mii = []api.Mii{{Data: "raw-1", Name: "MiiName"}}
	env.source.rooms = []api.Room{room(p)}
	env.renderer.out = map[string]string{"raw-1": "rendered-1"}

	require.NoError(t, env.svc.Run(ctx))
	assert.Equal(t, 1, env.renderer.calls)

	got, err := env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "raw-1", got.RawAvatarData)
	assert.Equal(t, "rendered-1", got.AvatarData)
	assert.Equal(t, "MiiName", got.AvatarName)

	// unchanged raw bytes: no render call, processed avatar untouched
	require.NoError(t, env.svc.Run(ctx))
	assert.Equal(t, 1, env.renderer.calls, "unchanged avatar must not be re-rendered")

	got, err = env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "rendered-1", got.AvatarData)

	// changed raw bytes: rendered again
	p.Mii[0].Data = "raw-2"
	env.source.rooms = []api.Room{room(p)}
	env.renderer.out = map[string]string{"raw-2": "rendered-2"}
	require.NoError(t, env.svc.Run(ctx))
	assert.Equal(t, 2, env.renderer.calls)

	got, err = env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "raw-2", got.RawAvatarData)
	assert.Equal(t, "rendered-2", got.AvatarData)
}

func TestRunRenderFailureKeepsCachedAvatar(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := rp("p1", 5000)
	p.Mii = []api.Mii{{Data: "raw-1"}}
	env.source.rooms = []api.Room{room(p)}
	env.renderer.out = map[string]string{"raw-1": "rendered-1"}
	require.NoError(t, env.svc.Run(ctx))

	p.Mii[0].Data = "raw-2"
	env.source.rooms = []api.Room{room(p)}
	env.renderer.err = errors.New("render api down")
	env.now += time.Minute.Milliseconds()

	require.NoError(t, env.svc.Run(ctx), "render failure must not abort the cycle")

	got, err := env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "raw-2", got.RawAvatarData)
	assert.Equal(t, "rendered-1", got.AvatarData, "failed render keeps the previously cached avatar")

	lastRefresh, err := env.meta.LastRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.now, lastRefresh)
}

func TestRunDeltaBan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.source.rooms = []api.Room{room(rp("p1", 5000))}
	require.NoError(t, env.svc.Run(ctx))

	env.now += time.Hour.Milliseconds()
	env.source.rooms = []api.Room{room(rp("p1", 6200))}
	require.NoError(t, env.svc.Run(ctx))

	got, err := env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.Banned, "a 1200 jump within one hour must trip the delta check")

	// the flag sticks across later clean cycles
	env.now += time.Hour.Milliseconds()
	env.source.rooms = []api.Room{room(rp("p1", 6300))}
	require.NoError(t, env.svc.Run(ctx))

	got, err = env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.Banned)
}

func TestRunStaleRecordSkipsDeltaBan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.source.rooms = []api.Room{room(rp("p1", 5000))}
	require.NoError(t, env.svc.Run(ctx))

	env.now += 49 * time.Hour.Milliseconds()
	env.source.rooms = []api.Room{room(rp("p1", 9000))}
	require.NoError(t, env.svc.Run(ctx))

	got, err := env.players.GetByPID(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, got.Banned, "a jump after 48h of absence is not single-cycle evidence")
}

func TestRunNewPlayerBan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.source.rooms = []api.Room{room(rp("cheater", 20000), rp("honest", 9000))}
	require.NoError(t, env.svc.Run(ctx))

	got, err := env.players.GetByPID(ctx, "cheater")
	require.NoError(t, err)
	assert.True(t, got.Banned)

	got, err = env.players.GetByPID(ctx, "honest")
	require.NoError(t, err)
	assert.False(t, got.Banned)
}

func TestRunGraceSuppressesBans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.svc.grace = ban.Grace(env.now + time.Hour.Milliseconds())

	env.source.rooms = []api.Room{room(rp("cheater", 20000))}
	require.NoError(t, env.svc.Run(ctx))

	got, err := env.players.GetByPID(ctx, "cheater")
	require.NoError(t, err)
	assert.False(t, got.Banned, "no automatic bans inside the grace window")
}

func TestRunSnapshotFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.source.err = errors.New("upstream down")

	require.Error(t, env.svc.Run(ctx))

	lastRefresh, err := env.meta.LastRefresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, lastRefresh, "a failed fetch must not touch the store")
}

func TestRunEmptySnapshotStillCommitsMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.source.rooms = nil

	require.NoError(t, env.svc.Run(ctx))

	lastRefresh, err := env.meta.LastRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, env.now, lastRefresh)
}
