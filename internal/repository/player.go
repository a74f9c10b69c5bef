package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rr-tracker/internal/domain"

	"github.com/rs/zerolog"
)

// rankOrder is the single ordering definition behind every leaderboard
// position: non-banned first, higher rating first, most recently active first.
// Both the windowed leaderboard and the single-player position query build on
// it, so the two can never disagree.
const rankOrder = "banned ASC, ev DESC, last_updated DESC"

const playerColumns = "pid, fc, eb, ev, name, raw_avatar_data, avatar_data, avatar_name, suspend, last_updated, open_host, banned, flagged"

type PlayerRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{db: sqlDB, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *PlayerRepository) WithTx(tx *sql.Tx) *PlayerRepository {
	return &PlayerRepository{db: tx, logger: r.logger}
}

func (r *PlayerRepository) GetByPID(ctx context.Context, pid string) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM players WHERE pid = ?", playerColumns), pid)
	return scanPlayer(row)
}

func (r *PlayerRepository) GetByFC(ctx context.Context, fc string) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM players WHERE fc = ?", playerColumns), fc)
	return scanPlayer(row)
}

// Position returns the player's 1-based rank over the whole table.
func (r *PlayerRepository) Position(ctx context.Context, pid string) (int, error) {
	query := fmt.Sprintf(`
		WITH ranked AS (SELECT pid, ROW_NUMBER() OVER (ORDER BY %s) AS position
		                FROM players)
		SELECT position
		FROM ranked
		WHERE pid = ?`, rankOrder)

	var position int
	if err := r.db.QueryRowContext(ctx, query, pid).Scan(&position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return position, nil
}

// Count returns the number of players, filtered by the substring search when
// q is non-empty.
func (r *PlayerRepository) Count(ctx context.Context, q string) (int, error) {
	var count int
	var err error
	if q != "" {
		like := "%" + q + "%"
		err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM players WHERE name LIKE ? OR fc LIKE ?", like, like).Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM players").Scan(&count)
	}
	return count, err
}

// Leaderboard returns a page of players carrying global positions. Positions
// are assigned over the full table before the search filter applies, so a
// filtered page still shows each player's true rank.
func (r *PlayerRepository) Leaderboard(ctx context.Context, q string, limit, offset int) ([]domain.RankedPlayer, error) {
	query := fmt.Sprintf(`
		WITH ranked AS (SELECT %s, ROW_NUMBER() OVER (ORDER BY %s) AS position
		                FROM players)
		SELECT %s, position
		FROM ranked`, playerColumns, rankOrder, playerColumns)

	args := []any{}
	if q != "" {
		like := "%" + q + "%"
		query += "\n\t\tWHERE name LIKE ? OR fc LIKE ?"
		args = append(args, like, like)
	}
	query += "\n\t\tORDER BY position LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []domain.RankedPlayer
	for rows.Next() {
		var p domain.RankedPlayer
		if err := rows.Scan(
			&p.PID, &p.FC, &p.EB, &p.EV, &p.Name,
			&p.RawAvatarData, &p.AvatarData, &p.AvatarName,
			&p.Suspend, &p.LastUpdated, &p.OpenHost, &p.Banned, &p.Flagged,
			&p.Position,
		); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// GetCachedBatch loads the reconciliation-relevant columns for every pid in
// one read.
func (r *PlayerRepository) GetCachedBatch(ctx context.Context, pids []string) (map[string]domain.CachedPlayer, error) {
	cached := make(map[string]domain.CachedPlayer, len(pids))
	if len(pids) == 0 {
		return cached, nil
	}

	query := fmt.Sprintf(`
		SELECT pid, raw_avatar_data, avatar_data, ev, banned, flagged, last_updated
		FROM players
		WHERE pid IN (%s)`, placeholders(len(pids)))
	args := make([]any, len(pids))
	for i, pid := range pids {
		args[i] = pid
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pid string
		var c domain.CachedPlayer
		if err := rows.Scan(&pid, &c.RawAvatarData, &c.AvatarData, &c.EV, &c.Banned, &c.Flagged, &c.LastUpdated); err != nil {
			return nil, err
		}
		cached[pid] = c
	}
	return cached, rows.Err()
}

// Upsert writes one reconciled player row. The banned and flagged columns
// merge monotonically: once true in the store they stay true regardless of
// the incoming value. Only the administrative setters below can lower them.
func (r *PlayerRepository) Upsert(ctx context.Context, p *domain.Player) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players (pid, fc, eb, ev, name, raw_avatar_data, avatar_data, avatar_name,
		                     suspend, last_updated, open_host, banned, flagged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pid) DO UPDATE SET
			fc=excluded.fc, eb=excluded.eb, ev=excluded.ev,
			name=excluded.name, raw_avatar_data=excluded.raw_avatar_data,
			avatar_data=excluded.avatar_data, avatar_name=excluded.avatar_name,
			suspend=excluded.suspend, last_updated=excluded.last_updated,
			open_host=excluded.open_host,
			banned = CASE WHEN players.banned THEN 1 ELSE excluded.banned END,
			flagged = CASE WHEN players.flagged THEN 1 ELSE excluded.flagged END`,
		p.PID, p.FC, p.EB, p.EV, p.Name, p.RawAvatarData, p.AvatarData, p.AvatarName,
		p.Suspend, p.LastUpdated, p.OpenHost, p.Banned, p.Flagged,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert player %s: %w", p.PID, err)
	}
	return nil
}

// ImportUpsert writes one bulk-imported row. Import deliberately differs from
// reconciliation: raw_avatar_data is written empty on insert and preserved on
// conflict (no avatar backfill on import), banned is preserved on conflict,
// and flagged is left untouched on conflict and false on insert.
func (r *PlayerRepository) ImportUpsert(ctx context.Context, p *domain.Player) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players (pid, fc, eb, ev, name, raw_avatar_data, avatar_data, avatar_name,
		                     suspend, last_updated, open_host, banned, flagged)
		VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(pid) DO UPDATE SET
			fc=excluded.fc, eb=excluded.eb, ev=excluded.ev,
			name=excluded.name, raw_avatar_data=players.raw_avatar_data,
			avatar_data=excluded.avatar_data, avatar_name=excluded.avatar_name,
			suspend=excluded.suspend, last_updated=excluded.last_updated,
			open_host=excluded.open_host, banned=players.banned`,
		p.PID, p.FC, p.EB, p.EV, p.Name, p.AvatarData, p.AvatarName,
		p.Suspend, p.LastUpdated, p.OpenHost, p.Banned,
	)
	if err != nil {
		return fmt.Errorf("failed to import player %s: %w", p.PID, err)
	}
	return nil
}

// SetBanned is the administrative override. It bypasses the monotonic merge
// on purpose and must never be called from the reconciliation path.
func (r *PlayerRepository) SetBanned(ctx context.Context, pid string, banned bool) error {
	r.logger.Info().Str("pid", pid).Bool("banned", banned).Msg("admin override: banned")
	_, err := r.db.ExecContext(ctx, "UPDATE players SET banned = ? WHERE pid = ?", banned, pid)
	return err
}

// SetFlagged is the administrative override for the secondary moderation flag.
func (r *PlayerRepository) SetFlagged(ctx context.Context, pid string, flagged bool) error {
	r.logger.Info().Str("pid", pid).Bool("flagged", flagged).Msg("admin override: flagged")
	_, err := r.db.ExecContext(ctx, "UPDATE players SET flagged = ? WHERE pid = ?", flagged, pid)
	return err
}

func scanPlayer(row *sql.Row) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(
		&p.PID, &p.FC, &p.EB, &p.EV, &p.Name,
		&p.RawAvatarData, &p.AvatarData, &p.AvatarName,
		&p.Suspend, &p.LastUpdated, &p.OpenHost, &p.Banned, &p.Flagged,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
