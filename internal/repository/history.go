package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rr-tracker/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

type VRHistoryRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewVRHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *VRHistoryRepository {
	return &VRHistoryRepository{db: sqlDB, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *VRHistoryRepository) WithTx(tx *sql.Tx) *VRHistoryRepository {
	return &VRHistoryRepository{db: tx, logger: r.logger}
}

// Upsert records one rating sample for (bucket, pid). A second observation in
// the same bucket overwrites the rating instead of adding a row, which is the
// only way history rows are ever rewritten.
func (r *VRHistoryRepository) Upsert(ctx context.Context, bucket int64, pid string, vr int) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate nanoid: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO vr_history (id, timestamp, pid, vr)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(timestamp, pid) DO UPDATE SET vr=excluded.vr`,
		id, bucket, pid, vr,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vr history for %s: %w", pid, err)
	}
	return nil
}

// GetByPID returns the full sample series for a player, oldest first.
func (r *VRHistoryRepository) GetByPID(ctx context.Context, pid string) ([]domain.RatingSample, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT timestamp, vr FROM vr_history WHERE pid = ? ORDER BY timestamp ASC", pid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []domain.RatingSample
	for rows.Next() {
		var s domain.RatingSample
		if err := rows.Scan(&s.Timestamp, &s.VR); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// EarliestSince returns, per pid, the rating of the earliest sample recorded
// at or after cutoff. Players with no sample in the window are absent from
// the result.
func (r *VRHistoryRepository) EarliestSince(ctx context.Context, cutoff int64, pids []string) (map[string]int, error) {
	earliest := make(map[string]int, len(pids))
	if len(pids) == 0 {
		return earliest, nil
	}

	query := fmt.Sprintf(`
		WITH first_samples AS (SELECT pid, MIN(timestamp) AS ts
		                       FROM vr_history
		                       WHERE timestamp >= ?
		                         AND pid IN (%s)
		                       GROUP BY pid)
		SELECT h.pid, h.vr
		FROM vr_history h
		JOIN first_samples f ON h.pid = f.pid AND h.timestamp = f.ts`, placeholders(len(pids)))

	args := make([]any, 0, len(pids)+1)
	args = append(args, cutoff)
	for _, pid := range pids {
		args = append(args, pid)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pid string
		var vr int
		if err := rows.Scan(&pid, &vr); err != nil {
			return nil, err
		}
		earliest[pid] = vr
	}
	return earliest, rows.Err()
}
