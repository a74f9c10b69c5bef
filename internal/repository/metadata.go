package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// MetadataRepository manages the single-row refresh metadata. LastRefresh is
// replaced wholesale inside each reconciliation cycle's transaction, so it
// never runs ahead of the player rows it describes.
type MetadataRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewMetadataRepository(sqlDB *sql.DB, logger zerolog.Logger) *MetadataRepository {
	return &MetadataRepository{db: sqlDB, logger: logger}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *MetadataRepository) WithTx(tx *sql.Tx) *MetadataRepository {
	return &MetadataRepository{db: tx, logger: r.logger}
}

// LastRefresh returns the timestamp of the most recent committed cycle, or 0
// if no cycle has ever committed.
func (r *MetadataRepository) LastRefresh(ctx context.Context) (int64, error) {
	var ts int64
	err := r.db.QueryRowContext(ctx, "SELECT last_refresh FROM metadata LIMIT 1").Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// Replace swaps the metadata row for the given timestamp.
func (r *MetadataRepository) Replace(ctx context.Context, ts int64) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM metadata"); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "INSERT INTO metadata (last_refresh) VALUES (?)", ts); err != nil {
		return fmt.Errorf("failed to insert metadata: %w", err)
	}
	return nil
}
