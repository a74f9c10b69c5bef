package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"rr-tracker/internal/api"
	"rr-tracker/internal/bucket"
	"rr-tracker/internal/constants"
	"rr-tracker/internal/domain"
	"rr-tracker/internal/repository"

	"github.com/rs/zerolog"
)

// AdminService is the trusted write path: bulk import from a static JSON
// dump, and direct flag overrides that intentionally bypass the monotonic
// merge used by reconciliation.
type AdminService struct {
	db      *sql.DB
	players *repository.PlayerRepository
	history *repository.VRHistoryRepository
	meta    *repository.MetadataRepository
	logger  zerolog.Logger
}

func NewAdminService(
	db *sql.DB,
	players *repository.PlayerRepository,
	history *repository.VRHistoryRepository,
	meta *repository.MetadataRepository,
	logger zerolog.Logger,
) *AdminService {
	return &AdminService{db: db, players: players, history: history, meta: meta, logger: logger}
}

// SetFlags applies administrative overrides for banned and/or flagged. Nil
// means leave that flag alone.
func (s *AdminService) SetFlags(ctx context.Context, pid string, banned, flagged *bool) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if flagged != nil {
		if err := s.players.SetFlagged(ctx, pid, *flagged); err != nil {
			return fmt.Errorf("failed to set flagged: %w", err)
		}
	}
	if banned != nil {
		if err := s.players.SetBanned(ctx, pid, *banned); err != nil {
			return fmt.Errorf("failed to set banned: %w", err)
		}
	}
	return nil
}

// importRecord mirrors one entry of the JSON dump. Numeric fields may arrive
// quoted, like the live API's.
type importRecord struct {
	PID         string       `json:"pid"`
	FC          string       `json:"fc"`
	EB          *api.FlexInt `json:"eb"`
	EV          api.FlexInt  `json:"ev"`
	Name        string       `json:"name"`
	Suspend     api.FlexInt  `json:"suspend"`
	LastUpdated api.FlexInt  `json:"lastupdated"`
	OpenHost    string       `json:"openhost"`
	Banned      bool         `json:"banned"`
	Mii         []api.Mii    `json:"mii"`
}

// ImportFromFile loads a JSON dump of players into the store in one
// transaction. The dump's top level maps keys to player records, with an
// optional last_refresh entry.
func (s *AdminService) ImportFromFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	players := s.players.WithTx(tx)
	history := s.history.WithTx(tx)
	meta := s.meta.WithTx(tx)

	if raw, ok := entries["last_refresh"]; ok {
		var ts api.FlexInt
		if err := json.Unmarshal(raw, &ts); err != nil {
			return fmt.Errorf("invalid last_refresh in import file: %w", err)
		}
		if err := meta.Replace(ctx, int64(ts)); err != nil {
			return err
		}
	}

	imported := 0
	for key, raw := range entries {
		if key == "last_refresh" {
			continue
		}
		var rec importRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("invalid import record %s: %w", key, err)
		}

		eb := 0
		if rec.EB != nil {
			eb = int(*rec.EB)
		}
		avatarData, avatarName := "", ""
		if len(rec.Mii) > 0 {
			avatarData = rec.Mii[0].Data
			avatarName = rec.Mii[0].Name
		}

		p := &domain.Player{
			PID:         rec.PID,
			FC:          rec.FC,
			EB:          eb,
			EV:          int(rec.EV),
			Name:        rec.Name,
			AvatarData:  avatarData,
			AvatarName:  avatarName,
			Suspend:     int(rec.Suspend),
			LastUpdated: int64(rec.LastUpdated),
			OpenHost:    rec.OpenHost == "true",
			Banned:      rec.Banned,
		}
		if err := players.ImportUpsert(ctx, p); err != nil {
			return err
		}

		bkt := bucket.Floor(int64(rec.LastUpdated), constants.HistoryBucketMinutes)
		if err := history.Upsert(ctx, bkt, rec.PID, int(rec.EV)); err != nil {
			return err
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}

	s.logger.Info().Int("players", imported).Str("path", path).Msg("bulk import committed")
	return nil
}
