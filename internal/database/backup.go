package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lilanga/booking-pal/internal/config"

	"github.com/rs/zerolog"
)

const snapshotPrefix = "booking_pal_"

// SnapshotService periodically copies the live database with VACUUM INTO
// and keeps the newest cfg.Keep copies.
type SnapshotService struct {
	db     *DB
	cfg    config.SnapshotConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewSnapshotService(db *DB, cfg config.SnapshotConfig, logger *zerolog.Logger) *SnapshotService {
	return &SnapshotService{db: db, cfg: cfg, logger: logger, now: time.Now}
}

func (s *SnapshotService) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Database snapshots are disabled")
		return
	}

	s.logger.Info().Dur("interval", s.cfg.Interval).Str("dir", s.cfg.Dir).Msg("Snapshot service started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Snapshot(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled snapshot failed")
				continue
			}
			s.Prune()
		}
	}
}

// Snapshot writes a consistent copy of the database and returns its path.
func (s *SnapshotService) Snapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := snapshotPrefix + s.now().UTC().Format("20060102_150405.000") + ".db"
	target := filepath.Join(s.cfg.Dir, name)

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", target, err)
	}

	s.logger.Info().Str("path", target).Msg("Database snapshot written")
	return target, nil
}

// Prune removes all but the newest cfg.Keep snapshots.
func (s *SnapshotService) Prune() {
	if s.cfg.Keep <= 0 {
		return
	}

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read snapshot directory")
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), snapshotPrefix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.cfg.Keep {
		return
	}

	// timestamps in the name sort lexically
	sort.Strings(names)
	for _, name := range names[:len(names)-s.cfg.Keep] {
		if err := os.Remove(filepath.Join(s.cfg.Dir, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("Failed to delete old snapshot")
		}
	}
}
