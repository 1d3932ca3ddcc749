package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fieldsync/internal/config"
)

const backupPrefix = "fieldsync_"

// BackupService snapshots the sync store on a schedule. The store is the only
// durable state the engine owns: losing it loses undelivered records and the
// delivery history. Snapshots go through the live connection with VACUUM INTO
// and are pruned by age.
type BackupService struct {
	db       *DB
	interval time.Duration
	dir      string
	keepDays int
	enabled  bool
	logger   zerolog.Logger
}

// NewBackupService wires a backup loop over an open sync store.
func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	interval := 24 * time.Hour
	if cfg.Schedule != "" {
		if d, err := time.ParseDuration(cfg.Schedule); err == nil {
			interval = d
		} else {
			logger.Warn().Err(err).Str("schedule", cfg.Schedule).Msg("invalid backup schedule, using 24h")
		}
	}
	return &BackupService{
		db:       db,
		interval: interval,
		dir:      cfg.StoragePath,
		keepDays: cfg.RetentionDays,
		enabled:  cfg.Enabled,
		logger:   logger.With().Str("component", "backup").Logger(),
	}
}

// Run blocks until ctx is cancelled, snapshotting the store every interval.
// The first snapshot is taken immediately so a fresh deployment is covered
// before a full interval elapses.
func (s *BackupService) Run(ctx context.Context) {
	if !s.enabled {
		s.logger.Info().Msg("backups disabled")
		return
	}
	s.logger.Info().Dur("interval", s.interval).Str("dir", s.dir).Msg("backup service started")

	s.snapshotAndPrune(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("backup service stopped")
			return
		case <-ticker.C:
			s.snapshotAndPrune(ctx)
		}
	}
}

func (s *BackupService) snapshotAndPrune(ctx context.Context) {
	if err := s.Snapshot(ctx); err != nil {
		s.logger.Error().Err(err).Msg("backup failed")
	}
	if removed := s.Prune(); removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("old backups pruned")
	}
}

// Snapshot writes one timestamped copy of the store into the backup
// directory. VACUUM INTO produces a consistent snapshot without blocking
// writers; when it fails a plain file copy is attempted instead.
func (s *BackupService) Snapshot(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + time.Now().UTC().Format("20060102_150405") + ".db"
	path := filepath.Join(s.dir, name)

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", path)); err != nil {
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, copying the store file")
		return s.copyStore(path)
	}

	s.logger.Info().Str("path", path).Msg("backup written")
	return nil
}

// copyStore is the fallback when VACUUM INTO is unavailable. The copy is not
// transactional; a write racing it can corrupt the snapshot.
func (s *BackupService) copyStore(path string) error {
	src, err := os.Open(s.db.Path())
	if err != nil {
		return fmt.Errorf("failed to open store file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy store file: %w", err)
	}
	return nil
}

// Prune removes snapshots older than the retention window and returns how
// many were deleted. Files without the backup prefix are left alone.
func (s *BackupService) Prune() int {
	if s.keepDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read backup directory")
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -s.keepDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to remove old backup")
			continue
		}
		removed++
	}
	return removed
}
