package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service snapshots the diary on demand or on a schedule.
type Service struct {
	dbPath    string
	backupDir string
	interval  time.Duration
	retention RetentionPolicy
	verify    bool
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	running    bool
	lastBackup time.Time
}

// NewService validates cfg and prepares the backup directory.
func NewService(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if cfg.BackupDir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}

	return &Service{
		dbPath:    cfg.DBPath,
		backupDir: cfg.BackupDir,
		interval:  cfg.Interval,
		retention: cfg.Retention.withDefaults(),
		verify:    cfg.Verify,
		logger:    cfg.Logger.Named("backup"),
		now:       time.Now,
	}, nil
}

// Run takes a snapshot every interval until ctx is cancelled.
// Failed snapshots are logged and the schedule continues.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("backup: service is already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("backup schedule started",
		zap.Duration("interval", s.interval),
		zap.String("dir", s.backupDir))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup schedule stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.BackupNow(ctx); err != nil {
				s.logger.Error("scheduled backup failed", zap.Error(err))
			}
		}
	}
}

// BackupNow snapshots the diary, verifies the snapshot when configured and
// applies the retention policy. A retention failure does not fail the backup.
func (s *Service) BackupNow(ctx context.Context) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("backup: diary not found: %w", err)
	}

	name := FilePrefix + s.now().UTC().Format("20060102-150405.000000") + ".db"
	path := filepath.Join(s.backupDir, name)

	if err := snapshotSQLite(ctx, s.dbPath, path); err != nil {
		return nil, fmt.Errorf("backup: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	result := &Result{Path: path, Size: info.Size()}
	if s.verify {
		if err := verifySnapshot(ctx, path); err != nil {
			_ = os.Remove(path)
			return nil, fmt.Errorf("backup: verification failed: %w", err)
		}
		result.Verified = true
	}
	result.Duration = time.Since(start)

	s.mu.Lock()
	s.lastBackup = s.now()
	s.mu.Unlock()

	removed, err := applyRetention(s.backupDir, s.retention, s.now())
	if err != nil {
		s.logger.Warn("retention policy incomplete", zap.Error(err))
	}

	s.logger.Info("backup completed",
		zap.String("path", result.Path),
		zap.Int64("size", result.Size),
		zap.Bool("verified", result.Verified),
		zap.Duration("duration", result.Duration),
		zap.Int("expired", len(removed)))
	return result, nil
}

// List returns the snapshots on disk, newest first.
func (s *Service) List() ([]Info, error) {
	return listSnapshots(s.backupDir)
}

// Restore replaces the diary with snapshotPath. The diary must not be open.
// If the restore fails the previous diary is put back.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return errors.New("backup: cannot restore while the schedule is running")
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("backup: snapshot not found: %w", err)
	}

	previous := s.dbPath + ".pre-restore"
	havePrevious := false
	if _, err := os.Stat(s.dbPath); err == nil {
		if err := snapshotSQLite(ctx, s.dbPath, previous); err != nil {
			return fmt.Errorf("backup: failed to save current diary: %w", err)
		}
		havePrevious = true
		defer func() { _ = os.Remove(previous) }()
	}

	if err := restoreSQLite(ctx, snapshotPath, s.dbPath); err != nil {
		if !havePrevious {
			return fmt.Errorf("backup: restore failed: %w", err)
		}
		if rbErr := restoreSQLite(ctx, previous, s.dbPath); rbErr != nil {
			return fmt.Errorf("backup: restore failed (%v) and rollback failed: %w", err, rbErr)
		}
		return fmt.Errorf("backup: restore failed, previous diary kept: %w", err)
	}

	s.logger.Info("diary restored", zap.String("from", snapshotPath))
	return nil
}

// Health reports the snapshot count, disk usage and staleness.
func (s *Service) Health() (*HealthStatus, error) {
	s.mu.Lock()
	last := s.lastBackup
	s.mu.Unlock()

	snapshots, err := s.List()
	if err != nil {
		return nil, err
	}
	used, err := diskUsage(s.backupDir)
	if err != nil {
		return nil, err
	}

	h := &HealthStatus{
		Status:        "healthy",
		LastBackup:    last,
		TotalBackups:  len(snapshots),
		BackupDir:     s.backupDir,
		DiskSpaceUsed: used,
	}
	if last.IsZero() && len(snapshots) > 0 {
		last = snapshots[0].Timestamp
	}

	switch age := s.now().Sub(last); {
	case last.IsZero():
		h.Message = "no backups yet"
	case age > 2*s.interval:
		h.Status = "warning"
		h.Message = fmt.Sprintf("backup overdue by %v", (age - s.interval).Round(time.Minute))
	default:
		h.Message = fmt.Sprintf("last backup %v ago", age.Round(time.Minute))
	}
	return h, nil
}
