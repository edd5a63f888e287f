package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// snapshotSQLite writes a consistent copy of the diary to destPath.
// VACUUM INTO reads through the WAL, so the copy includes committed entries
// that have not been checkpointed yet.
func snapshotSQLite(ctx context.Context, sourcePath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sourcePath))
	if err != nil {
		return fmt.Errorf("failed to open diary: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping diary: %w", err)
	}

	// VACUUM INTO takes a literal, not a bind parameter.
	quoted := "'" + strings.ReplaceAll(destPath, "'", "''") + "'"
	if _, err := db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return fmt.Errorf("failed to snapshot diary: %w", err)
	}
	return nil
}

// verifySnapshot runs PRAGMA integrity_check and makes sure the file holds
// the diary tables.
func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}

	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'entries', 'tags')").Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect snapshot: %w", err)
	}
	if n != 3 {
		return fmt.Errorf("snapshot is not a diary database")
	}
	return nil
}

// restoreSQLite copies a verified snapshot over targetPath.
// Nothing may hold targetPath open while this runs.
func restoreSQLite(ctx context.Context, snapshotPath, targetPath string) error {
	if err := verifySnapshot(ctx, snapshotPath); err != nil {
		return fmt.Errorf("snapshot verification failed: %w", err)
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("failed to create target file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync target file: %w", err)
	}

	// A stale WAL from the replaced diary must not be replayed over the restore.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(targetPath + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", suffix, err)
		}
	}

	return verifySnapshot(ctx, targetPath)
}
