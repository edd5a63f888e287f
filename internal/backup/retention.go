package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listSnapshots returns the snapshots in dir, newest first.
func listSnapshots(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, ".db") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // vanished between ReadDir and Info
		}
		snapshots = append(snapshots, Info{
			Path:      filepath.Join(dir, name),
			Timestamp: info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// expiredSnapshots buckets snapshots by age relative to now and returns the
// ones that fall outside the policy. snapshots must be newest first.
func expiredSnapshots(snapshots []Info, policy RetentionPolicy, now time.Time) []string {
	const day = 24 * time.Hour

	tiers := []struct {
		maxAge time.Duration
		keep   int
		seen   int
	}{
		{day, policy.Hourly, 0},
		{7 * day, policy.Daily, 0},
		{30 * day, policy.Weekly, 0},
		{365 * day, policy.Monthly, 0},
	}

	var expired []string
	for _, s := range snapshots {
		age := now.Sub(s.Timestamp)
		kept := false
		for i := range tiers {
			if age < tiers[i].maxAge {
				tiers[i].seen++
				kept = tiers[i].seen <= tiers[i].keep
				break
			}
		}
		if !kept {
			expired = append(expired, s.Path)
		}
	}
	return expired
}

// applyRetention deletes snapshots in dir that the policy no longer keeps.
// It keeps going after a failed delete and reports every failure.
func applyRetention(dir string, policy RetentionPolicy, now time.Time) ([]string, error) {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return nil, err
	}

	var (
		removed []string
		errs    []error
	)
	for _, path := range expiredSnapshots(snapshots, policy.withDefaults(), now) {
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("failed to delete some backups: %w", errors.Join(errs...))
	}
	return removed, nil
}

// diskUsage sums the size of every snapshot in dir.
func diskUsage(dir string) (int64, error) {
	snapshots, err := listSnapshots(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range snapshots {
		total += s.Size
	}
	return total, nil
}
