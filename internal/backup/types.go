// Package backup snapshots the SQLite diary with integrity verification and
// tiered retention, and restores a diary from a snapshot.
package backup

import (
	"time"

	"go.uber.org/zap"
)

// FilePrefix names every snapshot file. Retention only ever touches files
// carrying this prefix.
const FilePrefix = "capsule-diary-"

// Config holds backup service configuration.
type Config struct {
	// DBPath is the diary database file to snapshot.
	DBPath string

	// BackupDir is where snapshots are written. It is created if missing.
	BackupDir string

	// Interval between scheduled snapshots (default: 1 hour).
	Interval time.Duration

	// Retention bounds how many snapshots survive at each age tier.
	Retention RetentionPolicy

	// Verify runs an integrity check on every new snapshot.
	Verify bool

	Logger *zap.Logger
}

// RetentionPolicy defines how many snapshots to keep at each tier.
// Snapshots are bucketed by age:
//   - Hourly: younger than a day
//   - Daily: one to seven days
//   - Weekly: seven to thirty days
//   - Monthly: thirty days to a year
//
// Anything older than a year is removed. A zero field takes its default.
type RetentionPolicy struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention is used for zero fields of a RetentionPolicy.
var DefaultRetention = RetentionPolicy{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}

func (p RetentionPolicy) withDefaults() RetentionPolicy {
	if p.Hourly <= 0 {
		p.Hourly = DefaultRetention.Hourly
	}
	if p.Daily <= 0 {
		p.Daily = DefaultRetention.Daily
	}
	if p.Weekly <= 0 {
		p.Weekly = DefaultRetention.Weekly
	}
	if p.Monthly <= 0 {
		p.Monthly = DefaultRetention.Monthly
	}
	return p
}

// Info describes one snapshot on disk.
type Info struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

// Result describes a completed snapshot.
type Result struct {
	Path     string        `json:"path"`
	Duration time.Duration `json:"duration"`
	Size     int64         `json:"size"`
	Verified bool          `json:"verified"`
}

// HealthStatus summarises the backup directory.
type HealthStatus struct {
	Status        string    `json:"status"` // healthy or warning
	Message       string    `json:"message"`
	LastBackup    time.Time `json:"last_backup"`
	TotalBackups  int       `json:"total_backups"`
	BackupDir     string    `json:"backup_dir"`
	DiskSpaceUsed int64     `json:"disk_space_used"`
}
