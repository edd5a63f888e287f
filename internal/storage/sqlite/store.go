// Package sqlite provides the SQLite implementation of the diary storage
// interfaces. It is the default backend: a single local file, WAL mode, one
// writer connection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/capsule/internal/storage"
	"github.com/scrypster/capsule/pkg/types"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal storage warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for new rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore opens (or creates) the diary database at dsn.
// If the initial open fails because of stale WAL files left by a crashed
// process, the files are removed and the open is retried once.
func NewStore(dsn string, opts ...Option) (*Store, error) {
	s := &Store{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	db, err := openDB(dsn)
	if err == nil {
		s.db = db
		return s, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}
	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath, s.logger)

	db, retryErr := openDB(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	s.logger.Info("recovered from stale WAL files", zap.String("path", dbPath))
	s.db = db
	return s, nil
}

// openDB opens a SQLite database, configures WAL mode, and creates the schema.
func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; a single connection serialises writes and
	// keeps ":memory:" databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// GetDB returns the underlying database connection.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// CreateUser registers a user; an existing user is left untouched.
func (s *Store) CreateUser(ctx context.Context, userID string) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		userID, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: failed to create user: %w", err)
	}
	return nil
}

// UserExists reports whether the user has been created.
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id = ?", userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: failed to check user: %w", err)
	}
	return n > 0, nil
}

// GetProfile returns all profile fields for the user.
func (s *Store) GetProfile(ctx context.Context, userID string) (types.Profile, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM profile_fields WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query profile: %w", err)
	}
	defer rows.Close()

	profile := types.Profile{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan profile field: %w", err)
		}
		profile[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read profile: %w", err)
	}
	return profile, nil
}

// SetProfileField upserts one profile field.
func (s *Store) SetProfileField(ctx context.Context, userID, key, value string) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: profile key is required", storage.ErrInvalidInput)
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profile_fields (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, userID, key, value, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: failed to set profile field %q: %w", key, err)
	}
	return nil
}

// GetQuickProfile returns the quick profile or storage.ErrNotFound.
func (s *Store) GetQuickProfile(ctx context.Context, userID string) (*types.QuickProfile, error) {
	var qp types.QuickProfile
	err := s.db.QueryRowContext(ctx,
		"SELECT alias, occupation, social_circle, life_focus FROM quick_profiles WHERE user_id = ?",
		userID,
	).Scan(&qp.Alias, &qp.Occupation, &qp.SocialCircle, &qp.LifeFocus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get quick profile: %w", err)
	}
	return &qp, nil
}

// SetQuickProfile upserts the quick profile.
func (s *Store) SetQuickProfile(ctx context.Context, userID string, qp types.QuickProfile) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quick_profiles (user_id, alias, occupation, social_circle, life_focus, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			alias = excluded.alias,
			occupation = excluded.occupation,
			social_circle = excluded.social_circle,
			life_focus = excluded.life_focus,
			updated_at = excluded.updated_at
	`, userID, qp.Alias, qp.Occupation, qp.SocialCircle, qp.LifeFocus, s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite: failed to set quick profile: %w", err)
	}
	return nil
}

// SaveEntry appends an entry. The timestamp is clamped so it never precedes
// the user's latest entry.
func (s *Store) SaveEntry(ctx context.Context, userID, content, aiResponse string) (string, error) {
	if err := storage.ValidateUserID(userID); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: entry content is required", storage.ErrInvalidInput)
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(created_at) FROM entries WHERE user_id = ?", userID).Scan(&latest); err != nil {
		return "", fmt.Errorf("sqlite: failed to read latest entry time: %w", err)
	}

	var previous time.Time
	if latest.Valid {
		previous = time.Unix(0, latest.Int64).UTC()
	}
	createdAt := storage.NextEntryTime(s.now().UTC(), previous)

	id := storage.NewEntryID()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO entries (id, user_id, content, ai_response, created_at) VALUES (?, ?, ?, ?, ?)",
		id, userID, content, aiResponse, createdAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("sqlite: failed to insert entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: failed to commit entry: %w", err)
	}
	return id, nil
}

// GetAllEntries returns the user's entries, oldest first.
func (s *Store) GetAllEntries(ctx context.Context, userID string) ([]types.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, content, ai_response, created_at
		FROM entries
		WHERE user_id = ?
		ORDER BY created_at ASC, seq ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := []types.Entry{}
	for rows.Next() {
		var (
			e  types.Entry
			ns int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Content, &e.AIResponse, &ns); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entry: %w", err)
		}
		e.CreatedAt = time.Unix(0, ns).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read entries: %w", err)
	}
	return entries, nil
}

// GetEntryCount returns the number of entries the user has written.
func (s *Store) GetEntryCount(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE user_id = ?", userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: failed to count entries: %w", err)
	}
	return n, nil
}

// SaveTags appends tags for an entry in one transaction.
func (s *Store) SaveTags(ctx context.Context, entryID string, tags []types.TagPair) error {
	if len(tags) == 0 {
		return nil
	}
	for _, t := range tags {
		if err := storage.ValidateTag(t.Type, t.Value); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE id = ?", entryID).Scan(&n); err != nil {
		return fmt.Errorf("sqlite: failed to check entry: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO tags (entry_id, tag_type, tag_value, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare tag insert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC().UnixNano()
	for _, t := range tags {
		if _, err := stmt.ExecContext(ctx, entryID, t.Type, t.Value, now); err != nil {
			return fmt.Errorf("sqlite: failed to insert tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit tags: %w", err)
	}
	return nil
}

// GetAllTags returns every tag belonging to the user's entries, oldest first.
func (s *Store) GetAllTags(ctx context.Context, userID string) ([]types.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.entry_id, t.tag_type, t.tag_value, t.created_at
		FROM tags t
		JOIN entries e ON e.id = t.entry_id
		WHERE e.user_id = ?
		ORDER BY t.created_at ASC, t.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query tags: %w", err)
	}
	defer rows.Close()

	tags := []types.Tag{}
	for rows.Next() {
		var (
			t  types.Tag
			ns int64
		)
		if err := rows.Scan(&t.ID, &t.EntryID, &t.Type, &t.Value, &ns); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan tag: %w", err)
		}
		t.CreatedAt = time.Unix(0, ns).UTC()
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to read tags: %w", err)
	}
	return tags, nil
}

// Close flushes the WAL into the main database file and releases resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint on close failed", zap.Error(err))
	}
	return s.db.Close()
}

func (s *Store) requireUser(ctx context.Context, userID string) error {
	ok, err := s.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user %q", storage.ErrNotFound, userID)
	}
	return nil
}

// Compile-time assertion.
var _ storage.Store = (*Store)(nil)
