// Package storage provides composable storage interfaces for the diary.
//
// The storage layer is split into small, focused interfaces (users, profiles,
// entries, tags) that backends implement together as a Store. The core only
// needs simple get/set/list operations; no transactional design is assumed
// beyond append-only inserts for entries and tags.
package storage

import (
	"context"

	"github.com/scrypster/capsule/pkg/types"
)

// UserStore manages user records.
type UserStore interface {
	// CreateUser registers a user. Creating an existing user is a no-op.
	CreateUser(ctx context.Context, userID string) error

	// UserExists reports whether the user has been created.
	UserExists(ctx context.Context, userID string) (bool, error)
}

// ProfileStore manages the key/value profile and the quick profile.
type ProfileStore interface {
	// GetProfile returns all profile fields for the user.
	// A user without fields yields an empty, non-nil Profile.
	GetProfile(ctx context.Context, userID string) (types.Profile, error)

	// SetProfileField writes one profile field (last writer wins).
	SetProfileField(ctx context.Context, userID, key, value string) error

	// GetQuickProfile returns the quick profile.
	// Returns ErrNotFound if the user has not submitted one.
	GetQuickProfile(ctx context.Context, userID string) (*types.QuickProfile, error)

	// SetQuickProfile stores the quick profile (last writer wins).
	SetQuickProfile(ctx context.Context, userID string, qp types.QuickProfile) error
}

// EntryStore manages the append-only journal.
type EntryStore interface {
	// SaveEntry appends an entry and returns its ID. The creation timestamp
	// is never earlier than the user's previous entry.
	SaveEntry(ctx context.Context, userID, content, aiResponse string) (string, error)

	// GetAllEntries returns the user's entries, oldest first.
	GetAllEntries(ctx context.Context, userID string) ([]types.Entry, error)

	// GetEntryCount returns the number of entries the user has written.
	GetEntryCount(ctx context.Context, userID string) (int, error)
}

// TagStore manages memory tags.
type TagStore interface {
	// SaveTags appends tags for an entry. Tags are never deduplicated
	// against other entries. Returns ErrNotFound if the entry doesn't exist.
	SaveTags(ctx context.Context, entryID string, tags []types.TagPair) error

	// GetAllTags returns every tag of every entry owned by the user,
	// oldest first.
	GetAllTags(ctx context.Context, userID string) ([]types.Tag, error)
}

// Store is the full storage collaborator used by the engine.
type Store interface {
	UserStore
	ProfileStore
	EntryStore
	TagStore

	// Close releases any resources held by the store.
	Close() error
}
