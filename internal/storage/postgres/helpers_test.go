// Package postgres provides a PostgreSQL implementation of storage interfaces.
// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all diary rows.
// It is defined in the postgres package so it can reach the unexported db
// field, and exported so the postgres_test package can call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE users, profile_fields, quick_profiles, entries, tags RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate diary tables: %w", err)
	}
	return nil
}
