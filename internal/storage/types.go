package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// NewEntryID generates a unique entry ID in the format entry:uuid.
func NewEntryID() string {
	return "entry:" + uuid.New().String()
}

// NextEntryTime returns the creation time for a new entry: now, unless the
// previous entry is later (clock skew), in which case the previous time is reused.
func NextEntryTime(now, previous time.Time) time.Time {
	if previous.After(now) {
		return previous
	}
	return now
}

// ValidateUserID rejects blank user identifiers.
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}
	return nil
}

// ValidateTag rejects tags without a type or value.
func ValidateTag(typ, value string) error {
	if strings.TrimSpace(typ) == "" || strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: tag type and value are required", ErrInvalidInput)
	}
	return nil
}
