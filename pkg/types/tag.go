package types

import (
	"strings"
	"time"
)

// Tag is a memory tag attached to one journal entry. Tags are never mutated,
// only appended, and can be read independently of their entry.
type Tag struct {
	ID        int64     `json:"id"`
	EntryID   string    `json:"entry_id"`   // Parent entry
	Type      string    `json:"type"`       // Open vocabulary: person, emotion, belief, ...
	Value     string    `json:"value"`      // Free text
	CreatedAt time.Time `json:"created_at"` // Mention time, used for recency ranking
}

// TagPair is a (type, value) pair as produced by extraction, before it is
// attached to an entry.
type TagPair struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Key returns the case-insensitive identity used to merge duplicate pairs.
func (p TagPair) Key() string {
	return strings.ToLower(p.Type) + "\x00" + strings.ToLower(p.Value)
}

// TagSet is an ordered collection of distinct tag pairs.
type TagSet []TagPair

// NewTagSet builds a TagSet, merging pairs that share the same Key.
// The first spelling of a duplicated pair wins.
func NewTagSet(pairs ...TagPair) TagSet {
	seen := make(map[string]bool, len(pairs))
	set := make(TagSet, 0, len(pairs))
	for _, p := range pairs {
		k := p.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		set = append(set, p)
	}
	return set
}

// Contains reports whether the set holds a pair equal to p (case-insensitive).
func (s TagSet) Contains(p TagPair) bool {
	k := p.Key()
	for _, q := range s {
		if q.Key() == k {
			return true
		}
	}
	return false
}
