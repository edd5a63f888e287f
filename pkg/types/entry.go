// Package types defines the core diary types: phases, profiles, entries,
// tags and conversation messages.
package types

import "time"

// Entry is a single journal entry. Entries are append-only and ordered by
// CreatedAt; the AI response may be an error placeholder when generation failed.
type Entry struct {
	ID         string    `json:"id"`          // Unique identifier (format: entry:uuid)
	UserID     string    `json:"user_id"`     // Owning user
	Content    string    `json:"content"`     // Raw entry text as written by the user
	AIResponse string    `json:"ai_response"` // Companion reply stored alongside the entry
	CreatedAt  time.Time `json:"created_at"`  // Never earlier than the previous entry of the same user
}

// Day returns the entry date in YYYY-MM-DD form.
func (e Entry) Day() string {
	return e.CreatedAt.Format("2006-01-02")
}

// DateRange returns the first and last day covered by a chronologically
// ordered entry list. Both are empty when there are no entries.
func DateRange(entries []Entry) (first, last string) {
	if len(entries) == 0 {
		return "", ""
	}
	return entries[0].Day(), entries[len(entries)-1].Day()
}
