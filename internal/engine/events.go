package engine

import "time"

// EventKind classifies journal events.
type EventKind string

const (
	// KindEntrySaved is emitted after an entry and its reply are persisted.
	KindEntrySaved EventKind = "entry_saved"

	// KindTagsExtracted is emitted after extracted tags are stored.
	KindTagsExtracted EventKind = "tags_extracted"

	// KindExtractionFailed is emitted when extraction produced no usable tags.
	KindExtractionFailed EventKind = "extraction_failed"

	// KindPastSelfReply is emitted once per past-self exchange.
	KindPastSelfReply EventKind = "past_self_reply"

	// KindPhaseChanged is emitted by the API when a session changes phase.
	KindPhaseChanged EventKind = "phase_changed"
)

// Event is a single structured notification about a user's journal.
type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`

	UserID  string `json:"user_id"`
	EntryID string `json:"entry_id,omitempty"`

	// Count is the number of tags for tags_extracted.
	Count int `json:"count,omitempty"`

	// Tags lists the stored tags for tags_extracted.
	Tags []TagPairView `json:"tags,omitempty"`

	// Stage is the failed stage for extraction_failed.
	Stage string `json:"stage,omitempty"`

	// From and To are set for phase_changed.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// TagPairView is the wire form of a tag in events.
type TagPairView struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// EventSink receives journal events. Publish must not block for long.
type EventSink interface {
	Publish(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Publish calls f(e).
func (f EventSinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}

func newEvent(kind EventKind, userID string) Event {
	return Event{Kind: kind, At: time.Now(), UserID: userID}
}

// EventPhaseChanged creates a phase_changed event.
func EventPhaseChanged(userID string, t Transition) Event {
	e := newEvent(KindPhaseChanged, userID)
	e.From = string(t.From)
	e.To = string(t.To)
	return e
}
