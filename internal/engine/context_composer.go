package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/capsule/internal/llm"
	"github.com/scrypster/capsule/internal/onboarding"
	"github.com/scrypster/capsule/pkg/types"
)

// NoEntriesMarker replaces the entry list when an era has no entries.
const NoEntriesMarker = "(no entries in this period)"

// EraOptions bounds a past-self conversation to a point in time.
// A zero Until means no bound.
type EraOptions struct {
	Until time.Time `json:"until"`
	Label string    `json:"label,omitempty"`
}

// Bounded reports whether the era restricts what the past self knows.
func (e EraOptions) Bounded() bool {
	return !e.Until.IsZero()
}

// JournalInput is everything the journaling reply is grounded on.
type JournalInput struct {
	UserID       string
	Profile      types.Profile
	QuickProfile *types.QuickProfile // nil when absent
	Tags         []types.Tag
	History      []types.Message // Session history, oldest first
	Entry        string          // The new entry text
}

// PastSelfInput is everything the past-self reply is grounded on.
type PastSelfInput struct {
	UserID       string
	Profile      types.Profile
	QuickProfile *types.QuickProfile
	Tags         []types.Tag
	Entries      []types.Entry   // Chronological
	History      []types.Message // Past-self history, oldest first
	Message      string
	Era          EraOptions
}

// ContextComposer assembles provider prompts. It never truncates history
// or entries.
type ContextComposer struct {
	questions  onboarding.QuestionSet
	aggregator *KnowledgeAggregator
}

// NewContextComposer creates a composer. A nil aggregator uses the defaults.
func NewContextComposer(questions onboarding.QuestionSet, aggregator *KnowledgeAggregator) *ContextComposer {
	if aggregator == nil {
		aggregator = NewKnowledgeAggregator(DefaultMaxValuesPerType, DefaultMaxPreviewChars)
	}
	return &ContextComposer{questions: questions, aggregator: aggregator}
}

// Aggregator returns the knowledge aggregator used for summaries.
func (c *ContextComposer) Aggregator() *KnowledgeAggregator {
	return c.aggregator
}

// Journal builds the prompt for a journaling reply.
func (c *ContextComposer) Journal(in JournalInput) llm.Prompt {
	var b strings.Builder
	b.WriteString(llm.JournalPersona)
	b.WriteString("\n\n")
	c.writeProfile(&b, in.UserID, in.Profile, in.QuickProfile)
	b.WriteString("\n")
	writeSection(&b, "WHAT YOU REMEMBER ABOUT THEM", c.aggregator.Summarize(in.Tags))

	return llm.Prompt{
		System:  strings.TrimSpace(b.String()),
		History: llm.TurnsFromMessages(in.History),
		Message: in.Entry,
	}
}

// PastSelf builds the prompt for a past-self reply. When the era is
// bounded, entries and tags after Era.Until are left out and the model is
// told it knows nothing past that date.
func (c *ContextComposer) PastSelf(in PastSelfInput) llm.Prompt {
	entries := in.Entries
	tags := in.Tags
	if in.Era.Bounded() {
		entries = FilterEntriesUntil(entries, in.Era.Until)
		tags = FilterTagsUntil(tags, in.Era.Until)
	}

	var b strings.Builder
	b.WriteString(llm.PastSelfPersona)
	b.WriteString("\n\n")
	c.writeProfile(&b, in.UserID, in.Profile, in.QuickProfile)
	b.WriteString("\n")
	writeSection(&b, "MEMORY", c.aggregator.Summarize(tags))
	b.WriteString("\n")
	writeSection(&b, "JOURNAL ENTRIES", renderEntries(entries))
	b.WriteString("\n")
	b.WriteString(llm.GroundingConstraint)
	if in.Era.Bounded() {
		b.WriteString("\n\n")
		b.WriteString(llm.EraConstraint(in.Era.Label, in.Era.Until))
	}

	return llm.Prompt{
		System:  strings.TrimSpace(b.String()),
		History: llm.TurnsFromMessages(in.History),
		Message: in.Message,
	}
}

// writeProfile renders the quick profile and onboarding answers. Answers
// are labelled with their question prompt; keys outside the question set
// follow in key order and internal flags are skipped.
func (c *ContextComposer) writeProfile(b *strings.Builder, userID string, profile types.Profile, qp *types.QuickProfile) {
	b.WriteString("ABOUT THE USER\n")
	fmt.Fprintf(b, "- Name: %s\n", qp.DisplayName(userID))
	if qp != nil {
		fmt.Fprintf(b, "- Occupation: %s\n", qp.Occupation)
		fmt.Fprintf(b, "- Social circle: %s\n", qp.SocialCircle)
		fmt.Fprintf(b, "- Life focus: %s\n", qp.LifeFocus)
	}

	known := make(map[string]bool, len(c.questions))
	for _, q := range c.questions {
		known[q.Key] = true
		if v := profile.Answer(q.Key); v != "" {
			fmt.Fprintf(b, "- %s %s\n", q.Prompt, v)
		}
	}

	extra := make([]string, 0)
	for k := range profile {
		if known[k] || types.IsReservedProfileKey(k) || profile.Answer(k) == "" {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(b, "- %s: %s\n", k, profile.Answer(k))
	}
}

func writeSection(b *strings.Builder, title, body string) {
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
}

func renderEntries(entries []types.Entry) string {
	if len(entries) == 0 {
		return NoEntriesMarker
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("[%s]: %s", e.Day(), e.Content)
	}
	return strings.Join(lines, "\n")
}

// FilterEntriesUntil keeps entries written at or before until.
// A zero until keeps everything.
func FilterEntriesUntil(entries []types.Entry, until time.Time) []types.Entry {
	if until.IsZero() {
		return entries
	}
	out := make([]types.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.CreatedAt.After(until) {
			out = append(out, e)
		}
	}
	return out
}
