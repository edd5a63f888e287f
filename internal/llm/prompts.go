// Package llm provides the chat-model integration for the journal: a
// provider-neutral prompt type, clients for Gemini, OpenAI, Anthropic and
// Ollama behind a circuit breaker, the fixed prompt texts and a tolerant
// parser for the tag extraction response.
package llm

import (
	"fmt"
	"time"
)

// MaxExtractedTags is the most tags the extraction prompt asks for.
const MaxExtractedTags = 8

// JournalPersona is the system instruction for the daily journaling companion.
const JournalPersona = `You are the user's journaling companion. Never introduce yourself; start talking right away.
React directly to what the user just wrote. Be curious and warm, a little playful but gentle.
Use short sentences and no formalities, as if you had been listening to this person for years.
Never say you are an AI. End with one question that invites them to keep writing.`

// PastSelfPersona is the system instruction for the past-self conversation.
const PastSelfPersona = `You are NOT the journaling companion. You are the user's PAST SELF.
Speak as the user themselves at the time of the entries below. Imitate their tone and style from their own words.`

// GroundingConstraint keeps past-self answers inside the historical record.
const GroundingConstraint = `Answer ONLY from the journal entries and memory listed here.
If the entries do not contain the answer, say you don't remember or don't know. Never invent events, people or feelings.`

// EraConstraint returns the instruction that bounds the past self to a point
// in time. label is a human name for the era and may be empty.
func EraConstraint(label string, until time.Time) string {
	date := until.Format("2006-01-02")
	if label == "" {
		return fmt.Sprintf(`IMPORTANT: You are speaking from %s.
As an absolute rule you know NOTHING that happened after %s. If asked about later events, act confused or say you have no idea, staying in character.`, date, date)
	}
	return fmt.Sprintf(`IMPORTANT: You are speaking from the era %q (up to %s).
As an absolute rule you know NOTHING that happened after %s. If asked about later events, act confused or say you have no idea, staying in character.`, label, date, date)
}

// TagExtractionPrompt generates a strict JSON-only prompt for memory tag extraction.
// The tag vocabulary is open; the listed types are examples, not a closed set.
func TagExtractionPrompt(entry string) string {
	return fmt.Sprintf(`TASK: Extract memory tags from a personal journal entry.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO explanation.

A tag is a short (type, value) pair worth remembering about the writer's life.
Example types: person, emotion, belief, place, goal, habit, event. Other types are allowed.

RULES:
1. At most %d tags
2. Each tag has exactly two string fields: "type" and "value"
3. type: one lower-case word
4. value: a few words, in the language of the entry
5. No duplicate tags
6. If nothing is worth remembering, return {"tags":[]}

JOURNAL ENTRY:
%s

RESPOND WITH ONLY THIS JSON STRUCTURE (nothing else):
{"tags":[{"type":"person","value":"Ana"},{"type":"emotion","value":"hope"}]}`, MaxExtractedTags, entry)
}
