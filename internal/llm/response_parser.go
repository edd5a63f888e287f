package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/capsule/pkg/types"
)

// ErrNoJSON is returned when a response contains no JSON object or array.
var ErrNoJSON = errors.New("no JSON found in response")

// TagResponse is a single tag as returned by the model.
type TagResponse struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// TagExtractionResponse is the complete tag extraction response.
type TagExtractionResponse struct {
	Tags []json.RawMessage `json:"tags"`
}

// extractJSON extracts the first complete JSON object or array from a string
// that may contain extra text. This handles models that add explanations
// before or after the JSON despite instructions.
func extractJSON(text string) string {
	text = stripFences(text)

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return text // No JSON found, return as-is and let parser fail
	}
	if end := balancedEnd(text, start); end != -1 {
		return text[start:end]
	}
	return text // No complete JSON found, return as-is
}

func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// balancedEnd returns the index just past the bracket that closes the one at
// start, or -1 if it is never closed. Brackets of either kind are matched by
// depth only; brackets inside strings are ignored.
func balancedEnd(text string, start int) int {
	depth := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return i + 1
				}
			}
		}
	}
	return -1
}

// ParseTagResponse parses a tag extraction response.
//
// It accepts {"tags":[...]} or a bare array of objects, with or without
// markdown fences and surrounding prose. Every bracketed span is tried in
// order and the first one shaped like a tag payload wins, so brackets in the
// prose (citations, asides) are passed over. Entries without a string type
// and value are skipped. Types are lower-cased, values have their whitespace
// collapsed, case-insensitive duplicates are merged and at most
// MaxExtractedTags are kept. An empty result is valid; an error means the
// response itself was unusable.
func ParseTagResponse(response string) (types.TagSet, error) {
	text := stripFences(response)
	first := strings.IndexAny(text, "{[")
	if first == -1 {
		return nil, ErrNoJSON
	}

	var firstErr error
	for start := first; start != -1; {
		end := balancedEnd(text, start)
		if end == -1 {
			start = nextBracket(text, start+1)
			continue
		}
		items, err := decodeTagItems(text[start:end])
		if err == nil {
			return buildTagSet(items), nil
		}
		if firstErr == nil {
			firstErr = err
		}
		// Spans nested in a rejected candidate belong to it.
		start = nextBracket(text, end)
	}

	if firstErr == nil {
		// Nothing was closed; report why the first candidate is unusable.
		_, firstErr = decodeTagItems(text[first:])
	}
	return nil, firstErr
}

func nextBracket(text string, from int) int {
	if from >= len(text) {
		return -1
	}
	i := strings.IndexAny(text[from:], "{[")
	if i == -1 {
		return -1
	}
	return from + i
}

// decodeTagItems accepts an object with a "tags" array (or null) or an array
// whose elements are all objects.
func decodeTagItems(raw string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("failed to parse tag array: %w", err)
		}
		for _, item := range items {
			if item = bytes.TrimSpace(item); len(item) == 0 || item[0] != '{' {
				return nil, errors.New("tag array holds non-object items")
			}
		}
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse tag response: %w", err)
	}
	tagsRaw, ok := obj["tags"]
	if !ok {
		return nil, errors.New(`tag response has no "tags" key`)
	}
	if string(tagsRaw) != "null" {
		if err := json.Unmarshal(tagsRaw, &items); err != nil {
			return nil, fmt.Errorf(`"tags" is not an array: %w`, err)
		}
	}
	return items, nil
}

func buildTagSet(items []json.RawMessage) types.TagSet {
	pairs := make([]types.TagPair, 0, len(items))
	for _, item := range items {
		var tr TagResponse
		// Non-object items or non-string fields are skipped, not fatal.
		if err := json.Unmarshal(item, &tr); err != nil {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(tr.Type))
		value := strings.Join(strings.Fields(tr.Value), " ")
		if typ == "" || value == "" {
			continue
		}
		pairs = append(pairs, types.TagPair{Type: typ, Value: value})
	}

	set := types.NewTagSet(pairs...)
	if len(set) > MaxExtractedTags {
		set = set[:MaxExtractedTags]
	}
	return set
}
