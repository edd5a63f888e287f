package engine

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/scrypster/capsule/pkg/types"
)

// NoMemoryMarker is the summary used when no tags exist.
const NoMemoryMarker = "(no memory yet)"

// Default knowledge summary bounds.
const (
	DefaultMaxValuesPerType = 3
	DefaultMaxPreviewChars  = 50
)

const ellipsis = "…"

// ValueCount is one distinct tag value and how often it was mentioned.
type ValueCount struct {
	Value    string `json:"value"`
	Mentions int    `json:"mentions"`
}

// TypeSummary is the ranked knowledge for one tag type.
type TypeSummary struct {
	Type     string       `json:"type"`
	Mentions int          `json:"mentions"`
	Values   []ValueCount `json:"values"`  // All distinct values, ranked
	Preview  string       `json:"preview"` // Bounded display string
}

// KnowledgeAggregator reduces stored tags to a bounded textual summary.
// It is a pure function of its input. Non-positive limits, including those
// of a zero value, mean the defaults.
type KnowledgeAggregator struct {
	MaxValuesPerType int
	MaxPreviewChars  int
}

// NewKnowledgeAggregator creates an aggregator. Non-positive limits fall
// back to the defaults.
func NewKnowledgeAggregator(maxValuesPerType, maxPreviewChars int) *KnowledgeAggregator {
	maxValues, maxPreview := limits(maxValuesPerType, maxPreviewChars)
	return &KnowledgeAggregator{
		MaxValuesPerType: maxValues,
		MaxPreviewChars:  maxPreview,
	}
}

func limits(maxValuesPerType, maxPreviewChars int) (int, int) {
	if maxValuesPerType <= 0 {
		maxValuesPerType = DefaultMaxValuesPerType
	}
	if maxPreviewChars <= 0 {
		maxPreviewChars = DefaultMaxPreviewChars
	}
	return maxValuesPerType, maxPreviewChars
}

// Summarize renders one "<type>: <preview>" line per tag type, most
// mentioned type first. It returns NoMemoryMarker when tags is empty.
func (a *KnowledgeAggregator) Summarize(tags []types.Tag) string {
	groups := a.Groups(tags)
	if len(groups) == 0 {
		return NoMemoryMarker
	}

	lines := make([]string, len(groups))
	for i, g := range groups {
		lines[i] = g.Type + ": " + g.Preview
	}
	return strings.Join(lines, "\n")
}

type valueStat struct {
	display  string
	key      string
	mentions int
	lastAt   time.Time
}

type typeStat struct {
	display  string
	key      string
	mentions int
	values   map[string]*valueStat
}

// Groups ranks tags by type and value.
//
// Types and values are compared case-insensitively; the first spelling seen
// is displayed. Values rank by mentions, then by most recent mention, then
// alphabetically. Types rank by total mentions, then alphabetically.
func (a *KnowledgeAggregator) Groups(tags []types.Tag) []TypeSummary {
	maxValues, maxPreview := limits(a.MaxValuesPerType, a.MaxPreviewChars)
	byType := make(map[string]*typeStat)

	for _, t := range tags {
		typ := strings.TrimSpace(t.Type)
		val := strings.TrimSpace(t.Value)
		if typ == "" || val == "" {
			continue
		}

		tk := strings.ToLower(typ)
		ts, ok := byType[tk]
		if !ok {
			ts = &typeStat{display: typ, key: tk, values: make(map[string]*valueStat)}
			byType[tk] = ts
		}
		ts.mentions++

		vk := strings.ToLower(val)
		vs, ok := ts.values[vk]
		if !ok {
			vs = &valueStat{display: val, key: vk}
			ts.values[vk] = vs
		}
		vs.mentions++
		if t.CreatedAt.After(vs.lastAt) {
			vs.lastAt = t.CreatedAt
		}
	}

	typeList := make([]*typeStat, 0, len(byType))
	for _, ts := range byType {
		typeList = append(typeList, ts)
	}
	sort.Slice(typeList, func(i, j int) bool {
		if typeList[i].mentions != typeList[j].mentions {
			return typeList[i].mentions > typeList[j].mentions
		}
		return typeList[i].key < typeList[j].key
	})

	out := make([]TypeSummary, 0, len(typeList))
	for _, ts := range typeList {
		ranked := rankValues(ts.values)

		values := make([]ValueCount, len(ranked))
		shown := make([]string, 0, maxValues)
		for i, vs := range ranked {
			values[i] = ValueCount{Value: vs.display, Mentions: vs.mentions}
			if i < maxValues {
				shown = append(shown, vs.display)
			}
		}

		out = append(out, TypeSummary{
			Type:     ts.display,
			Mentions: ts.mentions,
			Values:   values,
			Preview:  truncateRunes(strings.Join(shown, ", "), maxPreview),
		})
	}
	return out
}

func rankValues(values map[string]*valueStat) []*valueStat {
	ranked := make([]*valueStat, 0, len(values))
	for _, vs := range values {
		ranked = append(ranked, vs)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.mentions != b.mentions {
			return a.mentions > b.mentions
		}
		if !a.lastAt.Equal(b.lastAt) {
			return a.lastAt.After(b.lastAt)
		}
		return a.key < b.key
	})
	return ranked
}

// truncateRunes caps s at max runes, the ellipsis included.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 1 {
		return ellipsis
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-1]), " ,")
	return cut + ellipsis
}

// FilterTagsUntil keeps tags mentioned at or before until.
// A zero until keeps everything.
func FilterTagsUntil(tags []types.Tag, until time.Time) []types.Tag {
	if until.IsZero() {
		return tags
	}
	out := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		if !t.CreatedAt.After(until) {
			out = append(out, t)
		}
	}
	return out
}
