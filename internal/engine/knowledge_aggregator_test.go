package engine

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/capsule/pkg/types"
)

var aggBase = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func tagAt(typ, value string, hour int) types.Tag {
	return types.Tag{Type: typ, Value: value, CreatedAt: aggBase.Add(time.Duration(hour) * time.Hour)}
}

func TestSummarize_Empty(t *testing.T) {
	a := NewKnowledgeAggregator(0, 0)
	assert.Equal(t, NoMemoryMarker, a.Summarize(nil))
	assert.Equal(t, NoMemoryMarker, a.Summarize([]types.Tag{}))
}

func TestNewKnowledgeAggregator_Defaults(t *testing.T) {
	a := NewKnowledgeAggregator(-1, 0)
	assert.Equal(t, DefaultMaxValuesPerType, a.MaxValuesPerType)
	assert.Equal(t, DefaultMaxPreviewChars, a.MaxPreviewChars)
}

func TestSummarize_LiteralLimitsFallBackToDefaults(t *testing.T) {
	tags := []types.Tag{
		tagAt("person", "Ana", 0),
		tagAt("person", "Leo", 1),
		tagAt("person", "Rui", 2),
		tagAt("person", "Eva", 3),
	}

	for _, a := range []*KnowledgeAggregator{
		{MaxValuesPerType: -1, MaxPreviewChars: -5},
		{},
	} {
		var got string
		require.NotPanics(t, func() { got = a.Summarize(tags) })
		assert.Equal(t, "person: Eva, Rui, Leo", got)
	}
}

func TestSummarize_FrequencyBeatsRecency(t *testing.T) {
	tags := []types.Tag{
		tagAt("person", "Ana", 0),
		tagAt("person", "Ana", 1),
		tagAt("person", "Ana", 2),
		tagAt("person", "Leo", 3),
	}
	a := NewKnowledgeAggregator(3, 50)
	assert.Equal(t, "person: Ana, Leo", a.Summarize(tags))
}

func TestSummarize_TiesBrokenByRecencyThenAlphabet(t *testing.T) {
	tags := []types.Tag{
		tagAt("place", "Zaragoza", 0),
		tagAt("place", "Bilbao", 0),
		tagAt("place", "Madrid", 5),
	}
	a := NewKnowledgeAggregator(3, 50)
	assert.Equal(t, "place: Madrid, Bilbao, Zaragoza", a.Summarize(tags))
}

func TestSummarize_CaseInsensitiveMerge(t *testing.T) {
	tags := []types.Tag{
		tagAt("Person", "Ana", 0),
		tagAt("person", "ana", 1),
		tagAt("PERSON", "Leo", 2),
	}
	groups := NewKnowledgeAggregator(3, 50).Groups(tags)
	require.Len(t, groups, 1)
	assert.Equal(t, "Person", groups[0].Type, "first spelling wins")
	assert.Equal(t, 3, groups[0].Mentions)
	require.Len(t, groups[0].Values, 2)
	assert.Equal(t, ValueCount{Value: "Ana", Mentions: 2}, groups[0].Values[0])
}

func TestSummarize_LimitsValuesPerType(t *testing.T) {
	tags := []types.Tag{
		tagAt("emotion", "joy", 0),
		tagAt("emotion", "fear", 1),
		tagAt("emotion", "calm", 2),
		tagAt("emotion", "anger", 3),
	}
	a := NewKnowledgeAggregator(3, 50)
	groups := a.Groups(tags)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Values, 4, "all values are kept for display")
	assert.Equal(t, "anger, calm, fear", groups[0].Preview)
	assert.Equal(t, "emotion: anger, calm, fear", a.Summarize(tags))
}

func TestSummarize_PreviewCappedInRunes(t *testing.T) {
	tags := []types.Tag{
		tagAt("belief", strings.Repeat("á", 30), 1),
		tagAt("belief", strings.Repeat("b", 30), 0),
	}
	a := NewKnowledgeAggregator(3, 50)
	preview := a.Groups(tags)[0].Preview

	assert.LessOrEqual(t, utf8.RuneCountInString(preview), 50)
	assert.True(t, strings.HasSuffix(preview, "…"), "preview %q should end with an ellipsis", preview)
	assert.True(t, strings.HasPrefix(preview, strings.Repeat("á", 30)))
}

func TestSummarize_ShortPreviewUntouched(t *testing.T) {
	tags := []types.Tag{tagAt("goal", "run", 0)}
	assert.Equal(t, "goal: run", NewKnowledgeAggregator(3, 3).Summarize(tags))
	assert.Equal(t, "goal: r…", NewKnowledgeAggregator(3, 2).Summarize(tags))
}

func TestSummarize_TypeOrdering(t *testing.T) {
	tags := []types.Tag{
		tagAt("place", "Madrid", 0),
		tagAt("person", "Ana", 1),
		tagAt("person", "Leo", 2),
		tagAt("emotion", "joy", 3),
	}
	got := NewKnowledgeAggregator(3, 50).Summarize(tags)
	assert.Equal(t, "person: Leo, Ana\nemotion: joy\nplace: Madrid", got)
}

func TestSummarize_SkipsBlankTags(t *testing.T) {
	tags := []types.Tag{
		tagAt("", "Ana", 0),
		tagAt("person", "  ", 1),
	}
	assert.Equal(t, NoMemoryMarker, NewKnowledgeAggregator(3, 50).Summarize(tags))
}

func TestSummarize_Idempotent(t *testing.T) {
	tags := []types.Tag{
		tagAt("person", "Ana", 0),
		tagAt("place", "Madrid", 0),
		tagAt("emotion", "joy", 0),
		tagAt("belief", "kindness", 0),
	}
	a := NewKnowledgeAggregator(3, 50)
	first := a.Summarize(tags)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, a.Summarize(tags))
	}
}

func TestFilterTagsUntil(t *testing.T) {
	tags := []types.Tag{
		tagAt("person", "Ana", 0),
		tagAt("person", "Leo", 2),
		tagAt("person", "Eva", 4),
	}

	got := FilterTagsUntil(tags, aggBase.Add(2*time.Hour))
	require.Len(t, got, 2)
	assert.Equal(t, "Leo", got[1].Value, "tags at the bound are kept")

	assert.Len(t, FilterTagsUntil(tags, time.Time{}), 3)
}
