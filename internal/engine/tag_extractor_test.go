package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/capsule/internal/llm"
	"github.com/scrypster/capsule/pkg/types"
)

func TestExtract_HappyPath(t *testing.T) {
	gen := newScriptedGenerator(`{"tags":[{"type":"Person","value":"Ana"},{"type":"emotion","value":"hope"}]}`)
	x := NewTagExtractor(gen, nil)

	tags, err := x.Extract(context.Background(), "Saw Ana, felt hopeful.")
	require.NoError(t, err)
	assert.Equal(t, types.TagSet{
		{Type: "person", Value: "Ana"},
		{Type: "emotion", Value: "hope"},
	}, tags)

	require.Equal(t, 1, gen.calls())
	p := gen.prompt(0)
	assert.Empty(t, p.System)
	assert.Empty(t, p.History)
	assert.Equal(t, llm.TagExtractionPrompt("Saw Ana, felt hopeful."), p.Message)
}

func TestExtract_ZeroTagsIsValid(t *testing.T) {
	x := NewTagExtractor(newScriptedGenerator(`{"tags":[]}`), nil)
	tags, err := x.Extract(context.Background(), "Nothing much.")
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestExtract_BlankEntrySkipsModel(t *testing.T) {
	gen := newScriptedGenerator()
	tags, err := NewTagExtractor(gen, nil).Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.Equal(t, 0, gen.calls())
}

func TestExtract_ProviderFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	gen := newScriptedGenerator().failOn(0, boom)

	tags, err := NewTagExtractor(gen, nil).Extract(context.Background(), "entry")
	assert.Nil(t, tags)

	var xerr *ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, ExtractionStageProvider, xerr.Stage)
	assert.ErrorIs(t, err, boom)
}

func TestExtract_MalformedOutput(t *testing.T) {
	gen := newScriptedGenerator("I'm sorry, I can't help with that.")

	tags, err := NewTagExtractor(gen, nil).Extract(context.Background(), "entry")
	assert.Nil(t, tags)

	var xerr *ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, ExtractionStageParse, xerr.Stage)
	assert.Equal(t, "I'm sorry, I can't help with that.", xerr.Raw)
	assert.ErrorIs(t, err, llm.ErrNoJSON)
}
