package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/llm"
	"github.com/scrypster/capsule/pkg/types"
)

// Extraction failure stages.
const (
	ExtractionStageProvider = "provider" // The model call failed
	ExtractionStageParse    = "parse"    // The model answered with unusable output
)

// ExtractionError describes a failed tag extraction. It is the only error
// type TagExtractor.Extract returns.
type ExtractionError struct {
	Stage string // ExtractionStageProvider or ExtractionStageParse
	Raw   string // Model output, when the parse stage failed
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("tag extraction failed (%s): %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// TagExtractor turns an entry into a small set of typed memory tags.
type TagExtractor struct {
	gen    llm.ChatGenerator
	logger *zap.Logger
}

// NewTagExtractor creates an extractor backed by gen.
func NewTagExtractor(gen llm.ChatGenerator, logger *zap.Logger) *TagExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagExtractor{gen: gen, logger: logger.Named("extractor")}
}

// Extract asks the model for tags. Zero tags is a valid result. On failure
// the returned error is always an *ExtractionError and the set is nil.
func (x *TagExtractor) Extract(ctx context.Context, entryText string) (types.TagSet, error) {
	if strings.TrimSpace(entryText) == "" {
		return types.TagSet{}, nil
	}

	raw, err := x.gen.Generate(ctx, llm.SingleTurn(llm.TagExtractionPrompt(entryText)))
	if err != nil {
		return nil, &ExtractionError{Stage: ExtractionStageProvider, Err: err}
	}

	tags, err := llm.ParseTagResponse(raw)
	if err != nil {
		return nil, &ExtractionError{Stage: ExtractionStageParse, Raw: raw, Err: err}
	}

	x.logger.Debug("tags extracted", zap.Int("count", len(tags)))
	return tags, nil
}
