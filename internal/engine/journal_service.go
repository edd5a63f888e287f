package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/llm"
	"github.com/scrypster/capsule/internal/metrics"
	"github.com/scrypster/capsule/internal/storage"
	"github.com/scrypster/capsule/pkg/types"
)

// Generation kinds used for metrics and logs.
const (
	GenerationJournal  = "journal"
	GenerationPastSelf = "past_self"
)

// GenerationPlaceholder is the reply stored when the model call failed.
func GenerationPlaceholder(err error) string {
	return fmt.Sprintf("*(Something went wrong: %v)*", err)
}

// EntryResult describes a submitted entry.
type EntryResult struct {
	EntryID string       `json:"entry_id"`
	Reply   string       `json:"reply"`
	Tags    types.TagSet `json:"tags"`

	// GenerationFailed is true when Reply is a placeholder.
	GenerationFailed bool `json:"generation_failed"`

	// ExtractionErr is set when no tags could be extracted or stored.
	// It is informational only.
	ExtractionErr error `json:"-"`
}

// PastSelfReply is one past-self answer.
type PastSelfReply struct {
	Reply            string `json:"reply"`
	GenerationFailed bool   `json:"generation_failed"`
}

// Timeline is the date range covered by a user's journal.
type Timeline struct {
	Count int    `json:"count"`
	First string `json:"first,omitempty"` // YYYY-MM-DD
	Last  string `json:"last,omitempty"`
}

// JournalService runs the journaling and past-self flows on top of a
// session state machine's sessions.
type JournalService struct {
	store     storage.Store
	gen       llm.ChatGenerator
	composer  *ContextComposer
	extractor *TagExtractor
	events    EventSink
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// JournalOption configures a JournalService.
type JournalOption func(*JournalService)

// WithEventSink publishes journal events to sink.
func WithEventSink(sink EventSink) JournalOption {
	return func(s *JournalService) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithMetrics records journal counters.
func WithMetrics(m *metrics.Metrics) JournalOption {
	return func(s *JournalService) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) JournalOption {
	return func(s *JournalService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExtractor replaces the tag extractor, e.g. to use a separate model.
func WithExtractor(x *TagExtractor) JournalOption {
	return func(s *JournalService) {
		if x != nil {
			s.extractor = x
		}
	}
}

// NewJournalService creates a journal service.
func NewJournalService(store storage.Store, gen llm.ChatGenerator, composer *ContextComposer, opts ...JournalOption) *JournalService {
	s := &JournalService{
		store:    store,
		gen:      gen,
		composer: composer,
		events:   nopSink{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("journal")
	if s.extractor == nil {
		s.extractor = NewTagExtractor(gen, s.logger)
	}
	return s
}

// SubmitEntry writes a journal entry.
//
// The reply is generated from the profile, the knowledge summary and the
// session history. A failed generation stores a visible placeholder instead;
// the entry is saved either way, and so it is when the context cannot be read.
// Tags are extracted afterwards on a best effort basis. A blank entry is a
// no-op and returns (nil, nil).
func (s *JournalService) SubmitEntry(ctx context.Context, sess *Session, text string) (*EntryResult, error) {
	if sess.Phase != types.PhaseJournaling {
		return nil, fmt.Errorf("%w: entry in %s", ErrWrongPhase, sess.Phase)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	profile, qp, tags := s.loadContext(ctx, sess.UserID)

	prompt := s.composer.Journal(JournalInput{
		UserID:       sess.UserID,
		Profile:      profile,
		QuickProfile: qp,
		Tags:         tags,
		History:      sess.History,
		Entry:        text,
	})

	result := &EntryResult{}
	result.Reply, result.GenerationFailed = s.generate(ctx, GenerationJournal, sess.UserID, prompt)

	entryID, err := s.store.SaveEntry(ctx, sess.UserID, text, result.Reply)
	if err != nil {
		return nil, fmt.Errorf("save entry: %w", err)
	}
	result.EntryID = entryID
	s.metrics.EntrySaved()

	saved := newEvent(KindEntrySaved, sess.UserID)
	saved.EntryID = entryID
	s.events.Publish(saved)

	result.Tags, result.ExtractionErr = s.extractAndStore(ctx, sess.UserID, entryID, text)

	sess.History = append(sess.History,
		types.UserMessage(text),
		types.AssistantMessage(result.Reply),
	)
	return result, nil
}

// extractAndStore never fails the entry; errors are logged and returned
// for information.
func (s *JournalService) extractAndStore(ctx context.Context, userID, entryID, text string) (types.TagSet, error) {
	tags, err := s.extractor.Extract(ctx, text)
	if err == nil && len(tags) > 0 {
		if serr := s.store.SaveTags(ctx, entryID, tags); serr != nil {
			err = fmt.Errorf("save tags: %w", serr)
		}
	}

	if err != nil {
		stage := "store"
		var xerr *ExtractionError
		if errors.As(err, &xerr) {
			stage = xerr.Stage
		}
		s.logger.Warn("tag extraction failed, entry kept without tags",
			zap.String("user", userID),
			zap.String("entry_id", entryID),
			zap.String("stage", stage),
			zap.Error(err))
		s.metrics.ExtractionFailed()

		e := newEvent(KindExtractionFailed, userID)
		e.EntryID = entryID
		e.Stage = stage
		s.events.Publish(e)
		return types.TagSet{}, err
	}

	s.metrics.TagsStored(len(tags))

	e := newEvent(KindTagsExtracted, userID)
	e.EntryID = entryID
	e.Count = len(tags)
	for _, t := range tags {
		e.Tags = append(e.Tags, TagPairView{Type: t.Type, Value: t.Value})
	}
	s.events.Publish(e)
	return tags, nil
}

// AskPastSelf sends a message to the past self. The exchange is kept in the
// session's past-self history and is never stored as an entry. A blank
// message is a no-op and returns (nil, nil).
func (s *JournalService) AskPastSelf(ctx context.Context, sess *Session, message string, era EraOptions) (*PastSelfReply, error) {
	if sess.Phase != types.PhasePastSelf {
		return nil, fmt.Errorf("%w: past-self message in %s", ErrWrongPhase, sess.Phase)
	}
	if strings.TrimSpace(message) == "" {
		return nil, nil
	}

	profile, qp, tags := s.loadContext(ctx, sess.UserID)
	entries, err := s.store.GetAllEntries(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	prompt := s.composer.PastSelf(PastSelfInput{
		UserID:       sess.UserID,
		Profile:      profile,
		QuickProfile: qp,
		Tags:         tags,
		Entries:      entries,
		History:      sess.PastSelfHistory,
		Message:      message,
		Era:          era,
	})

	reply := &PastSelfReply{}
	reply.Reply, reply.GenerationFailed = s.generate(ctx, GenerationPastSelf, sess.UserID, prompt)

	sess.PastSelfHistory = append(sess.PastSelfHistory,
		types.UserMessage(message),
		types.AssistantMessage(reply.Reply),
	)
	s.metrics.PastSelfMessage()
	s.events.Publish(newEvent(KindPastSelfReply, sess.UserID))
	return reply, nil
}

// generate calls the model once. On failure it returns the placeholder and
// true.
func (s *JournalService) generate(ctx context.Context, kind, userID string, prompt llm.Prompt) (string, bool) {
	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.logger.Warn("reply generation failed",
			zap.String("kind", kind),
			zap.String("user", userID),
			zap.String("model", s.gen.GetModel()),
			zap.Error(err))
		s.metrics.GenerationFailed(kind)
		return GenerationPlaceholder(err), true
	}
	return reply, false
}

// loadContext reads the profile, quick profile and tags for composing a
// prompt. Unreadable parts are logged and treated as empty so the caller can
// still answer and save.
func (s *JournalService) loadContext(ctx context.Context, userID string) (types.Profile, *types.QuickProfile, []types.Tag) {
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Warn("profile unreadable, composing without it",
			zap.String("user", userID), zap.Error(err))
		profile = types.Profile{}
	}

	qp, err := s.store.GetQuickProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("quick profile unreadable, composing without it",
				zap.String("user", userID), zap.Error(err))
		}
		qp = nil
	}

	tags, err := s.store.GetAllTags(ctx, userID)
	if err != nil {
		s.logger.Warn("tags unreadable, composing without memory",
			zap.String("user", userID), zap.Error(err))
		tags = nil
	}
	return profile, qp, tags
}

// Summary returns the knowledge summary over all of the user's tags.
func (s *JournalService) Summary(ctx context.Context, userID string) (string, error) {
	tags, err := s.store.GetAllTags(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load tags: %w", err)
	}
	return s.composer.Aggregator().Summarize(tags), nil
}

// Knowledge returns the ranked knowledge groups over all of the user's tags.
func (s *JournalService) Knowledge(ctx context.Context, userID string) ([]TypeSummary, error) {
	tags, err := s.store.GetAllTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	return s.composer.Aggregator().Groups(tags), nil
}

// Entries returns the user's entries, oldest first.
func (s *JournalService) Entries(ctx context.Context, userID string) ([]types.Entry, error) {
	entries, err := s.store.GetAllEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return entries, nil
}

// Timeline returns the date range of the user's journal.
func (s *JournalService) Timeline(ctx context.Context, userID string) (Timeline, error) {
	entries, err := s.store.GetAllEntries(ctx, userID)
	if err != nil {
		return Timeline{}, fmt.Errorf("load entries: %w", err)
	}
	first, last := types.DateRange(entries)
	return Timeline{Count: len(entries), First: first, Last: last}, nil
}
