// Package engine implements the journaling core: the onboarding/profile
// state machine, tag extraction, knowledge aggregation, context composition
// and the journal service that ties them to storage and the chat model.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/onboarding"
	"github.com/scrypster/capsule/internal/storage"
	"github.com/scrypster/capsule/pkg/types"
)

var (
	// ErrNoEntries is returned when past-self mode is requested before any
	// entry exists. The session phase is left unchanged.
	ErrNoEntries = errors.New("no entries yet")

	// ErrConsentRequired is returned when an onboarding answer arrives
	// before consent was given.
	ErrConsentRequired = errors.New("consent required before answering")

	// ErrWrongPhase is returned when an operation is not available in the
	// session's current phase.
	ErrWrongPhase = errors.New("operation not available in current phase")

	// ErrInvalidTransition guards against edges types.IsValidPhaseTransition rejects.
	ErrInvalidTransition = errors.New("invalid phase transition")
)

// Session is the per-user session context. It is not safe for concurrent
// use; callers serialise access per user.
type Session struct {
	UserID string      `json:"user_id"`
	Phase  types.Phase `json:"phase"`

	// Step is the index of the next onboarding question.
	Step int `json:"step"`

	Consent bool `json:"consent"`

	// History is the in-memory journaling conversation, oldest first.
	History []types.Message `json:"history"`

	// PastSelfHistory is cleared every time past-self mode is entered.
	PastSelfHistory []types.Message `json:"past_self_history"`
}

// Transition reports the phase before and after an operation.
type Transition struct {
	From types.Phase `json:"from"`
	To   types.Phase `json:"to"`
}

// Changed reports whether the operation moved the session to another phase.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// moveTo switches the session phase after checking the edge is legal.
func (s *Session) moveTo(to types.Phase) (Transition, error) {
	from := s.Phase
	if !types.IsValidPhaseTransition(from, to) {
		return Transition{From: from, To: from}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.Phase = to
	return Transition{From: from, To: to}, nil
}

func (s *Session) stay() Transition {
	return Transition{From: s.Phase, To: s.Phase}
}

// AnsweredQuestion pairs an onboarding question with the stored answer.
type AnsweredQuestion struct {
	Question onboarding.Question `json:"question"`
	Answer   string              `json:"answer"`
}

// Machine drives sessions through login, quick profile, onboarding,
// journaling and past-self phases, persisting every step.
type Machine struct {
	store     storage.Store
	questions onboarding.QuestionSet
	logger    *zap.Logger
}

// NewMachine creates a state machine over store using the given question set.
func NewMachine(store storage.Store, questions onboarding.QuestionSet, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		store:     store,
		questions: questions,
		logger:    logger.Named("session"),
	}
}

// Questions returns the onboarding question set.
func (m *Machine) Questions() onboarding.QuestionSet {
	return m.questions
}

// Login starts a session. A blank identifier logs in as the guest user.
// The user is created on first login and routed to the first phase whose
// precondition is not yet met.
func (m *Machine) Login(ctx context.Context, userID string) (*Session, Transition, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = types.GuestUser
	}

	if err := m.store.CreateUser(ctx, userID); err != nil {
		return nil, Transition{From: types.PhaseLogin, To: types.PhaseLogin}, fmt.Errorf("login %q: %w", userID, err)
	}

	s := &Session{UserID: userID, Phase: types.PhaseLogin}

	if !m.hasQuickProfile(ctx, userID) {
		t, err := s.moveTo(types.PhaseQuickProfile)
		return s, t, err
	}

	t, err := m.routeAfterQuickProfile(ctx, s)
	return s, t, err
}

// SubmitQuickProfile stores the quick profile (blank fields become
// types.NoAnswer) and moves on to onboarding or journaling.
func (m *Machine) SubmitQuickProfile(ctx context.Context, s *Session, qp types.QuickProfile) (Transition, error) {
	if s.Phase != types.PhaseQuickProfile {
		return s.stay(), fmt.Errorf("%w: quick profile in %s", ErrWrongPhase, s.Phase)
	}

	if err := m.store.SetQuickProfile(ctx, s.UserID, qp.Normalize()); err != nil {
		return s.stay(), fmt.Errorf("save quick profile: %w", err)
	}

	return m.routeAfterQuickProfile(ctx, s)
}

// GiveConsent records consent. The session stays in onboarding.
func (m *Machine) GiveConsent(ctx context.Context, s *Session) (Transition, error) {
	if s.Phase != types.PhaseOnboarding {
		return s.stay(), fmt.Errorf("%w: consent in %s", ErrWrongPhase, s.Phase)
	}

	if err := m.store.SetProfileField(ctx, s.UserID, types.ProfileKeyConsent, "true"); err != nil {
		return s.stay(), fmt.Errorf("save consent: %w", err)
	}
	s.Consent = true
	return s.stay(), nil
}

// CurrentQuestion returns the question awaiting an answer, if any.
func (m *Machine) CurrentQuestion(s *Session) (onboarding.Question, bool) {
	if s.Phase != types.PhaseOnboarding || s.Step < 0 || s.Step >= len(m.questions) {
		return onboarding.Question{}, false
	}
	return m.questions[s.Step], true
}

// AnswerQuestion stores the answer to the current question and advances.
// A blank answer is ignored. After the last question the profile is
// marked complete and the session moves to journaling.
func (m *Machine) AnswerQuestion(ctx context.Context, s *Session, answer string) (Transition, error) {
	if s.Phase != types.PhaseOnboarding {
		return s.stay(), fmt.Errorf("%w: answer in %s", ErrWrongPhase, s.Phase)
	}
	if !s.Consent {
		return s.stay(), ErrConsentRequired
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return s.stay(), nil
	}

	q, ok := m.CurrentQuestion(s)
	if ok {
		if err := m.store.SetProfileField(ctx, s.UserID, q.Key, answer); err != nil {
			return s.stay(), fmt.Errorf("save answer %q: %w", q.Key, err)
		}
		s.Step++
	}

	if s.Step < len(m.questions) {
		return s.stay(), nil
	}

	if err := m.store.SetProfileField(ctx, s.UserID, types.ProfileKeyOnboardingComplete, "true"); err != nil {
		return s.stay(), fmt.Errorf("mark onboarding complete: %w", err)
	}
	return s.moveTo(types.PhaseJournaling)
}

// AnsweredQuestions returns the questions before the current step together
// with their stored answers, for read-only display.
func (m *Machine) AnsweredQuestions(ctx context.Context, s *Session) []AnsweredQuestion {
	n := s.Step
	if n > len(m.questions) {
		n = len(m.questions)
	}
	if n <= 0 {
		return []AnsweredQuestion{}
	}

	profile := m.loadProfile(ctx, s.UserID)
	out := make([]AnsweredQuestion, 0, n)
	for _, q := range m.questions[:n] {
		out = append(out, AnsweredQuestion{Question: q, Answer: profile.Answer(q.Key)})
	}
	return out
}

// EnterPastSelf switches to past-self mode and clears its history.
// It returns ErrNoEntries, leaving the phase unchanged, when the user has
// not written anything yet.
func (m *Machine) EnterPastSelf(ctx context.Context, s *Session) (Transition, error) {
	if s.Phase != types.PhaseJournaling {
		return s.stay(), fmt.Errorf("%w: past self from %s", ErrWrongPhase, s.Phase)
	}

	n, err := m.store.GetEntryCount(ctx, s.UserID)
	if err != nil {
		return s.stay(), fmt.Errorf("count entries: %w", err)
	}
	if n == 0 {
		return s.stay(), ErrNoEntries
	}

	t, err := s.moveTo(types.PhasePastSelf)
	if err != nil {
		return t, err
	}
	s.PastSelfHistory = nil
	return t, nil
}

// ExitPastSelf returns to journaling.
func (m *Machine) ExitPastSelf(s *Session) (Transition, error) {
	if s.Phase != types.PhasePastSelf {
		return s.stay(), fmt.Errorf("%w: exit past self from %s", ErrWrongPhase, s.Phase)
	}
	return s.moveTo(types.PhaseJournaling)
}

// routeAfterQuickProfile applies the completeness rule: a complete profile
// goes straight to journaling, anything else restarts onboarding at step 0.
func (m *Machine) routeAfterQuickProfile(ctx context.Context, s *Session) (Transition, error) {
	profile := m.loadProfile(ctx, s.UserID)
	s.Consent = profile.HasConsent()

	if profile.IsComplete(m.questions.Keys()) {
		return s.moveTo(types.PhaseJournaling)
	}
	s.Step = 0
	return s.moveTo(types.PhaseOnboarding)
}

// hasQuickProfile treats unreadable records as absent.
func (m *Machine) hasQuickProfile(ctx context.Context, userID string) bool {
	_, err := m.store.GetQuickProfile(ctx, userID)
	if err == nil {
		return true
	}
	if !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("quick profile unreadable, treating as absent",
			zap.String("user", userID), zap.Error(err))
	}
	return false
}

// loadProfile treats an unreadable profile as empty.
func (m *Machine) loadProfile(ctx context.Context, userID string) types.Profile {
	profile, err := m.store.GetProfile(ctx, userID)
	if err != nil {
		m.logger.Warn("profile unreadable, treating as incomplete",
			zap.String("user", userID), zap.Error(err))
		return types.Profile{}
	}
	return profile
}
