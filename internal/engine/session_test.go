package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/capsule/pkg/types"
)

func TestLogin_BlankUserIsGuest(t *testing.T) {
	m := NewMachine(newTestStore(t), testQuestions(), nil)

	s, tr, err := m.Login(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, types.GuestUser, s.UserID)
	assert.Equal(t, types.PhaseQuickProfile, s.Phase)
	assert.Equal(t, Transition{From: types.PhaseLogin, To: types.PhaseQuickProfile}, tr)
	assert.True(t, tr.Changed())
}

func TestLogin_CreatesUserIdempotently(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, testQuestions(), nil)
	ctx := context.Background()

	_, _, err := m.Login(ctx, "maria")
	require.NoError(t, err)
	_, _, err = m.Login(ctx, "maria")
	require.NoError(t, err)

	ok, err := store.UserExists(ctx, "maria")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQuickProfile_NormalizesAndRoutesToOnboarding(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, testQuestions(), nil)
	ctx := context.Background()

	s, _, err := m.Login(ctx, "maria")
	require.NoError(t, err)

	tr, err := m.SubmitQuickProfile(ctx, s, types.QuickProfile{Alias: "  Mari ", Occupation: ""})
	require.NoError(t, err)
	assert.Equal(t, types.PhaseOnboarding, tr.To)
	assert.Equal(t, 0, s.Step)
	assert.False(t, s.Consent)

	qp, err := store.GetQuickProfile(ctx, "maria")
	require.NoError(t, err)
	assert.Equal(t, "Mari", qp.Alias)
	assert.Equal(t, types.NoAnswer, qp.Occupation)
	assert.Equal(t, types.NoAnswer, qp.SocialCircle)
}

func TestQuickProfile_WrongPhase(t *testing.T) {
	m := NewMachine(newTestStore(t), testQuestions(), nil)
	s := journalingSession(t, m, "maria")

	tr, err := m.SubmitQuickProfile(context.Background(), s, types.QuickProfile{})
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.False(t, tr.Changed())
	assert.Equal(t, types.PhaseJournaling, s.Phase)
}

func TestOnboarding_AnswerBeforeConsent(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, testQuestions(), nil)
	ctx := context.Background()

	s, _, err := m.Login(ctx, "maria")
	require.NoError(t, err)
	_, err = m.SubmitQuickProfile(ctx, s, types.QuickProfile{})
	require.NoError(t, err)

	_, err = m.AnswerQuestion(ctx, s, "Valencia")
	assert.ErrorIs(t, err, ErrConsentRequired)
	assert.Equal(t, 0, s.Step)

	profile, err := store.GetProfile(ctx, "maria")
	require.NoError(t, err)
	assert.Empty(t, profile.Answer("origins"))
}

func TestOnboarding_CompletesAfterLastQuestion(t *testing.T) {
	store := newTestStore(t)
	qs := testQuestions()
	m := NewMachine(store, qs, nil)
	ctx := context.Background()

	s, _, err := m.Login(ctx, "maria")
	require.NoError(t, err)
	_, err = m.SubmitQuickProfile(ctx, s, types.QuickProfile{Alias: "Mari"})
	require.NoError(t, err)
	_, err = m.GiveConsent(ctx, s)
	require.NoError(t, err)
	assert.True(t, s.Consent)

	answers := []string{"Valencia", "my sister", "last summer"}
	for i, a := range answers {
		q, ok := m.CurrentQuestion(s)
		require.True(t, ok)
		assert.Equal(t, qs[i].Key, q.Key)

		tr, err := m.AnswerQuestion(ctx, s, a)
		require.NoError(t, err)
		if i < len(answers)-1 {
			assert.False(t, tr.Changed(), "question %d should not leave onboarding", i)
			assert.Equal(t, i+1, s.Step)
		} else {
			assert.Equal(t, Transition{From: types.PhaseOnboarding, To: types.PhaseJournaling}, tr)
		}
	}

	_, ok := m.CurrentQuestion(s)
	assert.False(t, ok)

	profile, err := store.GetProfile(ctx, "maria")
	require.NoError(t, err)
	assert.True(t, profile.IsComplete(qs.Keys()))
	assert.Equal(t, "true", profile[types.ProfileKeyOnboardingComplete])
	assert.Equal(t, "my sister", profile.Answer("important_people"))
}

func TestOnboarding_BlankAnswerIsNoOp(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, testQuestions(), nil)
	ctx := context.Background()

	s, _, err := m.Login(ctx, "maria")
	require.NoError(t, err)
	_, err = m.SubmitQuickProfile(ctx, s, types.QuickProfile{})
	require.NoError(t, err)
	_, err = m.GiveConsent(ctx, s)
	require.NoError(t, err)

	tr, err := m.AnswerQuestion(ctx, s, "  \n ")
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.Equal(t, 0, s.Step)

	profile, err := store.GetProfile(ctx, "maria")
	require.NoError(t, err)
	_, stored := profile["origins"]
	assert.False(t, stored)
}

func TestAnsweredQuestions(t *testing.T) {
	m := NewMachine(newTestStore(t), testQuestions(), nil)
	ctx := context.Background()

	s, _, err := m.Login(ctx, "maria")
	require.NoError(t, err)
	_, err = m.SubmitQuickProfile(ctx, s, types.QuickProfile{})
	require.NoError(t, err)
	assert.Empty(t, m.AnsweredQuestions(ctx, s))

	_, err = m.GiveConsent(ctx, s)
	require.NoError(t, err)
	_, err = m.AnswerQuestion(ctx, s, "Valencia")
	require.NoError(t, err)

	got := m.AnsweredQuestions(ctx, s)
	require.Len(t, got, 1)
	assert.Equal(t, "origins", got[0].Question.Key)
	assert.Equal(t, "Valencia", got[0].Answer)
}

func TestLogin_CompleteProfileGoesStraightToJournaling(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, testQuestions(), nil)
	journalingSession(t, m, "maria")

	s, tr, err := m.Login(context.Background(), "maria")
	require.NoError(t, err)
	assert.Equal(t, Transition{From: types.PhaseLogin, To: types.PhaseJournaling}, tr)
	assert.True(t, s.Consent)
}

func TestLogin_PartialProfileRestartsOnboarding(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, testQuestions(), nil)
	ctx := context.Background()

	s, _, err := m.Login(ctx, "maria")
	require.NoError(t, err)
	_, err = m.SubmitQuickProfile(ctx, s, types.QuickProfile{})
	require.NoError(t, err)
	_, err = m.GiveConsent(ctx, s)
	require.NoError(t, err)
	_, err = m.AnswerQuestion(ctx, s, "Valencia")
	require.NoError(t, err)

	s2, tr, err := m.Login(ctx, "maria")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseOnboarding, tr.To)
	assert.Equal(t, 0, s2.Step)
	assert.True(t, s2.Consent, "stored consent must be restored")
}

func TestLogin_QuestionSetGrowthReopensOnboarding(t *testing.T) {
	store := newTestStore(t)
	journalingSession(t, NewMachine(store, testQuestions(), nil), "maria")

	more := append(testQuestions(), testQuestions()[0])
	more[len(more)-1].Key = "future_message"

	s, _, err := NewMachine(store, more, nil).Login(context.Background(), "maria")
	require.NoError(t, err)
	assert.Equal(t, types.PhaseOnboarding, s.Phase)
}

func TestPastSelf_RequiresEntries(t *testing.T) {
	store := newTestStore(t)
	m := NewMachine(store, testQuestions(), nil)
	ctx := context.Background()
	s := journalingSession(t, m, "maria")

	tr, err := m.EnterPastSelf(ctx, s)
	assert.True(t, errors.Is(err, ErrNoEntries))
	assert.False(t, tr.Changed())
	assert.Equal(t, types.PhaseJournaling, s.Phase)

	_, err = store.SaveEntry(ctx, "maria", "first day", "welcome")
	require.NoError(t, err)

	s.PastSelfHistory = []types.Message{types.UserMessage("stale")}
	tr, err = m.EnterPastSelf(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, Transition{From: types.PhaseJournaling, To: types.PhasePastSelf}, tr)
	assert.Empty(t, s.PastSelfHistory)

	tr, err = m.ExitPastSelf(s)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseJournaling, tr.To)

	_, err = m.ExitPastSelf(s)
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestGiveConsent_WrongPhase(t *testing.T) {
	m := NewMachine(newTestStore(t), testQuestions(), nil)
	s, _, err := m.Login(context.Background(), "maria")
	require.NoError(t, err)

	_, err = m.GiveConsent(context.Background(), s)
	assert.ErrorIs(t, err, ErrWrongPhase)
	assert.False(t, s.Consent)
}

func TestMoveTo_RejectsIllegalEdge(t *testing.T) {
	s := &Session{Phase: types.PhaseOnboarding}
	tr, err := s.moveTo(types.PhasePastSelf)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, tr.Changed())
	assert.Equal(t, types.PhaseOnboarding, s.Phase)
}
