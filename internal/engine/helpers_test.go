package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scrypster/capsule/internal/llm"
	"github.com/scrypster/capsule/internal/onboarding"
	"github.com/scrypster/capsule/internal/storage/sqlite"
	"github.com/scrypster/capsule/pkg/types"
)

// scriptedGenerator is a fake llm.ChatGenerator that answers from a script
// and records every prompt it receives.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string // responses to return in order
	errors    []error  // errors to return in order (nil for success)
	prompts   []llm.Prompt
	model     string
}

func newScriptedGenerator(responses ...string) *scriptedGenerator {
	return &scriptedGenerator{responses: responses, model: "scripted-model"}
}

func (g *scriptedGenerator) failOn(call int, err error) *scriptedGenerator {
	for len(g.errors) <= call {
		g.errors = append(g.errors, nil)
	}
	g.errors[call] = err
	return g
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt llm.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	call := len(g.prompts)
	g.prompts = append(g.prompts, prompt)

	if call < len(g.errors) && g.errors[call] != nil {
		return "", g.errors[call]
	}
	if call < len(g.responses) {
		return g.responses[call], nil
	}
	return "", errors.New("scripted generator: no more responses configured")
}

func (g *scriptedGenerator) GetModel() string {
	return g.model
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *scriptedGenerator) prompt(i int) llm.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[i]
}

// testQuestions is a short question set so onboarding tests stay readable.
func testQuestions() onboarding.QuestionSet {
	return onboarding.QuestionSet{
		{Key: "origins", Prompt: "Where do you come from?"},
		{Key: "important_people", Prompt: "Who matters most to you?"},
		{Key: "happiness", Prompt: "When were you last happy?"},
	}
}

// tickingClock advances by one hour on every call, starting at start.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Hour)
		return now
	}
}

func newTestStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// journalingSession logs userID in and walks it through the quick profile
// and onboarding so the returned session is in the journaling phase.
func journalingSession(t *testing.T, m *Machine, userID string) *Session {
	t.Helper()
	ctx := context.Background()

	s, _, err := m.Login(ctx, userID)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if s.Phase == types.PhaseQuickProfile {
		if _, err := m.SubmitQuickProfile(ctx, s, types.QuickProfile{Alias: "Mari", Occupation: "nurse"}); err != nil {
			t.Fatalf("SubmitQuickProfile() failed: %v", err)
		}
	}
	if s.Phase == types.PhaseOnboarding {
		if _, err := m.GiveConsent(ctx, s); err != nil {
			t.Fatalf("GiveConsent() failed: %v", err)
		}
		for s.Phase == types.PhaseOnboarding {
			if _, err := m.AnswerQuestion(ctx, s, "answer "+s.UserID); err != nil {
				t.Fatalf("AnswerQuestion() failed: %v", err)
			}
		}
	}
	if s.Phase != types.PhaseJournaling {
		t.Fatalf("session phase = %s, want journaling", s.Phase)
	}
	return s
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}
