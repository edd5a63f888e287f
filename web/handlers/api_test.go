package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/capsule/internal/engine"
	"github.com/scrypster/capsule/internal/llm"
	"github.com/scrypster/capsule/internal/onboarding"
	"github.com/scrypster/capsule/internal/storage/sqlite"
	"github.com/scrypster/capsule/pkg/types"
	"github.com/scrypster/capsule/web/handlers"
)

// fakeGenerator answers from a fixed list and fails when it runs out.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	prompts   []llm.Prompt
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt llm.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	if call < len(g.responses) {
		return g.responses[call], nil
	}
	return "", errors.New("fake generator: no response configured")
}

func (g *fakeGenerator) GetModel() string { return "fake-model" }

type eventLog struct {
	mu     sync.Mutex
	events []engine.Event
}

func (l *eventLog) Publish(e engine.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []engine.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]engine.EventKind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

type apiFixture struct {
	mux    *http.ServeMux
	gen    *fakeGenerator
	events *eventLog
}

func newAPIFixture(t *testing.T, responses ...string) *apiFixture {
	t.Helper()

	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := start
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(24 * time.Hour)
		return now
	}

	store, err := sqlite.NewStore(":memory:", sqlite.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	questions := onboarding.QuestionSet{
		{Key: "origins", Prompt: "Where do you come from?"},
		{Key: "happiness", Prompt: "When were you last happy?"},
	}
	gen := &fakeGenerator{responses: responses}
	events := &eventLog{}

	machine := engine.NewMachine(store, questions, nil)
	journal := engine.NewJournalService(store, gen,
		engine.NewContextComposer(questions, nil),
		engine.WithEventSink(events))
	h := handlers.NewJournalHandlers(machine, journal, handlers.NewSessionRegistry(), events, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", h.Login)
	mux.HandleFunc("GET /api/session/{user}", h.GetSession)
	mux.HandleFunc("POST /api/session/{user}/quick-profile", h.SubmitQuickProfile)
	mux.HandleFunc("POST /api/session/{user}/consent", h.GiveConsent)
	mux.HandleFunc("POST /api/session/{user}/answers", h.AnswerQuestion)
	mux.HandleFunc("POST /api/session/{user}/entries", h.SubmitEntry)
	mux.HandleFunc("GET /api/users/{user}/entries", h.ListEntries)
	mux.HandleFunc("GET /api/users/{user}/memory", h.GetMemory)
	mux.HandleFunc("POST /api/session/{user}/past-self", h.EnterPastSelf)
	mux.HandleFunc("DELETE /api/session/{user}/past-self", h.ExitPastSelf)
	mux.HandleFunc("POST /api/session/{user}/past-self/messages", h.AskPastSelf)

	return &apiFixture{mux: mux, gen: gen, events: events}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

// onboard walks user through login, quick profile, consent and every
// onboarding question.
func (f *apiFixture) onboard(t *testing.T, user string) {
	t.Helper()
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/login", handlers.LoginRequest{User: user}).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/session/"+user+"/quick-profile",
		types.QuickProfile{Alias: "Mari", Occupation: "nurse"}).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/session/"+user+"/consent", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/session/"+user+"/answers", handlers.AnswerRequest{Answer: "Lisbon"}).Code)
	w := f.do(t, "POST", "/api/session/"+user+"/answers", handlers.AnswerRequest{Answer: "Last summer"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, types.PhaseJournaling, decode[handlers.SessionResponse](t, w).Phase)
}

func TestLogin_NewUserStartsWithQuickProfile(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "POST", "/api/login", handlers.LoginRequest{User: "mari"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[handlers.SessionResponse](t, w)
	assert.Equal(t, "mari", resp.UserID)
	assert.Equal(t, types.PhaseQuickProfile, resp.Phase)
	require.NotNil(t, resp.Transition)
	assert.Equal(t, types.PhaseLogin, resp.Transition.From)
	assert.Equal(t, []engine.EventKind{engine.KindPhaseChanged}, f.events.kinds())
}

func TestLogin_BlankUserIsGuest(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "POST", "/api/login", handlers.LoginRequest{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.GuestUser, decode[handlers.SessionResponse](t, w).UserID)
}

func TestSession_RequiresLogin(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "GET", "/api/session/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, handlers.CodeNoSession, decode[handlers.ErrorResponse](t, w).Code)
}

func TestOnboarding_ShowsCurrentQuestion(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, "POST", "/api/login", handlers.LoginRequest{User: "mari"})
	f.do(t, "POST", "/api/session/mari/quick-profile", types.QuickProfile{Alias: "Mari"})

	w := f.do(t, "GET", "/api/session/mari", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[handlers.SessionResponse](t, w)
	assert.Equal(t, types.PhaseOnboarding, resp.Phase)
	assert.False(t, resp.Consent)
	assert.Equal(t, 2, resp.TotalQuestions)
	require.NotNil(t, resp.Question)
	assert.Equal(t, "origins", resp.Question.Key)
}

func TestAnswer_BeforeConsentIsRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, "POST", "/api/login", handlers.LoginRequest{User: "mari"})
	f.do(t, "POST", "/api/session/mari/quick-profile", types.QuickProfile{Alias: "Mari"})

	w := f.do(t, "POST", "/api/session/mari/answers", handlers.AnswerRequest{Answer: "Lisbon"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, handlers.CodeConsentRequired, decode[handlers.ErrorResponse](t, w).Code)
}

func TestEntry_WrongPhaseIsConflict(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, "POST", "/api/login", handlers.LoginRequest{User: "mari"})

	w := f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "hello"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, handlers.CodeWrongPhase, decode[handlers.ErrorResponse](t, w).Code)
}

func TestEntry_SavesReplyAndTags(t *testing.T) {
	f := newAPIFixture(t, "That sounds lovely.", `{"tags":[{"type":"person","value":"Ana"}]}`)
	f.onboard(t, "mari")

	w := f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "Lunch with Ana."})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[handlers.EntryResponse](t, w)
	require.NotNil(t, resp.Entry)
	assert.Equal(t, "That sounds lovely.", resp.Entry.Reply)
	assert.NotEmpty(t, resp.Entry.EntryID)
	assert.Empty(t, resp.ExtractionError)
	require.NotNil(t, resp.Session.Timeline)
	assert.Equal(t, 1, resp.Session.Timeline.Count)

	mem := decode[handlers.MemoryResponse](t, f.do(t, "GET", "/api/users/mari/memory", nil))
	assert.Equal(t, "person: Ana", mem.Summary)
	require.Len(t, mem.Types, 1)

	list := decode[handlers.EntriesResponse](t, f.do(t, "GET", "/api/users/mari/entries", nil))
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "Lunch with Ana.", list.Entries[0].Content)
	assert.Equal(t, 1, list.Timeline.Count)
}

func TestEntry_BlankIsNoContent(t *testing.T) {
	f := newAPIFixture(t)
	f.onboard(t, "mari")

	w := f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "   "})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.gen.prompts)
}

func TestEntry_ExtractionFailureIsReported(t *testing.T) {
	f := newAPIFixture(t, "Noted.", "I could not find any tags, sorry.")
	f.onboard(t, "mari")

	w := f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "A quiet day."})
	require.Equal(t, http.StatusCreated, w.Code)

	resp := decode[handlers.EntryResponse](t, w)
	assert.Equal(t, "Noted.", resp.Entry.Reply)
	assert.NotEmpty(t, resp.ExtractionError)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest("POST", "/api/login", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, handlers.CodeInvalidInput, decode[handlers.ErrorResponse](t, w).Code)
}

func TestPastSelf_RequiresEntries(t *testing.T) {
	f := newAPIFixture(t)
	f.onboard(t, "mari")

	w := f.do(t, "POST", "/api/session/mari/past-self", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, handlers.CodeNoEntries, decode[handlers.ErrorResponse](t, w).Code)

	s := decode[handlers.SessionResponse](t, f.do(t, "GET", "/api/session/mari", nil))
	assert.Equal(t, types.PhaseJournaling, s.Phase)
}

func TestPastSelf_Conversation(t *testing.T) {
	f := newAPIFixture(t,
		"reply one", `{"tags":[]}`,
		"reply two", `{"tags":[]}`,
		"I remember the sea.",
	)
	f.onboard(t, "mari")
	f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "Went to the sea."})
	f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "Started a new job."})

	w := f.do(t, "POST", "/api/session/mari/past-self", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.PhasePastSelf, decode[handlers.SessionResponse](t, w).Phase)

	w = f.do(t, "POST", "/api/session/mari/past-self/messages", handlers.PastSelfRequest{Message: "What did we do?"})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[handlers.PastSelfResponse](t, w)
	assert.Equal(t, "I remember the sea.", resp.Reply.Reply)
	require.Len(t, resp.History, 2)
	assert.Equal(t, types.RoleUser, resp.History[0].Role)

	prompt := f.gen.prompts[len(f.gen.prompts)-1]
	assert.Contains(t, prompt.System, "Went to the sea.")
	assert.Contains(t, prompt.System, "Started a new job.")

	w = f.do(t, "DELETE", "/api/session/mari/past-self", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.PhaseJournaling, decode[handlers.SessionResponse](t, w).Phase)
}

func TestPastSelf_EraExcludesLaterEntries(t *testing.T) {
	f := newAPIFixture(t,
		"r1", `{"tags":[]}`,
		"r2", `{"tags":[]}`,
		"r3", `{"tags":[]}`,
		"Back then I only knew the sea.",
	)
	f.onboard(t, "mari")
	f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "Went to the sea."})
	f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "Moved to Porto."})
	f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "Adopted a cat."})
	f.do(t, "POST", "/api/session/mari/past-self", nil)

	list := decode[handlers.EntriesResponse](t, f.do(t, "GET", "/api/users/mari/entries", nil))
	require.Len(t, list.Entries, 3)
	until := list.Entries[0].Day()

	w := f.do(t, "POST", "/api/session/mari/past-self/messages", handlers.PastSelfRequest{
		Message:  "Who were we?",
		Until:    until,
		EraLabel: "the early days",
	})
	require.Equal(t, http.StatusOK, w.Code)

	prompt := f.gen.prompts[len(f.gen.prompts)-1]
	assert.Contains(t, prompt.System, "Went to the sea.")
	assert.NotContains(t, prompt.System, "Moved to Porto.")
	assert.NotContains(t, prompt.System, "Adopted a cat.")
	assert.Contains(t, prompt.System, "the early days")
}

func TestPastSelf_InvalidEraIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "POST", "/api/session/mari/past-self/messages", handlers.PastSelfRequest{
		Message: "hi",
		Until:   "last tuesday",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPastSelf_BlankMessageIsNoContent(t *testing.T) {
	f := newAPIFixture(t, "r1", `{"tags":[]}`)
	f.onboard(t, "mari")
	f.do(t, "POST", "/api/session/mari/entries", handlers.EntryRequest{Content: "Went to the sea."})
	f.do(t, "POST", "/api/session/mari/past-self", nil)

	w := f.do(t, "POST", "/api/session/mari/past-self/messages", handlers.PastSelfRequest{Message: " "})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLogin_ResumesCompletedProfile(t *testing.T) {
	f := newAPIFixture(t)
	f.onboard(t, "mari")

	w := f.do(t, "POST", "/api/login", handlers.LoginRequest{User: "mari"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.PhaseJournaling, decode[handlers.SessionResponse](t, w).Phase)
}
