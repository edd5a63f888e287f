package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/engine"
	"github.com/scrypster/capsule/internal/storage"
	"github.com/scrypster/capsule/pkg/types"
)

// maxBodyBytes bounds request bodies; a journal entry is a few KB at most.
const maxBodyBytes = 1 << 20

// JournalHandlers contains the HTTP handlers for the journaling API.
type JournalHandlers struct {
	machine  *engine.Machine
	journal  *engine.JournalService
	sessions *SessionRegistry
	events   engine.EventSink
	logger   *zap.Logger
}

// NewJournalHandlers creates the journaling handlers. events receives phase
// changes and may be nil.
func NewJournalHandlers(machine *engine.Machine, journal *engine.JournalService, sessions *SessionRegistry, events engine.EventSink, logger *zap.Logger) *JournalHandlers {
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	if events == nil {
		events = engine.EventSinkFunc(func(engine.Event) {})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalHandlers{
		machine:  machine,
		journal:  journal,
		sessions: sessions,
		events:   events,
		logger:   logger.Named("api"),
	}
}

// Login handles POST /api/login. Logging in again replaces the user's
// in-process session with a fresh one resumed from storage.
func (h *JournalHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	s, tr, err := h.machine.Login(r.Context(), req.User)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.sessions.Put(s)
	h.publishTransition(s.UserID, tr)

	respondJSON(w, http.StatusOK, h.view(r.Context(), s, &tr))
}

// GetSession handles GET /api/session/{user}.
func (h *JournalHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *engine.Session) {
		respondJSON(w, http.StatusOK, h.view(r.Context(), s, nil))
	})
}

// SubmitQuickProfile handles POST /api/session/{user}/quick-profile.
func (h *JournalHandlers) SubmitQuickProfile(w http.ResponseWriter, r *http.Request) {
	var req types.QuickProfile
	if !decodeBody(w, r, &req) {
		return
	}
	h.withSession(w, r, func(s *engine.Session) {
		tr, err := h.machine.SubmitQuickProfile(r.Context(), s, req)
		h.respondTransition(w, r, s, tr, err)
	})
}

// GiveConsent handles POST /api/session/{user}/consent.
func (h *JournalHandlers) GiveConsent(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *engine.Session) {
		tr, err := h.machine.GiveConsent(r.Context(), s)
		h.respondTransition(w, r, s, tr, err)
	})
}

// AnswerQuestion handles POST /api/session/{user}/answers.
// A blank answer leaves the session unchanged.
func (h *JournalHandlers) AnswerQuestion(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.withSession(w, r, func(s *engine.Session) {
		tr, err := h.machine.AnswerQuestion(r.Context(), s, req.Answer)
		h.respondTransition(w, r, s, tr, err)
	})
}

// SubmitEntry handles POST /api/session/{user}/entries.
// A blank entry is a no-op and answers 204.
func (h *JournalHandlers) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.withSession(w, r, func(s *engine.Session) {
		res, err := h.journal.SubmitEntry(r.Context(), s, req.Content)
		if err != nil {
			h.respondEngineError(w, err)
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		resp := EntryResponse{Entry: res, Session: h.view(r.Context(), s, nil)}
		if res.ExtractionErr != nil {
			resp.ExtractionError = res.ExtractionErr.Error()
		}
		respondJSON(w, http.StatusCreated, resp)
	})
}

// ListEntries handles GET /api/users/{user}/entries. It reads storage
// directly and needs no active session.
func (h *JournalHandlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID := extractID(r, "user")
	entries, err := h.journal.Entries(r.Context(), userID)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	first, last := types.DateRange(entries)
	respondJSON(w, http.StatusOK, EntriesResponse{
		Entries:  entries,
		Timeline: engine.Timeline{Count: len(entries), First: first, Last: last},
	})
}

// GetMemory handles GET /api/users/{user}/memory.
func (h *JournalHandlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	userID := extractID(r, "user")
	groups, err := h.journal.Knowledge(r.Context(), userID)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	summary, err := h.journal.Summary(r.Context(), userID)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MemoryResponse{Summary: summary, Types: groups})
}

// EnterPastSelf handles POST /api/session/{user}/past-self.
func (h *JournalHandlers) EnterPastSelf(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *engine.Session) {
		tr, err := h.machine.EnterPastSelf(r.Context(), s)
		h.respondTransition(w, r, s, tr, err)
	})
}

// ExitPastSelf handles DELETE /api/session/{user}/past-self.
func (h *JournalHandlers) ExitPastSelf(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *engine.Session) {
		tr, err := h.machine.ExitPastSelf(s)
		h.respondTransition(w, r, s, tr, err)
	})
}

// AskPastSelf handles POST /api/session/{user}/past-self/messages.
// A blank message is a no-op and answers 204.
func (h *JournalHandlers) AskPastSelf(w http.ResponseWriter, r *http.Request) {
	var req PastSelfRequest
	if !decodeBody(w, r, &req) {
		return
	}
	era, err := parseEra(req.Until, req.EraLabel)
	if err != nil {
		respondErrorCode(w, http.StatusBadRequest, CodeInvalidInput, "invalid era", err)
		return
	}

	h.withSession(w, r, func(s *engine.Session) {
		reply, err := h.journal.AskPastSelf(r.Context(), s, req.Message, era)
		if err != nil {
			h.respondEngineError(w, err)
			return
		}
		if reply == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		respondJSON(w, http.StatusOK, PastSelfResponse{Reply: reply, History: s.PastSelfHistory})
	})
}

// parseEra reads an inclusive YYYY-MM-DD bound. The era ends at the last
// instant of that day in UTC.
func parseEra(until, label string) (engine.EraOptions, error) {
	until = strings.TrimSpace(until)
	if until == "" {
		return engine.EraOptions{}, nil
	}
	day, err := time.Parse("2006-01-02", until)
	if err != nil {
		return engine.EraOptions{}, fmt.Errorf("until must be YYYY-MM-DD: %w", err)
	}
	return engine.EraOptions{
		Until: day.Add(24*time.Hour - time.Nanosecond),
		Label: strings.TrimSpace(label),
	}, nil
}

func (h *JournalHandlers) withSession(w http.ResponseWriter, r *http.Request, fn func(*engine.Session)) {
	userID := extractID(r, "user")
	if !h.sessions.With(userID, fn) {
		respondErrorCode(w, http.StatusNotFound, CodeNoSession,
			fmt.Sprintf("no active session for %q; log in first", userID), nil)
	}
}

func (h *JournalHandlers) respondTransition(w http.ResponseWriter, r *http.Request, s *engine.Session, tr engine.Transition, err error) {
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	h.publishTransition(s.UserID, tr)
	respondJSON(w, http.StatusOK, h.view(r.Context(), s, &tr))
}

func (h *JournalHandlers) publishTransition(userID string, tr engine.Transition) {
	if tr.Changed() {
		h.events.Publish(engine.EventPhaseChanged(userID, tr))
	}
}

// view builds the session response. Phase-specific fields are only filled
// where they apply.
func (h *JournalHandlers) view(ctx context.Context, s *engine.Session, tr *engine.Transition) SessionResponse {
	v := SessionResponse{
		UserID:         s.UserID,
		Phase:          s.Phase,
		Transition:     tr,
		Consent:        s.Consent,
		Step:           s.Step,
		TotalQuestions: len(h.machine.Questions()),
	}

	switch s.Phase {
	case types.PhaseOnboarding:
		if q, ok := h.machine.CurrentQuestion(s); ok {
			v.Question = &q
		}
		v.Answered = h.machine.AnsweredQuestions(ctx, s)
	case types.PhaseJournaling, types.PhasePastSelf:
		tl, err := h.journal.Timeline(ctx, s.UserID)
		if err != nil {
			h.logger.Warn("timeline unavailable", zap.String("user", s.UserID), zap.Error(err))
			break
		}
		v.Timeline = &tl
	}
	return v
}

// respondEngineError maps engine and storage errors onto HTTP statuses.
func (h *JournalHandlers) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNoEntries):
		respondErrorCode(w, http.StatusConflict, CodeNoEntries, "write an entry before talking to your past self", nil)
	case errors.Is(err, engine.ErrConsentRequired):
		respondErrorCode(w, http.StatusPreconditionFailed, CodeConsentRequired, "consent is required before answering", nil)
	case errors.Is(err, engine.ErrWrongPhase), errors.Is(err, engine.ErrInvalidTransition):
		respondErrorCode(w, http.StatusConflict, CodeWrongPhase, "operation not available in the current phase", err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondErrorCode(w, http.StatusBadRequest, CodeInvalidInput, "invalid input", err)
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err)
	default:
		h.logger.Error("request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// Helper functions

// extractID extracts a path parameter from the request.
func extractID(r *http.Request, key string) string {
	return r.PathValue(key)
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respondErrorCode(w, http.StatusBadRequest, CodeInvalidInput, "failed to parse request body", err)
		return false
	}
	return true
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	respondErrorCode(w, statusCode, http.StatusText(statusCode), message, err)
}

func respondErrorCode(w http.ResponseWriter, statusCode int, code, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  code,
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}
