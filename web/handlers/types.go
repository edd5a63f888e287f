package handlers

import (
	"github.com/scrypster/capsule/internal/engine"
	"github.com/scrypster/capsule/internal/onboarding"
	"github.com/scrypster/capsule/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes returned in ErrorResponse.Code for journal preconditions.
const (
	CodeWrongPhase      = "WRONG_PHASE"
	CodeConsentRequired = "CONSENT_REQUIRED"
	CodeNoEntries       = "NO_ENTRIES"
	CodeNoSession       = "NO_SESSION"
	CodeInvalidInput    = "INVALID_INPUT"
)

// LoginRequest is the request body for POST /api/login.
// A blank user logs in as the guest user.
type LoginRequest struct {
	User string `json:"user"`
}

// AnswerRequest is the request body for POST /api/session/{user}/answers.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// EntryRequest is the request body for POST /api/session/{user}/entries.
type EntryRequest struct {
	Content string `json:"content"`
}

// PastSelfRequest is the request body for POST /api/session/{user}/past-self/messages.
// Until bounds the era (YYYY-MM-DD, inclusive) and may be empty.
type PastSelfRequest struct {
	Message  string `json:"message"`
	Until    string `json:"until,omitempty"`
	EraLabel string `json:"era_label,omitempty"`
}

// SessionResponse describes a session after an operation.
type SessionResponse struct {
	UserID         string                    `json:"user_id"`
	Phase          types.Phase               `json:"phase"`
	Transition     *engine.Transition        `json:"transition,omitempty"`
	Consent        bool                      `json:"consent"`
	Step           int                       `json:"step"`
	TotalQuestions int                       `json:"total_questions"`
	Question       *onboarding.Question      `json:"question,omitempty"`
	Answered       []engine.AnsweredQuestion `json:"answered,omitempty"`
	Timeline       *engine.Timeline          `json:"timeline,omitempty"`
}

// EntryResponse is returned after an entry was written.
type EntryResponse struct {
	Entry           *engine.EntryResult `json:"entry"`
	ExtractionError string              `json:"extraction_error,omitempty"`
	Session         SessionResponse     `json:"session"`
}

// EntriesResponse is the response format for GET /api/users/{user}/entries.
type EntriesResponse struct {
	Entries  []types.Entry   `json:"entries"`
	Timeline engine.Timeline `json:"timeline"`
}

// MemoryResponse is the response format for GET /api/users/{user}/memory.
type MemoryResponse struct {
	Summary string               `json:"summary"`
	Types   []engine.TypeSummary `json:"types"`
}

// PastSelfResponse is returned for each past-self exchange.
type PastSelfResponse struct {
	Reply   *engine.PastSelfReply `json:"reply"`
	History []types.Message       `json:"history"`
}
