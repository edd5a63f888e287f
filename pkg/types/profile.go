package types

import "strings"

// Reserved profile keys. Onboarding question keys must not collide with them.
const (
	ProfileKeyConsent            = "consent"
	ProfileKeyOnboardingComplete = "onboarding_complete"
)

// NoAnswer is stored for quick-profile fields the user left blank.
const NoAnswer = "no answer"

// GuestUser is the identifier used when a user logs in without a name.
const GuestUser = "guest"

// Profile holds persisted per-user settings: the consent flag, the
// onboarding completion marker and one key per onboarding answer.
type Profile map[string]string

// HasConsent reports whether consent has been recorded as exactly "true".
func (p Profile) HasConsent() bool {
	return p[ProfileKeyConsent] == "true"
}

// Answer returns the trimmed value stored under key.
func (p Profile) Answer(key string) string {
	return strings.TrimSpace(p[key])
}

// IsComplete reports whether every key in questionKeys has a non-empty
// value and consent is "true". A nil profile is never complete.
func (p Profile) IsComplete(questionKeys []string) bool {
	if p == nil || !p.HasConsent() {
		return false
	}
	for _, k := range questionKeys {
		if p.Answer(k) == "" {
			return false
		}
	}
	return true
}

// IsReservedProfileKey reports whether key is used internally.
func IsReservedProfileKey(key string) bool {
	return key == ProfileKeyConsent || key == ProfileKeyOnboardingComplete
}

// QuickProfile is the short self-description captured once at first login.
type QuickProfile struct {
	Alias        string `json:"alias"`
	Occupation   string `json:"occupation"`
	SocialCircle string `json:"social_circle"`
	LifeFocus    string `json:"life_focus"`
}

// Normalize trims every field and replaces blank ones with NoAnswer.
func (q QuickProfile) Normalize() QuickProfile {
	return QuickProfile{
		Alias:        orNoAnswer(q.Alias),
		Occupation:   orNoAnswer(q.Occupation),
		SocialCircle: orNoAnswer(q.SocialCircle),
		LifeFocus:    orNoAnswer(q.LifeFocus),
	}
}

// DisplayName returns the alias, or userID when no alias was given.
func (q *QuickProfile) DisplayName(userID string) string {
	if q == nil || q.Alias == "" || q.Alias == NoAnswer {
		return userID
	}
	return q.Alias
}

func orNoAnswer(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoAnswer
	}
	return s
}
