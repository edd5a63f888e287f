package types

// Phase is the application phase a session is in.
type Phase string

// Session phases
const (
	PhaseLogin        Phase = "login"         // Waiting for a user identifier
	PhaseQuickProfile Phase = "quick_profile" // First login, quick profile not yet captured
	PhaseOnboarding   Phase = "onboarding"    // Consent and onboarding questions
	PhaseJournaling   Phase = "journaling"    // Steady state
	PhasePastSelf     Phase = "past_self"     // Conversation grounded in past entries
)

// ValidPhases contains all valid phases.
var ValidPhases = []Phase{
	PhaseLogin,
	PhaseQuickProfile,
	PhaseOnboarding,
	PhaseJournaling,
	PhasePastSelf,
}

// IsValidPhase checks if the given phase is known.
func IsValidPhase(p Phase) bool {
	for _, v := range ValidPhases {
		if p == v {
			return true
		}
	}
	return false
}

// IsValidPhaseTransition validates phase transitions.
//
// Valid transitions:
//
//	login -> quick_profile | onboarding | journaling
//	quick_profile -> onboarding | journaling
//	onboarding -> journaling
//	journaling -> past_self
//	past_self -> journaling
//
// Staying in the same phase is always valid.
func IsValidPhaseTransition(from, to Phase) bool {
	if !IsValidPhase(to) {
		return false
	}
	if from == to {
		return true
	}

	switch from {
	case PhaseLogin:
		return to == PhaseQuickProfile || to == PhaseOnboarding || to == PhaseJournaling

	case PhaseQuickProfile:
		return to == PhaseOnboarding || to == PhaseJournaling

	case PhaseOnboarding:
		return to == PhaseJournaling

	case PhaseJournaling:
		return to == PhasePastSelf

	case PhasePastSelf:
		return to == PhaseJournaling

	default:
		return false
	}
}
