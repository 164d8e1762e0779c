package call

import "errors"

// Sentinel errors for use with errors.Is.
var (
	// ErrSessionNotFound indicates the call ID does not map to a live session.
	ErrSessionNotFound = errors.New("call session not found")

	// ErrDuplicateCall indicates the initiator is already in an active call.
	ErrDuplicateCall = errors.New("participant already in an active call")

	// ErrParticipantNotInSession indicates the participant is not on the roster.
	ErrParticipantNotInSession = errors.New("participant not in session")

	// ErrStaleParticipant indicates a message arrived after the participant
	// already left or declined. Callers drop the message silently.
	ErrStaleParticipant = errors.New("stale participant")

	// ErrDuplicateParticipant indicates a roster add for an existing member.
	ErrDuplicateParticipant = errors.New("participant already on roster")

	// ErrSessionTerminated indicates a non-idempotent operation on a
	// session that already reached a terminal state.
	ErrSessionTerminated = errors.New("session already terminated")

	// ErrSessionNotTerminal indicates an operation that requires a
	// terminal session, such as quality rating submission.
	ErrSessionNotTerminal = errors.New("session not yet terminal")

	// ErrInvalidRequest indicates a structurally invalid call request.
	ErrInvalidRequest = errors.New("invalid call request")

	// ErrInternalFault indicates an unexpected failure while mutating
	// session state. The session is forced to Ended/failed.
	ErrInternalFault = errors.New("internal fault")
)

// InvalidTransitionError reports a state change the machine does not allow.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition: " + e.From.String() + " -> " + e.To.String()
}

// ErrInvalidTransitionError builds an InvalidTransitionError
func ErrInvalidTransitionError(from, to State) error {
	return &InvalidTransitionError{From: from, To: to}
}
