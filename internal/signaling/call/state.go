package call

import "fmt"

// State represents the lifecycle state of a call session
type State int

const (
	// StateInitiated is the initial state when the session is created
	StateInitiated State = iota
	// StateRinging is after the initial offer has been relayed to all callees
	StateRinging
	// StateAnswered is after at least one callee connected
	StateAnswered
	// StateEnded is the normal terminal state
	StateEnded
	// StateMissed means no callee connected before the ring timeout
	StateMissed
	// StateRejected means the callee(s) explicitly declined
	StateRejected
	// StateBusy means the callee(s) were already in another active call
	StateBusy
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateInitiated:
		return "Initiated"
	case StateRinging:
		return "Ringing"
	case StateAnswered:
		return "Answered"
	case StateEnded:
		return "Ended"
	case StateMissed:
		return "Missed"
	case StateRejected:
		return "Rejected"
	case StateBusy:
		return "Busy"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[State][]State{
	StateInitiated: {StateRinging, StateEnded, StateMissed, StateRejected, StateBusy},
	StateRinging:   {StateAnswered, StateMissed, StateRejected, StateBusy, StateEnded},
	StateAnswered:  {StateEnded},
	StateEnded:     {}, // Terminal states, no transitions allowed
	StateMissed:    {},
	StateRejected:  {},
	StateBusy:      {},
}

// CanTransitionTo checks if a transition from current state to next state is valid
func (s State) CanTransitionTo(next State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s State) IsTerminal() bool {
	switch s {
	case StateEnded, StateMissed, StateRejected, StateBusy:
		return true
	}
	return false
}

// EndReason explains why a session reached a terminal state
type EndReason int

const (
	// EndReasonNone means the session has not ended
	EndReasonNone EndReason = iota
	// EndReasonNormal means a participant hung up after the call was answered
	EndReasonNormal
	// EndReasonBusy means the callee was already in another active call
	EndReasonBusy
	// EndReasonFailed means an internal fault made continuation unsafe
	EndReasonFailed
	// EndReasonRejected means the callee(s) declined
	EndReasonRejected
	// EndReasonTimeout means the ring timeout elapsed with no answer
	EndReasonTimeout
	// EndReasonParticipantLeft means the session drained below two connected parties
	EndReasonParticipantLeft
)

// String returns the string representation of the end reason
func (r EndReason) String() string {
	switch r {
	case EndReasonNone:
		return "none"
	case EndReasonNormal:
		return "normal"
	case EndReasonBusy:
		return "busy"
	case EndReasonFailed:
		return "failed"
	case EndReasonRejected:
		return "rejected"
	case EndReasonTimeout:
		return "timeout"
	case EndReasonParticipantLeft:
		return "participant-left"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// ParseEndReason maps the wire form of an end reason back to the enum.
// Unknown strings fall back to EndReasonNormal.
func ParseEndReason(s string) EndReason {
	switch s {
	case "busy":
		return EndReasonBusy
	case "failed":
		return EndReasonFailed
	case "rejected":
		return EndReasonRejected
	case "timeout":
		return EndReasonTimeout
	case "participant-left":
		return EndReasonParticipantLeft
	default:
		return EndReasonNormal
	}
}

// terminalFor maps an end reason to the terminal state it produces
func terminalFor(r EndReason) State {
	switch r {
	case EndReasonBusy:
		return StateBusy
	case EndReasonRejected:
		return StateRejected
	case EndReasonTimeout:
		return StateMissed
	default:
		return StateEnded
	}
}

// SubState represents an individual participant's position in the call
type SubState int

const (
	// SubInvited means the participant is on the roster but not yet offered
	SubInvited SubState = iota
	// SubRinging means the initial offer has been delivered to the participant
	SubRinging
	// SubConnected means the participant accepted and is in the call
	SubConnected
	// SubLeft means the participant disconnected, timed out, or hung up
	SubLeft
	// SubDeclined means the participant explicitly rejected the invite
	SubDeclined
)

// String returns the string representation of the sub-state
func (s SubState) String() string {
	switch s {
	case SubInvited:
		return "Invited"
	case SubRinging:
		return "Ringing"
	case SubConnected:
		return "Connected"
	case SubLeft:
		return "Left"
	case SubDeclined:
		return "Declined"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Resolved returns true if the participant can no longer join the call
func (s SubState) Resolved() bool {
	return s == SubLeft || s == SubDeclined
}

// Pending returns true if the participant has been invited but not yet
// connected, declined, or dropped
func (s SubState) Pending() bool {
	return s == SubInvited || s == SubRinging
}

// Role distinguishes the caller from the called parties
type Role int

const (
	// RoleInitiator is the participant who created the session
	RoleInitiator Role = iota
	// RoleInvitee is any called party
	RoleInvitee
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleInvitee:
		return "invitee"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Kind is the media type of a call
type Kind string

const (
	// KindVoice is an audio-only call
	KindVoice Kind = "voice"
	// KindVideo is an audio+video call
	KindVideo Kind = "video"
)

// Valid reports whether the kind is one of the supported call types
func (k Kind) Valid() bool {
	return k == KindVoice || k == KindVideo
}
