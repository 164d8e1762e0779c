package call

import "testing"

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		allowed bool
	}{
		{"initiated to ringing", StateInitiated, StateRinging, true},
		{"initiated to ended", StateInitiated, StateEnded, true},
		{"initiated to busy", StateInitiated, StateBusy, true},
		{"initiated to rejected", StateInitiated, StateRejected, true},
		{"initiated to answered", StateInitiated, StateAnswered, false},
		{"ringing to answered", StateRinging, StateAnswered, true},
		{"ringing to missed", StateRinging, StateMissed, true},
		{"ringing to rejected", StateRinging, StateRejected, true},
		{"ringing to busy", StateRinging, StateBusy, true},
		{"ringing to ended", StateRinging, StateEnded, true},
		{"ringing to initiated", StateRinging, StateInitiated, false},
		{"answered to ended", StateAnswered, StateEnded, true},
		{"answered to missed", StateAnswered, StateMissed, false},
		{"answered to rejected", StateAnswered, StateRejected, false},
		{"ended is terminal", StateEnded, StateRinging, false},
		{"missed is terminal", StateMissed, StateAnswered, false},
		{"rejected is terminal", StateRejected, StateEnded, false},
		{"busy is terminal", StateBusy, StateEnded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminals := []State{StateEnded, StateMissed, StateRejected, StateBusy}
	for _, s := range terminals {
		if !s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = false, want true", s)
		}
	}
	for _, s := range []State{StateInitiated, StateRinging, StateAnswered} {
		if s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = true, want false", s)
		}
	}
}

func TestTerminalFor(t *testing.T) {
	tests := []struct {
		reason EndReason
		want   State
	}{
		{EndReasonBusy, StateBusy},
		{EndReasonRejected, StateRejected},
		{EndReasonTimeout, StateMissed},
		{EndReasonNormal, StateEnded},
		{EndReasonFailed, StateEnded},
		{EndReasonParticipantLeft, StateEnded},
	}
	for _, tt := range tests {
		if got := terminalFor(tt.reason); got != tt.want {
			t.Errorf("terminalFor(%v) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestEndReasonRoundTrip(t *testing.T) {
	reasons := []EndReason{
		EndReasonNormal, EndReasonBusy, EndReasonFailed,
		EndReasonRejected, EndReasonTimeout, EndReasonParticipantLeft,
	}
	for _, r := range reasons {
		if got := ParseEndReason(r.String()); got != r {
			t.Errorf("ParseEndReason(%q) = %v, want %v", r.String(), got, r)
		}
	}
	if got := ParseEndReason("something-else"); got != EndReasonNormal {
		t.Errorf("ParseEndReason(unknown) = %v, want EndReasonNormal", got)
	}
}

func TestSubStatePredicates(t *testing.T) {
	if !SubLeft.Resolved() || !SubDeclined.Resolved() {
		t.Error("Left and Declined should be resolved")
	}
	if SubConnected.Resolved() || SubInvited.Resolved() || SubRinging.Resolved() {
		t.Error("Connected, Invited, and Ringing should not be resolved")
	}
	if !SubInvited.Pending() || !SubRinging.Pending() {
		t.Error("Invited and Ringing should be pending")
	}
	if SubConnected.Pending() || SubLeft.Pending() {
		t.Error("Connected and Left should not be pending")
	}
}

func TestKindValid(t *testing.T) {
	if !KindVoice.Valid() || !KindVideo.Valid() {
		t.Error("voice and video should be valid kinds")
	}
	if Kind("fax").Valid() || Kind("").Valid() {
		t.Error("unknown kinds should be invalid")
	}
}
