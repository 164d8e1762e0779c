package call

import (
	"fmt"
	"log/slog"
	"time"
)

// MachineConfig carries the timing policy for the state machine
type MachineConfig struct {
	// RingTimeout is how long callees may ring before the session is
	// resolved as Missed.
	RingTimeout time.Duration
}

// DefaultRingTimeout is applied when the config leaves it unset
const DefaultRingTimeout = 60 * time.Second

// Machine is the single transition entry point for call sessions. All
// session mutation funnels through it; nothing else writes session state.
type Machine struct {
	store *Store
	cfg   MachineConfig

	// onTransition is invoked after the session lock is released, once
	// per observed state change. Used for event publication and client
	// notification; must not call back into the machine synchronously
	// for the same session.
	onTransition func(snap Snapshot, prev State)

	// onCreated is invoked once per successfully created session,
	// before any transition notification for it.
	onCreated func(snap Snapshot)

	now func() time.Time
}

// NewMachine creates a state machine over the given store
func NewMachine(store *Store, cfg MachineConfig) *Machine {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	return &Machine{store: store, cfg: cfg, now: time.Now}
}

// SetOnTransition sets the callback called after each state change
func (m *Machine) SetOnTransition(fn func(snap Snapshot, prev State)) {
	m.onTransition = fn
}

// SetOnCreated sets the callback called after each session creation
func (m *Machine) SetOnCreated(fn func(snap Snapshot)) {
	m.onCreated = fn
}

// SetClock overrides the machine's time source. Tests only.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// RingTimeout returns the configured ring timeout
func (m *Machine) RingTimeout() time.Duration {
	return m.cfg.RingTimeout
}

// ParticipantSnapshot is a point-in-time copy of one roster entry
type ParticipantSnapshot struct {
	ID            ParticipantID
	Role          Role
	SubState      SubState
	DeclineReason string
	InvitedAt     time.Time
	ConnectedAt   *time.Time
	ResolvedAt    *time.Time
	LastSeenAt    time.Time
}

// Snapshot is a point-in-time copy of a session, safe to use outside the
// session lock.
type Snapshot struct {
	ID           string
	Kind         Kind
	Group        bool
	State        State
	InitiatorID  ParticipantID
	Participants []ParticipantSnapshot
	CreatedAt    time.Time
	AnsweredAt   *time.Time
	EndedAt      *time.Time
	EndReason    EndReason
	EndedBy      ParticipantID
	Duration     time.Duration
	SignalCount  int
	Ratings      []QualityRating
}

func snapshotOf(s *Session) Snapshot {
	snap := Snapshot{
		ID:          s.ID,
		Kind:        s.Kind,
		Group:       s.Group,
		State:       s.State,
		InitiatorID: s.InitiatorID,
		CreatedAt:   s.CreatedAt,
		AnsweredAt:  s.AnsweredAt,
		EndedAt:     s.EndedAt,
		EndReason:   s.EndReason,
		EndedBy:     s.EndedBy,
		Duration:    s.Duration(),
		SignalCount: len(s.log),
		Ratings:     append([]QualityRating(nil), s.ratings...),
	}
	for _, p := range s.roster {
		snap.Participants = append(snap.Participants, ParticipantSnapshot{
			ID:            p.ID,
			Role:          p.Role,
			SubState:      p.SubState,
			DeclineReason: p.DeclineReason,
			InvitedAt:     p.InvitedAt,
			ConnectedAt:   p.ConnectedAt,
			ResolvedAt:    p.ResolvedAt,
			LastSeenAt:    p.LastSeenAt,
		})
	}
	return snap
}

// Initiate creates a session for the initiator and invites the callees.
// Callees already in another active call are resolved as busy on the
// spot; if nobody is left to ring, the session terminates immediately.
func (m *Machine) Initiate(initiator ParticipantID, callees []ParticipantID, kind Kind) (Snapshot, error) {
	if err := validateInitiate(initiator, callees, kind); err != nil {
		return Snapshot{}, err
	}
	now := m.now()
	group := len(callees) > 1

	s, err := m.store.Create(initiator, kind, group, now)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	prev := StateInitiated
	err = m.store.Mutate(s.ID, func(s *Session) error {
		for _, callee := range callees {
			p, addErr := s.AddParticipant(callee, now)
			if addErr != nil {
				return addErr
			}
			if !m.store.ClaimActive(callee, s.ID) {
				// Callee's store lookup shows another active call.
				p.SubState = SubDeclined
				p.DeclineReason = "busy"
				p.ResolvedAt = &now
				slog.Debug("[Call] Callee busy at initiate", "call_id", s.ID, "participant", callee)
			}
		}
		m.resolvePending(s, now)
		snap = snapshotOf(s)
		return nil
	})
	if err != nil {
		m.store.Remove(s.ID)
		return Snapshot{}, err
	}

	slog.Info("[Call] Initiated", "call_id", snap.ID, "kind", kind, "group", group,
		"initiator", initiator, "callees", len(callees))
	if m.onCreated != nil {
		m.onCreated(snap)
	}
	m.notifyTransition(snap, prev)
	return snap, nil
}

// OfferDelivered records that the initial offer reached the given
// callees and moves the session to Ringing.
func (m *Machine) OfferDelivered(callID string, delivered []ParticipantID) error {
	now := m.now()
	var snap Snapshot
	var prev State
	changed := false

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State.IsTerminal() {
			return nil
		}
		for _, pid := range delivered {
			_ = s.MarkRinging(pid, now)
		}
		if s.State == StateInitiated {
			if err := s.transition(StateRinging); err != nil {
				return err
			}
			changed = true
		}
		snap = snapshotOf(s)
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		slog.Debug("[Call] Ringing", "call_id", callID, "delivered", len(delivered))
		m.notifyTransition(snap, prev)
	}
	return nil
}

// Answer connects a callee. The first acceptance moves the session to
// Answered; later invitees keep ringing until they resolve themselves.
func (m *Machine) Answer(callID string, pid ParticipantID) (Snapshot, error) {
	now := m.now()
	var snap Snapshot
	var prev State
	changed := false

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State.IsTerminal() {
			return ErrSessionTerminated
		}
		p := s.Participant(pid)
		if p == nil {
			return ErrParticipantNotInSession
		}
		// Answered means a callee connected; the initiator is connected
		// from the start and has nothing to accept.
		if p.Role == RoleInitiator {
			return fmt.Errorf("%w: initiator cannot answer own call", ErrInvalidRequest)
		}
		if err := s.MarkConnected(pid, now); err != nil {
			return err
		}
		if s.State != StateAnswered {
			if s.State == StateInitiated {
				if err := s.transition(StateRinging); err != nil {
					return err
				}
			}
			if err := s.transition(StateAnswered); err != nil {
				return err
			}
			if s.AnsweredAt == nil {
				s.AnsweredAt = &now
			}
			changed = true
		}
		snap = snapshotOf(s)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if changed {
		slog.Info("[Call] Answered", "call_id", callID, "participant", pid)
		m.notifyTransition(snap, prev)
	}
	return snap, nil
}

// Decline resolves an invitee as having rejected the call. For group
// calls only that invitee drops off; the session becomes terminal once
// no invitee remains pending and nobody is connected.
func (m *Machine) Decline(callID string, pid ParticipantID, reason string) (Snapshot, error) {
	if reason == "" {
		reason = "declined"
	}
	now := m.now()
	var snap Snapshot
	var prev State

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State.IsTerminal() {
			snap = snapshotOf(s)
			return nil
		}
		p := s.Participant(pid)
		if p == nil {
			return ErrParticipantNotInSession
		}
		if p.SubState == SubConnected {
			return ErrInvalidTransitionError(s.State, StateRejected)
		}
		if err := s.MarkDeclined(pid, reason, now); err != nil {
			return err
		}
		m.store.ReleaseActive(pid, s.ID)
		m.resolvePending(s, now)
		snap = snapshotOf(s)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if snap.State != prev {
		slog.Info("[Call] Declined", "call_id", callID, "participant", pid, "state", snap.State)
		m.notifyTransition(snap, prev)
	}
	return snap, nil
}

// Leave removes a connected participant. The session ends with reason
// participant-left once fewer than two parties remain connected and no
// invitee is still pending.
func (m *Machine) Leave(callID string, pid ParticipantID) (Snapshot, error) {
	now := m.now()
	var snap Snapshot
	var prev State

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State.IsTerminal() {
			snap = snapshotOf(s)
			return nil
		}
		if s.Participant(pid) == nil {
			return ErrParticipantNotInSession
		}
		if err := s.MarkLeft(pid, now); err != nil {
			return err
		}
		m.store.ReleaseActive(pid, s.ID)
		m.resolvePending(s, now)
		snap = snapshotOf(s)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if snap.State != prev {
		slog.Info("[Call] Participant left", "call_id", callID, "participant", pid, "state", snap.State)
		m.notifyTransition(snap, prev)
	}
	return snap, nil
}

// End performs the idempotent terminal transition. Ending a session that
// is already terminal returns the recorded terminal snapshot, never an
// error, so client retries are safe.
func (m *Machine) End(callID string, pid ParticipantID, reason EndReason) (Snapshot, error) {
	if reason == EndReasonNone {
		reason = EndReasonNormal
	}
	now := m.now()
	var snap Snapshot
	var prev State
	changed := false

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State.IsTerminal() {
			snap = snapshotOf(s)
			return nil
		}
		if pid != "" && s.Participant(pid) == nil {
			return ErrParticipantNotInSession
		}
		m.finalize(s, reason, pid, now)
		changed = true
		snap = snapshotOf(s)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if changed {
		slog.Info("[Call] Ended", "call_id", callID, "by", pid, "reason", reason, "state", snap.State)
		m.notifyTransition(snap, prev)
	}
	return snap, nil
}

// ExpireRinging times out invitees still pending past the ring budget.
// An unanswered session resolves to a terminal state; in an answered
// group call only the silent invitees drop off.
func (m *Machine) ExpireRinging(callID string, now time.Time) (bool, error) {
	var snap Snapshot
	var prev State
	expired := false

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State.IsTerminal() {
			return nil
		}
		if len(s.PendingInvitees()) == 0 {
			return nil
		}
		if now.Sub(s.CreatedAt) < m.cfg.RingTimeout {
			return nil
		}
		for _, p := range s.PendingInvitees() {
			_ = s.MarkLeft(p.ID, now)
			m.store.ReleaseActive(p.ID, s.ID)
		}
		m.resolvePending(s, now)
		expired = true
		snap = snapshotOf(s)
		return nil
	})
	if err != nil || !expired {
		return false, err
	}
	slog.Info("[Call] Ring timeout", "call_id", callID, "state", snap.State)
	m.notifyTransition(snap, prev)
	return true, nil
}

// ExpireParticipant marks a connected participant as Left after their
// signaling went silent past the liveness threshold.
func (m *Machine) ExpireParticipant(callID string, pid ParticipantID, staleBefore time.Time) (bool, error) {
	now := m.now()
	var snap Snapshot
	var prev State
	expired := false

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State != StateAnswered {
			return nil
		}
		p := s.Participant(pid)
		if p == nil || p.SubState != SubConnected || p.LastSeenAt.After(staleBefore) {
			return nil
		}
		_ = s.MarkLeft(pid, now)
		m.store.ReleaseActive(pid, s.ID)
		s.AppendLogNote(fmt.Sprintf("participant %s expired by liveness sweep", pid), now)
		m.resolvePending(s, now)
		expired = true
		snap = snapshotOf(s)
		return nil
	})
	if err != nil || !expired {
		return false, err
	}
	slog.Warn("[Call] Participant expired", "call_id", callID, "participant", pid, "state", snap.State)
	if snap.State != prev {
		m.notifyTransition(snap, prev)
	}
	return true, nil
}

// Fail forces a non-terminal session to Ended with reason failed. Used
// when an internal fault makes continuation unsafe.
func (m *Machine) Fail(callID string, note string) (Snapshot, error) {
	now := m.now()
	var snap Snapshot
	var prev State
	changed := false

	err := m.store.Mutate(callID, func(s *Session) error {
		prev = s.State
		if s.State.IsTerminal() {
			snap = snapshotOf(s)
			return nil
		}
		s.AppendLogNote(note, now)
		m.finalize(s, EndReasonFailed, "", now)
		changed = true
		snap = snapshotOf(s)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if changed {
		slog.Error("[Call] Forced to failed", "call_id", callID, "note", note)
		m.notifyTransition(snap, prev)
	}
	return snap, nil
}

// RateQuality appends a post-call rating. Accepted only once the session
// is terminal.
func (m *Machine) RateQuality(callID string, pid ParticipantID, rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating %d out of range", ErrInvalidRequest, rating)
	}
	now := m.now()
	return m.store.Mutate(callID, func(s *Session) error {
		if !s.State.IsTerminal() {
			return ErrSessionNotTerminal
		}
		if s.Participant(pid) == nil {
			return ErrParticipantNotInSession
		}
		s.AddRating(QualityRating{Participant: pid, Rating: rating, Feedback: feedback, RatedAt: now})
		return nil
	})
}

// Snapshot returns a point-in-time copy of the session
func (m *Machine) Snapshot(callID string) (Snapshot, error) {
	var snap Snapshot
	err := m.store.Get(callID, func(s *Session) {
		snap = snapshotOf(s)
	})
	return snap, err
}

// resolvePending recomputes the session state from the roster. The state
// is a pure function of participant sub-states plus the recorded end
// reason; this is the only place that derives it.
func (m *Machine) resolvePending(s *Session, now time.Time) {
	if s.State.IsTerminal() {
		return
	}

	if s.State == StateAnswered {
		if s.ConnectedCount() < 2 && len(s.PendingInvitees()) == 0 {
			m.finalize(s, EndReasonParticipantLeft, "", now)
		}
		return
	}

	// Pre-answer: the caller hanging up cancels the whole call.
	if init := s.Participant(s.InitiatorID); init != nil && init.SubState.Resolved() {
		m.finalize(s, EndReasonNormal, s.InitiatorID, now)
		return
	}

	// Otherwise terminal only once every invitee has resolved.
	if len(s.PendingInvitees()) > 0 {
		return
	}

	reason := EndReasonBusy
	for _, p := range s.roster {
		if p.Role != RoleInvitee {
			continue
		}
		switch {
		case p.SubState == SubLeft:
			// A timed-out or dropped invitee makes the call missed,
			// regardless of how the others resolved.
			m.finalize(s, EndReasonTimeout, "", now)
			return
		case p.SubState == SubDeclined && p.DeclineReason != "busy":
			reason = EndReasonRejected
		}
	}
	m.finalize(s, reason, "", now)
}

// finalize stamps terminal fields, applies the terminal transition, and
// releases every roster member's active-call claim.
func (m *Machine) finalize(s *Session, reason EndReason, by ParticipantID, now time.Time) {
	target := terminalFor(reason)
	if !s.State.CanTransitionTo(target) {
		// Answered sessions always end as Ended, whatever triggered it.
		target = StateEnded
		if reason == EndReasonTimeout || reason == EndReasonRejected || reason == EndReasonBusy {
			reason = EndReasonNormal
		}
	}
	s.finalize(reason, by, now)
	if err := s.transition(target); err != nil {
		slog.Warn("[Call] Terminal transition failed", "call_id", s.ID, "error", err)
		s.State = target
	}
	for _, p := range s.roster {
		m.store.ReleaseActive(p.ID, s.ID)
	}
}

func (m *Machine) notifyTransition(snap Snapshot, prev State) {
	if m.onTransition != nil && snap.State != prev {
		m.onTransition(snap, prev)
	}
}

func validateInitiate(initiator ParticipantID, callees []ParticipantID, kind Kind) error {
	if initiator == "" {
		return fmt.Errorf("%w: missing initiator", ErrInvalidRequest)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown call kind %q", ErrInvalidRequest, kind)
	}
	if len(callees) == 0 {
		return fmt.Errorf("%w: no callees", ErrInvalidRequest)
	}
	seen := make(map[ParticipantID]struct{}, len(callees)+1)
	seen[initiator] = struct{}{}
	for _, c := range callees {
		if c == "" {
			return fmt.Errorf("%w: empty callee id", ErrInvalidRequest)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate participant %s", ErrInvalidRequest, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}
