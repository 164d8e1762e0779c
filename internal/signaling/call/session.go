package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/velar/ringline/internal/signaling/envelope"
)

// ParticipantID is an opaque identifier issued by the surrounding account
// system. The session manager never interprets it.
type ParticipantID string

// Participant is one roster entry of a call session
type Participant struct {
	ID       ParticipantID
	Role     Role
	SubState SubState

	// DeclineReason distinguishes an explicit decline from a busy callee.
	// Only meaningful when SubState is SubDeclined.
	DeclineReason string

	InvitedAt   time.Time
	ConnectedAt *time.Time
	ResolvedAt  *time.Time

	// LastSeenAt is bumped on every signaling activity from this
	// participant. The reaper uses it for liveness.
	LastSeenAt time.Time
}

// LogEntry is one relayed envelope in the session's append-only log
type LogEntry struct {
	Seq        int
	From       ParticipantID
	To         []ParticipantID
	Kind       envelope.Kind
	At         time.Time
	Size       int
	Note       string
}

// QualityRating is a post-call rating from one participant
type QualityRating struct {
	Participant ParticipantID
	Rating      int
	Feedback    string
	RatedAt     time.Time
}

// Session is the authoritative in-memory record of one call.
//
// All mutation goes through Store.Mutate, which holds the session's
// exclusive lock; Session itself carries no locking.
type Session struct {
	ID          string
	Kind        Kind
	Group       bool
	State       State
	InitiatorID ParticipantID

	// roster preserves invitation order; participants indexes it by ID
	roster       []*Participant
	participants map[ParticipantID]*Participant

	CreatedAt  time.Time
	AnsweredAt *time.Time
	EndedAt    *time.Time
	EndReason  EndReason
	EndedBy    ParticipantID

	// pendingOffer maps each recipient to the sender of the last offer
	// delivered to them; answers route back along this edge.
	pendingOffer map[ParticipantID]ParticipantID

	log     []LogEntry
	ratings []QualityRating
}

// NewSession creates a session in Initiated state with the initiator
// already connected. Callees are added by the machine.
func NewSession(initiator ParticipantID, kind Kind, group bool, now time.Time) *Session {
	s := &Session{
		ID:           uuid.New().String(),
		Kind:         kind,
		Group:        group,
		State:        StateInitiated,
		InitiatorID:  initiator,
		participants: make(map[ParticipantID]*Participant),
		pendingOffer: make(map[ParticipantID]ParticipantID),
		CreatedAt:    now,
	}
	init := &Participant{
		ID:         initiator,
		Role:       RoleInitiator,
		SubState:   SubConnected,
		InvitedAt:  now,
		LastSeenAt: now,
	}
	init.ConnectedAt = &now
	s.roster = append(s.roster, init)
	s.participants[initiator] = init
	return s
}

// Participant returns the roster entry for the given ID, or nil
func (s *Session) Participant(id ParticipantID) *Participant {
	return s.participants[id]
}

// Roster returns the roster in invitation order
func (s *Session) Roster() []*Participant {
	return s.roster
}

// AddParticipant appends an invitee to the roster
func (s *Session) AddParticipant(id ParticipantID, now time.Time) (*Participant, error) {
	if _, exists := s.participants[id]; exists {
		return nil, ErrDuplicateParticipant
	}
	p := &Participant{
		ID:         id,
		Role:       RoleInvitee,
		SubState:   SubInvited,
		InvitedAt:  now,
		LastSeenAt: now,
	}
	s.roster = append(s.roster, p)
	s.participants[id] = p
	return p, nil
}

// MarkRinging moves a pending invitee to Ringing once the offer reached them
func (s *Session) MarkRinging(id ParticipantID, now time.Time) error {
	p := s.participants[id]
	if p == nil {
		return ErrParticipantNotInSession
	}
	if p.SubState == SubInvited {
		p.SubState = SubRinging
		p.LastSeenAt = now
	}
	return nil
}

// MarkConnected moves a participant to Connected. Participants that have
// already left or declined cannot reconnect through a late message.
func (s *Session) MarkConnected(id ParticipantID, now time.Time) error {
	p := s.participants[id]
	if p == nil {
		return ErrParticipantNotInSession
	}
	if p.SubState.Resolved() {
		return ErrStaleParticipant
	}
	if p.SubState == SubConnected {
		return nil
	}
	p.SubState = SubConnected
	p.ConnectedAt = &now
	p.LastSeenAt = now
	return nil
}

// MarkLeft resolves a participant as gone (hangup, disconnect, or timeout)
func (s *Session) MarkLeft(id ParticipantID, now time.Time) error {
	p := s.participants[id]
	if p == nil {
		return ErrParticipantNotInSession
	}
	if p.SubState.Resolved() {
		return nil
	}
	p.SubState = SubLeft
	p.ResolvedAt = &now
	return nil
}

// MarkDeclined resolves an invitee as having rejected the call
func (s *Session) MarkDeclined(id ParticipantID, reason string, now time.Time) error {
	p := s.participants[id]
	if p == nil {
		return ErrParticipantNotInSession
	}
	if p.SubState.Resolved() {
		return nil
	}
	p.SubState = SubDeclined
	p.DeclineReason = reason
	p.ResolvedAt = &now
	return nil
}

// Touch records signaling activity from a participant
func (s *Session) Touch(id ParticipantID, now time.Time) {
	if p := s.participants[id]; p != nil {
		p.LastSeenAt = now
	}
}

// ConnectedCount returns the number of participants currently connected
func (s *Session) ConnectedCount() int {
	n := 0
	for _, p := range s.roster {
		if p.SubState == SubConnected {
			n++
		}
	}
	return n
}

// PendingInvitees returns invitees still in Invited or Ringing
func (s *Session) PendingInvitees() []*Participant {
	var out []*Participant
	for _, p := range s.roster {
		if p.Role == RoleInvitee && p.SubState.Pending() {
			out = append(out, p)
		}
	}
	return out
}

// AppendLog records a relayed envelope in the append-only signaling log
func (s *Session) AppendLog(from ParticipantID, to []ParticipantID, kind envelope.Kind, size int, now time.Time) {
	s.log = append(s.log, LogEntry{
		Seq:  len(s.log) + 1,
		From: from,
		To:   to,
		Kind: kind,
		At:   now,
		Size: size,
	})
}

// AppendLogNote records a non-envelope audit entry (cleanup, faults)
func (s *Session) AppendLogNote(note string, now time.Time) {
	s.log = append(s.log, LogEntry{
		Seq:  len(s.log) + 1,
		At:   now,
		Note: note,
	})
}

// SignalingLog returns the append-only envelope log
func (s *Session) SignalingLog() []LogEntry {
	return s.log
}

// SetPendingOffer records who sent the last offer to each recipient
func (s *Session) SetPendingOffer(recipient, sender ParticipantID) {
	s.pendingOffer[recipient] = sender
}

// PendingOfferSender returns the participant whose offer the recipient
// should answer. Falls back to the initiator, who sends the initial offer.
func (s *Session) PendingOfferSender(recipient ParticipantID) ParticipantID {
	if sender, ok := s.pendingOffer[recipient]; ok {
		return sender
	}
	return s.InitiatorID
}

// AddRating appends a post-call quality rating
func (s *Session) AddRating(r QualityRating) {
	s.ratings = append(s.ratings, r)
}

// Ratings returns all submitted quality ratings
func (s *Session) Ratings() []QualityRating {
	return s.ratings
}

// Duration returns the answered duration, or zero if the session never
// reached Answered.
func (s *Session) Duration() time.Duration {
	if s.AnsweredAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.AnsweredAt)
}

// transition applies a validated state change
func (s *Session) transition(next State) error {
	if !s.State.CanTransitionTo(next) {
		return ErrInvalidTransitionError(s.State, next)
	}
	s.State = next
	return nil
}

// finalize stamps the terminal fields exactly once
func (s *Session) finalize(reason EndReason, endedBy ParticipantID, now time.Time) {
	if s.EndedAt != nil {
		return
	}
	s.EndedAt = &now
	s.EndReason = reason
	s.EndedBy = endedBy
	for _, p := range s.roster {
		if p.SubState == SubConnected {
			p.SubState = SubLeft
			p.ResolvedAt = &now
		}
	}
}
