// Package types defines the shared HTTP API types for the signaling service.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	LiveSessions     int `json:"live_sessions"`
	ConnectedClients int `json:"connected_clients"`
}

// InitiateRequest starts a call. Callees holds one participant for a
// direct call, two or more for a group call.
type InitiateRequest struct {
	InitiatorID string   `json:"initiator_id"`
	Callees     []string `json:"callees"`
	Kind        string   `json:"kind"`
	Offer       string   `json:"offer"`
}

// InitiateResponse echoes the created call
type InitiateResponse struct {
	CallID string   `json:"call_id"`
	State  string   `json:"state"`
	Ringed []string `json:"ringed,omitempty"`
	Busy   []string `json:"busy,omitempty"`
}

// AnswerRequest accepts a ringing call
type AnswerRequest struct {
	ParticipantID string `json:"participant_id"`
	Answer        string `json:"answer"`
}

// DeclineRequest rejects a ringing call
type DeclineRequest struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason,omitempty"`
}

// EndRequest hangs up or cancels a call
type EndRequest struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason,omitempty"`
}

// CandidateRequest trickles one ICE candidate into a call
type CandidateRequest struct {
	ParticipantID string `json:"participant_id"`
	Candidate     string `json:"candidate"`
}

// OfferRequest forwards a renegotiation offer mid-call
type OfferRequest struct {
	ParticipantID string `json:"participant_id"`
	Offer         string `json:"offer"`
}

// QualityRequest rates a finished call, 1 (worst) to 5 (best), with
// optional free-form feedback.
type QualityRequest struct {
	ParticipantID string `json:"participant_id"`
	Score         int    `json:"score"`
	Feedback      string `json:"feedback,omitempty"`
}

// Participant is one roster entry in a call snapshot
type Participant struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	State         string `json:"state"`
	DeclineReason string `json:"decline_reason,omitempty"`
	InvitedAt     string `json:"invited_at"`
	ConnectedAt   string `json:"connected_at,omitempty"`
	ResolvedAt    string `json:"resolved_at,omitempty"`
}

// Call is the public view of a call session
type Call struct {
	CallID       string        `json:"call_id"`
	Kind         string        `json:"kind"`
	Group        bool          `json:"group"`
	State        string        `json:"state"`
	InitiatorID  string        `json:"initiator_id"`
	Participants []Participant `json:"participants"`
	CreatedAt    string        `json:"created_at"`
	AnsweredAt   string        `json:"answered_at,omitempty"`
	EndedAt      string        `json:"ended_at,omitempty"`
	EndReason    string        `json:"end_reason,omitempty"`
	EndedBy      string        `json:"ended_by,omitempty"`
	DurationSec  int64         `json:"duration_sec"`
}

// ErrorResponse is the body of any non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}
