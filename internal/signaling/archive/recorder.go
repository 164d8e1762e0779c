// Package archive persists the durable summary of a terminated call
// before the live session is evicted. The document store is only used
// for these post-terminal records; live state never leaves memory.
package archive

import (
	"context"
	"time"

	"github.com/velar/ringline/internal/signaling/call"
)

// ParticipantRecord is one roster entry of an archived call
type ParticipantRecord struct {
	ID            string     `json:"id"`
	Role          string     `json:"role"`
	FinalState    string     `json:"final_state"`
	DeclineReason string     `json:"decline_reason,omitempty"`
	ConnectedAt   *time.Time `json:"connected_at,omitempty"`
}

// RatingRecord is one post-call quality rating
type RatingRecord struct {
	Participant string `json:"participant"`
	Rating      int    `json:"rating"`
	Feedback    string `json:"feedback,omitempty"`
}

// CallRecord is the summary written once per terminal session
type CallRecord struct {
	CallID       string              `json:"call_id"`
	Kind         string              `json:"kind"`
	Group        bool                `json:"group"`
	InitiatorID  string              `json:"initiator_id"`
	Participants []ParticipantRecord `json:"participants"`
	FinalState   string              `json:"final_state"`
	EndReason    string              `json:"end_reason"`
	CreatedAt    time.Time           `json:"created_at"`
	AnsweredAt   *time.Time          `json:"answered_at,omitempty"`
	EndedAt      *time.Time          `json:"ended_at,omitempty"`
	DurationSec  int64               `json:"duration_sec"`
	SignalCount  int                 `json:"signal_count"`
	Ratings      []RatingRecord      `json:"ratings,omitempty"`
}

// FromSnapshot builds the archive record for a terminal session
func FromSnapshot(snap call.Snapshot) CallRecord {
	rec := CallRecord{
		CallID:      snap.ID,
		Kind:        string(snap.Kind),
		Group:       snap.Group,
		InitiatorID: string(snap.InitiatorID),
		FinalState:  snap.State.String(),
		EndReason:   snap.EndReason.String(),
		CreatedAt:   snap.CreatedAt,
		AnsweredAt:  snap.AnsweredAt,
		EndedAt:     snap.EndedAt,
		DurationSec: int64(snap.Duration.Seconds()),
		SignalCount: snap.SignalCount,
	}
	for _, p := range snap.Participants {
		rec.Participants = append(rec.Participants, ParticipantRecord{
			ID:            string(p.ID),
			Role:          p.Role.String(),
			FinalState:    p.SubState.String(),
			DeclineReason: p.DeclineReason,
			ConnectedAt:   p.ConnectedAt,
		})
	}
	for _, r := range snap.Ratings {
		rec.Ratings = append(rec.Ratings, RatingRecord{
			Participant: string(r.Participant),
			Rating:      r.Rating,
			Feedback:    r.Feedback,
		})
	}
	return rec
}

// Recorder persists terminal call records.
// Implementations: MemoryRecorder (in-process), PostgresRecorder,
// RedisRecorder (remote).
type Recorder interface {
	// Record writes the summary. Called exactly once per session, after
	// it turned terminal and before the reaper evicts it.
	Record(ctx context.Context, rec CallRecord) error

	// Close releases backend resources
	Close() error
}
