// Package events defines the call lifecycle event stream. Events are
// consumed by notification and analytics collaborators; the session
// manager only produces them.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType identifies one lifecycle event
type EventType string

const (
	CallInitiated EventType = "call.initiated"
	CallRinging   EventType = "call.ringing"
	CallAnswered  EventType = "call.answered"
	CallEnded     EventType = "call.ended"
)

// Subject naming conventions.
//
// Hierarchy:
//   ringline.calls.<call_id>.<event_suffix>  - Per-call events
//   ringline.records.archived                - Post-terminal record stream
const (
	// SubjectPrefix is the root of all ringline subjects
	SubjectPrefix = "ringline"

	SubjectCalls           = SubjectPrefix + ".calls"
	SubjectRecordsArchived = SubjectPrefix + ".records.archived"
)

// CallSubject builds a subject for a specific call event.
// Example: CallSubject("abc-123", "ended") => "ringline.calls.abc-123.ended"
func CallSubject(callID string, eventSuffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, callID, eventSuffix)
}

// Event is the common interface for published events
type Event interface {
	Subject() string
	Type() EventType
}

// BaseEvent carries fields common to all call events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType EventType `json:"event_type"`
	EventTime time.Time `json:"event_time"`
	CallID    string    `json:"call_id"`
	NodeID    string    `json:"node_id,omitempty"`
}

// Type implements Event
func (e BaseEvent) Type() EventType { return e.EventType }

// Subject implements Event
func (e BaseEvent) Subject() string {
	suffix := string(e.EventType)
	if i := len("call."); len(suffix) > i {
		suffix = suffix[i:]
	}
	return CallSubject(e.CallID, suffix)
}

// CallEvent is the concrete lifecycle event payload
type CallEvent struct {
	BaseEvent

	Kind         string   `json:"kind"`
	Group        bool     `json:"group"`
	InitiatorID  string   `json:"initiator_id"`
	Participants []string `json:"participants,omitempty"`

	// Populated on call.ended
	PrevState   string `json:"prev_state,omitempty"`
	FinalState  string `json:"final_state,omitempty"`
	EndReason   string `json:"end_reason,omitempty"`
	DurationSec int64  `json:"duration_sec,omitempty"`
}

// Builder constructs events with consistent defaults
type Builder struct {
	nodeID string
	now    func() time.Time
}

// NewBuilder creates an event builder for this node
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID, now: time.Now}
}

func (b *Builder) base(t EventType, callID string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: t,
		EventTime: b.now().UTC(),
		CallID:    callID,
		NodeID:    b.nodeID,
	}
}

// Call starts a lifecycle event for the given call
func (b *Builder) Call(t EventType, callID string) *CallEvent {
	return &CallEvent{BaseEvent: b.base(t, callID)}
}
