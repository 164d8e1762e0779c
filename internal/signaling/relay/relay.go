// Package relay fans signaling envelopes out to the right participants
// of a call session, preserving per sender->recipient ordering.
package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/velar/ringline/internal/signaling/call"
	"github.com/velar/ringline/internal/signaling/envelope"
)

// Transport pushes a serialized signal to one participant's connection.
// Implementations guarantee per-recipient FIFO: two Deliver calls for the
// same recipient are observed by that recipient in call order. Receipt is
// not confirmed; an error means the enqueue itself failed.
type Transport interface {
	Deliver(pid call.ParticipantID, data []byte) error
}

// Message is the wire form handed to the transport
type Message struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id"`
	From    string `json:"from"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
	SentAt  int64  `json:"sent_at"`
}

// DeliveryFailure describes one recipient the transport could not reach
type DeliveryFailure struct {
	Participant call.ParticipantID
	SubState    call.SubState
	Err         error
}

// Relay routes envelopes between the participants of a session.
//
// Recipient computation and enqueue both happen under the session's
// exclusive lock, so envelopes from the same sender to the same
// recipient keep the order Relay was invoked in. No ordering across
// different senders is guaranteed.
type Relay struct {
	store     *call.Store
	transport Transport

	// onFailure is called after the session lock is released, once per
	// unreachable recipient. A failed peer never fails the sender's
	// request.
	onFailure func(callID string, f DeliveryFailure)

	now func() time.Time
}

// New creates a relay over the given store and transport
func New(store *call.Store, transport Transport) *Relay {
	return &Relay{store: store, transport: transport, now: time.Now}
}

// SetOnFailure sets the callback invoked for each undeliverable recipient
func (r *Relay) SetOnFailure(fn func(callID string, f DeliveryFailure)) {
	r.onFailure = fn
}

// Relay validates the sender, resolves the recipients for the envelope
// kind, appends it to the session's signaling log, and enqueues delivery.
// It returns the set of participants the envelope was enqueued for.
func (r *Relay) Relay(callID string, from call.ParticipantID, env *envelope.Envelope) ([]call.ParticipantID, error) {
	now := r.now()
	var delivered []call.ParticipantID
	var failures []DeliveryFailure

	err := r.store.Mutate(callID, func(s *call.Session) error {
		sender := s.Participant(from)
		if sender == nil {
			return call.ErrParticipantNotInSession
		}
		if sender.SubState.Resolved() {
			return call.ErrStaleParticipant
		}
		if s.State.IsTerminal() {
			return call.ErrSessionTerminated
		}
		s.Touch(from, now)

		recipients := r.recipients(s, from, env.Kind)
		data, mErr := json.Marshal(Message{
			Type:    "signal",
			CallID:  s.ID,
			From:    string(from),
			Kind:    string(env.Kind),
			Payload: env.Payload,
			SentAt:  now.UnixMilli(),
		})
		if mErr != nil {
			return mErr
		}

		for _, p := range recipients {
			if dErr := r.transport.Deliver(p.ID, data); dErr != nil {
				failures = append(failures, DeliveryFailure{Participant: p.ID, SubState: p.SubState, Err: dErr})
				continue
			}
			delivered = append(delivered, p.ID)
			if env.Kind == envelope.KindOffer {
				s.SetPendingOffer(p.ID, from)
			}
		}

		s.AppendLog(from, delivered, env.Kind, env.Size(), now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, f := range failures {
		slog.Debug("[Relay] Delivery failed", "call_id", callID, "to", f.Participant, "error", f.Err)
		if r.onFailure != nil {
			r.onFailure(callID, f)
		}
	}
	return delivered, nil
}

// recipients selects targets by envelope kind: offers and candidates go
// to every other non-resolved participant, answers go back to whoever
// sent the recipient its pending offer.
func (r *Relay) recipients(s *call.Session, from call.ParticipantID, kind envelope.Kind) []*call.Participant {
	if kind == envelope.KindAnswer {
		target := s.PendingOfferSender(from)
		if target == from {
			return nil
		}
		p := s.Participant(target)
		if p == nil || p.SubState.Resolved() {
			return nil
		}
		return []*call.Participant{p}
	}

	var out []*call.Participant
	for _, p := range s.Roster() {
		if p.ID == from || p.SubState.Resolved() {
			continue
		}
		out = append(out, p)
	}
	return out
}
