// Package api exposes the signaling service over HTTP: call lifecycle
// operations under /api/v1 and the websocket delivery endpoint at /ws.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	types "github.com/velar/ringline/api/types/v1"
	"github.com/velar/ringline/internal/signaling/call"
	"github.com/velar/ringline/internal/signaling/envelope"
	"github.com/velar/ringline/internal/signaling/gateway/ws"
	"github.com/velar/ringline/internal/signaling/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks belong to the fronting proxy
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server provides the HTTP API for the call session manager
type Server struct {
	addr       string
	httpServer *http.Server

	machine *call.Machine
	store   *call.Store
	relay   *relay.Relay
	codec   *envelope.Codec
	hub     *ws.Hub

	startTime time.Time
}

// NewServer wires the HTTP surface over the call machine and relay
func NewServer(addr string, machine *call.Machine, store *call.Store, rly *relay.Relay, codec *envelope.Codec, hub *ws.Hub) *Server {
	s := &Server{
		addr:      addr,
		machine:   machine,
		store:     store,
		relay:     rly,
		codec:     codec,
		hub:       hub,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/stats", s.handleStats)

	r.Route("/api/v1/calls", func(r chi.Router) {
		r.Post("/", s.handleInitiate)
		r.Get("/{callID}", s.handleGetCall)
		r.Post("/{callID}/answer", s.handleAnswer)
		r.Post("/{callID}/decline", s.handleDecline)
		r.Post("/{callID}/end", s.handleEnd)
		r.Post("/{callID}/candidates", s.handleCandidate)
		r.Post("/{callID}/offer", s.handleOffer)
		r.Post("/{callID}/quality", s.handleQuality)
	})

	r.Get("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	slog.Info("[API] Starting HTTP API server", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[API] Server error", "error", err)
			panic(err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Health & Stats ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, types.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, types.StatsResponse{
		LiveSessions:     s.store.Len(),
		ConnectedClients: s.hub.Len(),
	})
}

// --- Call lifecycle ---

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req types.InitiateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.InitiatorID == "" || len(req.Callees) == 0 {
		s.writeError(w, http.StatusBadRequest, "initiator_id and callees are required")
		return
	}

	env, err := s.codec.Normalize(envelope.RawEnvelope{
		Kind:    envelope.KindOffer,
		Payload: req.Offer,
	})
	if err != nil {
		s.mapError(w, err)
		return
	}

	callees := make([]call.ParticipantID, 0, len(req.Callees))
	for _, c := range req.Callees {
		callees = append(callees, call.ParticipantID(c))
	}

	snap, err := s.machine.Initiate(call.ParticipantID(req.InitiatorID), callees, call.Kind(req.Kind))
	if err != nil {
		s.mapError(w, err)
		return
	}

	resp := types.InitiateResponse{
		CallID: snap.ID,
		State:  snap.State.String(),
	}
	for _, p := range snap.Participants {
		if p.SubState == call.SubDeclined && p.DeclineReason == "busy" {
			resp.Busy = append(resp.Busy, string(p.ID))
		}
	}

	// Ring whoever can still be reached. Delivery failures resolve the
	// unreachable invitees; the call itself stands.
	if !snap.State.IsTerminal() {
		delivered, err := s.relay.Relay(snap.ID, snap.InitiatorID, env)
		if err != nil {
			s.mapCallError(w, snap.ID, err)
			return
		}
		if len(delivered) > 0 {
			if err := s.machine.OfferDelivered(snap.ID, delivered); err != nil {
				slog.Warn("[API] Offer delivery mark failed", "call_id", snap.ID, "error", err)
			}
			for _, pid := range delivered {
				resp.Ringed = append(resp.Ringed, string(pid))
			}
		}
		if snap, err = s.machine.Snapshot(snap.ID); err == nil {
			resp.State = snap.State.String()
		}
	}

	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	snap, err := s.machine.Snapshot(chi.URLParam(r, "callID"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, callView(snap))
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	var req types.AnswerRequest
	if !s.decode(w, r, &req) {
		return
	}

	env, err := s.codec.Normalize(envelope.RawEnvelope{
		Kind:    envelope.KindAnswer,
		Payload: req.Answer,
	})
	if err != nil {
		s.mapError(w, err)
		return
	}

	snap, err := s.machine.Answer(callID, call.ParticipantID(req.ParticipantID))
	if err != nil {
		s.mapCallError(w, callID, err)
		return
	}

	if _, err := s.relay.Relay(callID, call.ParticipantID(req.ParticipantID), env); err != nil {
		slog.Warn("[API] Answer relay failed", "call_id", callID, "error", err)
	}
	s.writeJSON(w, http.StatusOK, callView(snap))
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	var req types.DeclineRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.machine.Decline(callID, call.ParticipantID(req.ParticipantID), req.Reason)
	if err != nil {
		s.mapCallError(w, callID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, callView(snap))
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	var req types.EndRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, err := s.machine.End(callID, call.ParticipantID(req.ParticipantID), call.ParseEndReason(req.Reason))
	if err != nil {
		s.mapCallError(w, callID, err)
		return
	}
	s.writeJSON(w, http.StatusOK, callView(snap))
}

func (s *Server) handleCandidate(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	var req types.CandidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	env, err := s.codec.Normalize(envelope.RawEnvelope{
		Kind:    envelope.KindICECandidate,
		Payload: req.Candidate,
	})
	if err != nil {
		s.mapError(w, err)
		return
	}
	if _, err := s.relay.Relay(callID, call.ParticipantID(req.ParticipantID), env); err != nil {
		s.mapCallError(w, callID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	var req types.OfferRequest
	if !s.decode(w, r, &req) {
		return
	}
	env, err := s.codec.Normalize(envelope.RawEnvelope{
		Kind:    envelope.KindOffer,
		Payload: req.Offer,
	})
	if err != nil {
		s.mapError(w, err)
		return
	}
	if _, err := s.relay.Relay(callID, call.ParticipantID(req.ParticipantID), env); err != nil {
		s.mapCallError(w, callID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	var req types.QualityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.machine.RateQuality(callID, call.ParticipantID(req.ParticipantID), req.Score, req.Feedback); err != nil {
		s.mapCallError(w, callID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Websocket ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("participant_id")
	if pid == "" {
		s.writeError(w, http.StatusBadRequest, "participant_id is required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[API] Websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(s.hub, conn, call.ParticipantID(pid))
	go client.Run()
}

// --- Helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[API] Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// mapError translates domain errors to HTTP status codes. Stale
// signaling is acknowledged and dropped rather than failed.
func (s *Server) mapError(w http.ResponseWriter, err error) {
	var inv *call.InvalidTransitionError
	switch {
	case errors.Is(err, call.ErrStaleParticipant):
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, envelope.ErrMalformedSignaling), errors.Is(err, call.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, call.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, call.ErrParticipantNotInSession):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, call.ErrDuplicateCall),
		errors.Is(err, call.ErrDuplicateParticipant),
		errors.Is(err, call.ErrSessionTerminated),
		errors.Is(err, call.ErrSessionNotTerminal),
		errors.As(err, &inv):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("[API] Internal error", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// mapCallError handles errors from operations on an existing call. An
// error outside the domain taxonomy means the session can no longer be
// trusted, so it is forced to Ended/failed before the 500 goes out.
func (s *Server) mapCallError(w http.ResponseWriter, callID string, err error) {
	if isDomainError(err) {
		s.mapError(w, err)
		return
	}
	if _, failErr := s.machine.Fail(callID, "internal fault: "+err.Error()); failErr != nil {
		slog.Error("[API] Failed to force session to failed", "call_id", callID, "error", failErr)
	}
	s.mapError(w, fmt.Errorf("%w: %v", call.ErrInternalFault, err))
}

func isDomainError(err error) bool {
	var inv *call.InvalidTransitionError
	return errors.Is(err, call.ErrStaleParticipant) ||
		errors.Is(err, envelope.ErrMalformedSignaling) ||
		errors.Is(err, call.ErrInvalidRequest) ||
		errors.Is(err, call.ErrSessionNotFound) ||
		errors.Is(err, call.ErrParticipantNotInSession) ||
		errors.Is(err, call.ErrDuplicateCall) ||
		errors.Is(err, call.ErrDuplicateParticipant) ||
		errors.Is(err, call.ErrSessionTerminated) ||
		errors.Is(err, call.ErrSessionNotTerminal) ||
		errors.As(err, &inv)
}

func callView(snap call.Snapshot) types.Call {
	out := types.Call{
		CallID:      snap.ID,
		Kind:        string(snap.Kind),
		Group:       snap.Group,
		State:       snap.State.String(),
		InitiatorID: string(snap.InitiatorID),
		CreatedAt:   snap.CreatedAt.UTC().Format(time.RFC3339),
		EndReason:   snap.EndReason.String(),
		EndedBy:     string(snap.EndedBy),
		DurationSec: int64(snap.Duration.Seconds()),
	}
	if snap.EndReason == call.EndReasonNone {
		out.EndReason = ""
	}
	if snap.AnsweredAt != nil {
		out.AnsweredAt = snap.AnsweredAt.UTC().Format(time.RFC3339)
	}
	if snap.EndedAt != nil {
		out.EndedAt = snap.EndedAt.UTC().Format(time.RFC3339)
	}
	for _, p := range snap.Participants {
		pv := types.Participant{
			ID:            string(p.ID),
			Role:          p.Role.String(),
			State:         p.SubState.String(),
			DeclineReason: p.DeclineReason,
			InvitedAt:     p.InvitedAt.UTC().Format(time.RFC3339),
		}
		if p.ConnectedAt != nil {
			pv.ConnectedAt = p.ConnectedAt.UTC().Format(time.RFC3339)
		}
		if p.ResolvedAt != nil {
			pv.ResolvedAt = p.ResolvedAt.UTC().Format(time.RFC3339)
		}
		out.Participants = append(out.Participants, pv)
	}
	return out
}
