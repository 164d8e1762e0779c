// Package app assembles the call session manager: store, state machine,
// relay, websocket hub, reaper, archive, and the HTTP surface.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/velar/ringline/internal/signaling/api"
	"github.com/velar/ringline/internal/signaling/archive"
	"github.com/velar/ringline/internal/signaling/call"
	"github.com/velar/ringline/internal/signaling/config"
	"github.com/velar/ringline/internal/signaling/envelope"
	"github.com/velar/ringline/internal/signaling/events"
	"github.com/velar/ringline/internal/signaling/gateway/ws"
	"github.com/velar/ringline/internal/signaling/reaper"
	"github.com/velar/ringline/internal/signaling/relay"
)

// Ringline is the assembled signaling server
type Ringline struct {
	cfg *config.Config

	store     *call.Store
	machine   *call.Machine
	codec     *envelope.Codec
	hub       *ws.Hub
	relay     *relay.Relay
	recorder  archive.Recorder
	reaper    *reaper.Reaper
	publisher events.Publisher
	builder   *events.Builder
	apiServer *api.Server
}

// NewServer wires all components from the configuration
func NewServer(cfg *config.Config) (*Ringline, error) {
	recorder, err := newRecorder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create call recorder: %w", err)
	}
	publisher, err := newPublisher(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}

	store := call.NewStore()
	machine := call.NewMachine(store, call.MachineConfig{RingTimeout: cfg.RingTimeout})
	codec := envelope.NewCodec(cfg.MaxSDPBytes)
	hub := ws.NewHub()
	rly := relay.New(store, hub)

	rl := &Ringline{
		cfg:       cfg,
		store:     store,
		machine:   machine,
		codec:     codec,
		hub:       hub,
		relay:     rly,
		recorder:  recorder,
		publisher: publisher,
		builder:   events.NewBuilder(cfg.NodeID),
	}

	machine.SetOnCreated(rl.onCreated)
	machine.SetOnTransition(rl.onTransition)

	// Any inbound frame from a connected client counts as liveness for
	// its active call.
	hub.SetOnActivity(func(pid call.ParticipantID) {
		id := store.ActiveCallOf(pid)
		if id == "" {
			return
		}
		_ = store.Mutate(id, func(s *call.Session) error {
			s.Touch(pid, time.Now())
			return nil
		})
	})
	hub.SetOnDisconnect(func(pid call.ParticipantID) {
		slog.Debug("[App] Participant disconnected", "participant", pid)
	})

	// A connected peer we cannot deliver to has effectively left the
	// call. Ringing invitees stay pending until the ring timeout.
	rly.SetOnFailure(func(callID string, f relay.DeliveryFailure) {
		if f.SubState != call.SubConnected {
			return
		}
		if _, err := machine.Leave(callID, f.Participant); err != nil {
			slog.Warn("[App] Failed to drop unreachable participant",
				"call_id", callID, "participant", f.Participant, "error", err)
		}
	})

	rl.reaper = reaper.New(store, machine, recorder, reaper.Config{
		Interval:          cfg.ReaperInterval,
		LivenessThreshold: cfg.LivenessThreshold,
		Retention:         cfg.Retention,
	})
	rl.apiServer = api.NewServer(cfg.HTTPAddr, machine, store, rly, codec, hub)

	return rl, nil
}

// Start launches the reaper and the HTTP listener
func (rl *Ringline) Start(ctx context.Context) error {
	rl.reaper.Start(ctx)
	return rl.apiServer.Start()
}

// Close shuts everything down in dependency order
func (rl *Ringline) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rl.apiServer.Stop(ctx); err != nil {
		slog.Warn("[App] API shutdown error", "error", err)
	}
	rl.reaper.Close()
	rl.hub.Close()
	if err := rl.recorder.Close(); err != nil {
		slog.Warn("[App] Recorder close error", "error", err)
	}
	if err := rl.publisher.Close(); err != nil {
		slog.Warn("[App] Publisher close error", "error", err)
	}
}

// stateNotice is pushed to every roster member on a call state change
type stateNotice struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	State     string `json:"state"`
	EndReason string `json:"end_reason,omitempty"`
	EndedBy   string `json:"ended_by,omitempty"`
}

func (rl *Ringline) onCreated(snap call.Snapshot) {
	ev := rl.builder.Call(events.CallInitiated, snap.ID)
	rl.fillEvent(ev, snap)
	rl.publish(ev)
}

func (rl *Ringline) onTransition(snap call.Snapshot, prev call.State) {
	var t events.EventType
	switch {
	case snap.State == call.StateRinging:
		t = events.CallRinging
	case snap.State == call.StateAnswered:
		t = events.CallAnswered
	case snap.State.IsTerminal():
		t = events.CallEnded
	default:
		return
	}

	ev := rl.builder.Call(t, snap.ID)
	rl.fillEvent(ev, snap)
	if t == events.CallEnded {
		ev.PrevState = prev.String()
		ev.FinalState = snap.State.String()
		ev.EndReason = snap.EndReason.String()
		ev.DurationSec = int64(snap.Duration.Seconds())
	}
	rl.publish(ev)
	rl.notifyRoster(snap)
}

func (rl *Ringline) fillEvent(ev *events.CallEvent, snap call.Snapshot) {
	ev.Kind = string(snap.Kind)
	ev.Group = snap.Group
	ev.InitiatorID = string(snap.InitiatorID)
	for _, p := range snap.Participants {
		ev.Participants = append(ev.Participants, string(p.ID))
	}
}

func (rl *Ringline) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rl.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("[App] Event publish failed", "subject", ev.Subject(), "error", err)
	}
}

func (rl *Ringline) notifyRoster(snap call.Snapshot) {
	notice := stateNotice{
		Type:    "call_state",
		CallID:  snap.ID,
		State:   snap.State.String(),
		EndedBy: string(snap.EndedBy),
	}
	if snap.EndReason != call.EndReasonNone {
		notice.EndReason = snap.EndReason.String()
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return
	}
	for _, p := range snap.Participants {
		// Offline members simply miss the notice
		_ = rl.hub.Deliver(p.ID, data)
	}
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case "", "log":
		return events.LogPublisher{}, nil
	case "noop":
		return events.NoopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}

func newRecorder(cfg *config.Config) (archive.Recorder, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.RecorderBackend {
	case "", "memory":
		return archive.NewMemoryRecorder(), nil
	case "postgres":
		return archive.NewPostgresRecorder(ctx, archive.PostgresConfig{DSN: cfg.PostgresDSN})
	case "redis":
		return archive.NewRedisRecorder(ctx, archive.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown recorder backend %q", cfg.RecorderBackend)
	}
}
