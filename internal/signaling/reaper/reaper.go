// Package reaper sweeps the live session store on a fixed interval:
// ringing sessions past their timeout budget are resolved, silent
// participants are dropped, and terminal sessions past retention are
// archived and evicted.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/velar/ringline/internal/signaling/archive"
	"github.com/velar/ringline/internal/signaling/call"
)

// Config carries the reaper's timing policy
type Config struct {
	// Interval between sweeps
	Interval time.Duration
	// LivenessThreshold is how long a connected participant may go
	// without signaling activity before being marked Left.
	LivenessThreshold time.Duration
	// Retention is how long terminal sessions stay queryable in the
	// live store before archive + eviction.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Interval <= 0 {
		out.Interval = 5 * time.Second
	}
	if out.LivenessThreshold <= 0 {
		out.LivenessThreshold = 30 * time.Second
	}
	if out.Retention <= 0 {
		out.Retention = 5 * time.Minute
	}
	return out
}

// Reaper drives timeout transitions and eviction. It holds no state of
// its own: every decision goes through the machine under the same
// per-session lock client transitions use, so a race between an explicit
// end and a sweep resolves to whichever acquires the lock first.
type Reaper struct {
	store    *call.Store
	machine  *call.Machine
	recorder archive.Recorder
	cfg      Config

	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// New creates a reaper; call Start to begin sweeping
func New(store *call.Store, machine *call.Machine, recorder archive.Recorder, cfg Config) *Reaper {
	return &Reaper{
		store:    store,
		machine:  machine,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the reaper's time source. Tests only.
func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// Start launches the sweep loop until the context is canceled or Close
// is called.
func (r *Reaper) Start(ctx context.Context) {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Close stops the sweep loop and waits for it to finish
func (r *Reaper) Close() {
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
}

// Sweep runs one pass over every live session
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()
	for _, id := range r.store.IDs() {
		r.sweepSession(ctx, id, now)
	}
}

func (r *Reaper) sweepSession(ctx context.Context, id string, now time.Time) {
	if _, err := r.machine.ExpireRinging(id, now); err != nil {
		if !errors.Is(err, call.ErrSessionNotFound) {
			slog.Warn("[Reaper] Ring expiry failed", "call_id", id, "error", err)
		}
		return
	}

	snap, err := r.machine.Snapshot(id)
	if err != nil {
		return // evicted or ended between steps
	}

	if snap.State == call.StateAnswered {
		staleBefore := now.Add(-r.cfg.LivenessThreshold)
		for _, p := range snap.Participants {
			if p.SubState == call.SubConnected && p.LastSeenAt.Before(staleBefore) {
				if _, err := r.machine.ExpireParticipant(id, p.ID, staleBefore); err != nil {
					slog.Warn("[Reaper] Liveness expiry failed",
						"call_id", id, "participant", p.ID, "error", err)
				}
			}
		}
		snap, err = r.machine.Snapshot(id)
		if err != nil {
			return
		}
	}

	if !snap.State.IsTerminal() || snap.EndedAt == nil {
		return
	}
	if now.Sub(*snap.EndedAt) < r.cfg.Retention {
		return
	}

	// Persist the summary before eviction; on failure keep the session
	// for the next sweep rather than losing the record.
	if err := r.recorder.Record(ctx, archive.FromSnapshot(snap)); err != nil {
		slog.Error("[Reaper] Archive failed, deferring eviction", "call_id", id, "error", err)
		return
	}
	r.store.Remove(id)
	slog.Debug("[Reaper] Evicted", "call_id", id, "state", snap.State, "reason", snap.EndReason)
}
