package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/velar/ringline/internal/signaling/archive"
	"github.com/velar/ringline/internal/signaling/call"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestReaper(t *testing.T) (*Reaper, *call.Store, *call.Machine, *archive.MemoryRecorder, *testClock) {
	t.Helper()
	store := call.NewStore()
	machine := call.NewMachine(store, call.MachineConfig{RingTimeout: 60 * time.Second})
	recorder := archive.NewMemoryRecorder()
	clock := newTestClock()
	machine.SetClock(clock.Now)

	r := New(store, machine, recorder, Config{
		Interval:          time.Second,
		LivenessThreshold: 30 * time.Second,
		Retention:         5 * time.Minute,
	})
	r.SetClock(clock.Now)
	return r, store, machine, recorder, clock
}

func startRinging(t *testing.T, m *call.Machine, callees ...call.ParticipantID) string {
	t.Helper()
	snap, err := m.Initiate("alice", callees, call.KindVoice)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if err := m.OfferDelivered(snap.ID, callees); err != nil {
		t.Fatalf("OfferDelivered failed: %v", err)
	}
	return snap.ID
}

func TestSweepExpiresRingingCalls(t *testing.T) {
	r, _, machine, _, clock := newTestReaper(t)
	ctx := context.Background()
	id := startRinging(t, machine, "bob")

	r.Sweep(ctx)
	snap, err := machine.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.State != call.StateRinging {
		t.Fatalf("state after early sweep = %v, want Ringing", snap.State)
	}

	clock.Advance(61 * time.Second)
	r.Sweep(ctx)

	snap, err = machine.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.State != call.StateMissed {
		t.Errorf("state after timeout sweep = %v, want Missed", snap.State)
	}
	if snap.EndReason != call.EndReasonTimeout {
		t.Errorf("end reason = %v, want timeout", snap.EndReason)
	}
}

func TestSweepDropsSilentParticipants(t *testing.T) {
	r, store, machine, _, clock := newTestReaper(t)
	ctx := context.Background()
	id := startRinging(t, machine, "bob")
	if _, err := machine.Answer(id, "bob"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	// Alice keeps signaling, bob goes silent
	clock.Advance(45 * time.Second)
	_ = store.Mutate(id, func(s *call.Session) error {
		s.Touch("alice", clock.Now())
		return nil
	})
	r.Sweep(ctx)

	snap, err := machine.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.State != call.StateEnded {
		t.Errorf("state = %v, want Ended after silent peer dropped", snap.State)
	}
	if snap.EndReason != call.EndReasonParticipantLeft {
		t.Errorf("end reason = %v, want participant-left", snap.EndReason)
	}
}

func TestSweepArchivesAndEvictsAfterRetention(t *testing.T) {
	r, store, machine, recorder, clock := newTestReaper(t)
	ctx := context.Background()
	id := startRinging(t, machine, "bob")
	if _, err := machine.Answer(id, "bob"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	clock.Advance(30 * time.Second)
	if _, err := machine.End(id, "alice", call.EndReasonNormal); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	// Still inside retention: queryable, not archived
	clock.Advance(time.Minute)
	r.Sweep(ctx)
	if _, err := machine.Snapshot(id); err != nil {
		t.Fatalf("terminal session evicted before retention: %v", err)
	}
	if recorder.Len() != 0 {
		t.Fatalf("recorder has %d records before retention, want 0", recorder.Len())
	}

	clock.Advance(5 * time.Minute)
	r.Sweep(ctx)

	if store.Len() != 0 {
		t.Errorf("store has %d sessions after retention sweep, want 0", store.Len())
	}
	rec, ok := recorder.Get(id)
	if !ok {
		t.Fatal("call record not archived")
	}
	if rec.FinalState != "Ended" || rec.EndReason != "normal" {
		t.Errorf("record = %s/%s, want Ended/normal", rec.FinalState, rec.EndReason)
	}
	if rec.DurationSec != 30 {
		t.Errorf("DurationSec = %d, want 30", rec.DurationSec)
	}
}

func TestSweepKeepsSessionWhenArchiveFails(t *testing.T) {
	store := call.NewStore()
	machine := call.NewMachine(store, call.MachineConfig{})
	clock := newTestClock()
	machine.SetClock(clock.Now)

	failing := &failingRecorder{}
	r := New(store, machine, failing, Config{Retention: time.Minute})
	r.SetClock(clock.Now)

	id := startRinging(t, machine, "bob")
	if _, err := machine.End(id, "alice", call.EndReasonNormal); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	clock.Advance(2 * time.Minute)
	r.Sweep(context.Background())

	if store.Len() != 1 {
		t.Errorf("session evicted despite archive failure, store len = %d", store.Len())
	}
}

func TestStartAndClose(t *testing.T) {
	r, _, _, _, _ := newTestReaper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	r.Close()
	// Close twice must not panic or hang
	r.Close()
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, archive.CallRecord) error {
	return context.DeadlineExceeded
}

func (failingRecorder) Close() error { return nil }
