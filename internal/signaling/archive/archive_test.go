package archive

import (
	"context"
	"testing"
	"time"

	"github.com/velar/ringline/internal/signaling/call"
)

func sampleSnapshot() call.Snapshot {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	answered := created.Add(3 * time.Second)
	ended := answered.Add(47 * time.Second)
	return call.Snapshot{
		ID:          "call-1",
		Kind:        call.KindVideo,
		Group:       false,
		State:       call.StateEnded,
		InitiatorID: "alice",
		Participants: []call.ParticipantSnapshot{
			{ID: "alice", Role: call.RoleInitiator, SubState: call.SubLeft, ConnectedAt: &created},
			{ID: "bob", Role: call.RoleInvitee, SubState: call.SubLeft, ConnectedAt: &answered},
		},
		CreatedAt:   created,
		AnsweredAt:  &answered,
		EndedAt:     &ended,
		EndReason:   call.EndReasonNormal,
		EndedBy:     "alice",
		Duration:    47 * time.Second,
		SignalCount: 9,
		Ratings: []call.QualityRating{
			{Participant: "bob", Rating: 4, RatedAt: ended},
		},
	}
}

func TestFromSnapshot(t *testing.T) {
	rec := FromSnapshot(sampleSnapshot())

	if rec.CallID != "call-1" || rec.Kind != "video" {
		t.Errorf("header = %s/%s, want call-1/video", rec.CallID, rec.Kind)
	}
	if rec.FinalState != "Ended" || rec.EndReason != "normal" {
		t.Errorf("outcome = %s/%s, want Ended/normal", rec.FinalState, rec.EndReason)
	}
	if rec.DurationSec != 47 {
		t.Errorf("DurationSec = %d, want 47", rec.DurationSec)
	}
	if rec.SignalCount != 9 {
		t.Errorf("SignalCount = %d, want 9", rec.SignalCount)
	}
	if len(rec.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(rec.Participants))
	}
	if rec.Participants[0].Role != "initiator" || rec.Participants[1].Role != "invitee" {
		t.Errorf("roles = %s/%s", rec.Participants[0].Role, rec.Participants[1].Role)
	}
	if len(rec.Ratings) != 1 || rec.Ratings[0].Rating != 4 {
		t.Errorf("ratings = %+v, want one 4-star entry", rec.Ratings)
	}
}

func TestMemoryRecorder(t *testing.T) {
	r := NewMemoryRecorder()
	ctx := context.Background()

	rec := FromSnapshot(sampleSnapshot())
	if err := r.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, ok := r.Get("call-1")
	if !ok {
		t.Fatal("Get(call-1) not found")
	}
	if got.EndReason != "normal" {
		t.Errorf("EndReason = %q, want normal", got.EndReason)
	}

	// Re-recording the same call replaces, not duplicates
	rec.EndReason = "failed"
	if err := r.Record(ctx, rec); err != nil {
		t.Fatalf("re-Record failed: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if all := r.All(); len(all) != 1 || all[0].EndReason != "failed" {
		t.Errorf("All() = %+v, want single updated record", all)
	}
}
