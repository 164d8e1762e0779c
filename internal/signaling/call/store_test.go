package call

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStoreCreateAndGet(t *testing.T) {
	st := NewStore()
	now := time.Now()

	s, err := st.Create("alice", KindVoice, false, now)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.ID == "" {
		t.Fatal("Create returned session without ID")
	}

	var gotInitiator ParticipantID
	if err := st.Get(s.ID, func(s *Session) { gotInitiator = s.InitiatorID }); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if gotInitiator != "alice" {
		t.Errorf("InitiatorID = %q, want alice", gotInitiator)
	}
	if st.Len() != 1 {
		t.Errorf("Len() = %d, want 1", st.Len())
	}
}

func TestStoreGetMissing(t *testing.T) {
	st := NewStore()
	err := st.Get("no-such-call", func(*Session) {})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(missing) = %v, want ErrSessionNotFound", err)
	}
	err = st.Mutate("no-such-call", func(*Session) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Mutate(missing) = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreOneActiveCallPerInitiator(t *testing.T) {
	st := NewStore()
	now := time.Now()

	if _, err := st.Create("alice", KindVoice, false, now); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := st.Create("alice", KindVoice, false, now)
	if !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("second Create = %v, want ErrDuplicateCall", err)
	}
}

func TestStoreActiveClaims(t *testing.T) {
	st := NewStore()
	now := time.Now()

	s, err := st.Create("alice", KindVoice, false, now)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !st.ClaimActive("bob", s.ID) {
		t.Fatal("first claim for bob should succeed")
	}
	if st.ClaimActive("bob", "other-call") {
		t.Fatal("second claim for bob should fail")
	}
	// Re-claiming for the same call is a no-op success
	if !st.ClaimActive("bob", s.ID) {
		t.Fatal("re-claim for the same call should succeed")
	}
	if got := st.ActiveCallOf("bob"); got != s.ID {
		t.Errorf("ActiveCallOf(bob) = %q, want %q", got, s.ID)
	}

	// Release bound to the wrong call must not free the claim
	st.ReleaseActive("bob", "other-call")
	if got := st.ActiveCallOf("bob"); got != s.ID {
		t.Errorf("ActiveCallOf(bob) after wrong release = %q, want %q", got, s.ID)
	}

	st.ReleaseActive("bob", s.ID)
	if got := st.ActiveCallOf("bob"); got != "" {
		t.Errorf("ActiveCallOf(bob) after release = %q, want empty", got)
	}
	if st.ClaimActive("bob", "other-call") != true {
		t.Fatal("claim after release should succeed")
	}
}

func TestStoreRemoveReleasesClaims(t *testing.T) {
	st := NewStore()
	now := time.Now()

	s, err := st.Create("alice", KindVoice, false, now)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	st.Remove(s.ID)

	if st.Len() != 0 {
		t.Errorf("Len() after Remove = %d, want 0", st.Len())
	}
	// Alice must be callable again
	if _, err := st.Create("alice", KindVoice, false, now); err != nil {
		t.Fatalf("Create after Remove failed: %v", err)
	}
}

func TestStoreMutateSerializesPerSession(t *testing.T) {
	st := NewStore()
	s, err := st.Create("alice", KindVoice, false, time.Now())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = st.Mutate(s.ID, func(s *Session) error {
					s.AppendLogNote("tick", time.Now())
					return nil
				})
			}
		}()
	}
	wg.Wait()

	var entries int
	if err := st.Get(s.ID, func(s *Session) { entries = len(s.SignalingLog()) }); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entries != workers*perWorker {
		t.Errorf("log entries = %d, want %d", entries, workers*perWorker)
	}
}

func TestStoreIDs(t *testing.T) {
	st := NewStore()
	now := time.Now()
	ids := make(map[string]bool)
	for _, who := range []ParticipantID{"a", "b", "c"} {
		s, err := st.Create(who, KindVoice, false, now)
		if err != nil {
			t.Fatalf("Create(%s) failed: %v", who, err)
		}
		ids[s.ID] = true
	}

	got := st.IDs()
	if len(got) != 3 {
		t.Fatalf("IDs() returned %d entries, want 3", len(got))
	}
	for _, id := range got {
		if !ids[id] {
			t.Errorf("IDs() returned unknown id %q", id)
		}
	}
}
