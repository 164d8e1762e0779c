package call

import (
	"hash/fnv"
	"sync"
	"time"
)

// storeShards is the number of lock shards in the session map. Sessions
// hash to a shard by call ID so unrelated calls never contend.
const storeShards = 32

// entry pairs a session with its exclusive lock. All reads and writes of
// the session go through this lock.
type entry struct {
	mu sync.Mutex
	s  *Session
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

// Store is the in-memory authoritative registry of call sessions.
//
// Mutations are serialized per session: Mutate applies a transition
// function under that session's exclusive lock. Different sessions
// proceed independently; there is no global lock.
type Store struct {
	shards [storeShards]*shard

	// active maps participant -> call ID for every non-resolved member
	// of a non-terminal session. It backs the one-active-call invariant
	// and the busy lookup.
	activeMu sync.Mutex
	active   map[ParticipantID]string
}

// NewStore creates an empty session store
func NewStore() *Store {
	st := &Store{active: make(map[ParticipantID]string)}
	for i := range st.shards {
		st.shards[i] = &shard{sessions: make(map[string]*entry)}
	}
	return st
}

func (st *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return st.shards[h.Sum32()%storeShards]
}

// Create registers a new session after claiming the initiator's active
// slot. Fails with ErrDuplicateCall when the initiator is already in a
// non-terminal session.
func (st *Store) Create(initiator ParticipantID, kind Kind, group bool, now time.Time) (*Session, error) {
	s := NewSession(initiator, kind, group, now)

	st.activeMu.Lock()
	if _, busy := st.active[initiator]; busy {
		st.activeMu.Unlock()
		return nil, ErrDuplicateCall
	}
	st.active[initiator] = s.ID
	st.activeMu.Unlock()

	sh := st.shardFor(s.ID)
	sh.mu.Lock()
	sh.sessions[s.ID] = &entry{s: s}
	sh.mu.Unlock()
	return s, nil
}

// Get runs fn with read access to the session under its lock. It exists
// for snapshot-style reads; use Mutate for writes.
func (st *Store) Get(id string, fn func(*Session)) error {
	return st.Mutate(id, func(s *Session) error {
		fn(s)
		return nil
	})
}

// Mutate applies fn to the session under its exclusive lock. Concurrent
// events for the same session are serialized and observed atomically.
func (st *Store) Mutate(id string, fn func(*Session) error) error {
	sh := st.shardFor(id)
	sh.mu.RLock()
	e, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.s)
}

// Remove evicts a session from the live store and releases any active
// claims still held by its participants.
func (st *Store) Remove(id string) {
	sh := st.shardFor(id)
	sh.mu.Lock()
	e, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
	}
	sh.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	roster := make([]ParticipantID, 0, len(e.s.roster))
	for _, p := range e.s.roster {
		roster = append(roster, p.ID)
	}
	e.mu.Unlock()

	st.activeMu.Lock()
	for _, pid := range roster {
		if st.active[pid] == id {
			delete(st.active, pid)
		}
	}
	st.activeMu.Unlock()
}

// ClaimActive reserves a participant's single active-call slot for the
// given session. Returns false if they are already in another call.
func (st *Store) ClaimActive(pid ParticipantID, callID string) bool {
	st.activeMu.Lock()
	defer st.activeMu.Unlock()
	if existing, busy := st.active[pid]; busy && existing != callID {
		return false
	}
	st.active[pid] = callID
	return true
}

// ReleaseActive frees a participant's active-call slot if it is held by
// the given session. Called when an invitee resolves or the session ends.
func (st *Store) ReleaseActive(pid ParticipantID, callID string) {
	st.activeMu.Lock()
	defer st.activeMu.Unlock()
	if st.active[pid] == callID {
		delete(st.active, pid)
	}
}

// ActiveCallOf returns the call ID the participant is currently bound
// to, or "" if they are free.
func (st *Store) ActiveCallOf(pid ParticipantID) string {
	st.activeMu.Lock()
	defer st.activeMu.Unlock()
	return st.active[pid]
}

// IDs returns the IDs of all live sessions. The result is a point-in-time
// snapshot; sessions may be created or evicted while iterating.
func (st *Store) IDs() []string {
	var out []string
	for _, sh := range st.shards {
		sh.mu.RLock()
		for id := range sh.sessions {
			out = append(out, id)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of live sessions, terminal ones included
func (st *Store) Len() int {
	n := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
