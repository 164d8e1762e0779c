package archive

import (
	"context"
	"sync"
)

// MemoryRecorder keeps records in memory. Used in tests and single-node
// development setups.
type MemoryRecorder struct {
	mu      sync.RWMutex
	records map[string]CallRecord
	order   []string
}

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{records: make(map[string]CallRecord)}
}

// Record stores the record, replacing any previous write for the call
func (r *MemoryRecorder) Record(_ context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.CallID]; !exists {
		r.order = append(r.order, rec.CallID)
	}
	r.records[rec.CallID] = rec
	return nil
}

// Get returns a stored record by call ID
func (r *MemoryRecorder) Get(callID string) (CallRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[callID]
	return rec, ok
}

// All returns stored records in write order
func (r *MemoryRecorder) All() []CallRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CallRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out
}

// Len returns the number of stored records
func (r *MemoryRecorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Close implements Recorder
func (r *MemoryRecorder) Close() error { return nil }
