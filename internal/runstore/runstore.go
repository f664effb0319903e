// Package runstore implements the in-memory run id -> run record mapping of
// spec §4.8: write-once per run, concurrent reads, no iteration, no
// eviction. The store is deliberately ephemeral (spec Non-goals exclude
// persistent queues and cross-restart recovery).
package runstore

import (
	"sync"

	"github.com/jjeffery/kv"

	"github.com/forgerun/execgw/internal/execmodel"
)

// Store is a thread-safe run id -> RunRecord map.
type Store struct {
	mu      sync.RWMutex
	records map[string]execmodel.RunRecord
}

// New returns an empty run store.
func New() *Store {
	return &Store{records: map[string]execmodel.RunRecord{}}
}

// Put writes a run record exactly once; a second Put for the same id
// overwrites, but the orchestrator's contract is to call this only once per
// run at the end of the pipeline.
func (s *Store) Put(rec execmodel.RunRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
}

// Get returns the record for id, or a not-found kv.Error.
func (s *Store) Get(id string) (rec execmodel.RunRecord, err kv.Error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return rec, kv.NewError("run not found").With("runId", id)
	}
	return rec, nil
}
