package registry

import (
	"encoding/json"

	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/snapshot"
)

// persistedDoc is the on-disk shape: the record map plus the generation
// counter is tracked separately by snapshot.Store itself.
type persistedDoc struct {
	Records map[string]model.AgentRecord `json:"records"`
}

// Snapshot serializes the current record set and writes it via store.
func (r *Registry) Snapshot(store *snapshot.Store) (generation uint64, err error) {
	r.mu.Lock()
	doc := persistedDoc{Records: make(map[string]model.AgentRecord, len(r.records))}
	for name, rec := range r.records {
		if rec.State == model.StatePending {
			continue // never registered, nothing worth restoring
		}
		doc.Records[name] = *rec
	}
	r.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}
	return store.Save(data)
}

// LoadSnapshot restores records from store, used during the Registry's
// bootstrap window. Restored records start in Starting state regardless of
// their persisted state — existing agents are expected to re-register
// during the bootstrap window, which carries them forward to Ready once
// the Hub observes a fresh probe.
func (r *Registry) LoadSnapshot(store *snapshot.Store) error {
	data, _, err := store.Load()
	if err == snapshot.ErrNoSnapshot {
		return nil
	}
	if err != nil {
		return err
	}

	var doc persistedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, rec := range doc.Records {
		if _, known := r.known[name]; !known {
			continue
		}
		rc := rec
		rc.State = model.StateStarting
		rc.LeaseToken = "" // restored tokens are not in r.leases and cannot be renewed
		r.records[name] = &rc
	}
	return nil
}

// BootstrapWindow returns the set of restored-but-not-yet-reregistered
// agent names. Once an agent calls Register again it is assigned a lease
// token, so this simply reports anyone still on a snapshot-seeded,
// never-renewed lease.
func (r *Registry) BootstrapWindow() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []string
	for name, rec := range r.records {
		if rec.State == model.StateStarting && rec.LeaseToken == "" {
			pending = append(pending, name)
		}
	}
	return pending
}
