package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/fleetmesh/internal/model"
)

const subscriberBuffer = 128

// DefaultLeaseTTL is how long a registration remains valid without a Renew
// before the record transitions to Unreachable.
const DefaultLeaseTTL = 15 * time.Second

// Registry is the single-writer authoritative map of agent name to runtime
// record. The zero value is not usable; construct with New.
type Registry struct {
	mu       sync.Mutex
	records  map[string]*model.AgentRecord
	leases   map[string]string // token -> name
	known    map[string]model.AgentSpec
	subs     map[string][]chan model.ChangeEvent // name -> subscriber channels
	allSubs  []chan model.ChangeEvent            // subscribers to every name
	leaseTTL time.Duration
}

// New builds a Registry that only accepts registrations for names present
// in specs. Every known name starts with a Pending record so the
// supervisor can transition it (Starting, Failed) before the agent process
// ever calls Register.
func New(specs []model.AgentSpec) *Registry {
	known := make(map[string]model.AgentSpec, len(specs))
	records := make(map[string]*model.AgentRecord, len(specs))
	for _, s := range specs {
		known[s.Name] = s
		records[s.Name] = &model.AgentRecord{Spec: s, State: model.StatePending}
	}
	return &Registry{
		records:  records,
		leases:   make(map[string]string),
		known:    known,
		subs:     make(map[string][]chan model.ChangeEvent),
		leaseTTL: DefaultLeaseTTL,
	}
}

// Register is idempotent on name: re-registering an already-Ready agent
// renews its lease and updates its endpoint rather than creating a second
// record, so at most one active record exists per name.
func (r *Registry) Register(name, endpoint string, caps []string) (token string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.known[name]; !ok {
		return "", model.Wrap(model.KindRegistrationError, "registry", "unknown agent "+name, nil)
	}

	rec := r.records[name] // always present: New seeds a Pending record for every known name
	token = uuid.NewString()
	now := time.Now()

	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	delete(r.leases, rec.LeaseToken)
	endpointChanged := rec.Endpoint != "" && rec.Endpoint != endpoint
	rec.Endpoint = endpoint
	rec.LeaseToken = token
	rec.LeaseExpiresAt = now.Add(r.leaseTTL)
	r.leases[token] = name
	if rec.State == model.StatePending || rec.State == model.StateUnreachable ||
		rec.State == model.StateStopped || rec.State == model.StateFailed {
		rec.State = model.StateStarting
	}
	if endpointChanged {
		r.emit(name, model.EventEndpointChanged, *rec)
	} else {
		r.emit(name, model.EventRegistered, *rec)
	}
	return token, nil
}

// Renew extends the lease for token. Returns model.KindRegistrationError if
// the token is unknown or already expired.
func (r *Registry) Renew(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.leases[token]
	if !ok {
		return model.Wrap(model.KindRegistrationError, "registry", "unknown lease token", nil)
	}
	rec := r.records[name]
	now := time.Now()
	if now.After(rec.LeaseExpiresAt) {
		return model.Wrap(model.KindRegistrationError, "registry", "lease expired", nil)
	}
	rec.LeaseExpiresAt = now.Add(r.leaseTTL)
	return nil
}

// Deregister releases the record associated with token and marks it
// Stopped, per the agent runtime's cooperative-shutdown contract.
func (r *Registry) Deregister(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.leases[token]
	if !ok {
		return model.Wrap(model.KindRegistrationError, "registry", "unknown lease token", nil)
	}
	rec := r.records[name]
	rec.State = model.StateStopped
	delete(r.leases, token)
	r.emit(name, model.EventDeregistered, *rec)
	return nil
}

// Lookup is an O(1) read of one record by name.
func (r *Registry) Lookup(name string) (model.AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return model.AgentRecord{}, false
	}
	return *rec, true
}

// Query returns every record with the given capability that is currently
// Ready or Degraded.
func (r *Registry) Query(capability string) []model.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.AgentRecord
	for _, rec := range r.records {
		if rec.State != model.StateReady && rec.State != model.StateDegraded {
			continue
		}
		for _, c := range rec.Spec.Capabilities {
			if c == capability {
				out = append(out, *rec)
				break
			}
		}
	}
	return out
}

// All returns a snapshot of every known record, used by status reporting
// and the snapshot persister.
func (r *Registry) All() []model.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.AgentRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Transition is the Hub/Supervisor's entry point for mutating a record's
// state — the Registry is the only thing that may write State, but it does
// so on behalf of callers who observed a probe result or process exit.
func (r *Registry) Transition(name string, state model.AgentState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok || rec.State == state {
		return
	}
	rec.State = state
	r.emit(name, model.EventStateChanged, *rec)
}

// RecordHealth updates the bookkeeping fields the Hub owns on a record
// (last probe timestamp, consecutive failures) without necessarily changing
// State.
func (r *Registry) RecordHealth(name string, ts time.Time, consecutiveFailures int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return
	}
	rec.LastHealthTS = ts
	rec.ConsecutiveFailures = consecutiveFailures
}

// ExpireStaleLeases transitions any record whose lease has expired without
// renewal to Unreachable.
func (r *Registry) ExpireStaleLeases(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for name, rec := range r.records {
		if rec.State == model.StateUnreachable || rec.State == model.StateStopped || rec.State == model.StateFailed {
			continue
		}
		if !rec.LeaseExpiresAt.IsZero() && now.After(rec.LeaseExpiresAt) {
			rec.State = model.StateUnreachable
			r.emit(name, model.EventStateChanged, *rec)
			expired = append(expired, name)
		}
	}
	return expired
}

// Watch subscribes to ChangeEvents. If name is empty, the subscriber
// receives events for every agent; otherwise only for that name. The
// returned function unsubscribes and must be called to avoid leaking the
// channel slot.
func (r *Registry) Watch(name string) (<-chan model.ChangeEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan model.ChangeEvent, subscriberBuffer)
	if name == "" {
		r.allSubs = append(r.allSubs, ch)
	} else {
		r.subs[name] = append(r.subs[name], ch)
	}

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if name == "" {
			r.allSubs = removeChan(r.allSubs, ch)
		} else {
			r.subs[name] = removeChan(r.subs[name], ch)
		}
		close(ch)
	}
}

// emit must be called with mu held; it delivers ev to subscribers
// non-blockingly so a slow watcher cannot stall the single writer.
func (r *Registry) emit(name string, kind model.ChangeEventKind, rec model.AgentRecord) {
	ev := model.ChangeEvent{Name: name, Kind: kind, Record: rec, At: time.Now()}
	for _, ch := range r.subs[name] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range r.allSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func removeChan(chans []chan model.ChangeEvent, target chan model.ChangeEvent) []chan model.ChangeEvent {
	out := chans[:0]
	for _, c := range chans {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}
