package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetmesh/internal/model"
	"github.com/dreamware/fleetmesh/internal/snapshot"
)

func specs() []model.AgentSpec {
	return []model.AgentSpec{
		{Name: "vision", Capabilities: []string{"vision"}},
		{Name: "stt", Capabilities: []string{"stt"}},
	}
}

func TestRegisterRejectsUnknownName(t *testing.T) {
	r := New(specs())
	_, err := r.Register("ghost", "127.0.0.1:9000", nil)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindRegistrationError))
}

func TestRegisterIsIdempotentOnName(t *testing.T) {
	r := New(specs())
	_, err := r.Register("vision", "127.0.0.1:7300", []string{"vision"})
	require.NoError(t, err)

	_, err = r.Register("vision", "127.0.0.1:7301", []string{"vision"})
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2, "stt stays Pending but is still a known record")

	rec, ok := r.Lookup("vision")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:7301", rec.Endpoint)
}

func TestQueryOnlyReturnsReadyOrDegraded(t *testing.T) {
	r := New(specs())
	_, err := r.Register("vision", "127.0.0.1:7300", []string{"vision"})
	require.NoError(t, err)

	assert.Empty(t, r.Query("vision"), "Starting state is not Ready/Degraded")

	r.Transition("vision", model.StateReady)
	assert.Len(t, r.Query("vision"), 1)

	r.Transition("vision", model.StateDegraded)
	assert.Len(t, r.Query("vision"), 1)

	r.Transition("vision", model.StateUnreachable)
	assert.Empty(t, r.Query("vision"))
}

func TestWatchDeliversEventsInOrder(t *testing.T) {
	r := New(specs())
	ch, unsub := r.Watch("vision")
	defer unsub()

	_, err := r.Register("vision", "127.0.0.1:7300", nil)
	require.NoError(t, err)
	r.Transition("vision", model.StateReady)
	r.Transition("vision", model.StateDegraded)

	var kinds []model.ChangeEventKind
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change event")
		}
	}
	assert.Equal(t, []model.ChangeEventKind{
		model.EventRegistered, model.EventStateChanged, model.EventStateChanged,
	}, kinds)
}

func TestDeregisterMarksStopped(t *testing.T) {
	r := New(specs())
	token, err := r.Register("vision", "127.0.0.1:7300", nil)
	require.NoError(t, err)

	require.NoError(t, r.Deregister(token))

	rec, ok := r.Lookup("vision")
	require.True(t, ok)
	assert.Equal(t, model.StateStopped, rec.State)
}

func TestExpireStaleLeases(t *testing.T) {
	r := New(specs())
	_, err := r.Register("vision", "127.0.0.1:7300", nil)
	require.NoError(t, err)
	r.Transition("vision", model.StateReady)

	expired := r.ExpireStaleLeases(time.Now().Add(time.Hour))
	assert.Equal(t, []string{"vision"}, expired)

	rec, _ := r.Lookup("vision")
	assert.Equal(t, model.StateUnreachable, rec.State)
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := New(specs())
	_, err := r.Register("vision", "127.0.0.1:7300", []string{"vision"})
	require.NoError(t, err)
	r.Transition("vision", model.StateReady)

	store := snapshot.NewStore(filepath.Join(t.TempDir(), "registry.snap"))
	_, err = r.Snapshot(store)
	require.NoError(t, err)

	restored := New(specs())
	require.NoError(t, restored.LoadSnapshot(store))

	rec, ok := restored.Lookup("vision")
	require.True(t, ok)
	assert.Equal(t, model.StateStarting, rec.State, "restored records start in Starting regardless of persisted state")
}
