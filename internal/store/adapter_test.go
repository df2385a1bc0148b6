package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("connection refused")

// failingBackend fails every operation the way an unreachable server would.
type failingBackend struct{}

func (failingBackend) Insert(context.Context, string, Row) (Row, error) {
	return nil, errBackendDown
}
func (failingBackend) Update(context.Context, string, string, Row, []Filter) ([]Row, error) {
	return nil, errBackendDown
}
func (failingBackend) Select(context.Context, string, Query) ([]Row, error) {
	return nil, errBackendDown
}
func (failingBackend) Delete(context.Context, string, string) (bool, error) {
	return false, errBackendDown
}
func (failingBackend) Call(context.Context, string, ...any) ([]Row, error) {
	return nil, errBackendDown
}
func (failingBackend) HasProcedure(context.Context, string) (bool, error) {
	return false, errBackendDown
}
func (failingBackend) Subscribe(string, Filter, Handlers) (*Subscription, error) {
	return nil, errBackendDown
}
func (failingBackend) Unsubscribe(*Subscription) {}

func (failingBackend) Close() {}

// probeCounter counts capability probes on top of a Memory backend.
type probeCounter struct {
	*Memory
	probes int
}

func (p *probeCounter) HasProcedure(ctx context.Context, procedure string) (bool, error) {
	p.probes++
	return p.Memory.HasProcedure(ctx, procedure)
}

func assertNeutral(t *testing.T, a *Adapter) {
	t.Helper()
	ctx := context.Background()

	assert.Nil(t, a.Insert(ctx, TableRooms, newRoomRow("omok")))
	assert.Empty(t, a.Update(ctx, TableRooms, "r1", Row{"status": "playing"}, Eq("status", "waiting")))
	assert.Empty(t, a.Select(ctx, TableRooms, Where(Eq("game_type", "omok"))))
	assert.False(t, a.Delete(ctx, TableRooms, "r1"))
	assert.False(t, a.HasProcedure(ctx, ProcIncrementGamesPlayed))
	rows, ok := a.Call(ctx, ProcIncrementGamesPlayed, "r1")
	assert.False(t, ok)
	assert.Empty(t, rows)

	sub := a.Subscribe(TableRooms, Eq("game_type", "omok"), Handlers{})
	require.NotNil(t, sub)
	a.Unsubscribe(sub)
	a.Unsubscribe(sub)
	<-sub.Done()
	a.Unsubscribe(nil)
	a.Close()
}

func TestAdapter_Unconfigured(t *testing.T) {
	a := Unconfigured()
	assert.False(t, a.Configured())
	assertNeutral(t, a)

	var nilAdapter *Adapter
	assert.False(t, nilAdapter.Configured())
}

func TestAdapter_BackendFailureIsNeutral(t *testing.T) {
	a := NewAdapter(failingBackend{})
	assert.True(t, a.Configured())
	assertNeutral(t, a)
}

func TestAdapter_PassesThrough(t *testing.T) {
	a := NewAdapter(NewMemory())
	ctx := context.Background()

	row := a.Insert(ctx, TableRooms, newRoomRow("omok"))
	require.NotNil(t, row)

	rows := a.Update(ctx, TableRooms, row.String("id"), Row{"status": "playing"}, Eq("status", "waiting"))
	require.Len(t, rows, 1)
	assert.Empty(t, a.Update(ctx, TableRooms, row.String("id"), Row{"status": "playing"}, Eq("status", "waiting")))

	assert.Len(t, a.Select(ctx, TableRooms, Query{}), 1)
	assert.True(t, a.Delete(ctx, TableRooms, row.String("id")))
}

func TestAdapter_HasProcedureIsCached(t *testing.T) {
	backend := &probeCounter{Memory: NewMemory(WithProcedures())}
	a := NewAdapter(backend)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, a.HasProcedure(ctx, ProcIncrementGamesPlayed))
	}
	assert.Equal(t, 1, backend.probes)

	assert.True(t, a.HasProcedure(ctx, ProcRecordAIGameResult))
	assert.Equal(t, 2, backend.probes)
}

func TestAdapter_MissingProcedureForgetsCapability(t *testing.T) {
	backend := &probeCounter{Memory: NewMemory()}
	a := NewAdapter(backend)
	ctx := context.Background()

	assert.False(t, a.HasProcedure(ctx, ProcIncrementGamesPlayed))
	assert.False(t, a.HasProcedure(ctx, ProcIncrementGamesPlayed))
	assert.Equal(t, 1, backend.probes)

	_, ok := a.Call(ctx, ProcIncrementGamesPlayed, "r1")
	assert.False(t, ok)

	assert.False(t, a.HasProcedure(ctx, ProcIncrementGamesPlayed))
	assert.Equal(t, 2, backend.probes)
}

func TestAdapter_Reachable(t *testing.T) {
	ctx := context.Background()

	assert.False(t, Unconfigured().Reachable(ctx))
	assert.True(t, NewAdapter(NewMemory()).Reachable(ctx))

	down := NewAdapter(NewMemory(), WithHealthCheck(func(context.Context) error { return errBackendDown }))
	assert.False(t, down.Reachable(ctx))
}

func TestAdapter_DuplicateInsertIsNeutral(t *testing.T) {
	a := NewAdapter(NewMemory())
	ctx := context.Background()

	row := a.Insert(ctx, TableRooms, newRoomRow("omok"))
	require.NotNil(t, row)
	dup := newRoomRow("omok")
	dup["id"] = row.String("id")
	assert.Nil(t, a.Insert(ctx, TableRooms, dup))
}
