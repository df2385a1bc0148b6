package store

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Adapter is the boundary every other component talks to. It never returns
// errors: backend failures are logged and turned into neutral results, and
// a nil backend (unconfigured) yields the same neutral results silently.
type Adapter struct {
	backend Backend
	health  func(context.Context) error

	mu    sync.Mutex
	procs map[string]bool
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithHealthCheck sets the probe used by Reachable.
func WithHealthCheck(fn func(context.Context) error) AdapterOption {
	return func(a *Adapter) { a.health = fn }
}

// NewAdapter wraps backend. A nil backend puts the adapter in unconfigured
// mode.
func NewAdapter(backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{backend: backend, procs: make(map[string]bool)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Unconfigured returns an adapter with no backend.
func Unconfigured() *Adapter {
	return NewAdapter(nil)
}

// Configured reports whether a backend is attached.
func (a *Adapter) Configured() bool {
	return a != nil && a.backend != nil
}

// Reachable reports whether the backend answers its health check. Without
// a health check a configured adapter counts as reachable.
func (a *Adapter) Reachable(ctx context.Context) bool {
	if !a.Configured() {
		return false
	}
	if a.health == nil {
		return true
	}
	if err := a.health(ctx); err != nil {
		log.Debug().Err(err).Msg("Store health check failed")
		return false
	}
	return true
}

// Insert returns the persisted row, or nil when the insert did not happen.
func (a *Adapter) Insert(ctx context.Context, table string, row Row) Row {
	if !a.Configured() {
		return nil
	}
	out, err := a.backend.Insert(ctx, table, row)
	if errors.Is(err, ErrUniqueViolation) {
		log.Debug().Err(err).Str("table", table).Msg("Store insert hit an existing key")
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Store insert failed")
		return nil
	}
	return out
}

// Update returns the updated rows; empty means the row is missing, the
// guard no longer held, or the backend failed.
func (a *Adapter) Update(ctx context.Context, table, id string, patch Row, guard ...Filter) []Row {
	if !a.Configured() {
		return nil
	}
	out, err := a.backend.Update(ctx, table, id, patch, guard)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Str("id", id).Msg("Store update failed")
		return nil
	}
	return out
}

// Select returns matching rows, or nil on failure.
func (a *Adapter) Select(ctx context.Context, table string, q Query) []Row {
	if !a.Configured() {
		return nil
	}
	out, err := a.backend.Select(ctx, table, q)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Store select failed")
		return nil
	}
	return out
}

// Delete reports whether a row was removed.
func (a *Adapter) Delete(ctx context.Context, table, id string) bool {
	if !a.Configured() {
		return false
	}
	ok, err := a.backend.Delete(ctx, table, id)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Str("id", id).Msg("Store delete failed")
		return false
	}
	return ok
}

// HasProcedure reports whether procedure is installed. A successful probe
// is cached for the adapter's lifetime; a failed probe is retried next time.
func (a *Adapter) HasProcedure(ctx context.Context, procedure string) bool {
	if !a.Configured() {
		return false
	}

	a.mu.Lock()
	known, cached := a.procs[procedure]
	a.mu.Unlock()
	if cached {
		return known
	}

	ok, err := a.backend.HasProcedure(ctx, procedure)
	if err != nil {
		log.Warn().Err(err).Str("procedure", procedure).Msg("Procedure probe failed")
		return false
	}

	a.mu.Lock()
	a.procs[procedure] = ok
	a.mu.Unlock()
	log.Debug().Str("procedure", procedure).Bool("available", ok).Msg("Procedure capability detected")
	return ok
}

// Call invokes procedure. ok is false when the call failed; a procedure
// that turns out to be missing is forgotten so the next HasProcedure
// probes again.
func (a *Adapter) Call(ctx context.Context, procedure string, args ...any) (rows []Row, ok bool) {
	if !a.Configured() {
		return nil, false
	}
	out, err := a.backend.Call(ctx, procedure, args...)
	if err != nil {
		if errors.Is(err, ErrProcedureMissing) {
			a.mu.Lock()
			delete(a.procs, procedure)
			a.mu.Unlock()
		}
		log.Warn().Err(err).Str("procedure", procedure).Msg("Store procedure call failed")
		return nil, false
	}
	return out, true
}

// Subscribe always returns a handle. When the backend is unconfigured or
// refuses the subscription the handle is inert.
func (a *Adapter) Subscribe(table string, filter Filter, h Handlers) *Subscription {
	if !a.Configured() {
		return inertSubscription(table, filter)
	}
	sub, err := a.backend.Subscribe(table, filter, h)
	if err != nil {
		log.Warn().Err(err).Str("table", table).Msg("Store subscribe failed")
		return inertSubscription(table, filter)
	}
	return sub
}

// Unsubscribe releases sub. Safe to call with nil or inert handles, and
// more than once.
func (a *Adapter) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if !a.Configured() {
		sub.stop()
		return
	}
	a.backend.Unsubscribe(sub)
}

// Close releases the backend.
func (a *Adapter) Close() {
	if a.Configured() {
		a.backend.Close()
	}
}
