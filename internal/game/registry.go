package game

import (
	"fmt"
	"sync"

	"game-session-hub/internal/model"
)

// Registry manages game registration and lookup.
// It provides a thread-safe way to register and retrieve games by type.
type Registry struct {
	games map[model.GameType]Descriptor
	order []model.GameType
	mu    sync.RWMutex
}

// NewRegistry creates an empty game registry.
func NewRegistry() *Registry {
	return &Registry{
		games: make(map[model.GameType]Descriptor),
	}
}

// NewDefaultRegistry creates a registry holding Defaults.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Defaults() {
		// Defaults are valid by construction.
		_ = r.Register(d)
	}
	return r
}

// Register adds a game to the registry.
// If a game with the same type already exists, it will be replaced and keeps
// its position.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("cannot register game: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.games[d.Type]; !ok {
		r.order = append(r.order, d.Type)
	}
	r.games[d.Type] = d
	return nil
}

// Get retrieves a game by its type.
func (r *Registry) Get(t model.GameType) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.games[t]
	return d, ok
}

// Lookup parses s and returns the registered game for it.
func (r *Registry) Lookup(s string) (Descriptor, error) {
	t, err := model.ParseGameType(s)
	if err != nil {
		return Descriptor{}, err
	}
	d, ok := r.Get(t)
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q is not registered", model.ErrInvalidGameType, t)
	}
	return d, nil
}

// List returns all registered games in registration order.
// The returned slice is a copy, so modifications won't affect the registry.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	games := make([]Descriptor, 0, len(r.order))
	for _, t := range r.order {
		games = append(games, r.games[t])
	}
	return games
}

// Types returns all registered game types in registration order.
func (r *Registry) Types() []model.GameType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.GameType(nil), r.order...)
}

// AITypes returns the registered game types that can be played against the
// AI.
func (r *Registry) AITypes() []model.GameType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var types []model.GameType
	for _, t := range r.order {
		if r.games[t].HasAI {
			types = append(types, t)
		}
	}
	return types
}

// Count returns the number of registered games.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}

// Unregister removes a game from the registry by its type.
// Returns true if the game was found and removed, false otherwise.
func (r *Registry) Unregister(t model.GameType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.games[t]; !ok {
		return false
	}
	delete(r.games, t)
	for i, o := range r.order {
		if o == t {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
