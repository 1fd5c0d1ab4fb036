// Package presence keeps the in-memory table of who is live in which project.
package presence

import (
	"sync"
	"time"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Clock func() time.Time
}

// Registry maps projectID -> userID -> State. It is constructed once per
// process and handed to every connection handler; nothing else mutates it.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*projectTable
	clock    func() time.Time
}

// projectTable preserves insertion order so snapshots are stable.
type projectTable struct {
	order   []string
	entries map[string]*State
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		projects: make(map[string]*projectTable),
		clock:    clock,
	}
}

// Join inserts or overwrites the user's entry and returns the room snapshot.
// An overwritten entry keeps its original position in the snapshot order.
func (r *Registry) Join(projectID, userID, userName, userColor string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.projects[projectID]
	if !ok {
		table = &projectTable{entries: make(map[string]*State)}
		r.projects[projectID] = table
	}
	if _, exists := table.entries[userID]; !exists {
		table.order = append(table.order, userID)
	}
	table.entries[userID] = newState(userID, userName, userColor, r.clock().UTC())
	return table.snapshot()
}

// UpdateCursor overwrites the cursor. It reports false and changes nothing
// when the user has not joined the project.
func (r *Registry) UpdateCursor(projectID, userID string, cursor Point) ([]State, bool) {
	return r.mutate(projectID, userID, func(state *State) {
		state.Cursor = cursor
	})
}

// UpdateViewport overwrites the viewport under the same contract as UpdateCursor.
func (r *Registry) UpdateViewport(projectID, userID string, viewport Viewport) ([]State, bool) {
	return r.mutate(projectID, userID, func(state *State) {
		state.Viewport = viewport
	})
}

// UpdateSelection overwrites the selected object; nil clears it.
func (r *Registry) UpdateSelection(projectID, userID string, selectedObject *string) ([]State, bool) {
	var selected *string
	if selectedObject != nil {
		value := *selectedObject
		selected = &value
	}
	return r.mutate(projectID, userID, func(state *State) {
		state.SelectedObject = selected
	})
}

// Leave removes the user's entry and returns the remaining snapshot. An
// emptied project table is discarded.
func (r *Registry) Leave(projectID, userID string) ([]State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.projects[projectID]
	if !ok {
		return nil, false
	}
	if _, exists := table.entries[userID]; !exists {
		return table.snapshot(), false
	}
	delete(table.entries, userID)
	for index, id := range table.order {
		if id == userID {
			table.order = append(table.order[:index], table.order[index+1:]...)
			break
		}
	}
	if len(table.entries) == 0 {
		delete(r.projects, projectID)
		return []State{}, true
	}
	return table.snapshot(), true
}

// Snapshot returns every entry for the project in insertion order.
func (r *Registry) Snapshot(projectID string) []State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table, ok := r.projects[projectID]
	if !ok {
		return []State{}
	}
	return table.snapshot()
}

// Len reports how many users are present in the project.
func (r *Registry) Len(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	table, ok := r.projects[projectID]
	if !ok {
		return 0
	}
	return len(table.entries)
}

// Rooms reports how many projects currently have at least one entry.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}

func (r *Registry) mutate(projectID, userID string, apply func(*State)) ([]State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.projects[projectID]
	if !ok {
		return nil, false
	}
	state, ok := table.entries[userID]
	if !ok {
		return nil, false
	}
	apply(state)
	state.LastActive = r.clock().UTC()
	return table.snapshot(), true
}

func (t *projectTable) snapshot() []State {
	states := make([]State, 0, len(t.order))
	for _, userID := range t.order {
		states = append(states, t.entries[userID].clone())
	}
	return states
}
