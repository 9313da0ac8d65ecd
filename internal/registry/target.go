package registry

import "fmt"

// A Target identifies what a user-facing operation applies to: a single
// entity or a whole group. Callers resolve the free-form identifier once, at
// the API boundary, instead of re-guessing inside every handler.
type Target struct {
	EntityID  string
	GroupName string
}

// IsEntity reports whether the target is a single entity.
func (t Target) IsEntity() bool {
	return t.EntityID != ""
}

// ResolveTarget classifies an identifier as a group name or an entity id.
// Group names win: an identifier matching an existing group resolves to that
// group; otherwise it resolves to an entity if any group contains it.
func (r *Registry) ResolveTarget(id string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g, ok := r.lookup(id); ok && !g.Auto {
		return Target{GroupName: g.Name}, nil
	}
	if _, ok := r.groupOf(id); ok {
		return Target{EntityID: id}, nil
	}
	return Target{}, fmt.Errorf("target %q: %w", id, ErrNotFound)
}
