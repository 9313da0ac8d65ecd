// Package registry holds the in-memory model of groups, their member
// entities and their schedule profiles. All mutations are serialized under
// one lock and persisted through the Store before they return, so a
// reconciliation tick never observes a half-applied change.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/climate-tools/climate-scheduler/internal/schedule"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Store persists the group model.
type Store interface {
	LoadGroups() ([]Group, error)
	SaveGroups([]Group) error
}

type Registry struct {
	store  Store
	logger *slog.Logger
	mu     sync.RWMutex
	groups map[string]*Group
}

// New creates a Registry backed by the given store and loads its contents.
func New(store Store, logger *slog.Logger) (*Registry, error) {
	groups, err := store.LoadGroups()
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	r := Registry{
		store:  store,
		logger: logger,
		groups: make(map[string]*Group, len(groups)),
	}
	for _, g := range groups {
		g := g.Copy()
		r.groups[g.Key] = &g
	}
	logger.Info("registry loaded", slog.Int("groups", len(r.groups)))
	return &r, nil
}

// save persists the current model. Callers must hold the write lock.
func (r *Registry) save() error {
	groups := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g.Copy())
	}
	slices.SortFunc(groups, func(a, b Group) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	if err := r.store.SaveGroups(groups); err != nil {
		return fmt.Errorf("save groups: %w", err)
	}
	return nil
}

// saveOrRestore persists the model; on failure it puts the group's
// pre-mutation snapshot back, so the model never diverges from the persisted
// document. Callers must hold the write lock; the group's key must not have
// changed.
func (r *Registry) saveOrRestore(g *Group, prev Group) error {
	if err := r.save(); err != nil {
		*g = prev
		return err
	}
	return nil
}

// lookup finds a group by key or display name. Callers must hold the lock.
func (r *Registry) lookup(name string) (*Group, bool) {
	if g, ok := r.groups[name]; ok {
		return g, true
	}
	for _, g := range r.groups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// groupOf returns the group an entity belongs to. Callers must hold the lock.
func (r *Registry) groupOf(entityID string) (*Group, bool) {
	for _, g := range r.groups {
		if g.contains(entityID) {
			return g, true
		}
	}
	return nil, false
}

// CreateGroup creates a new, empty group with a default schedule.
func (r *Registry) CreateGroup(name string) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" || isAutoKey(name) {
		return Group{}, fmt.Errorf("%w: invalid group name %q", ErrInvalidOperation, name)
	}
	if _, ok := r.lookup(name); ok {
		return Group{}, fmt.Errorf("group %q: %w", name, ErrAlreadyExists)
	}
	g := newGroup(name, name, false)
	r.groups[g.Key] = g
	if err := r.save(); err != nil {
		delete(r.groups, g.Key)
		return Group{}, err
	}
	r.logger.Info("group created", slog.String("group", name))
	return g.Copy(), nil
}

// DeleteGroup removes a user-created group. Member entities are demoted to
// auto-groups that inherit the group's live schedule, so no entity is ever
// left without a group.
func (r *Registry) DeleteGroup(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	if g.Auto {
		return fmt.Errorf("%w: cannot delete auto-group %q", ErrInvalidOperation, name)
	}
	for _, entityID := range g.Entities {
		auto := newGroup(autoKey(entityID), entityID, true)
		auto.Mode = g.Mode
		auto.Schedules = g.Schedules.Copy()
		auto.Profiles[DefaultProfile] = Profile{Name: DefaultProfile, Mode: g.Mode, Schedules: g.Schedules.Copy()}
		r.groups[auto.Key] = auto
	}
	delete(r.groups, g.Key)
	if err := r.save(); err != nil {
		return err
	}
	r.logger.Info("group deleted", slog.String("group", name), slog.Int("entities demoted", len(g.Entities)))
	return nil
}

// RenameGroup renames a user-created group.
func (r *Registry) RenameGroup(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(oldName)
	if !ok {
		return fmt.Errorf("group %q: %w", oldName, ErrNotFound)
	}
	if g.Auto {
		return fmt.Errorf("%w: cannot rename auto-group %q", ErrInvalidOperation, oldName)
	}
	if newName == "" || isAutoKey(newName) {
		return fmt.Errorf("%w: invalid group name %q", ErrInvalidOperation, newName)
	}
	if _, ok := r.lookup(newName); ok {
		return fmt.Errorf("group %q: %w", newName, ErrAlreadyExists)
	}
	delete(r.groups, g.Key)
	prevKey, prevName := g.Key, g.Name
	g.Key = newName
	g.Name = newName
	r.groups[g.Key] = g
	if err := r.save(); err != nil {
		delete(r.groups, g.Key)
		g.Key, g.Name = prevKey, prevName
		r.groups[g.Key] = g
		return err
	}
	return nil
}

// AddEntity moves an entity into a user-created group. The move is atomic:
// the entity leaves its current group (its auto-group is deleted; an emptied
// user group is removed) and joins the new one in a single operation.
func (r *Registry) AddEntity(groupName, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(groupName)
	if !ok {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	if g.Auto {
		return fmt.Errorf("%w: cannot add entities to auto-group %q", ErrInvalidOperation, groupName)
	}
	if g.contains(entityID) {
		return nil
	}
	if current, ok := r.groupOf(entityID); ok {
		r.detach(current, entityID)
	}
	g.Entities = append(g.Entities, entityID)
	if err := r.save(); err != nil {
		return err
	}
	r.logger.Info("entity added to group", slog.String("entity", entityID), slog.String("group", groupName))
	return nil
}

// detach removes an entity from its group without giving it a new home.
// Callers must hold the lock and must re-home the entity before returning.
func (r *Registry) detach(g *Group, entityID string) {
	if g.Auto {
		delete(r.groups, g.Key)
		return
	}
	g.Entities = slices.DeleteFunc(g.Entities, func(e string) bool { return e == entityID })
	if len(g.Entities) == 0 {
		delete(r.groups, g.Key)
	}
}

// RemoveEntity takes an entity out of a user-created group and gives it an
// auto-group that inherits the group's live schedule, preserving schedule
// continuity for the device.
func (r *Registry) RemoveEntity(groupName, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(groupName)
	if !ok {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	if g.Auto {
		return fmt.Errorf("%w: cannot remove entities from auto-group %q", ErrInvalidOperation, groupName)
	}
	if !g.contains(entityID) {
		return fmt.Errorf("entity %q in group %q: %w", entityID, groupName, ErrNotFound)
	}
	g.Entities = slices.DeleteFunc(g.Entities, func(e string) bool { return e == entityID })
	auto := newGroup(autoKey(entityID), entityID, true)
	auto.Mode = g.Mode
	auto.Schedules = g.Schedules.Copy()
	auto.Profiles[DefaultProfile] = Profile{Name: DefaultProfile, Mode: g.Mode, Schedules: g.Schedules.Copy()}
	r.groups[auto.Key] = auto
	if len(g.Entities) == 0 {
		delete(r.groups, g.Key)
	}
	return r.save()
}

// EnsureEntity guarantees the entity belongs to a group, creating its
// auto-group with a default schedule if needed.
func (r *Registry) EnsureEntity(entityID string) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groupOf(entityID); ok {
		return g.Copy(), nil
	}
	auto := newGroup(autoKey(entityID), entityID, true)
	auto.Entities = []string{entityID}
	r.groups[auto.Key] = auto
	if err := r.save(); err != nil {
		delete(r.groups, auto.Key)
		return Group{}, err
	}
	r.logger.Info("auto-group created", slog.String("entity", entityID))
	return auto.Copy(), nil
}

// SetEnabled enables or disables reconciliation for a group. An ignored
// group cannot be enabled; it must be un-ignored first.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	if enabled && g.Ignored {
		return fmt.Errorf("%w: group %q is ignored", ErrInvalidOperation, name)
	}
	prev := g.Copy()
	g.Enabled = enabled
	return r.saveOrRestore(g, prev)
}

// SetIgnored marks a group as ignored. Ignored groups are never reconciled,
// so ignoring also disables the group.
func (r *Registry) SetIgnored(name string, ignored bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	prev := g.Copy()
	g.Ignored = ignored
	if ignored {
		g.Enabled = false
	}
	return r.saveOrRestore(g, prev)
}

// SetSchedule replaces the node list for one bucket of a group's schedule and
// switches the group to the given mode. The change is written both to the
// live schedule and to the active profile's stored copy, so it survives
// profile switches.
func (r *Registry) SetSchedule(name string, day schedule.Bucket, mode schedule.Mode, nodes schedule.Nodes) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown schedule mode %q", ErrInvalidOperation, mode)
	}
	if err := nodes.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	prev := g.Copy()
	bucket := schedule.ResolveBucket(mode, day)
	g.Mode = mode
	if g.Schedules == nil {
		g.Schedules = schedule.ScheduleSet{}
	}
	g.Schedules[bucket] = append(schedule.Nodes(nil), nodes...)
	p := g.Profiles[g.ActiveProfile]
	p.Mode = mode
	p.Schedules = g.Schedules.Copy()
	g.Profiles[g.ActiveProfile] = p
	return r.saveOrRestore(g, prev)
}

// ClearSchedule resets a group's live schedule (and the active profile's
// copy) to the default.
func (r *Registry) ClearSchedule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(name)
	if !ok {
		return fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	prev := g.Copy()
	g.Mode = schedule.ModeAllDays
	g.Schedules = schedule.ScheduleSet{schedule.BucketAllDays: DefaultNodes()}
	p := g.Profiles[g.ActiveProfile]
	p.Mode = g.Mode
	p.Schedules = g.Schedules.Copy()
	g.Profiles[g.ActiveProfile] = p
	return r.saveOrRestore(g, prev)
}

// Group returns a copy of the named group.
func (r *Registry) Group(name string) (Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.lookup(name)
	if !ok {
		return Group{}, fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	return g.Copy(), nil
}

// Groups returns a copy of all groups, sorted by key. The copy gives the
// reconciliation tick a consistent snapshot to work from.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g.Copy())
	}
	slices.SortFunc(groups, func(a, b Group) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return groups
}

// GroupFor returns a copy of the group an entity belongs to.
func (r *Registry) GroupFor(entityID string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groupOf(entityID)
	if !ok {
		return Group{}, false
	}
	return g.Copy(), true
}

// FactoryReset drops all groups and persists the empty model.
func (r *Registry) FactoryReset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = make(map[string]*Group)
	r.logger.Warn("factory reset: all groups deleted")
	return r.save()
}

// Empty reports whether the registry holds no groups.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups) == 0
}
