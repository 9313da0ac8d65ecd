package registry

import (
	"fmt"
	"log/slog"
	"slices"
)

// CreateProfile adds a new profile to a group, initialized from the group's
// current live schedule.
func (r *Registry) CreateProfile(groupName, profileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(groupName)
	if !ok {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	if profileName == "" {
		return fmt.Errorf("%w: empty profile name", ErrInvalidOperation)
	}
	if _, ok := g.Profiles[profileName]; ok {
		return fmt.Errorf("profile %q: %w", profileName, ErrAlreadyExists)
	}
	prev := g.Copy()
	g.Profiles[profileName] = Profile{Name: profileName, Mode: g.Mode, Schedules: g.Schedules.Copy()}
	return r.saveOrRestore(g, prev)
}

// DeleteProfile removes a profile. The active profile and the last remaining
// profile cannot be deleted; switch to another profile first.
func (r *Registry) DeleteProfile(groupName, profileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(groupName)
	if !ok {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	if _, ok := g.Profiles[profileName]; !ok {
		return fmt.Errorf("profile %q: %w", profileName, ErrNotFound)
	}
	if profileName == g.ActiveProfile {
		return fmt.Errorf("%w: profile %q is active", ErrInvalidOperation, profileName)
	}
	if len(g.Profiles) == 1 {
		return fmt.Errorf("%w: cannot delete the last profile", ErrInvalidOperation)
	}
	prev := g.Copy()
	delete(g.Profiles, profileName)
	return r.saveOrRestore(g, prev)
}

// RenameProfile renames a profile, following the active-profile marker if
// the renamed profile is the active one.
func (r *Registry) RenameProfile(groupName, oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(groupName)
	if !ok {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	p, ok := g.Profiles[oldName]
	if !ok {
		return fmt.Errorf("profile %q: %w", oldName, ErrNotFound)
	}
	if newName == "" {
		return fmt.Errorf("%w: empty profile name", ErrInvalidOperation)
	}
	if _, ok := g.Profiles[newName]; ok {
		return fmt.Errorf("profile %q: %w", newName, ErrAlreadyExists)
	}
	prev := g.Copy()
	delete(g.Profiles, oldName)
	p.Name = newName
	g.Profiles[newName] = p
	if g.ActiveProfile == oldName {
		g.ActiveProfile = newName
	}
	return r.saveOrRestore(g, prev)
}

// ActivateProfile makes a stored profile the group's live schedule. The
// profile's mode and schedules are copied, not referenced: later edits to the
// live schedule are written back into the active profile's slot and never
// leak into other profiles.
func (r *Registry) ActivateProfile(groupName, profileName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.lookup(groupName)
	if !ok {
		return fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	p, ok := g.Profiles[profileName]
	if !ok {
		return fmt.Errorf("profile %q: %w", profileName, ErrNotFound)
	}
	prev := g.Copy()
	g.ActiveProfile = profileName
	g.Mode = p.Mode
	g.Schedules = p.Schedules.Copy()
	if err := r.saveOrRestore(g, prev); err != nil {
		return err
	}
	r.logger.Info("profile activated", slog.String("group", g.Name), slog.String("profile", profileName))
	return nil
}

// Profiles returns the names of a group's profiles (sorted) and the name of
// the active one.
func (r *Registry) Profiles(groupName string) ([]string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.lookup(groupName)
	if !ok {
		return nil, "", fmt.Errorf("group %q: %w", groupName, ErrNotFound)
	}
	names := make([]string, 0, len(g.Profiles))
	for name := range g.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, g.ActiveProfile, nil
}
