// Package overrides tracks manual schedule advances: the per-entity override
// window that suppresses scheduled reconciliation, and the append-only history
// of advances.
package overrides

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"github.com/google/uuid"
)

// Store persists the advance history across restarts.
type Store interface {
	LoadOverrideHistory() ([]Entry, error)
	SaveOverrideHistory([]Entry) error
}

// An Entry records one manual advance. Entries are append-only: cancelling or
// completing an override stamps the existing entry, it never removes it.
type Entry struct {
	ID          string        `json:"id"`
	EntityID    string        `json:"entity_id"`
	GroupName   string        `json:"group_name,omitempty"`
	ActivatedAt time.Time     `json:"activated_at"`
	TargetTime  time.Time     `json:"target_time"`
	TargetNode  schedule.Node `json:"target_node"`
	CancelledAt *time.Time    `json:"cancelled_at"`
	Completed   bool          `json:"completed"`
}

// Ledger holds the active override windows and the advance history.
type Ledger struct {
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	until   map[string]time.Time
	history []Entry
}

func New(store Store, logger *slog.Logger) (*Ledger, error) {
	history, err := store.LoadOverrideHistory()
	if err != nil {
		return nil, fmt.Errorf("load override history: %w", err)
	}
	l := Ledger{
		store:   store,
		logger:  logger,
		until:   make(map[string]time.Time),
		history: history,
	}
	// open windows survive restarts: the newest uncancelled, uncompleted
	// entry per entity still holds its override
	for i := range history {
		e := &history[i]
		if e.EntityID == "" || e.CancelledAt != nil || e.Completed {
			continue
		}
		if current, ok := l.until[e.EntityID]; !ok || e.TargetTime.After(current) {
			l.until[e.EntityID] = e.TargetTime
		}
	}
	return &l, nil
}

// Activate opens an override window for an entity until the given time and
// appends a history entry. An existing window for the entity is replaced, but
// its history entry remains untouched.
func (l *Ledger) Activate(entityID string, until time.Time, node schedule.Node, now time.Time) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := Entry{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		ActivatedAt: now,
		TargetTime:  until,
		TargetNode:  node,
	}
	l.until[entityID] = until
	l.history = append(l.history, entry)
	if err := l.store.SaveOverrideHistory(l.history); err != nil {
		return Entry{}, fmt.Errorf("save override history: %w", err)
	}
	l.logger.Info("override activated",
		slog.String("entity", entityID),
		slog.Time("until", until),
	)
	return entry, nil
}

// RecordGroup appends a group-level mirror entry so group advances show up in
// the history under the group's name. It opens no override window.
func (l *Ledger) RecordGroup(groupName string, from Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := Entry{
		ID:          uuid.NewString(),
		GroupName:   groupName,
		ActivatedAt: from.ActivatedAt,
		TargetTime:  from.TargetTime,
		TargetNode:  from.TargetNode,
	}
	l.history = append(l.history, entry)
	if err := l.store.SaveOverrideHistory(l.history); err != nil {
		return Entry{}, fmt.Errorf("save override history: %w", err)
	}
	return entry, nil
}

// Cancel closes an entity's override window and stamps its open history
// entries with the cancellation time. It reports whether a window was open.
func (l *Ledger) Cancel(entityID string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.until[entityID]; !ok {
		return false, nil
	}
	delete(l.until, entityID)
	l.stampOpen(entityID, now, false)
	if err := l.store.SaveOverrideHistory(l.history); err != nil {
		return false, fmt.Errorf("save override history: %w", err)
	}
	l.logger.Info("override cancelled", slog.String("entity", entityID))
	return true, nil
}

// ExpireIfDue closes any override windows whose target time has passed,
// marking their history entries completed. It returns the entities whose
// windows just expired.
func (l *Ledger) ExpireIfDue(now time.Time) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var expired []string
	for entityID, until := range l.until {
		if now.Before(until) {
			continue
		}
		delete(l.until, entityID)
		l.stampOpen(entityID, now, true)
		expired = append(expired, entityID)
	}
	if len(expired) == 0 {
		return nil, nil
	}
	sort.Strings(expired)
	if err := l.store.SaveOverrideHistory(l.history); err != nil {
		return nil, fmt.Errorf("save override history: %w", err)
	}
	return expired, nil
}

// stampOpen closes all open entries for an entity. Caller holds the lock.
func (l *Ledger) stampOpen(entityID string, at time.Time, completed bool) {
	for i := range l.history {
		e := &l.history[i]
		if e.EntityID != entityID || e.CancelledAt != nil || e.Completed {
			continue
		}
		stamp := at
		e.CancelledAt = &stamp
		e.Completed = completed
	}
}

// Overridden reports whether an entity's override window is open at the given
// time.
func (l *Ledger) Overridden(entityID string, now time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	until, ok := l.until[entityID]
	return ok && now.Before(until)
}

// Until returns the end of an entity's override window, if one is open at
// the given time. A lapsed window that no tick has expired yet does not
// count.
func (l *Ledger) Until(entityID string, now time.Time) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	until, ok := l.until[entityID]
	if !ok || !now.Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// History returns the entries for an entity or group, newest first, activated
// at or after since. A zero since returns everything.
func (l *Ledger) History(id string, since time.Time) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var entries []Entry
	for _, e := range l.history {
		if e.EntityID != id && e.GroupName != id {
			continue
		}
		if !since.IsZero() && e.ActivatedAt.Before(since) {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ActivatedAt.After(entries[j].ActivatedAt) })
	return entries
}

// ClearHistory drops all history and closes all open windows.
func (l *Ledger) ClearHistory() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.until = make(map[string]time.Time)
	l.history = nil
	if err := l.store.SaveOverrideHistory(nil); err != nil {
		return fmt.Errorf("save override history: %w", err)
	}
	return nil
}
