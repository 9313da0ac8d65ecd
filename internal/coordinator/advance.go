package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/registry"
	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"golang.org/x/sync/errgroup"
)

// Advance skips an entity ahead to its next schedule node. The node is
// applied immediately and an override window opens until the node's own
// scheduled time, keeping the regular loop from undoing the jump.
func (c *Coordinator) Advance(ctx context.Context, entityID string) (overrides.Entry, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	g, ok := c.registry.GroupFor(entityID)
	if !ok {
		return overrides.Entry{}, fmt.Errorf("entity %q: %w", entityID, registry.ErrNotFound)
	}
	if !g.Reconcilable() {
		return overrides.Entry{}, fmt.Errorf("%w: group %q is not active", registry.ErrInvalidOperation, g.Name)
	}
	return c.advanceEntity(ctx, c.now(), entityID, g)
}

func (c *Coordinator) advanceEntity(ctx context.Context, now time.Time, entityID string, g registry.Group) (overrides.Entry, error) {
	day := now.Weekday()
	clock := clockMinutes(now)
	nodes := schedule.ResolveDay(g.Schedules, g.Mode, day, clock)
	next, ok := schedule.NextNode(nodes, clock)
	if !ok {
		return overrides.Entry{}, fmt.Errorf("entity %q: %w", entityID, ErrNoSchedule)
	}
	active, haveActive := schedule.ActiveNode(nodes, clock)

	caps, err := c.capabilities(ctx, entityID)
	if err != nil {
		return overrides.Entry{}, err
	}
	if err = c.applyNode(ctx, entityID, next, caps); err != nil {
		return overrides.Entry{}, err
	}

	until := nextOccurrence(now, next.Time)
	entry, err := c.ledger.Activate(entityID, until, next, now)
	if err != nil {
		return overrides.Entry{}, err
	}

	c.mu.Lock()
	c.lastSig[entityID] = signatureFor(next, caps, c.settings.Settings())
	c.lastNodeTime[entityID] = next.Time
	c.lastNode[entityID] = next
	c.mu.Unlock()

	c.metrics.advances.Inc()
	c.logger.Info("schedule advanced",
		"entity", entityID, "group", g.Name, "node", next.Time, "until", until)
	event := Event{
		EntityID:  entityID,
		GroupName: g.Name,
		Day:       day,
		Node:      next,
		Trigger:   TriggerManualAdvance,
	}
	if haveActive {
		event.PreviousNode = &active
	}
	c.Publisher.Publish(event)
	return entry, nil
}

// AdvanceResult reports the outcome of one entity's advance within a group
// advance. Failures are isolated: one entity failing does not stop the rest.
type AdvanceResult struct {
	EntityID string
	Entry    overrides.Entry
	Err      error
}

// AdvanceGroup advances every entity in a group and records one group-level
// history entry mirroring the first successful advance.
func (c *Coordinator) AdvanceGroup(ctx context.Context, groupName string) ([]AdvanceResult, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	g, err := c.registry.Group(groupName)
	if err != nil {
		return nil, err
	}
	if !g.Reconcilable() {
		return nil, fmt.Errorf("%w: group %q is not active", registry.ErrInvalidOperation, g.Name)
	}
	now := c.now()
	results := make([]AdvanceResult, len(g.Entities))
	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)
	for i, entityID := range g.Entities {
		eg.Go(func() error {
			entry, advErr := c.advanceEntity(ctx, now, entityID, g)
			results[i] = AdvanceResult{EntityID: entityID, Entry: entry, Err: advErr}
			return nil
		})
	}
	_ = eg.Wait()

	for _, res := range results {
		if res.Err == nil {
			if _, err = c.ledger.RecordGroup(g.Name, res.Entry); err != nil {
				c.logger.Error("failed to record group advance", "group", g.Name, "err", err)
			}
			break
		}
	}
	return results, nil
}

// Cancel closes an entity's override window and schedules an immediate pass
// so the regular schedule takes back over. It reports whether a window was
// open.
func (c *Coordinator) Cancel(entityID string) (bool, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.cancelEntity(entityID)
}

func (c *Coordinator) cancelEntity(entityID string) (bool, error) {
	if _, ok := c.registry.GroupFor(entityID); !ok {
		return false, fmt.Errorf("entity %q: %w", entityID, registry.ErrNotFound)
	}
	cancelled, err := c.ledger.Cancel(entityID, c.now())
	if err != nil || !cancelled {
		return cancelled, err
	}
	c.mu.Lock()
	delete(c.lastSig, entityID)
	delete(c.lastNodeTime, entityID)
	c.mu.Unlock()
	c.Refresh()
	return true, nil
}

// CancelGroup cancels the override windows of all entities in a group and
// returns how many were open.
func (c *Coordinator) CancelGroup(groupName string) (int, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	g, err := c.registry.Group(groupName)
	if err != nil {
		return 0, err
	}
	var cancelled int
	for _, entityID := range g.Entities {
		ok, err := c.cancelEntity(entityID)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

// AdvanceStatus returns the end of an entity's override window, if one is
// still open now.
func (c *Coordinator) AdvanceStatus(entityID string) (time.Time, bool) {
	return c.ledger.Until(entityID, c.now())
}

// nextOccurrence returns the next time the wall clock reads the given HH:MM,
// strictly after now.
func nextOccurrence(now time.Time, clock string) time.Time {
	minutes, err := schedule.ParseClock(clock)
	if err != nil {
		return now.Add(24 * time.Hour)
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), minutes/60, minutes%60, 0, 0, now.Location())
	if !at.After(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}
