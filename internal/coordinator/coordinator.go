// Package coordinator runs the reconciliation loop: every tick it resolves
// each entity's active schedule node and applies it to the device, unless a
// manual advance holds an override window open.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/climate-tools/climate-scheduler/internal/actuator"
	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/registry"
	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"github.com/climate-tools/climate-scheduler/internal/store"
	"github.com/climate-tools/climate-scheduler/pkg/pubsub"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSchedule = errors.New("no schedule")
	ErrActuation  = errors.New("actuation failed")
)

// SettingsGetter provides the global temperature clamp bounds.
type SettingsGetter interface {
	Settings() store.Settings
}

// Trigger says why an entity was actuated.
type Trigger string

const (
	TriggerScheduled     Trigger = "scheduled"
	TriggerManualAdvance Trigger = "manual_advance"
)

// An Event is published whenever the coordinator actuates an entity.
type Event struct {
	EntityID     string         `json:"entity_id"`
	GroupName    string         `json:"group_name"`
	Day          time.Weekday   `json:"day"`
	Node         schedule.Node  `json:"node"`
	PreviousNode *schedule.Node `json:"previous_node,omitempty"`
	Trigger      Trigger        `json:"trigger"`
}

const (
	defaultInterval  = time.Minute
	maxConcurrent    = 8
	actuationTimeout = 30 * time.Second
)

type Coordinator struct {
	Publisher *pubsub.Publisher[Event]

	registry *registry.Registry
	ledger   *overrides.Ledger
	devices  actuator.Actuator
	settings SettingsGetter
	metrics  *Metrics
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	refresh chan struct{}

	// runMu serializes reconciliation passes with user-triggered actuation
	// (advance, cancel). A pass owns the actuator for its full duration, so
	// an advance can never land between a pass's override check and its
	// actuation, and a pass can never undo an advance that beat it.
	runMu sync.Mutex

	mu           sync.Mutex
	lastSig      map[string]Signature
	lastNodeTime map[string]string
	lastNode     map[string]schedule.Node
	caps         map[string]actuator.Capabilities
	lastTick     time.Time
}

func New(reg *registry.Registry, ledger *overrides.Ledger, devices actuator.Actuator, settings SettingsGetter, interval time.Duration, metrics *Metrics, logger *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Coordinator{
		Publisher:    pubsub.New[Event](logger.With("component", "publisher")),
		registry:     reg,
		ledger:       ledger,
		devices:      devices,
		settings:     settings,
		metrics:      metrics,
		logger:       logger,
		interval:     interval,
		now:          time.Now,
		refresh:      make(chan struct{}, 1),
		lastSig:      make(map[string]Signature),
		lastNodeTime: make(map[string]string),
		lastNode:     make(map[string]schedule.Node),
		caps:         make(map[string]actuator.Capabilities),
	}
}

// Run reconciles all entities on startup and then once per interval, or
// earlier when Refresh is called.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Debug("started", "interval", c.interval)
	defer c.logger.Debug("stopped")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.reconcileAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.reconcileAll(ctx)
		case <-c.refresh:
			c.reconcileAll(ctx)
		}
	}
}

// Refresh requests an immediate reconciliation pass. Requests arriving while
// a pass is already pending coalesce into one.
func (c *Coordinator) Refresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// LastTick returns the completion time of the most recent reconciliation
// pass, if one has run.
func (c *Coordinator) LastTick() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick, !c.lastTick.IsZero()
}

// ClearCache drops all cached signatures and device capabilities, forcing the
// next pass to re-query and re-apply everything.
func (c *Coordinator) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.lastSig)
	clear(c.lastNodeTime)
	clear(c.lastNode)
	clear(c.caps)
}

// ForceUpdateAll clears the caches and triggers an immediate pass.
func (c *Coordinator) ForceUpdateAll() {
	c.ClearCache()
	c.Refresh()
}

type workItem struct {
	entityID string
	group    registry.Group
}

func (c *Coordinator) reconcileAll(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	now := c.now()
	start := time.Now()

	expired, err := c.ledger.ExpireIfDue(now)
	if err != nil {
		c.logger.Error("failed to expire overrides", "err", err)
	}
	for _, entityID := range expired {
		c.logger.Info("override expired", "entity", entityID)
	}

	var work []workItem
	var overridden int
	for _, g := range c.registry.Groups() {
		if !g.Reconcilable() {
			continue
		}
		for _, entityID := range g.Entities {
			if c.ledger.Overridden(entityID, now) {
				overridden++
				continue
			}
			work = append(work, workItem{entityID: entityID, group: g})
		}
	}

	var group errgroup.Group
	group.SetLimit(maxConcurrent)
	for _, item := range work {
		group.Go(func() error {
			if err := c.reconcileEntity(ctx, now, item.entityID, item.group); err != nil {
				c.metrics.actuationErrors.Inc()
				c.logger.Error("reconciliation failed",
					"entity", item.entityID, "group", item.group.Name, "err", err)
			}
			return nil
		})
	}
	_ = group.Wait()

	c.mu.Lock()
	c.lastTick = now
	c.mu.Unlock()

	c.metrics.ticks.Inc()
	c.metrics.tickDuration.Observe(time.Since(start).Seconds())
	c.metrics.overridesActive.Set(float64(overridden))
}

func (c *Coordinator) reconcileEntity(ctx context.Context, now time.Time, entityID string, g registry.Group) error {
	day := now.Weekday()
	clock := clockMinutes(now)
	nodes := schedule.ResolveDay(g.Schedules, g.Mode, day, clock)
	node, ok := schedule.ActiveNode(nodes, clock)
	if !ok {
		c.logger.Debug("no schedule for entity", "entity", entityID, "group", g.Name)
		return nil
	}

	caps, err := c.capabilities(ctx, entityID)
	if err != nil {
		return err
	}
	sig := signatureFor(node, caps, c.settings.Settings())

	c.mu.Lock()
	last, cached := c.lastSig[entityID]
	lastTime := c.lastNodeTime[entityID]
	previous, havePrevious := c.lastNode[entityID]
	c.mu.Unlock()
	if cached && last == sig && lastTime == node.Time {
		return nil
	}

	// caches only advance on success: a failed entity is retried next tick
	if err = c.applyNode(ctx, entityID, node, caps); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastSig[entityID] = sig
	c.lastNodeTime[entityID] = node.Time
	c.lastNode[entityID] = node
	c.mu.Unlock()

	c.metrics.reconciled.Inc()
	c.logger.Info("entity reconciled",
		"entity", entityID, "group", g.Name, "node", node.Time, "trigger", TriggerScheduled)
	event := Event{
		EntityID:  entityID,
		GroupName: g.Name,
		Day:       day,
		Node:      node,
		Trigger:   TriggerScheduled,
	}
	if havePrevious {
		event.PreviousNode = &previous
	}
	c.Publisher.Publish(event)
	return nil
}

// applyNode pushes a node's state to the device. Temperature failures abort
// the remaining calls; individual mode failures are logged and skipped.
func (c *Coordinator) applyNode(ctx context.Context, entityID string, node schedule.Node, caps actuator.Capabilities) error {
	ctx, cancel := context.WithTimeout(ctx, actuationTimeout)
	defer cancel()

	off := node.HVACMode == "off"
	if off {
		if err := c.devices.TurnOff(ctx, entityID); err != nil {
			if err2 := c.devices.SetMode(ctx, entityID, actuator.HVACMode, "off"); err2 != nil {
				return fmt.Errorf("%w: turn off %s: %w", ErrActuation, entityID, err)
			}
		}
	} else if node.Temp != nil && !node.NoChange && caps.HasTemperatureSensor {
		bounds := c.settings.Settings()
		temp := schedule.Clamp(*node.Temp, bounds.MinTemp, bounds.MaxTemp)
		if err := c.devices.SetTemperature(ctx, entityID, temp); err != nil {
			return fmt.Errorf("%w: set temperature %s: %w", ErrActuation, entityID, err)
		}
	}

	// modes apply in a fixed order; fan/swing/preset still apply after a
	// turn-off
	for _, m := range []struct {
		kind  actuator.ModeKind
		value string
	}{
		{actuator.HVACMode, node.HVACMode},
		{actuator.FanMode, node.FanMode},
		{actuator.SwingMode, node.SwingMode},
		{actuator.PresetMode, node.PresetMode},
	} {
		if m.value == "" || !caps.Supports(m.kind, m.value) {
			continue
		}
		if off && m.kind == actuator.HVACMode {
			continue
		}
		if err := c.devices.SetMode(ctx, entityID, m.kind, m.value); err != nil {
			c.logger.Warn("failed to set mode",
				"entity", entityID, "mode", string(m.kind), "value", m.value, "err", err)
		}
	}
	return nil
}

func (c *Coordinator) capabilities(ctx context.Context, entityID string) (actuator.Capabilities, error) {
	c.mu.Lock()
	caps, ok := c.caps[entityID]
	c.mu.Unlock()
	if ok {
		return caps, nil
	}
	caps, err := c.devices.Capabilities(ctx, entityID)
	if err != nil {
		return actuator.Capabilities{}, fmt.Errorf("get capabilities %s: %w", entityID, err)
	}
	c.mu.Lock()
	c.caps[entityID] = caps
	c.mu.Unlock()
	return caps, nil
}

func clockMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
