package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/climate-tools/climate-scheduler/internal/actuator"
	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/registry"
	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"github.com/climate-tools/climate-scheduler/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGroupStore struct{ groups []registry.Group }

func (f *fakeGroupStore) LoadGroups() ([]registry.Group, error) { return f.groups, nil }
func (f *fakeGroupStore) SaveGroups(g []registry.Group) error   { f.groups = g; return nil }

type fakeHistoryStore struct{ history []overrides.Entry }

func (f *fakeHistoryStore) LoadOverrideHistory() ([]overrides.Entry, error) { return f.history, nil }
func (f *fakeHistoryStore) SaveOverrideHistory(h []overrides.Entry) error   { f.history = h; return nil }

type staticSettings struct{ settings store.Settings }

func (s staticSettings) Settings() store.Settings { return s.settings }

type fakeActuator struct {
	mu       sync.Mutex
	calls    []string
	failTemp set.Set[string]
	failOff  set.Set[string]
}

func (f *fakeActuator) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeActuator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActuator) TurnOff(_ context.Context, entityID string) error {
	if f.failOff.Contains(entityID) {
		return errors.New("turn_off unsupported")
	}
	f.record("turn_off %s", entityID)
	return nil
}

func (f *fakeActuator) SetTemperature(_ context.Context, entityID string, temp float64) error {
	if f.failTemp.Contains(entityID) {
		return errors.New("device unavailable")
	}
	f.record("set_temperature %s %.1f", entityID, temp)
	return nil
}

func (f *fakeActuator) SetMode(_ context.Context, entityID string, kind actuator.ModeKind, value string) error {
	f.record("set_%s %s %s", kind, entityID, value)
	return nil
}

func (f *fakeActuator) Capabilities(_ context.Context, _ string) (actuator.Capabilities, error) {
	return actuator.Capabilities{
		HasTemperatureSensor: true,
		HVACModes:            set.New("off", "heat"),
		FanModes:             set.New("low", "high"),
	}, nil
}

// monday 08:00 local
var testNow = time.Date(2024, time.March, 4, 8, 0, 0, 0, time.UTC)

func testCoordinator(t *testing.T, devices actuator.Actuator) (*Coordinator, *registry.Registry, *overrides.Ledger) {
	t.Helper()
	reg, err := registry.New(&fakeGroupStore{}, slog.Default())
	require.NoError(t, err)
	ledger, err := overrides.New(&fakeHistoryStore{}, slog.Default())
	require.NoError(t, err)
	settings := staticSettings{settings: store.Settings{MinTemp: 5, MaxTemp: 30}}
	metrics := NewMetrics(prometheus.NewRegistry())
	c := New(reg, ledger, devices, settings, time.Minute, metrics, slog.Default())
	c.now = func() time.Time { return testNow }
	return c, reg, ledger
}

func seedGroup(t *testing.T, reg *registry.Registry, entities []string, nodes schedule.Nodes) {
	t.Helper()
	_, err := reg.CreateGroup("Office")
	require.NoError(t, err)
	for _, entity := range entities {
		require.NoError(t, reg.AddEntity("Office", entity))
	}
	require.NoError(t, reg.SetSchedule("Office", schedule.BucketAllDays, schedule.ModeAllDays, nodes))
}

func TestCoordinator_ReconcileAppliesActiveNode(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21), HVACMode: "heat"},
		{Time: "23:00", Temp: schedule.Float(17)},
	})

	events := c.Publisher.Subscribe()
	ctx := context.Background()
	c.reconcileAll(ctx)

	assert.Contains(t, devices.Calls(), "set_temperature climate.office 21.0")
	assert.Contains(t, devices.Calls(), "set_hvac_mode climate.office heat")

	select {
	case ev := <-events:
		assert.Equal(t, "climate.office", ev.EntityID)
		assert.Equal(t, TriggerScheduled, ev.Trigger)
		assert.Equal(t, "07:00", ev.Node.Time)
	default:
		t.Fatal("expected an event")
	}

	// unchanged signature: second pass actuates nothing
	before := len(devices.Calls())
	c.reconcileAll(ctx)
	assert.Len(t, devices.Calls(), before)

	last, ok := c.LastTick()
	require.True(t, ok)
	assert.Equal(t, testNow, last)
}

func TestCoordinator_ClampsTemperature(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(50)},
	})

	c.reconcileAll(context.Background())
	assert.Contains(t, devices.Calls(), "set_temperature climate.office 30.0")
}

func TestCoordinator_UnsupportedModeSkipped(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21), FanMode: "turbo", SwingMode: "on"},
	})

	c.reconcileAll(context.Background())
	calls := devices.Calls()
	assert.Contains(t, calls, "set_temperature climate.office 21.0")
	assert.NotContains(t, calls, "set_fan_mode climate.office turbo")
	assert.NotContains(t, calls, "set_swing_mode climate.office on")
}

func TestCoordinator_NoChangeSkipsTemperature(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21), HVACMode: "heat", NoChange: true},
	})

	c.reconcileAll(context.Background())
	calls := devices.Calls()
	assert.NotContains(t, calls, "set_temperature climate.office 21.0")
	assert.Contains(t, calls, "set_hvac_mode climate.office heat")
}

func TestCoordinator_TurnOffFallback(t *testing.T) {
	devices := &fakeActuator{failOff: set.New("climate.office")}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", HVACMode: "off"},
	})

	c.reconcileAll(context.Background())
	calls := devices.Calls()
	assert.Contains(t, calls, "set_hvac_mode climate.office off")
	assert.NotContains(t, calls, "set_temperature climate.office 21.0")
}

func TestCoordinator_FailedEntityRetriesNextTick(t *testing.T) {
	devices := &fakeActuator{failTemp: set.New("climate.office")}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office", "climate.desk"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
	})

	ctx := context.Background()
	c.reconcileAll(ctx)

	// the failing entity does not poison its sibling
	assert.Contains(t, devices.Calls(), "set_temperature climate.desk 21.0")
	assert.NotContains(t, devices.Calls(), "set_temperature climate.office 21.0")

	// device recovers: stale cache means the entity is retried
	devices.failTemp = nil
	c.reconcileAll(ctx)
	assert.Contains(t, devices.Calls(), "set_temperature climate.office 21.0")
}

func TestCoordinator_Advance(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, ledger := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
		{Time: "23:00", Temp: schedule.Float(17)},
	})

	ctx := context.Background()
	entry, err := c.Advance(ctx, "climate.office")
	require.NoError(t, err)
	assert.Contains(t, devices.Calls(), "set_temperature climate.office 17.0")
	assert.Equal(t, "23:00", entry.TargetNode.Time)

	// the window closes at the next node's own scheduled time
	until, ok := c.AdvanceStatus("climate.office")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.March, 4, 23, 0, 0, 0, time.UTC), until)

	// the regular loop leaves the overridden entity alone
	before := len(devices.Calls())
	c.reconcileAll(ctx)
	assert.Len(t, devices.Calls(), before)

	// cancel reverts to the schedule on the next pass
	cancelled, err := c.Cancel("climate.office")
	require.NoError(t, err)
	assert.True(t, cancelled)
	c.reconcileAll(ctx)
	assert.Contains(t, devices.Calls()[before:], "set_temperature climate.office 21.0")

	history := ledger.History("climate.office", time.Time{})
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].CancelledAt)
}

func TestCoordinator_AdvanceWrapsPastMidnight(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
	})

	// only node is already active, so the advance wraps to tomorrow 07:00
	_, err := c.Advance(context.Background(), "climate.office")
	require.NoError(t, err)
	until, ok := c.AdvanceStatus("climate.office")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.March, 5, 7, 0, 0, 0, time.UTC), until)
}

func TestCoordinator_AdvanceErrors(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)

	_, err := c.Advance(context.Background(), "climate.unknown")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = reg.CreateGroup("Empty")
	require.NoError(t, err)
	require.NoError(t, reg.AddEntity("Empty", "climate.bare"))
	require.NoError(t, reg.SetEnabled("Empty", false))
	_, err = c.Advance(context.Background(), "climate.bare")
	assert.ErrorIs(t, err, registry.ErrInvalidOperation)
}

func TestCoordinator_AdvanceGroup(t *testing.T) {
	devices := &fakeActuator{failTemp: set.New("climate.desk")}
	c, reg, ledger := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office", "climate.desk"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
		{Time: "23:00", Temp: schedule.Float(17)},
	})

	results, err := c.AdvanceGroup(context.Background(), "Office")
	require.NoError(t, err)
	require.Len(t, results, 2)

	byEntity := make(map[string]AdvanceResult)
	for _, res := range results {
		byEntity[res.EntityID] = res
	}
	assert.NoError(t, byEntity["climate.office"].Err)
	assert.ErrorIs(t, byEntity["climate.desk"].Err, ErrActuation)

	// one group-level mirror entry for the successful advance
	history := ledger.History("Office", time.Time{})
	require.Len(t, history, 1)
	assert.Equal(t, "23:00", history[0].TargetNode.Time)
}

func TestCoordinator_OverrideExpiryReconcilesSameTick(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, ledger := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
	})

	// window that has already lapsed by the time the tick runs
	_, err := ledger.Activate("climate.office", testNow.Add(-time.Minute), schedule.Node{Time: "07:00"}, testNow.Add(-time.Hour))
	require.NoError(t, err)

	// a lapsed window is not reported as an active advance
	_, ok := c.AdvanceStatus("climate.office")
	assert.False(t, ok)

	c.reconcileAll(context.Background())
	assert.Contains(t, devices.Calls(), "set_temperature climate.office 21.0")

	history := ledger.History("climate.office", time.Time{})
	require.Len(t, history, 1)
	assert.True(t, history[0].Completed)
}

func TestCoordinator_DisabledGroupSkipped(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
	})
	require.NoError(t, reg.SetEnabled("Office", false))

	c.reconcileAll(context.Background())
	assert.Empty(t, devices.Calls())
}

func TestCoordinator_Run(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_, ok := c.LastTick()
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

// gatedActuator blocks the first SetTemperature call until its gate opens,
// holding a reconciliation pass mid-actuation.
type gatedActuator struct {
	fakeActuator
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (g *gatedActuator) SetTemperature(ctx context.Context, entityID string, temp float64) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	return g.fakeActuator.SetTemperature(ctx, entityID, temp)
}

func TestCoordinator_AdvanceWaitsForRunningPass(t *testing.T) {
	devices := &gatedActuator{gate: make(chan struct{}), entered: make(chan struct{})}
	c, reg, ledger := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", Temp: schedule.Float(21)},
		{Time: "23:00", Temp: schedule.Float(17)},
	})

	ctx := context.Background()
	tickDone := make(chan struct{})
	go func() {
		c.reconcileAll(ctx)
		close(tickDone)
	}()
	<-devices.entered

	advanceDone := make(chan error, 1)
	go func() {
		_, err := c.Advance(ctx, "climate.office")
		advanceDone <- err
	}()

	// the advance waits for the pass instead of racing it
	select {
	case <-advanceDone:
		t.Fatal("advance completed while a pass was still actuating")
	case <-time.After(50 * time.Millisecond):
	}
	assert.NotContains(t, devices.Calls(), "set_temperature climate.office 17.0")

	close(devices.gate)
	<-tickDone
	require.NoError(t, <-advanceDone)

	calls := devices.Calls()
	scheduled := slices.Index(calls, "set_temperature climate.office 21.0")
	advanced := slices.Index(calls, "set_temperature climate.office 17.0")
	require.GreaterOrEqual(t, scheduled, 0)
	require.GreaterOrEqual(t, advanced, 0)
	assert.Less(t, scheduled, advanced, "pass finishes before the advance applies")
	assert.True(t, ledger.Overridden("climate.office", testNow))

	// the next pass leaves the freshly overridden entity alone
	before := len(devices.Calls())
	c.reconcileAll(ctx)
	assert.Len(t, devices.Calls(), before)
}

func TestCoordinator_ReappliesAtNodeBoundary(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "00:00", Temp: schedule.Float(18)},
		{Time: "12:00", Temp: schedule.Float(18)},
	})

	events := c.Publisher.Subscribe()
	ctx := context.Background()
	c.reconcileAll(ctx)
	require.Equal(t, []string{"set_temperature climate.office 18.0"}, devices.Calls())

	// identical settings, but crossing into the 12:00 node re-actuates
	c.now = func() time.Time { return testNow.Add(5 * time.Hour) }
	c.reconcileAll(ctx)
	calls := devices.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "set_temperature climate.office 18.0", calls[1])

	<-events
	select {
	case ev := <-events:
		assert.Equal(t, "12:00", ev.Node.Time)
		require.NotNil(t, ev.PreviousNode)
		assert.Equal(t, "00:00", ev.PreviousNode.Time)
	default:
		t.Fatal("expected a second event at the node boundary")
	}

	// settled: a further pass actuates nothing
	c.reconcileAll(ctx)
	assert.Len(t, devices.Calls(), 2)
}

func TestCoordinator_TurnOffAppliesAuxModes(t *testing.T) {
	devices := &fakeActuator{}
	c, reg, _ := testCoordinator(t, devices)
	seedGroup(t, reg, []string{"climate.office"}, schedule.Nodes{
		{Time: "07:00", HVACMode: "off", FanMode: "low"},
	})

	c.reconcileAll(context.Background())
	calls := devices.Calls()
	assert.Equal(t, []string{"turn_off climate.office", "set_fan_mode climate.office low"}, calls)
}
