package overrides_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	history []overrides.Entry
}

func (f *fakeStore) LoadOverrideHistory() ([]overrides.Entry, error) { return f.history, nil }
func (f *fakeStore) SaveOverrideHistory(entries []overrides.Entry) error {
	f.history = entries
	return nil
}

func TestLedger_AdvanceCancelRoundTrip(t *testing.T) {
	l, err := overrides.New(&fakeStore{}, slog.Default())
	require.NoError(t, err)

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	until := now.Add(4 * time.Hour)
	node := schedule.Node{Time: "14:00", Temp: schedule.Float(21)}

	entry, err := l.Activate("climate.office", until, node, now)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.True(t, l.Overridden("climate.office", now))
	assert.False(t, l.Overridden("climate.office", until), "window is half-open")

	cancelled, err := l.Cancel("climate.office", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.False(t, l.Overridden("climate.office", now.Add(time.Hour)))

	// still exactly one entry, now stamped
	history := l.History("climate.office", time.Time{})
	require.Len(t, history, 1)
	require.NotNil(t, history[0].CancelledAt)
	assert.False(t, history[0].Completed)

	cancelled, err = l.Cancel("climate.office", now)
	require.NoError(t, err)
	assert.False(t, cancelled, "cancel without an open window is a no-op")
}

func TestLedger_NaturalExpiry(t *testing.T) {
	l, err := overrides.New(&fakeStore{}, slog.Default())
	require.NoError(t, err)

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	_, err = l.Activate("climate.office", now.Add(time.Hour), schedule.Node{Time: "11:00"}, now)
	require.NoError(t, err)

	expired, err := l.ExpireIfDue(now.Add(30 * time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = l.ExpireIfDue(now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"climate.office"}, expired)

	history := l.History("climate.office", time.Time{})
	require.Len(t, history, 1)
	assert.True(t, history[0].Completed)
	require.NotNil(t, history[0].CancelledAt)
}

func TestLedger_HistoryWindow(t *testing.T) {
	l, err := overrides.New(&fakeStore{}, slog.Default())
	require.NoError(t, err)

	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 3; day++ {
		at := base.AddDate(0, 0, day)
		_, err = l.Activate("climate.office", at.Add(time.Hour), schedule.Node{Time: "01:00"}, at)
		require.NoError(t, err)
	}

	all := l.History("climate.office", time.Time{})
	assert.Len(t, all, 3)
	assert.True(t, all[0].ActivatedAt.After(all[1].ActivatedAt), "newest first")

	recent := l.History("climate.office", base.AddDate(0, 0, 1))
	assert.Len(t, recent, 2)

	require.NoError(t, l.ClearHistory())
	assert.Empty(t, l.History("climate.office", time.Time{}))
	assert.False(t, l.Overridden("climate.office", base))
}

func TestLedger_GroupMirrorEntry(t *testing.T) {
	l, err := overrides.New(&fakeStore{}, slog.Default())
	require.NoError(t, err)

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	entry, err := l.Activate("climate.office", now.Add(time.Hour), schedule.Node{Time: "11:00"}, now)
	require.NoError(t, err)

	mirror, err := l.RecordGroup("Offices", entry)
	require.NoError(t, err)
	assert.NotEqual(t, entry.ID, mirror.ID)

	history := l.History("Offices", time.Time{})
	require.Len(t, history, 1)
	assert.Equal(t, "Offices", history[0].GroupName)
	assert.Empty(t, history[0].EntityID)

	// the mirror entry opens no window for the group name
	assert.False(t, l.Overridden("Offices", now))
}

func TestLedger_OpenWindowsSurviveRestart(t *testing.T) {
	store := &fakeStore{}
	l, err := overrides.New(store, slog.Default())
	require.NoError(t, err)

	now := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	_, err = l.Activate("climate.office", now.Add(time.Hour), schedule.Node{Time: "11:00"}, now)
	require.NoError(t, err)

	restarted, err := overrides.New(store, slog.Default())
	require.NoError(t, err)
	assert.True(t, restarted.Overridden("climate.office", now))

	until, ok := restarted.Until("climate.office", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), until)

	// a lapsed window no tick expired yet is not reported as open
	_, ok = restarted.Until("climate.office", now.Add(2*time.Hour))
	assert.False(t, ok)
}
