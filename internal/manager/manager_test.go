package manager

import (
	"sync"
	"testing"
	"time"

	"solax-monitor/internal/inverter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager() (*Manager, *testClock) {
	clock := &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(ManagerConfig{HistoryWindow: 10 * time.Minute, Now: clock.Now})
	return m, clock
}

func TestManager(t *testing.T) {
	t.Run("RecordSuccessStoresLatestAndHistory", func(t *testing.T) {
		m, _ := newTestManager()

		r := m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 700.0}, "Roof")

		latest, ok := m.Latest("inv1")
		require.True(t, ok)
		assert.Equal(t, r, latest)
		assert.Equal(t, "Roof", latest.DisplayName)
		assert.Len(t, m.History("inv1"), 1)

		_, ok = m.Latest("inv2")
		assert.False(t, ok)
	})

	t.Run("CallerCopiesDoNotAlterStoredReadings", func(t *testing.T) {
		m, _ := newTestManager()

		m.RecordSuccess("inv1", inverter.RawTelemetry{"powerdc1": 400.0}, "Roof")

		latest, ok := m.Latest("inv1")
		require.True(t, ok)
		latest.DCPower[0].Watts = 9999
		hist := m.History("inv1")
		require.Len(t, hist, 1)
		hist[0].Reading.DCPower[0].Watts = 9999

		stored, _ := m.Latest("inv1")
		assert.Equal(t, 400.0, stored.TotalPVPower())
		assert.Equal(t, 400.0, m.History("inv1")[0].Reading.TotalPVPower())
	})

	t.Run("RecordSuccessClearsFault", func(t *testing.T) {
		m, _ := newTestManager()

		m.RecordFailure("inv1", "Roof", "timeout")
		_, ok := m.Fault("inv1")
		require.True(t, ok)

		m.RecordSuccess("inv1", inverter.RawTelemetry{}, "Roof")

		_, ok = m.Fault("inv1")
		assert.False(t, ok)
		assert.Empty(t, m.Faults())
	})

	t.Run("RecordFailureKeepsLatest", func(t *testing.T) {
		m, _ := newTestManager()

		m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 300.0}, "Roof")
		m.RecordFailure("inv1", "Roof", "bad status")

		latest, ok := m.Latest("inv1")
		require.True(t, ok)
		assert.Equal(t, 300.0, latest.ACPower)
		assert.Len(t, m.History("inv1"), 1)
	})

	t.Run("AllLatestSortedByID", func(t *testing.T) {
		m, _ := newTestManager()

		m.RecordSuccess("b", inverter.RawTelemetry{}, "B")
		m.RecordSuccess("a", inverter.RawTelemetry{}, "A")

		all := m.AllLatest()
		require.Len(t, all, 2)
		assert.Equal(t, "A", all[0].DisplayName)
		assert.Equal(t, "B", all[1].DisplayName)
	})
}

func TestAnalytics(t *testing.T) {
	t.Run("AbsentBelowTwoPoints", func(t *testing.T) {
		m, _ := newTestManager()

		_, ok := m.Analytics("inv1")
		assert.False(t, ok)

		m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 40.0}, "Roof")
		_, ok = m.Analytics("inv1")
		assert.False(t, ok)
	})

	t.Run("TrendFromOldestToNewest", func(t *testing.T) {
		m, clock := newTestManager()

		m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 40.0, "soc": 50.0}, "Roof")
		clock.Advance(30 * time.Second)
		m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 55.0, "soc": 53.0}, "Roof")

		a, ok := m.Analytics("inv1")
		require.True(t, ok)
		assert.Equal(t, 2, a.PointsCount)
		assert.Equal(t, 15.0, a.LoadTrend)
		assert.Equal(t, 3.0, a.SOCChange)
		assert.True(t, a.IsCharging)
	})

	t.Run("SlidingWindow", func(t *testing.T) {
		m, clock := newTestManager()

		m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 1000.0, "soc": 90.0}, "Roof")
		clock.Advance(5 * time.Minute)
		m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 200.0, "soc": 80.0}, "Roof")
		clock.Advance(4 * time.Minute)
		m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 260.0, "soc": 70.0}, "Roof")

		clock.Advance(2 * time.Minute)
		a, ok := m.Analytics("inv1")
		require.True(t, ok)
		assert.Equal(t, 2, a.PointsCount)
		assert.Equal(t, 60.0, a.LoadTrend)
		assert.Equal(t, -10.0, a.SOCChange)
		assert.False(t, a.IsCharging)
	})
}

func TestEvents(t *testing.T) {
	m, _ := newTestManager()

	var events []Event
	m.Subscribe(func(ev Event) {
		events = append(events, ev)
	})
	m.Subscribe(func(ev Event) {
		panic("observer bug")
	})

	m.RecordSuccess("inv1", inverter.RawTelemetry{"acpower": 10.0}, "Roof")
	m.RecordFailure("inv2", "Garage", "dial tcp: i/o timeout")

	require.Len(t, events, 2)

	update := events[0]
	assert.Equal(t, EventUpdate, update.Kind)
	assert.Equal(t, "inv1", update.InverterID)
	require.NotNil(t, update.Reading)
	assert.Equal(t, 10.0, update.Reading.ACPower)

	alert := events[1]
	assert.Equal(t, EventAlert, alert.Kind)
	assert.Equal(t, AlertConnectionLost, alert.AlertType)
	assert.Equal(t, "inv2", alert.InverterID)
	assert.Contains(t, alert.Message, "Garage")
	assert.Contains(t, alert.Message, "dial tcp: i/o timeout")
	assert.NotEqual(t, update.ID, alert.ID)

	// State is committed even though an observer panicked.
	_, ok := m.Latest("inv1")
	assert.True(t, ok)
	_, ok = m.Fault("inv2")
	assert.True(t, ok)
}

func TestSnapshot(t *testing.T) {
	m, _ := newTestManager()
	assert.Empty(t, m.Snapshot())

	m.RecordSuccess("SW1", inverter.RawTelemetry{
		"acpower":        "1000",
		"feedinpower":    "-200",
		"soc":            "80",
		"inverterStatus": "102",
		"yieldtoday":     10.0,
		"feedinenergy":   2.5,
		"consumeenergy":  4.0,
		"batPower":       -150.0,
		"powerdc1":       600.0,
		"powerdc2":       300.0,
	}, "Roof")

	views := m.Snapshot()
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "SW1", v.ID)
	assert.Equal(t, "Roof", v.Name)
	assert.Equal(t, 900.0, v.PVPower)
	assert.Equal(t, -150.0, v.BatteryFlow)
	assert.Equal(t, "discharging", v.BatteryStatus)
	assert.Equal(t, 1, v.GridStatus)
	assert.Equal(t, 200.0, v.GridFlow)
	assert.Equal(t, 1200.0, v.Consumption)
	assert.Equal(t, 10.0, v.YieldToday)
	assert.Equal(t, 4.0, v.ImportToday)
	assert.Equal(t, 2.5, v.ExportToday)
	assert.Equal(t, 75.0, v.SelfUseRate)
	assert.Equal(t, "Normal", v.StatusText)
}
