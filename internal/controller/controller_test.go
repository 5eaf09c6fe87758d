package controller

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mholtzmann/tpfand/internal/config"
	"github.com/mholtzmann/tpfand/internal/ec"
	"github.com/mholtzmann/tpfand/internal/model"
)

type tempStep struct {
	temp int
	err  error
}

// mockDevice scripts one temperature result per cycle (the last step
// repeats) and records every fan write.
type mockDevice struct {
	mu            sync.Mutex
	temps         []tempStep
	idx           int
	writes        []model.FanLevel
	writeAttempts int
	failWrites    int // fail this many write attempts before succeeding
	rpm           int
}

func (m *mockDevice) ReadTemperature(sensor int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	step := m.temps[m.idx]
	if m.idx < len(m.temps)-1 {
		m.idx++
	}
	return step.temp, step.err
}

func (m *mockDevice) SetFanLevel(level model.FanLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeAttempts++
	if m.writeAttempts <= m.failWrites {
		return fmt.Errorf("set fan level %s: %w", level, ec.ErrTimeout)
	}
	m.writes = append(m.writes, level)
	return nil
}

func (m *mockDevice) FanRPM() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rpm, nil
}

func (m *mockDevice) levels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	for i, l := range m.writes {
		out[i] = l.String()
	}
	return out
}

func (m *mockDevice) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

type mockRecorder struct {
	mu       sync.Mutex
	readings []model.Reading
	events   map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{events: make(map[string]int)}
}

func (r *mockRecorder) RecordReading(reading model.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
}

func (r *mockRecorder) RecordEvent(kind, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[kind]++
}

func (r *mockRecorder) UpdateStatus(model.Status) {}

func (r *mockRecorder) readingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readings)
}

func (r *mockRecorder) eventCount(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[kind]
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *mockNotifier) Send(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, title)
	return nil
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	curve, err := model.NewFanCurve(model.DefaultCurvePairs)
	require.NoError(t, err)
	return Config{
		SensorIndex:         0,
		UpdateInterval:      5 * time.Millisecond,
		Curve:               curve,
		CriticalTemperature: 90,
	}
}

func loopDone(c *Controller) func() bool {
	return func() bool {
		select {
		case <-c.Done():
			return true
		default:
			return false
		}
	}
}

func TestStartStopRestoresAutomatic(t *testing.T) {
	dev := &mockDevice{temps: []tempStep{{temp: 50}}, rpm: 3200}
	rec := newMockRecorder()
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: rec, Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Start())
	require.Eventually(t, func() bool { return dev.writeCount() >= 1 }, time.Second, 2*time.Millisecond)

	ctrl.Stop()

	levels := dev.levels()
	assert.Equal(t, "1", levels[0], "50 C should command level 1")
	assert.Equal(t, "auto", levels[len(levels)-1], "stop must hand control back to the EC")
	assert.NoError(t, ctrl.Err())

	status := ctrl.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.LastTemperature)
	assert.Equal(t, 50, *status.LastTemperature)
	require.NotNil(t, status.LastCommandedLevel)
	assert.Equal(t, "auto", status.LastCommandedLevel.String())
	require.NotNil(t, status.FanRPM)
	assert.Equal(t, 3200, *status.FanRPM)

	assert.Equal(t, 1, rec.eventCount(model.EventStarted))
	assert.Equal(t, 1, rec.eventCount(model.EventStopped))
}

func TestWriteSuppressionOnSteadyTemperature(t *testing.T) {
	dev := &mockDevice{temps: []tempStep{{temp: 60}}}
	rec := newMockRecorder()
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: rec, Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Start())
	// Let a good number of cycles pass.
	require.Eventually(t, func() bool { return rec.readingCount() >= 8 }, time.Second, 2*time.Millisecond)
	ctrl.Stop()

	levels := dev.levels()
	require.Len(t, levels, 2, "steady temperature should produce one write plus the restore")
	assert.Equal(t, "2", levels[0])
	assert.Equal(t, "auto", levels[1])
}

func TestLevelFollowsCurve(t *testing.T) {
	dev := &mockDevice{temps: []tempStep{{temp: 40}, {temp: 60}, {temp: 80}}}
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: newMockRecorder(), Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Start())
	require.Eventually(t, func() bool { return dev.writeCount() >= 3 }, time.Second, 2*time.Millisecond)
	ctrl.Stop()

	levels := dev.levels()
	require.GreaterOrEqual(t, len(levels), 4)
	assert.Equal(t, []string{"0", "2", "5"}, levels[:3])
	assert.Equal(t, "auto", levels[len(levels)-1])
}

func TestSensorErrorSkipsCycleAndRecovers(t *testing.T) {
	readErr := &ec.SensorReadError{Sensor: 0, Raw: 0x80}
	dev := &mockDevice{temps: []tempStep{{err: readErr}, {err: readErr}, {temp: 55}}}
	rec := newMockRecorder()
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: rec, Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Start())
	require.Eventually(t, func() bool { return dev.writeCount() >= 1 }, time.Second, 2*time.Millisecond)

	assert.True(t, ctrl.Status().Running, "sensor errors must not stop the loop")
	assert.Equal(t, "2", dev.levels()[0], "first write happens once a reading lands")
	// The error streak is recorded once, not per cycle.
	assert.Equal(t, 1, rec.eventCount(model.EventSensorError))

	ctrl.Stop()
	assert.NoError(t, ctrl.Err())
}

func TestWriteTimeoutRetriesNextCycle(t *testing.T) {
	dev := &mockDevice{temps: []tempStep{{temp: 60}}, failWrites: 2}
	rec := newMockRecorder()
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: rec, Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Start())
	require.Eventually(t, func() bool { return dev.writeCount() >= 1 }, time.Second, 2*time.Millisecond)
	ctrl.Stop()

	assert.Equal(t, "2", dev.levels()[0], "level lands once the EC answers again")
	assert.Equal(t, 2, rec.eventCount(model.EventWriteError))
	assert.NoError(t, ctrl.Err(), "write timeouts are not fatal")
}

func TestHardwareErrorAbortsLoop(t *testing.T) {
	hwErr := &ec.HardwareAccessError{Op: "in 0x66", Err: os.ErrPermission}
	dev := &mockDevice{temps: []tempStep{{temp: 50}, {err: hwErr}}}
	rec := newMockRecorder()
	notifier := &mockNotifier{}
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: rec, Notifier: notifier})

	require.NoError(t, ctrl.Start())
	require.Eventually(t, loopDone(ctrl), time.Second, 2*time.Millisecond)

	require.Error(t, ctrl.Err())
	assert.True(t, ec.IsHardwareAccess(ctrl.Err()))
	assert.False(t, ctrl.Status().Running)
	assert.NotEmpty(t, ctrl.Status().LastError)
	assert.Equal(t, 1, rec.eventCount(model.EventHardwareError))
	assert.GreaterOrEqual(t, notifier.count(), 1)

	levels := dev.levels()
	assert.Equal(t, "auto", levels[len(levels)-1], "restore is attempted even on a fatal exit")

	// Stop after a self-terminated loop is a no-op.
	ctrl.Stop()
}

func TestCriticalTemperatureNotifiesOncePerExcursion(t *testing.T) {
	cfg := testConfig(t)
	cfg.CriticalTemperature = 60
	dev := &mockDevice{temps: []tempStep{{temp: 70}, {temp: 70}, {temp: 40}, {temp: 70}}}
	rec := newMockRecorder()
	notifier := &mockNotifier{}
	ctrl := NewForTest(dev, cfg, &Deps{Recorder: rec, Notifier: notifier})

	require.NoError(t, ctrl.Start())
	require.Eventually(t, func() bool { return notifier.count() >= 2 }, time.Second, 2*time.Millisecond)
	ctrl.Stop()

	assert.Equal(t, 2, notifier.count(), "one notification per excursion, re-armed after cooling off")
	assert.Equal(t, 2, rec.eventCount(model.EventCriticalTemp))
}

func TestDuplicateStartRejectedRestartAllowed(t *testing.T) {
	dev := &mockDevice{temps: []tempStep{{temp: 50}}}
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: newMockRecorder(), Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Start())
	assert.ErrorIs(t, ctrl.Start(), ErrAlreadyRunning)

	ctrl.Stop()
	require.NoError(t, ctrl.Start())
	ctrl.Stop()
}

func TestStopReturnsWithinInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.UpdateInterval = 200 * time.Millisecond
	dev := &mockDevice{temps: []tempStep{{temp: 50}}}
	ctrl := NewForTest(dev, cfg, &Deps{Recorder: newMockRecorder(), Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Start())
	require.Eventually(t, func() bool { return dev.writeCount() >= 1 }, time.Second, 2*time.Millisecond)

	start := time.Now()
	ctrl.Stop()
	assert.Less(t, time.Since(start), cfg.UpdateInterval, "stop must not wait out the full interval")
}

func TestTickSingleCycle(t *testing.T) {
	dev := &mockDevice{temps: []tempStep{{temp: 50}, {temp: 50}, {temp: 80}}}
	ctrl := NewForTest(dev, testConfig(t), &Deps{Recorder: newMockRecorder(), Notifier: &mockNotifier{}})

	require.NoError(t, ctrl.Tick())
	require.NoError(t, ctrl.Tick())
	require.NoError(t, ctrl.Tick())

	// Second tick is suppressed, third commands the new level. No restore:
	// one-shot runs leave the level in place.
	assert.Equal(t, []string{"1", "5"}, dev.levels())
	assert.False(t, ctrl.Status().Running)
}

func TestStartValidatesConfig(t *testing.T) {
	dev := &mockDevice{temps: []tempStep{{temp: 50}}}

	cfg := testConfig(t)
	cfg.Curve = model.FanCurve{}
	ctrl := NewForTest(dev, cfg, &Deps{Recorder: newMockRecorder(), Notifier: &mockNotifier{}})
	err := ctrl.Start()
	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "fan_curve", cfgErr.Field)

	cfg = testConfig(t)
	cfg.SensorIndex = 9
	ctrl = NewForTest(dev, cfg, &Deps{Recorder: newMockRecorder(), Notifier: &mockNotifier{}})
	require.ErrorAs(t, ctrl.Start(), &cfgErr)
	assert.Equal(t, "sensor_index", cfgErr.Field)

	cfg = testConfig(t)
	cfg.UpdateInterval = 0
	ctrl = NewForTest(dev, cfg, &Deps{Recorder: newMockRecorder(), Notifier: &mockNotifier{}})
	require.ErrorAs(t, ctrl.Start(), &cfgErr)
	assert.Equal(t, "update_interval_seconds", cfgErr.Field)

	assert.Equal(t, 0, dev.writeCount(), "no loop may start on invalid configuration")
}

func TestEvaluate(t *testing.T) {
	curve, err := model.NewFanCurve([][]int{{0, 0}, {50, 1}, {55, 2}, {65, 3}, {75, 5}, {85, 7}})
	require.NoError(t, err)
	level1, err := model.ManualLevel(1)
	require.NoError(t, err)
	level2, err := model.ManualLevel(2)
	require.NoError(t, err)

	tests := []struct {
		name      string
		temp      int
		last      *model.FanLevel
		want      string
		wantWrite bool
	}{
		{name: "no previous level always writes", temp: 45, last: nil, want: "0", wantWrite: true},
		{name: "same level suppressed", temp: 52, last: &level1, want: "1", wantWrite: false},
		{name: "boundary crossing writes", temp: 55, last: &level1, want: "2", wantWrite: true},
		{name: "level drop writes", temp: 45, last: &level2, want: "0", wantWrite: true},
		{name: "top of curve", temp: 120, last: &level2, want: "7", wantWrite: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, write := evaluate(curve, tt.temp, tt.last)
			assert.Equal(t, tt.want, target.String())
			assert.Equal(t, tt.wantWrite, write)
		})
	}
}
