// Package controller runs the fan control loop: sample the configured EC
// temperature sensor on a fixed cadence, map the reading through the fan
// curve and command the EC only when the target level changes. The EC keeps
// applying the last written level on its own, so suppressed writes cost
// nothing.
package controller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mholtzmann/tpfand/db"
	"github.com/mholtzmann/tpfand/internal/config"
	"github.com/mholtzmann/tpfand/internal/datadog"
	"github.com/mholtzmann/tpfand/internal/ec"
	"github.com/mholtzmann/tpfand/internal/model"
	"github.com/mholtzmann/tpfand/internal/notifications"
)

// ErrAlreadyRunning is returned by Start while a loop is active.
var ErrAlreadyRunning = errors.New("control loop already running")

// Device is the hardware surface the loop drives.
type Device interface {
	ReadTemperature(sensor int) (int, error)
	SetFanLevel(level model.FanLevel) error
	FanRPM() (int, error)
}

// Recorder persists loop telemetry.
type Recorder interface {
	RecordReading(model.Reading)
	RecordEvent(kind, message string)
	UpdateStatus(model.Status)
}

// Notifier interface for sending notifications
type Notifier interface {
	Send(title, message string) error
}

// Config is the runtime configuration of one control loop.
type Config struct {
	SensorIndex         int
	UpdateInterval      time.Duration
	Curve               model.FanCurve
	CriticalTemperature int
}

func (cfg Config) Validate() error {
	if cfg.SensorIndex < 0 || cfg.SensorIndex >= ec.SensorCount {
		return &config.ConfigurationError{Field: "sensor_index", Reason: fmt.Sprintf("%d out of range 0-%d", cfg.SensorIndex, ec.SensorCount-1)}
	}
	if cfg.UpdateInterval <= 0 {
		return &config.ConfigurationError{Field: "update_interval_seconds", Reason: fmt.Sprintf("%s is not positive", cfg.UpdateInterval)}
	}
	if cfg.Curve.Len() == 0 {
		return &config.ConfigurationError{Field: "fan_curve", Reason: "curve is empty"}
	}
	return nil
}

// Controller owns the control loop goroutine and its observable state.
type Controller struct {
	dev      Device
	cfg      Config
	recorder Recorder
	notifier Notifier

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
	runErr         error
	status         model.Status
	lastCommanded  *model.FanLevel
	critical       bool
	sensorFailures int
}

// New wires a controller against the store; conn may be nil, which drops
// persistence but keeps the loop fully functional.
func New(dev Device, cfg Config, conn *sql.DB) *Controller {
	var recorder Recorder = db.NopRecorder{}
	if conn != nil {
		recorder = db.NewRecorder(conn)
	}
	return &Controller{
		dev:      dev,
		cfg:      cfg,
		recorder: recorder,
		notifier: realNotifier{},
		status:   model.Status{SensorIndex: cfg.SensorIndex},
	}
}

// Deps holds injectable dependencies.
type Deps struct {
	Recorder Recorder
	Notifier Notifier
}

// NewForTest creates a controller with injectable dependencies for testing.
func NewForTest(dev Device, cfg Config, deps *Deps) *Controller {
	c := &Controller{
		dev:      dev,
		cfg:      cfg,
		recorder: deps.Recorder,
		notifier: deps.Notifier,
		status:   model.Status{SensorIndex: cfg.SensorIndex},
	}
	if c.recorder == nil {
		c.recorder = db.NopRecorder{}
	}
	if c.notifier == nil {
		c.notifier = realNotifier{}
	}
	return c
}

type realNotifier struct{}

func (realNotifier) Send(title, message string) error {
	if !notifications.Enabled() {
		return nil
	}
	return notifications.Send(title, message)
}

// Start validates the configuration and launches the control loop. The
// first cycle runs immediately, then once per update interval. Returns
// ErrAlreadyRunning while a loop is active; restarting after Stop is fine.
func (c *Controller) Start() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.runErr = nil
	c.lastCommanded = nil
	c.critical = false
	c.sensorFailures = 0
	now := time.Now()
	c.status = model.Status{Running: true, SensorIndex: c.cfg.SensorIndex, StartedAt: &now}
	c.mu.Unlock()

	log.Info().
		Int("sensor", c.cfg.SensorIndex).
		Dur("interval", c.cfg.UpdateInterval).
		Str("curve", c.cfg.Curve.String()).
		Msg("Starting fan control loop")
	c.recorder.RecordEvent(model.EventStarted,
		fmt.Sprintf("fan control started: sensor %d, interval %s, curve %s", c.cfg.SensorIndex, c.cfg.UpdateInterval, c.cfg.Curve))
	c.recorder.UpdateStatus(c.Status())

	go c.run(ctx)
	return nil
}

// Stop cancels the loop and blocks until it has restored automatic fan
// control and wound down. Safe to call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Done is closed once the loop has fully wound down.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Err reports why the loop exited; nil for a clean stop.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Status returns a snapshot of the loop state.
func (c *Controller) Status() model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Curve returns the active fan curve.
func (c *Controller) Curve() model.FanCurve {
	return c.cfg.Curve
}

// Tick runs a single control cycle synchronously, for one-shot invocations.
// It does not restore automatic control afterwards and must not be called
// while the loop is running.
func (c *Controller) Tick() error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.mu.Unlock()
	return c.cycle()
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.markStopped()
	defer c.restoreAutomatic()

	ticker := time.NewTicker(c.cfg.UpdateInterval)
	defer ticker.Stop()

	if err := c.cycle(); err != nil {
		c.fail(err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.cycle(); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// cycle runs one sample-evaluate-command pass. A non-nil return is fatal
// and aborts the loop; recoverable sensor trouble is absorbed here.
func (c *Controller) cycle() error {
	temp, err := c.dev.ReadTemperature(c.cfg.SensorIndex)
	if err != nil {
		if ec.IsHardwareAccess(err) {
			return err
		}
		c.noteSensorFailure(err)
		return nil
	}

	c.mu.Lock()
	last := c.lastCommanded
	c.mu.Unlock()

	target, write := evaluate(c.cfg.Curve, temp, last)
	commanded := false
	if write {
		if err := c.dev.SetFanLevel(target); err != nil {
			if ec.IsHardwareAccess(err) {
				return err
			}
			// Transient EC trouble. lastCommanded stays unchanged, so the
			// write is retried next cycle.
			log.Warn().Err(err).Str("level", target.String()).Msg("Fan level write failed, will retry next cycle")
			c.recorder.RecordEvent(model.EventWriteError, err.Error())
			datadog.Incr("ec.write_error")
		} else {
			commanded = true
			from := "none"
			if last != nil {
				from = last.String()
			}
			log.Info().
				Int("temp", temp).
				Str("from", from).
				Str("to", target.String()).
				Msg("Fan level changed")
			c.recorder.RecordEvent(model.EventLevelChange,
				fmt.Sprintf("fan level %s -> %s at %d C", from, target, temp))
		}
	}

	var rpmPtr *int
	if rpm, err := c.dev.FanRPM(); err != nil {
		log.Debug().Err(err).Msg("Fan RPM read failed")
	} else {
		rpmPtr = &rpm
	}

	c.checkCritical(temp)

	now := time.Now()
	c.mu.Lock()
	if commanded {
		level := target
		c.lastCommanded = &level
		c.status.LastCommandedLevel = &level
	}
	c.status.LastTemperature = &temp
	c.status.FanRPM = rpmPtr
	c.status.LastError = ""
	c.sensorFailures = 0
	status := c.status
	level := c.lastCommanded
	c.mu.Unlock()

	datadog.Gauge("ec.temperature", float64(temp), fmt.Sprintf("sensor:%d", c.cfg.SensorIndex))
	if level != nil {
		datadog.Gauge("fan.level", float64(level.MetricValue()))
	}
	if rpmPtr != nil {
		datadog.Gauge("fan.rpm", float64(*rpmPtr))
	}

	c.recorder.RecordReading(model.Reading{
		At:          now,
		SensorIndex: c.cfg.SensorIndex,
		Temperature: &temp,
		Level:       level,
		RPM:         rpmPtr,
		Commanded:   commanded,
	})
	c.recorder.UpdateStatus(status)
	return nil
}

// evaluate returns the curve's level for temp and whether it differs from
// the last commanded level.
func evaluate(curve model.FanCurve, temp int, last *model.FanLevel) (model.FanLevel, bool) {
	target := curve.LevelFor(temp)
	if last != nil && *last == target {
		return target, false
	}
	return target, true
}

func (c *Controller) noteSensorFailure(err error) {
	c.mu.Lock()
	c.sensorFailures++
	count := c.sensorFailures
	c.status.LastError = err.Error()
	status := c.status
	sensor := c.cfg.SensorIndex
	c.mu.Unlock()

	log.Warn().Err(err).Int("consecutive", count).Msg("Temperature read failed, skipping cycle")
	if count == 1 {
		c.recorder.RecordEvent(model.EventSensorError, err.Error())
	}
	datadog.Incr("ec.sensor_error")
	c.recorder.RecordReading(model.Reading{At: time.Now(), SensorIndex: sensor})
	c.recorder.UpdateStatus(status)
}

func (c *Controller) checkCritical(temp int) {
	if c.cfg.CriticalTemperature <= 0 {
		return
	}
	c.mu.Lock()
	wasCritical := c.critical
	c.critical = temp >= c.cfg.CriticalTemperature
	isCritical := c.critical
	c.mu.Unlock()

	if isCritical && !wasCritical {
		log.Warn().
			Int("temp", temp).
			Int("threshold", c.cfg.CriticalTemperature).
			Msg("Critical temperature reached")
		c.recorder.RecordEvent(model.EventCriticalTemp,
			fmt.Sprintf("temperature %d C reached critical threshold %d C", temp, c.cfg.CriticalTemperature))
		datadog.Incr("ec.critical_temperature")
		msg := fmt.Sprintf("Sensor %d reports %d C (threshold %d C)", c.cfg.SensorIndex, temp, c.cfg.CriticalTemperature)
		if err := c.notifier.Send("tpfand: critical temperature", msg); err != nil {
			log.Warn().Err(err).Msg("Failed to send critical temperature notification")
		}
	}
	if !isCritical && wasCritical {
		log.Info().Int("temp", temp).Msg("Temperature back below critical threshold")
	}
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.runErr = err
	c.status.LastError = err.Error()
	c.mu.Unlock()

	log.Error().Err(err).Msg("Fan control loop aborting")
	c.recorder.RecordEvent(model.EventHardwareError, err.Error())
	datadog.Incr("ec.hardware_error")
	if nerr := c.notifier.Send("tpfand: hardware failure", err.Error()); nerr != nil {
		log.Warn().Err(nerr).Msg("Failed to send hardware failure notification")
	}
}

// restoreAutomatic hands fan control back to the EC firmware. Runs on every
// loop exit, clean or not.
func (c *Controller) restoreAutomatic() {
	if err := c.dev.SetFanLevel(model.Automatic); err != nil {
		log.Error().Err(err).Msg("Failed to restore automatic fan control, fan may stay at the last manual level")
		c.recorder.RecordEvent(model.EventWriteError, fmt.Sprintf("restore automatic: %v", err))
		msg := "The EC rejected the handoff back to automatic fan control. The fan may be stuck at the last manual level until reboot."
		if nerr := c.notifier.Send("tpfand: fan restore failed", msg); nerr != nil {
			log.Warn().Err(nerr).Msg("Failed to send restore failure notification")
		}
		return
	}
	auto := model.Automatic
	c.mu.Lock()
	c.lastCommanded = &auto
	c.status.LastCommandedLevel = &auto
	c.mu.Unlock()
	log.Info().Msg("Fan control restored to automatic")
}

func (c *Controller) markStopped() {
	c.mu.Lock()
	c.running = false
	c.status.Running = false
	if c.runErr != nil {
		c.status.LastError = c.runErr.Error()
	}
	status := c.status
	c.mu.Unlock()

	c.recorder.UpdateStatus(status)
	c.recorder.RecordEvent(model.EventStopped, "fan control stopped")
	log.Info().Msg("Fan control loop stopped")
}
