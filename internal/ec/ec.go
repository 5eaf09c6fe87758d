// Package ec talks to the ThinkPad embedded controller over raw I/O ports
// using the keyboard-controller-style handshake. A Device is the exclusive
// handle on the hardware: opening one takes a process-wide lock and every
// register operation is serialized on an internal mutex. Fan writes are
// fire-and-forget; the EC offers no acknowledgement, so a commanded level
// can only be observed indirectly through the fan status register or the
// tach, never confirmed.
package ec

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mholtzmann/tpfand/internal/model"
	"github.com/mholtzmann/tpfand/internal/proclock"
)

// kcsWaitTimeout bounds each handshake wait. Variable so tests can shrink it.
var kcsWaitTimeout = 200 * time.Millisecond

// Options configures Open.
type Options struct {
	// LockFile is the path of the process-exclusion lock.
	LockFile string
}

// Device is the exclusive handle on the EC ports.
type Device struct {
	mu   sync.Mutex
	bus  PortBus
	lock *proclock.Lock
}

// Open acquires the process lock, opens the platform port backend and probes
// the status port once, so that a second daemon instance, missing privileges
// or a missing driver all surface here instead of mid-loop. Callers own the
// returned handle and must Close it.
func Open(opts Options) (*Device, error) {
	lock, err := proclock.Acquire(opts.LockFile)
	if err != nil {
		return nil, &HardwareAccessError{Op: "acquire device lock", Err: err}
	}
	bus, err := openPortBus()
	if err != nil {
		lock.Release()
		return nil, &HardwareAccessError{Op: "open port bus", Err: err}
	}
	d := &Device{bus: bus, lock: lock}
	if _, err := d.in(statusPort); err != nil {
		bus.Close()
		lock.Release()
		return nil, err
	}
	log.Debug().Str("lock_file", opts.LockFile).Msg("EC device opened")
	return d, nil
}

// newTestDevice wires a Device directly to a bus, skipping the process lock
// and the status probe.
func newTestDevice(bus PortBus) *Device {
	return &Device{bus: bus}
}

// Close releases the port backend and the process lock. The device is
// unusable afterwards.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	if d.bus != nil {
		firstErr = d.bus.Close()
		d.bus = nil
	}
	if d.lock != nil {
		if err := d.lock.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.lock = nil
	}
	return firstErr
}

func (d *Device) in(port uint16) (byte, error) {
	if d.bus == nil {
		return 0, &HardwareAccessError{Op: fmt.Sprintf("in 0x%02X", port), Err: errClosed}
	}
	v, err := d.bus.In(port)
	if err != nil {
		return 0, &HardwareAccessError{Op: fmt.Sprintf("in 0x%02X", port), Err: err}
	}
	return v, nil
}

func (d *Device) out(port uint16, value byte) error {
	if d.bus == nil {
		return &HardwareAccessError{Op: fmt.Sprintf("out 0x%02X", port), Err: errClosed}
	}
	if err := d.bus.Out(port, value); err != nil {
		return &HardwareAccessError{Op: fmt.Sprintf("out 0x%02X", port), Err: err}
	}
	return nil
}

// waitInputClear polls the status port until the EC has consumed the last
// byte we gave it (IBF clear).
func (d *Device) waitInputClear() error {
	deadline := time.Now().Add(kcsWaitTimeout)
	for {
		status, err := d.in(statusPort)
		if err != nil {
			return err
		}
		if status&statusIBF == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: input buffer stayed busy", ErrTimeout)
		}
		time.Sleep(kcsRetryDelay)
	}
}

// waitOutputFull polls the status port until the EC has produced a byte for
// us (OBF set).
func (d *Device) waitOutputFull() error {
	deadline := time.Now().Add(kcsWaitTimeout)
	for {
		status, err := d.in(statusPort)
		if err != nil {
			return err
		}
		if status&statusOBF != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no data from controller", ErrTimeout)
		}
		time.Sleep(kcsRetryDelay)
	}
}

// ReadRegister reads a single EC register via the KCS read sequence.
func (d *Device) ReadRegister(offset byte) (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(offset)
}

func (d *Device) readRegister(offset byte) (byte, error) {
	if err := d.waitInputClear(); err != nil {
		return 0, fmt.Errorf("read 0x%02X: %w", offset, err)
	}
	if err := d.out(statusPort, cmdRead); err != nil {
		return 0, err
	}
	if err := d.waitInputClear(); err != nil {
		return 0, fmt.Errorf("read 0x%02X: %w", offset, err)
	}
	if err := d.out(dataPort, offset); err != nil {
		return 0, err
	}
	if err := d.waitOutputFull(); err != nil {
		return 0, fmt.Errorf("read 0x%02X: %w", offset, err)
	}
	value, err := d.in(dataPort)
	if err != nil {
		return 0, err
	}
	// The handshake ends with one more status read to clear OBF.
	if _, err := d.in(statusPort); err != nil {
		return 0, err
	}
	return value, nil
}

// WriteRegister writes a single EC register via the KCS write sequence.
func (d *Device) WriteRegister(offset, value byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegister(offset, value)
}

func (d *Device) writeRegister(offset, value byte) error {
	if err := d.waitInputClear(); err != nil {
		return fmt.Errorf("write 0x%02X: %w", offset, err)
	}
	if err := d.out(statusPort, cmdWrite); err != nil {
		return err
	}
	if err := d.waitInputClear(); err != nil {
		return fmt.Errorf("write 0x%02X: %w", offset, err)
	}
	if err := d.out(dataPort, offset); err != nil {
		return err
	}
	if err := d.waitInputClear(); err != nil {
		return fmt.Errorf("write 0x%02X: %w", offset, err)
	}
	if err := d.out(dataPort, value); err != nil {
		return err
	}
	if err := d.waitInputClear(); err != nil {
		return fmt.Errorf("write 0x%02X: %w", offset, err)
	}
	return nil
}

// ReadTemperature reads sensor (0 to SensorCount-1) in degrees Celsius.
// The 0x80 no-reading marker and values outside 0-127 come back as a
// SensorReadError; only a broken port path is a HardwareAccessError.
func (d *Device) ReadTemperature(sensor int) (int, error) {
	if sensor < 0 || sensor >= SensorCount {
		return 0, fmt.Errorf("sensor index %d out of range 0-%d", sensor, SensorCount-1)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readRegister(regTempBase + byte(sensor))
	if err != nil {
		if IsHardwareAccess(err) {
			return 0, err
		}
		return 0, &SensorReadError{Sensor: sensor, Err: err}
	}
	if raw == tempUnavailable {
		return 0, &SensorReadError{Sensor: sensor, Raw: raw}
	}
	temp := int(int8(raw))
	if temp < 0 {
		return 0, &SensorReadError{Sensor: sensor, Raw: raw}
	}
	return temp, nil
}

// SetFanLevel writes level to the fan status register. The EC does not
// acknowledge writes; an error here is a transport failure, not a rejection.
func (d *Device) SetFanLevel(level model.FanLevel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writeRegister(regFanStatus, level.ECByte()); err != nil {
		return fmt.Errorf("set fan level %s: %w", level, err)
	}
	log.Debug().Str("level", level.String()).Msg("Fan level written")
	return nil
}

// FanRPM reads the fan tachometer. The low byte must be read before the
// high byte; 0xFFFF means stopped or invalid and reads as 0.
func (d *Device) FanRPM() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	low, err := d.readRegister(regFanRPMLow)
	if err != nil {
		return 0, fmt.Errorf("fan rpm: %w", err)
	}
	high, err := d.readRegister(regFanRPMHigh)
	if err != nil {
		return 0, fmt.Errorf("fan rpm: %w", err)
	}
	rpm := int(high)<<8 | int(low)
	if rpm == 0xFFFF {
		return 0, nil
	}
	return rpm, nil
}

// FanStatus reads the fan status register and decodes the level currently
// programmed into it, returning the raw byte alongside.
func (d *Device) FanStatus() (model.FanLevel, byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, err := d.readRegister(regFanStatus)
	if err != nil {
		return model.FanLevel{}, 0, fmt.Errorf("fan status: %w", err)
	}
	return model.LevelFromECByte(raw), raw, nil
}
