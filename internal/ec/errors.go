package ec

import (
	"errors"
	"fmt"
)

// ErrTimeout is the KCS handshake deadline expiring: the EC did not become
// ready within the protocol wait bound.
var ErrTimeout = errors.New("timeout waiting on embedded controller")

var errClosed = errors.New("device is closed")

// HardwareAccessError means port I/O itself is unavailable or failing,
// typically missing privileges, a missing driver or a closed device. It is
// fatal to the control loop.
type HardwareAccessError struct {
	Op  string
	Err error
}

func (e *HardwareAccessError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("hardware access failed: %s", e.Op)
	}
	return fmt.Sprintf("hardware access failed: %s: %v", e.Op, e.Err)
}

func (e *HardwareAccessError) Unwrap() error { return e.Err }

// SensorReadError means a single temperature reading could not be produced:
// the sensor is absent, the value is outside the valid 0-127 range, or the
// EC did not answer in time. Recoverable; the caller skips the sample.
type SensorReadError struct {
	Sensor int
	Raw    byte
	Err    error
}

func (e *SensorReadError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("sensor %d read failed: %v", e.Sensor, e.Err)
	case e.Raw == tempUnavailable:
		return fmt.Sprintf("sensor %d unavailable (raw 0x80)", e.Sensor)
	default:
		return fmt.Sprintf("sensor %d value 0x%02X outside valid range 0-127", e.Sensor, e.Raw)
	}
}

func (e *SensorReadError) Unwrap() error { return e.Err }

// IsHardwareAccess reports whether err carries a fatal port access failure.
func IsHardwareAccess(err error) bool {
	var hw *HardwareAccessError
	return errors.As(err, &hw)
}

// IsSensorRead reports whether err is a recoverable sensor read failure.
func IsSensorRead(err error) bool {
	var sr *SensorReadError
	return errors.As(err, &sr)
}
