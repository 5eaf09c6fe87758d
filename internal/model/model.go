package model

import "time"

// Status is a point-in-time snapshot of the control loop, safe to hand out
// across goroutines. Pointer fields are nil until the loop has produced the
// corresponding value.
type Status struct {
	Running            bool       `json:"running"`
	SensorIndex        int        `json:"sensor_index"`
	LastTemperature    *int       `json:"last_temperature"`
	LastCommandedLevel *FanLevel  `json:"last_commanded_level"`
	FanRPM             *int       `json:"fan_rpm"`
	StartedAt          *time.Time `json:"started_at"`
	LastError          string     `json:"last_error,omitempty"`
}

// Reading is one history record of a control cycle. Temperature is nil when
// the sensor read failed that cycle; Commanded reports whether a fan write
// was issued.
type Reading struct {
	At          time.Time `json:"at"`
	SensorIndex int       `json:"sensor_index"`
	Temperature *int      `json:"temperature"`
	Level       *FanLevel `json:"level"`
	RPM         *int      `json:"rpm"`
	Commanded   bool      `json:"commanded"`
}

// Event kinds recorded over a daemon's lifetime.
const (
	EventStarted       = "started"
	EventStopped       = "stopped"
	EventLevelChange   = "level_change"
	EventSensorError   = "sensor_error"
	EventWriteError    = "write_error"
	EventHardwareError = "hardware_error"
	EventCriticalTemp  = "critical_temperature"
)

// Event is a notable occurrence worth keeping alongside the reading history.
type Event struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}
