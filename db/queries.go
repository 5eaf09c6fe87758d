package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mholtzmann/tpfand/internal/model"
)

// DaemonRow is the persisted singleton daemon status record. It is what
// the CLI reads when asked for status while the daemon owns the hardware.
type DaemonRow struct {
	Running         bool
	PID             int
	SensorIndex     int
	LastTemperature *int
	LastFanLevel    *model.FanLevel
	FanRPM          *int
	StartedAt       *time.Time
	LastError       string
	UpdatedAt       time.Time
}

// RecentReadings retrieves the newest control-loop samples, newest first.
func RecentReadings(db *sql.DB, limit int) ([]model.Reading, error) {
	rows, err := db.Query(`SELECT recorded_at, sensor_index, temperature, fan_level, fan_rpm, commanded FROM readings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []model.Reading
	for rows.Next() {
		var r model.Reading
		var recordedAt string
		var temperature, rpm sql.NullInt64
		var level sql.NullString
		if err := rows.Scan(&recordedAt, &r.SensorIndex, &temperature, &level, &rpm, &r.Commanded); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.At, _ = time.Parse(time.RFC3339, recordedAt)
		if temperature.Valid {
			t := int(temperature.Int64)
			r.Temperature = &t
		}
		if rpm.Valid {
			v := int(rpm.Int64)
			r.RPM = &v
		}
		if level.Valid {
			l, err := model.ParseFanLevel(level.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse stored fan level %q: %w", level.String, err)
			}
			r.Level = &l
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// RecentEvents retrieves the newest daemon events, newest first.
func RecentEvents(db *sql.DB, limit int) ([]model.Event, error) {
	rows, err := db.Query(`SELECT recorded_at, kind, message FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var recordedAt string
		if err := rows.Scan(&recordedAt, &e.Kind, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339, recordedAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetDaemonStatus retrieves the persisted daemon status record.
func GetDaemonStatus(db *sql.DB) (DaemonRow, error) {
	var row DaemonRow
	var pid, temperature, rpm sql.NullInt64
	var level, startedAt, updatedAt sql.NullString
	err := db.QueryRow(`SELECT running, pid, sensor_index, started_at, last_temperature, last_fan_level, fan_rpm, last_error, updated_at FROM daemon WHERE id = 1`).
		Scan(&row.Running, &pid, &row.SensorIndex, &startedAt, &temperature, &level, &rpm, &row.LastError, &updatedAt)
	if err != nil {
		return DaemonRow{}, fmt.Errorf("failed to get daemon status: %w", err)
	}
	if pid.Valid {
		row.PID = int(pid.Int64)
	}
	if temperature.Valid {
		t := int(temperature.Int64)
		row.LastTemperature = &t
	}
	if rpm.Valid {
		v := int(rpm.Int64)
		row.FanRPM = &v
	}
	if level.Valid {
		l, err := model.ParseFanLevel(level.String)
		if err != nil {
			return DaemonRow{}, fmt.Errorf("failed to parse stored fan level %q: %w", level.String, err)
		}
		row.LastFanLevel = &l
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			row.StartedAt = &t
		}
	}
	if updatedAt.Valid && updatedAt.String != "" {
		row.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return row, nil
}

// CountHistory reports how many readings and events the store holds.
func CountHistory(db *sql.DB) (readings, events int64, err error) {
	if err = db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&readings); err != nil {
		return 0, 0, fmt.Errorf("failed to count readings: %w", err)
	}
	if err = db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&events); err != nil {
		return 0, 0, fmt.Errorf("failed to count events: %w", err)
	}
	return readings, events, nil
}
