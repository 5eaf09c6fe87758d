package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mholtzmann/tpfand/internal/model"
)

// InsertReading appends one control-loop sample.
func InsertReading(db *sql.DB, r model.Reading) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	var level interface{}
	if r.Level != nil {
		level = r.Level.String()
	}
	_, err = tx.Exec(`INSERT INTO readings (recorded_at, sensor_index, temperature, fan_level, fan_rpm, commanded) VALUES (?, ?, ?, ?, ?, ?)`,
		r.At.Format(time.RFC3339), r.SensorIndex, r.Temperature, level, r.RPM, r.Commanded)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert reading: %w", err)
	}
	return tx.Commit()
}

// InsertEvent appends one daemon event.
func InsertEvent(db *sql.DB, e model.Event) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO events (recorded_at, kind, message) VALUES (?, ?, ?)`,
		e.At.Format(time.RFC3339), e.Kind, e.Message)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// UpsertDaemonStatus overwrites the singleton daemon status record.
func UpsertDaemonStatus(db *sql.DB, status model.Status, pid int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	var level interface{}
	if status.LastCommandedLevel != nil {
		level = status.LastCommandedLevel.String()
	}
	var startedAt interface{}
	if status.StartedAt != nil {
		startedAt = status.StartedAt.Format(time.RFC3339)
	}
	_, err = tx.Exec(`UPDATE daemon SET running = ?, pid = ?, sensor_index = ?, started_at = ?, last_temperature = ?, last_fan_level = ?, fan_rpm = ?, last_error = ?, updated_at = ? WHERE id = 1`,
		status.Running, pid, status.SensorIndex, startedAt, status.LastTemperature, level, status.FanRPM, status.LastError, time.Now().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update daemon status: %w", err)
	}
	return tx.Commit()
}

// MarkDaemonStopped clears the running flag and pid, preserving the last
// known temperature and level for post-mortem inspection.
func MarkDaemonStopped(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`UPDATE daemon SET running = FALSE, pid = NULL, updated_at = ? WHERE id = 1`,
		time.Now().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("mark daemon stopped: %w", err)
	}
	return tx.Commit()
}

// PruneHistory deletes readings and events recorded before cutoff, in a
// single transaction, and reports how many rows went away.
func PruneHistory(db *sql.DB, cutoff time.Time) (readings, events int64, err error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("start transaction: %w", err)
	}
	cutoffStr := cutoff.Format(time.RFC3339)

	res, err := tx.Exec(`DELETE FROM readings WHERE recorded_at < ?`, cutoffStr)
	if err != nil {
		tx.Rollback()
		return 0, 0, fmt.Errorf("prune readings: %w", err)
	}
	readings, _ = res.RowsAffected()

	res, err = tx.Exec(`DELETE FROM events WHERE recorded_at < ?`, cutoffStr)
	if err != nil {
		tx.Rollback()
		return 0, 0, fmt.Errorf("prune events: %w", err)
	}
	events, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit prune transaction: %w", err)
	}
	return readings, events, nil
}
