package db

import (
	"database/sql"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mholtzmann/tpfand/internal/model"
)

// Recorder persists control-loop telemetry. Failures are logged and
// swallowed: a broken database must never stop fan control.
type Recorder struct {
	conn *sql.DB
	pid  int
}

func NewRecorder(conn *sql.DB) *Recorder {
	return &Recorder{conn: conn, pid: os.Getpid()}
}

func (r *Recorder) RecordReading(reading model.Reading) {
	if err := InsertReading(r.conn, reading); err != nil {
		log.Warn().Err(err).Msg("Failed to record reading")
	}
}

func (r *Recorder) RecordEvent(kind, message string) {
	e := model.Event{At: time.Now(), Kind: kind, Message: message}
	if err := InsertEvent(r.conn, e); err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to record event")
	}
}

func (r *Recorder) UpdateStatus(status model.Status) {
	if err := UpsertDaemonStatus(r.conn, status, r.pid); err != nil {
		log.Warn().Err(err).Msg("Failed to update daemon status")
	}
}

// NopRecorder discards all telemetry. It backs runs without a configured
// database and tests that do not care about persistence.
type NopRecorder struct{}

func (NopRecorder) RecordReading(model.Reading) {}
func (NopRecorder) RecordEvent(string, string) {}
func (NopRecorder) UpdateStatus(model.Status) {}
