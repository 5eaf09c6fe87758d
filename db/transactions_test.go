package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mholtzmann/tpfand/internal/model"
)

func intPtr(v int) *int { return &v }

func levelPtr(t *testing.T, s string) *model.FanLevel {
	t.Helper()
	l, err := model.ParseFanLevel(s)
	require.NoError(t, err)
	return &l
}

func TestInsertAndQueryReadings(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := model.Reading{
			At:          base.Add(time.Duration(i) * 5 * time.Second),
			SensorIndex: 0,
			Temperature: intPtr(50 + i),
			Level:       levelPtr(t, "2"),
			RPM:         intPtr(3100),
			Commanded:   i == 0,
		}
		require.NoError(t, InsertReading(conn, r))
	}

	readings, err := RecentReadings(conn, 3)
	require.NoError(t, err)
	require.Len(t, readings, 3)

	// Newest first.
	assert.Equal(t, 54, *readings[0].Temperature)
	assert.Equal(t, 53, *readings[1].Temperature)
	assert.Equal(t, 52, *readings[2].Temperature)
	assert.Equal(t, "2", readings[0].Level.String())
	assert.Equal(t, 3100, *readings[0].RPM)
	assert.False(t, readings[0].Commanded)
	assert.WithinDuration(t, base.Add(20*time.Second), readings[0].At, time.Second)
}

func TestInsertReadingWithFailedSample(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	r := model.Reading{At: time.Now(), SensorIndex: 1}
	require.NoError(t, InsertReading(conn, r))

	readings, err := RecentReadings(conn, 10)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Nil(t, readings[0].Temperature)
	assert.Nil(t, readings[0].Level)
	assert.Nil(t, readings[0].RPM)
	assert.Equal(t, 1, readings[0].SensorIndex)
}

func TestInsertAndQueryEvents(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	events := []model.Event{
		{At: time.Now().Add(-2 * time.Minute), Kind: model.EventStarted, Message: "daemon started"},
		{At: time.Now().Add(-1 * time.Minute), Kind: model.EventLevelChange, Message: "fan level 2 -> 5"},
		{At: time.Now(), Kind: model.EventStopped, Message: "daemon stopped"},
	}
	for _, e := range events {
		require.NoError(t, InsertEvent(conn, e))
	}

	got, err := RecentEvents(conn, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.EventStopped, got[0].Kind)
	assert.Equal(t, model.EventLevelChange, got[1].Kind)
	assert.Equal(t, "fan level 2 -> 5", got[1].Message)
}

func TestDaemonStatusRoundTrip(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	t.Run("fresh store reads as stopped", func(t *testing.T) {
		row, err := GetDaemonStatus(conn)
		require.NoError(t, err)
		assert.False(t, row.Running)
		assert.Zero(t, row.PID)
		assert.Nil(t, row.LastTemperature)
		assert.Nil(t, row.LastFanLevel)
	})

	t.Run("upsert and read back", func(t *testing.T) {
		started := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
		status := model.Status{
			Running:            true,
			SensorIndex:        0,
			LastTemperature:    intPtr(61),
			LastCommandedLevel: levelPtr(t, "3"),
			FanRPM:             intPtr(3450),
			StartedAt:          &started,
		}
		require.NoError(t, UpsertDaemonStatus(conn, status, 4242))

		row, err := GetDaemonStatus(conn)
		require.NoError(t, err)
		assert.True(t, row.Running)
		assert.Equal(t, 4242, row.PID)
		assert.Equal(t, 61, *row.LastTemperature)
		assert.Equal(t, "3", row.LastFanLevel.String())
		assert.Equal(t, 3450, *row.FanRPM)
		require.NotNil(t, row.StartedAt)
		assert.WithinDuration(t, started, *row.StartedAt, time.Second)
		assert.False(t, row.UpdatedAt.IsZero())
	})

	t.Run("mark stopped keeps last values", func(t *testing.T) {
		require.NoError(t, MarkDaemonStopped(conn))

		row, err := GetDaemonStatus(conn)
		require.NoError(t, err)
		assert.False(t, row.Running)
		assert.Zero(t, row.PID)
		assert.Equal(t, 61, *row.LastTemperature)
		assert.Equal(t, "3", row.LastFanLevel.String())
	})
}

func TestPruneHistory(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	now := time.Now().UTC()
	old := now.Add(-30 * 24 * time.Hour)
	for i := 0; i < 4; i++ {
		require.NoError(t, InsertReading(conn, model.Reading{At: old, SensorIndex: 0, Temperature: intPtr(40)}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, InsertReading(conn, model.Reading{At: now, SensorIndex: 0, Temperature: intPtr(55)}))
	}
	require.NoError(t, InsertEvent(conn, model.Event{At: old, Kind: model.EventStarted, Message: "old run"}))
	require.NoError(t, InsertEvent(conn, model.Event{At: now, Kind: model.EventStarted, Message: "current run"}))

	readings, events, err := PruneHistory(conn, now.Add(-14*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), readings)
	assert.Equal(t, int64(1), events)

	r, e, err := CountHistory(conn)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r)
	assert.Equal(t, int64(1), e)

	remaining, err := RecentReadings(conn, 10)
	require.NoError(t, err)
	for _, reading := range remaining {
		assert.Equal(t, 55, *reading.Temperature)
	}
}
