package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loopphones/loop/internal/model"
)

const telemetryColumns = `id, device_id, timestamp, battery_cycle_count, battery_health_pct,
	battery_voltage, battery_temperature, cpu_throttling_events, thermal_events_count,
	crash_count, predicted_rul_days, failure_probability`

func scanSnapshot(row pgx.Row) (model.TelemetrySnapshot, error) {
	var s model.TelemetrySnapshot
	err := row.Scan(
		&s.ID, &s.DeviceID, &s.Timestamp, &s.BatteryCycleCount, &s.BatteryHealthPct,
		&s.BatteryVoltage, &s.BatteryTemperature, &s.CPUThrottlingEvents, &s.ThermalEventsCount,
		&s.CrashCount, &s.PredictedRULDays, &s.FailureProbability,
	)
	return s, err
}

// InsertTelemetry persists a snapshot, returning it with its assigned ID.
func (db *DB) InsertTelemetry(ctx context.Context, s model.TelemetrySnapshot) (model.TelemetrySnapshot, error) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO telemetry_snapshots (device_id, timestamp, battery_cycle_count, battery_health_pct,
		                                  battery_voltage, battery_temperature, cpu_throttling_events,
		                                  thermal_events_count, crash_count, predicted_rul_days, failure_probability)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		s.DeviceID, s.Timestamp, s.BatteryCycleCount, s.BatteryHealthPct,
		s.BatteryVoltage, s.BatteryTemperature, s.CPUThrottlingEvents,
		s.ThermalEventsCount, s.CrashCount, s.PredictedRULDays, s.FailureProbability,
	).Scan(&s.ID)
	if err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("storage: insert telemetry: %w", err)
	}
	return s, nil
}

// ListTelemetrySince returns the newest snapshots for a device at or after
// the cutoff, oldest first, capped at limit. Selecting newest-first before
// reversing means the cap drops the oldest readings in the window, never the
// most recent ones.
func (db *DB) ListTelemetrySince(ctx context.Context, deviceID string, since time.Time, limit int) ([]model.TelemetrySnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+telemetryColumns+`
		 FROM telemetry_snapshots
		 WHERE device_id = $1 AND timestamp >= $2
		 ORDER BY timestamp DESC
		 LIMIT $3`,
		deviceID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list telemetry: %w", err)
	}
	defer rows.Close()

	snapshots, err := collectSnapshots(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// ListRecentTelemetry returns the newest snapshots for a device, newest
// first.
func (db *DB) ListRecentTelemetry(ctx context.Context, deviceID string, limit int) ([]model.TelemetrySnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+telemetryColumns+`
		 FROM telemetry_snapshots
		 WHERE device_id = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent telemetry: %w", err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// LatestTelemetry returns a device's newest snapshot.
func (db *DB) LatestTelemetry(ctx context.Context, deviceID string) (model.TelemetrySnapshot, error) {
	s, err := scanSnapshot(db.pool.QueryRow(ctx,
		`SELECT `+telemetryColumns+`
		 FROM telemetry_snapshots
		 WHERE device_id = $1
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		deviceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TelemetrySnapshot{}, fmt.Errorf("storage: telemetry for device %s: %w", deviceID, ErrNotFound)
		}
		return model.TelemetrySnapshot{}, fmt.Errorf("storage: latest telemetry: %w", err)
	}
	return s, nil
}

func collectSnapshots(rows pgx.Rows) ([]model.TelemetrySnapshot, error) {
	var snapshots []model.TelemetrySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan telemetry: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
