package model

import "time"

// TelemetrySnapshot is a single guardian reading for a device.
type TelemetrySnapshot struct {
	ID                  int64     `json:"id,omitempty"`
	DeviceID            string    `json:"device_id"`
	Timestamp           time.Time `json:"timestamp"`
	BatteryCycleCount   int       `json:"battery_cycle_count"`
	BatteryHealthPct    float64   `json:"battery_health_pct"`
	BatteryVoltage      *float64  `json:"battery_voltage,omitempty"`
	BatteryTemperature  float64   `json:"battery_temperature"`
	CPUThrottlingEvents int       `json:"cpu_throttling_events"`
	ThermalEventsCount  int       `json:"thermal_events_count"`
	CrashCount          int       `json:"crash_count"`

	// Filled in at ingest time by the health predictor.
	PredictedRULDays   *int     `json:"predicted_rul_days,omitempty"`
	FailureProbability *float64 `json:"failure_probability,omitempty"`
}

// HealthPrediction is the output of the health predictor over a telemetry
// window.
type HealthPrediction struct {
	PredictedRULDays   int     `json:"predicted_rul_days"`
	FailureProbability float64 `json:"failure_probability"`
	DegradationRate    float64 `json:"degradation_rate"`
	ConfidenceScore    float64 `json:"confidence_score"`
	ModelVersion       string  `json:"model_version"`
}
