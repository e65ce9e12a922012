package model

import "time"

// DeviceInfo is the device summary embedded in an analysis report.
type DeviceInfo struct {
	Model        string       `json:"model"`
	Manufacturer string       `json:"manufacturer"`
	AgeDays      int          `json:"age_days"`
	Status       DeviceStatus `json:"status"`
}

// AnalysisReport is the full output of one orchestrated analysis pass.
// Grading and PriceEstimate are nil when the corresponding stage was not
// requested.
type AnalysisReport struct {
	DeviceID         string            `json:"device_id"`
	Timestamp        time.Time         `json:"analysis_timestamp"`
	DeviceInfo       DeviceInfo        `json:"device_info"`
	HealthPrediction HealthPrediction  `json:"health_prediction"`
	Grading          *GradingResult    `json:"grading,omitempty"`
	PriceEstimate    *PriceEstimate    `json:"price_estimate,omitempty"`
	Recommendations  RecommendationSet `json:"recommendations"`
}

// Stats is the aggregate platform counters for GET /v1/stats.
type Stats struct {
	TotalDevices        int     `json:"total_devices"`
	TotalSnapshots      int     `json:"total_snapshots"`
	TotalGradings       int     `json:"total_gradings"`
	TotalPassports      int     `json:"total_passports"`
	TotalRepairs        int     `json:"total_repairs"`
	TotalRefurbishments int     `json:"total_refurbishments"`
	TotalPartsHarvested int     `json:"total_parts_harvested"`
	TotalRecycling      int     `json:"total_recycling_events"`
	AvgCircularityScore float64 `json:"avg_circularity_score"`
}
