package model

import "time"

// PriceEstimate is the output of the pricing engine.
type PriceEstimate struct {
	ID                      int64              `json:"id,omitempty"`
	DeviceID                string             `json:"device_id,omitempty"`
	EstimatedResalePrice    float64            `json:"estimated_resale_price"`
	MarketAveragePrice      float64            `json:"market_average_price"`
	ConfidenceIntervalLower float64            `json:"confidence_interval_lower"`
	ConfidenceIntervalUpper float64            `json:"confidence_interval_upper"`
	FeatureImportance       map[string]float64 `json:"feature_importance"`
	RSquared                float64            `json:"r_squared"`
	ModelVersion            string             `json:"model_version"`
	Timestamp               time.Time          `json:"timestamp,omitempty"`
}
