package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/loopphones/loop/internal/model"
)

// InsertPriceEstimate persists a price estimate for a device.
func (db *DB) InsertPriceEstimate(ctx context.Context, deviceID string, p model.PriceEstimate) (model.PriceEstimate, error) {
	p.DeviceID = deviceID
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	if p.FeatureImportance == nil {
		p.FeatureImportance = map[string]float64{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO price_estimates (device_id, estimated_resale_price, market_average_price,
		                              confidence_interval_lower, confidence_interval_upper,
		                              feature_importance, r_squared, model_version, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		p.DeviceID, p.EstimatedResalePrice, p.MarketAveragePrice,
		p.ConfidenceIntervalLower, p.ConfidenceIntervalUpper,
		p.FeatureImportance, p.RSquared, p.ModelVersion, p.Timestamp,
	).Scan(&p.ID)
	if err != nil {
		return model.PriceEstimate{}, fmt.Errorf("storage: insert price estimate: %w", err)
	}
	return p, nil
}

// ListPriceEstimates returns a device's price history, newest first.
func (db *DB) ListPriceEstimates(ctx context.Context, deviceID string, limit int) ([]model.PriceEstimate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, device_id, estimated_resale_price, market_average_price,
		        confidence_interval_lower, confidence_interval_upper,
		        feature_importance, r_squared, model_version, timestamp
		 FROM price_estimates
		 WHERE device_id = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list price estimates: %w", err)
	}
	defer rows.Close()

	var estimates []model.PriceEstimate
	for rows.Next() {
		var p model.PriceEstimate
		if err := rows.Scan(
			&p.ID, &p.DeviceID, &p.EstimatedResalePrice, &p.MarketAveragePrice,
			&p.ConfidenceIntervalLower, &p.ConfidenceIntervalUpper,
			&p.FeatureImportance, &p.RSquared, &p.ModelVersion, &p.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("storage: scan price estimate: %w", err)
		}
		estimates = append(estimates, p)
	}
	return estimates, rows.Err()
}
