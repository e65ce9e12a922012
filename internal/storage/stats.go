package storage

import (
	"context"
	"fmt"

	"github.com/loopphones/loop/internal/model"
)

// Stats aggregates platform-wide counters across all tables.
func (db *DB) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	err := db.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM devices),
			(SELECT COUNT(*) FROM telemetry_snapshots),
			(SELECT COUNT(*) FROM grading_records),
			(SELECT COUNT(*) FROM digital_passports),
			COALESCE((SELECT SUM(total_repairs) FROM digital_passports), 0),
			COALESCE((SELECT SUM(total_refurbishments) FROM digital_passports), 0),
			COALESCE((SELECT SUM(parts_harvested) FROM digital_passports), 0),
			COALESCE((SELECT SUM(recycling_events) FROM digital_passports), 0),
			COALESCE((SELECT AVG(circularity_score) FROM digital_passports), 0)
	`).Scan(
		&s.TotalDevices, &s.TotalSnapshots, &s.TotalGradings, &s.TotalPassports,
		&s.TotalRepairs, &s.TotalRefurbishments, &s.TotalPartsHarvested,
		&s.TotalRecycling, &s.AvgCircularityScore,
	)
	if err != nil {
		return model.Stats{}, fmt.Errorf("storage: stats: %w", err)
	}
	return s, nil
}
