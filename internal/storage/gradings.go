package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loopphones/loop/internal/model"
)

const gradingColumns = `id, device_id, grade, confidence_score, screen_scratches_count,
	screen_cracks_count, body_scratches_count, body_dents_count, damage_score,
	detections, cv_model_version, image_urls, timestamp`

func scanGrading(row pgx.Row) (model.GradingResult, error) {
	var g model.GradingResult
	err := row.Scan(
		&g.ID, &g.DeviceID, &g.Grade, &g.ConfidenceScore, &g.ScreenScratchesCount,
		&g.ScreenCracksCount, &g.BodyScratchesCount, &g.BodyDentsCount, &g.DamageScore,
		&g.Detections, &g.CVModelVersion, &g.ImageURLs, &g.Timestamp,
	)
	return g, err
}

// InsertGrading persists a grading record for a device.
func (db *DB) InsertGrading(ctx context.Context, deviceID string, g model.GradingResult) (model.GradingResult, error) {
	g.DeviceID = deviceID
	if g.Timestamp.IsZero() {
		g.Timestamp = time.Now().UTC()
	}
	if g.Detections == nil {
		g.Detections = model.DetectionSet{}
	}
	if g.ImageURLs == nil {
		g.ImageURLs = []string{}
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO grading_records (device_id, grade, confidence_score, screen_scratches_count,
		                              screen_cracks_count, body_scratches_count, body_dents_count,
		                              damage_score, detections, cv_model_version, image_urls, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		g.DeviceID, string(g.Grade), g.ConfidenceScore, g.ScreenScratchesCount,
		g.ScreenCracksCount, g.BodyScratchesCount, g.BodyDentsCount,
		g.DamageScore, g.Detections, g.CVModelVersion, g.ImageURLs, g.Timestamp,
	).Scan(&g.ID)
	if err != nil {
		return model.GradingResult{}, fmt.Errorf("storage: insert grading: %w", err)
	}
	return g, nil
}

// ListGradings returns a device's grading history, newest first.
func (db *DB) ListGradings(ctx context.Context, deviceID string, limit int) ([]model.GradingResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+gradingColumns+`
		 FROM grading_records
		 WHERE device_id = $1
		 ORDER BY timestamp DESC
		 LIMIT $2`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list gradings: %w", err)
	}
	defer rows.Close()

	var gradings []model.GradingResult
	for rows.Next() {
		g, err := scanGrading(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan grading: %w", err)
		}
		gradings = append(gradings, g)
	}
	return gradings, rows.Err()
}

// LatestGrading returns a device's most recent grading record.
func (db *DB) LatestGrading(ctx context.Context, deviceID string) (model.GradingResult, error) {
	g, err := scanGrading(db.pool.QueryRow(ctx,
		`SELECT `+gradingColumns+`
		 FROM grading_records
		 WHERE device_id = $1
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		deviceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GradingResult{}, fmt.Errorf("storage: grading for device %s: %w", deviceID, ErrNotFound)
		}
		return model.GradingResult{}, fmt.Errorf("storage: latest grading: %w", err)
	}
	return g, nil
}
