// Package grading turns device images into a cosmetic grade.
//
// The damage detector is pluggable: production deploys a CV model behind
// the Detector interface, development and tests use the synthetic detector.
package grading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopphones/loop/internal/model"
)

// ModelVersion identifies the grading revision stamped on outputs.
const ModelVersion = "YOLOv10-v1.0"

// Detector finds surface defects in a set of device images.
type Detector interface {
	Detect(ctx context.Context, imageURLs []string) (model.DetectionSet, error)
}

// Engine grades a device from detector output.
type Engine struct {
	detector Detector
	logger   *slog.Logger
}

// NewEngine creates a grading engine backed by the given detector.
func NewEngine(detector Detector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{detector: detector, logger: logger}
}

// DefaultResult is the neutral grading used when no images are available.
// Confidence is deliberately low so downstream consumers can flag it.
func DefaultResult() model.GradingResult {
	return model.GradingResult{
		Grade:           model.GradeGood,
		ConfidenceScore: 0.50,
		Detections:      model.DetectionSet{},
		CVModelVersion:  ModelVersion,
		ImageURLs:       []string{},
		Timestamp:       time.Now().UTC(),
	}
}

// Grade runs the detector over the images and buckets the damage into a
// grade. An empty image list yields DefaultResult without invoking the
// detector.
func (e *Engine) Grade(ctx context.Context, imageURLs []string) (model.GradingResult, error) {
	if len(imageURLs) == 0 {
		return DefaultResult(), nil
	}

	detections, err := e.detector.Detect(ctx, imageURLs)
	if err != nil {
		return model.GradingResult{}, fmt.Errorf("grading: detect: %w", err)
	}

	ss := detections[model.DefectScreenScratches].Count
	sc := detections[model.DefectScreenCracks].Count
	bs := detections[model.DefectBodyScratches].Count
	bd := detections[model.DefectBodyDents].Count

	grade, confidence, damage := GradeFromCounts(ss, sc, bs, bd)
	e.logger.Debug("grading: graded device images",
		"images", len(imageURLs), "grade", grade, "damage_score", damage)

	return model.GradingResult{
		Grade:                grade,
		ConfidenceScore:      confidence,
		ScreenScratchesCount: ss,
		ScreenCracksCount:    sc,
		BodyScratchesCount:   bs,
		BodyDentsCount:       bd,
		DamageScore:          damage,
		Detections:           detections,
		CVModelVersion:       ModelVersion,
		ImageURLs:            imageURLs,
		Timestamp:            time.Now().UTC(),
	}, nil
}

// GradeFromCounts buckets defect counts into a grade. Cracks dominate the
// damage score; scratches are cosmetic.
func GradeFromCounts(screenScratches, screenCracks, bodyScratches, bodyDents int) (model.Grade, float64, int) {
	damage := screenScratches*3 + screenCracks*15 + bodyScratches*2 + bodyDents*5

	switch {
	case damage == 0:
		return model.GradeExcellent, 0.95, damage
	case damage <= 10:
		return model.GradeGood, 0.92, damage
	case damage <= 30:
		return model.GradeFair, 0.89, damage
	default:
		return model.GradePoor, 0.87, damage
	}
}
