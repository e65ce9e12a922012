package model

import "time"

// Grade is a cosmetic condition bucket.
type Grade string

const (
	GradeExcellent Grade = "excellent"
	GradeGood      Grade = "good"
	GradeFair      Grade = "fair"
	GradePoor      Grade = "poor"
)

// GradeScore maps a grade to its numeric score used by the pricing engine.
// Unknown grades fall back to the "good" score.
func GradeScore(g Grade) int {
	switch g {
	case GradeExcellent:
		return 4
	case GradeGood:
		return 3
	case GradeFair:
		return 2
	case GradePoor:
		return 1
	default:
		return 3
	}
}

// BoundingBox locates one detected defect within an image.
type BoundingBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Detection is the per-defect-class output of the damage detector.
type Detection struct {
	Count         int           `json:"count"`
	Confidence    float64       `json:"confidence"`
	BoundingBoxes []BoundingBox `json:"bounding_boxes,omitempty"`
}

// DetectionSet maps defect class name to its detection result.
type DetectionSet map[string]Detection

// Defect class names emitted by detectors.
const (
	DefectScreenScratches = "screen_scratches"
	DefectScreenCracks    = "screen_cracks"
	DefectBodyScratches   = "body_scratches"
	DefectBodyDents       = "body_dents"
)

// GradingResult is the output of a grading pass over device images.
type GradingResult struct {
	ID                   int64        `json:"id,omitempty"`
	DeviceID             string       `json:"device_id,omitempty"`
	Grade                Grade        `json:"grade"`
	ConfidenceScore      float64      `json:"confidence_score"`
	ScreenScratchesCount int          `json:"screen_scratches_count"`
	ScreenCracksCount    int          `json:"screen_cracks_count"`
	BodyScratchesCount   int          `json:"body_scratches_count"`
	BodyDentsCount       int          `json:"body_dents_count"`
	DamageScore          int          `json:"damage_score"`
	Detections           DetectionSet `json:"detections,omitempty"`
	CVModelVersion       string       `json:"cv_model_version"`
	ImageURLs            []string     `json:"image_urls,omitempty"`
	Timestamp            time.Time    `json:"timestamp"`
}

// ScreenDamage collapses screen defect counts into the 0-10 scale consumed
// by the pricing engine.
func (g GradingResult) ScreenDamage() float64 {
	d := float64(g.ScreenScratchesCount*2 + g.ScreenCracksCount*5)
	if d > 10 {
		d = 10
	}
	return d
}

// BodyDamage collapses body defect counts into the 0-10 scale consumed by
// the pricing engine.
func (g GradingResult) BodyDamage() float64 {
	d := float64(g.BodyScratchesCount*1 + g.BodyDentsCount*3)
	if d > 10 {
		d = 10
	}
	return d
}
