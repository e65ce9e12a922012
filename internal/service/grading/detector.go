package grading

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/loopphones/loop/internal/model"
)

// SyntheticDetector fabricates plausible defect detections for development
// and demos. It stands in for the CV model behind the same Detector
// interface.
type SyntheticDetector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticDetector creates a synthetic detector. Pass a seeded source
// for deterministic output; nil seeds from the clock.
func NewSyntheticDetector(rng *rand.Rand) *SyntheticDetector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SyntheticDetector{rng: rng}
}

// Detect fabricates defect counts and bounding boxes within realistic
// per-class ranges.
func (d *SyntheticDetector) Detect(_ context.Context, _ []string) (model.DetectionSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ss := d.rng.Intn(6) // 0-5
	sc := d.rng.Intn(3) // 0-2
	bs := d.rng.Intn(9) // 0-8
	bd := d.rng.Intn(4) // 0-3

	return model.DetectionSet{
		model.DefectScreenScratches: model.Detection{
			Count:         ss,
			Confidence:    d.uniform2(0.85, 0.95),
			BoundingBoxes: d.boxes(ss, 100, 400, 100, 600, 20, 100, 10, 50, 0.8, 0.95),
		},
		model.DefectScreenCracks: model.Detection{
			Count:         sc,
			Confidence:    d.uniform2(0.88, 0.96),
			BoundingBoxes: d.boxes(sc, 100, 400, 100, 600, 50, 200, 5, 20, 0.85, 0.96),
		},
		model.DefectBodyScratches: model.Detection{
			Count:         bs,
			Confidence:    d.uniform2(0.82, 0.93),
			BoundingBoxes: d.boxes(bs, 50, 450, 50, 650, 10, 60, 5, 30, 0.78, 0.92),
		},
		model.DefectBodyDents: model.Detection{
			Count:         bd,
			Confidence:    d.uniform2(0.80, 0.92),
			BoundingBoxes: d.boxes(bd, 50, 450, 50, 650, 15, 40, 15, 40, 0.75, 0.90),
		},
	}, nil
}

func (d *SyntheticDetector) boxes(n, xMin, xMax, yMin, yMax, wMin, wMax, hMin, hMax int, cMin, cMax float64) []model.BoundingBox {
	out := make([]model.BoundingBox, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.BoundingBox{
			X:          d.intn(xMin, xMax),
			Y:          d.intn(yMin, yMax),
			Width:      d.intn(wMin, wMax),
			Height:     d.intn(hMin, hMax),
			Confidence: d.uniform2(cMin, cMax),
		})
	}
	return out
}

func (d *SyntheticDetector) intn(lo, hi int) int {
	return lo + d.rng.Intn(hi-lo+1)
}

func (d *SyntheticDetector) uniform2(lo, hi float64) float64 {
	return math.Round((lo+d.rng.Float64()*(hi-lo))*100) / 100
}
