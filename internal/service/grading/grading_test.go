package grading

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/loopphones/loop/internal/model"
)

type fixedDetector struct {
	set model.DetectionSet
	err error
}

func (f fixedDetector) Detect(context.Context, []string) (model.DetectionSet, error) {
	return f.set, f.err
}

func counts(ss, sc, bs, bd int) model.DetectionSet {
	return model.DetectionSet{
		model.DefectScreenScratches: model.Detection{Count: ss, Confidence: 0.9},
		model.DefectScreenCracks:    model.Detection{Count: sc, Confidence: 0.9},
		model.DefectBodyScratches:   model.Detection{Count: bs, Confidence: 0.9},
		model.DefectBodyDents:       model.Detection{Count: bd, Confidence: 0.9},
	}
}

func TestGradeNoImages(t *testing.T) {
	e := NewEngine(fixedDetector{set: counts(5, 2, 8, 3)}, nil)
	got, err := e.Grade(context.Background(), nil)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got.Grade != model.GradeGood || got.ConfidenceScore != 0.50 {
		t.Errorf("default grading = %s/%v, want good/0.50", got.Grade, got.ConfidenceScore)
	}
	if got.DamageScore != 0 || got.ScreenScratchesCount != 0 || got.BodyDentsCount != 0 {
		t.Errorf("default grading has nonzero counts: %+v", got)
	}
	if got.CVModelVersion != "YOLOv10-v1.0" {
		t.Errorf("CVModelVersion = %q", got.CVModelVersion)
	}
}

func TestGradeFromCounts(t *testing.T) {
	tests := []struct {
		name           string
		ss, sc, bs, bd int
		wantGrade      model.Grade
		wantConfidence float64
		wantDamage     int
	}{
		{"pristine", 0, 0, 0, 0, model.GradeExcellent, 0.95, 0},
		{"light scratches", 2, 0, 2, 0, model.GradeGood, 0.92, 10},
		{"boundary good", 0, 0, 5, 0, model.GradeGood, 0.92, 10},
		{"boundary fair", 3, 0, 1, 0, model.GradeFair, 0.89, 11},
		{"single crack", 0, 1, 0, 0, model.GradeFair, 0.89, 15},
		{"upper fair", 0, 2, 0, 0, model.GradeFair, 0.89, 30},
		{"just poor", 2, 0, 0, 5, model.GradePoor, 0.87, 31},
		{"wrecked", 5, 2, 8, 3, model.GradePoor, 0.87, 76},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grade, conf, damage := GradeFromCounts(tt.ss, tt.sc, tt.bs, tt.bd)
			if grade != tt.wantGrade || conf != tt.wantConfidence || damage != tt.wantDamage {
				t.Errorf("GradeFromCounts(%d,%d,%d,%d) = %s/%v/%d, want %s/%v/%d",
					tt.ss, tt.sc, tt.bs, tt.bd, grade, conf, damage,
					tt.wantGrade, tt.wantConfidence, tt.wantDamage)
			}
		})
	}
}

func TestDamageScoreMonotonic(t *testing.T) {
	base := [4]int{1, 1, 1, 1}
	_, _, baseline := GradeFromCounts(base[0], base[1], base[2], base[3])
	for i := 0; i < 4; i++ {
		bumped := base
		bumped[i]++
		_, _, got := GradeFromCounts(bumped[0], bumped[1], bumped[2], bumped[3])
		if got <= baseline {
			t.Errorf("bumping count %d: damage %d not above baseline %d", i, got, baseline)
		}
	}
}

func TestGradeWithDetector(t *testing.T) {
	e := NewEngine(fixedDetector{set: counts(1, 0, 2, 0)}, nil)
	got, err := e.Grade(context.Background(), []string{"https://img.example.com/front.jpg"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if got.Grade != model.GradeGood {
		t.Errorf("Grade = %s, want good", got.Grade)
	}
	if got.DamageScore != 7 {
		t.Errorf("DamageScore = %d, want 7", got.DamageScore)
	}
	if got.ScreenScratchesCount != 1 || got.BodyScratchesCount != 2 {
		t.Errorf("counts not carried through: %+v", got)
	}
	if len(got.ImageURLs) != 1 {
		t.Errorf("ImageURLs = %v", got.ImageURLs)
	}
}

func TestGradeDetectorError(t *testing.T) {
	e := NewEngine(fixedDetector{err: errors.New("model offline")}, nil)
	_, err := e.Grade(context.Background(), []string{"https://img.example.com/front.jpg"})
	if err == nil {
		t.Fatal("expected error from failing detector")
	}
}

func TestSyntheticDetectorRanges(t *testing.T) {
	d := NewSyntheticDetector(rand.New(rand.NewSource(42)))
	for i := 0; i < 50; i++ {
		set, err := d.Detect(context.Background(), []string{"https://img.example.com/a.jpg"})
		if err != nil {
			t.Fatalf("Detect: %v", err)
		}
		limits := map[string]int{
			model.DefectScreenScratches: 5,
			model.DefectScreenCracks:    2,
			model.DefectBodyScratches:   8,
			model.DefectBodyDents:       3,
		}
		for class, max := range limits {
			det := set[class]
			if det.Count < 0 || det.Count > max {
				t.Errorf("%s count %d outside [0, %d]", class, det.Count, max)
			}
			if len(det.BoundingBoxes) != det.Count {
				t.Errorf("%s: %d boxes for count %d", class, len(det.BoundingBoxes), det.Count)
			}
			if det.Confidence < 0.75 || det.Confidence > 0.96 {
				t.Errorf("%s confidence %v out of range", class, det.Confidence)
			}
		}
	}
}

func TestSyntheticDetectorDeterministic(t *testing.T) {
	a := NewSyntheticDetector(rand.New(rand.NewSource(7)))
	b := NewSyntheticDetector(rand.New(rand.NewSource(7)))
	setA, _ := a.Detect(context.Background(), []string{"https://img.example.com/a.jpg"})
	setB, _ := b.Detect(context.Background(), []string{"https://img.example.com/a.jpg"})
	for _, class := range []string{
		model.DefectScreenScratches, model.DefectScreenCracks,
		model.DefectBodyScratches, model.DefectBodyDents,
	} {
		if setA[class].Count != setB[class].Count {
			t.Errorf("%s: counts differ for identical seeds: %d vs %d",
				class, setA[class].Count, setB[class].Count)
		}
	}
}
