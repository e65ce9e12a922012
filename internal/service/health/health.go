// Package health predicts remaining useful life from telemetry windows.
//
// The heuristic predictor is the default implementation; a learned model
// can be swapped in behind the Predictor interface without touching the
// orchestrator.
package health

import (
	"context"
	"math"
	"sort"

	"github.com/loopphones/loop/internal/model"
)

// ModelVersion identifies the predictor revision stamped on outputs.
const ModelVersion = "TFT-v1.0"

// Predictor produces a health prediction from a telemetry window.
type Predictor interface {
	Predict(ctx context.Context, history []model.TelemetrySnapshot) (model.HealthPrediction, error)
}

// Heuristic is the rule-based Predictor used when no trained model is
// deployed. It is stateless and safe for concurrent use.
type Heuristic struct{}

// NewHeuristic returns the default rule-based predictor.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// DefaultPrediction is returned when no telemetry is available. Confidence
// is deliberately low so downstream consumers can flag it.
func DefaultPrediction() model.HealthPrediction {
	return model.HealthPrediction{
		PredictedRULDays:   365,
		FailureProbability: 0.1,
		DegradationRate:    0.05,
		ConfidenceScore:    0.50,
		ModelVersion:       ModelVersion,
	}
}

// features are the window aggregates the heuristic scores on.
type features struct {
	currentHealth      float64
	currentCycle       int
	avgTemperature     float64
	totalThermalEvents int
	totalCrashes       int
}

// Predict derives RUL, failure probability, and degradation rate from the
// telemetry window. An empty window yields DefaultPrediction.
func (h *Heuristic) Predict(_ context.Context, history []model.TelemetrySnapshot) (model.HealthPrediction, error) {
	if len(history) == 0 {
		return DefaultPrediction(), nil
	}
	f := extractFeatures(history)

	// Degradation rate in health percent per day.
	rate := 0.05
	if f.currentCycle > 500 {
		rate += 0.02
	}
	if f.currentCycle > 1000 {
		rate += 0.03
	}
	if f.avgTemperature > 35 {
		rate += 0.01
	}
	if f.avgTemperature > 40 {
		rate += 0.02
	}
	rate += float64(f.totalThermalEvents) * 0.001
	rate += float64(f.totalCrashes) * 0.005

	// Days until health reaches the 20% failure threshold. Below the
	// threshold, remaining health is burned down directly.
	var rul int
	if f.currentHealth <= 20 {
		rul = 30
		if rate > 0 {
			rul = int(f.currentHealth / rate)
		}
	} else {
		rul = 365
		if rate > 0 {
			rul = int((f.currentHealth - 20) / rate)
		}
	}
	if rul < 1 {
		rul = 1
	}
	if rul > 730 {
		rul = 730
	}

	failure := 1.0 - f.currentHealth/100.0
	failure = math.Min(math.Max(failure, 0.0), 1.0)
	if f.totalThermalEvents > 10 {
		failure = math.Min(failure+0.1, 1.0)
	}
	if f.totalCrashes > 5 {
		failure = math.Min(failure+0.15, 1.0)
	}

	return model.HealthPrediction{
		PredictedRULDays:   rul,
		FailureProbability: math.Round(failure*1000) / 1000,
		DegradationRate:    math.Round(rate*10000) / 10000,
		ConfidenceScore:    0.88,
		ModelVersion:       ModelVersion,
	}, nil
}

func extractFeatures(history []model.TelemetrySnapshot) features {
	sorted := make([]model.TelemetrySnapshot, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var tempSum float64
	var thermal, crashes int
	for _, s := range sorted {
		tempSum += s.BatteryTemperature
		if s.ThermalEventsCount > 0 {
			thermal += s.ThermalEventsCount
		}
		if s.CrashCount > 0 {
			crashes += s.CrashCount
		}
	}

	latest := sorted[len(sorted)-1]
	health := math.Min(math.Max(latest.BatteryHealthPct, 0), 100)
	cycle := latest.BatteryCycleCount
	if cycle < 0 {
		cycle = 0
	}

	return features{
		currentHealth:      health,
		currentCycle:       cycle,
		avgTemperature:     tempSum / float64(len(sorted)),
		totalThermalEvents: thermal,
		totalCrashes:       crashes,
	}
}
