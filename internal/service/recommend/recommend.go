// Package recommend synthesizes next-action recommendations from the
// outputs of the health, grading, and pricing stages.
package recommend

import (
	"fmt"

	"github.com/loopphones/loop/internal/model"
)

// Actions emitted by the synthesizer.
const (
	ActionImmediateRefurbishment = "immediate_refurbishment"
	ActionScheduleMaintenance    = "schedule_maintenance"
	ActionPartsHarvesting        = "parts_harvesting"
	ActionResale                 = "resale"
	ActionRecycling              = "recycling"
	ActionContinueMonitoring     = "continue_monitoring"
)

// recyclingBaseValue is the materials-recovery value assumed for a
// poor-condition device.
const recyclingBaseValue = 50.0

// Synthesize applies the recommendation rules in fixed order: health rules
// first, then failure probability, then grade rules, then the monitoring
// default. The first rule to fire supplies the primary action. Grading and
// price may be nil when those stages were skipped.
func Synthesize(health model.HealthPrediction, grading *model.GradingResult, price *model.PriceEstimate) model.RecommendationSet {
	var recs []model.Recommendation
	priority := model.PriorityMedium
	actionRequired := false

	rul := health.PredictedRULDays
	failureProb := health.FailureProbability

	if rul < 30 {
		recs = append(recs, model.Recommendation{
			Action:         ActionImmediateRefurbishment,
			Priority:       model.PriorityHigh,
			Reasoning:      fmt.Sprintf("Device has only %d days of estimated life remaining", rul),
			EstimatedValue: priceFraction(price, 0.5),
		})
		priority = model.PriorityHigh
		actionRequired = true
	} else if rul < 90 {
		recs = append(recs, model.Recommendation{
			Action:    ActionScheduleMaintenance,
			Priority:  model.PriorityMedium,
			Reasoning: fmt.Sprintf("Device health declining, %d days RUL", rul),
		})
		actionRequired = true
	}

	if failureProb > 0.7 {
		recs = append(recs, model.Recommendation{
			Action:         ActionPartsHarvesting,
			Priority:       model.PriorityHigh,
			Reasoning:      fmt.Sprintf("High failure probability (%.1f%%), harvest valuable components", failureProb*100),
			EstimatedValue: priceFraction(price, 0.3),
		})
		priority = model.PriorityHigh
		actionRequired = true
	}

	if grading != nil {
		switch grading.Grade {
		case model.GradeExcellent:
			recs = append(recs, model.Recommendation{
				Action:         ActionResale,
				Priority:       model.PriorityHigh,
				Reasoning:      "Device in excellent condition, optimal for resale",
				EstimatedValue: priceFraction(price, 1.0),
			})
		case model.GradePoor:
			value := recyclingBaseValue
			recs = append(recs, model.Recommendation{
				Action:         ActionRecycling,
				Priority:       model.PriorityMedium,
				Reasoning:      "Poor condition, consider recycling for materials recovery",
				EstimatedValue: &value,
			})
		}
	}

	if len(recs) == 0 {
		recs = append(recs, model.Recommendation{
			Action:    ActionContinueMonitoring,
			Priority:  model.PriorityLow,
			Reasoning: "Device in good health, continue normal operation",
		})
	}

	return model.RecommendationSet{
		PrimaryAction:   recs[0].Action,
		Priority:        priority,
		ActionRequired:  actionRequired,
		Recommendations: recs,
		Summary:         fmt.Sprintf("Device has %d days RUL with %.1f%% failure probability", rul, failureProb*100),
	}
}

func priceFraction(price *model.PriceEstimate, fraction float64) *float64 {
	if price == nil {
		return nil
	}
	v := price.EstimatedResalePrice * fraction
	return &v
}
