package recommend

import (
	"testing"

	"github.com/loopphones/loop/internal/model"
)

func healthPred(rul int, failureProb float64) model.HealthPrediction {
	return model.HealthPrediction{
		PredictedRULDays:   rul,
		FailureProbability: failureProb,
		DegradationRate:    0.05,
		ConfidenceScore:    0.88,
		ModelVersion:       "TFT-v1.0",
	}
}

func gradingWith(grade model.Grade) *model.GradingResult {
	return &model.GradingResult{Grade: grade, ConfidenceScore: 0.9}
}

func priceOf(v float64) *model.PriceEstimate {
	return &model.PriceEstimate{EstimatedResalePrice: v}
}

func actions(set model.RecommendationSet) []string {
	out := make([]string, 0, len(set.Recommendations))
	for _, r := range set.Recommendations {
		out = append(out, r.Action)
	}
	return out
}

func TestSynthesizeHealthyDefault(t *testing.T) {
	set := Synthesize(healthPred(365, 0.1), gradingWith(model.GradeGood), priceOf(400))
	if set.PrimaryAction != ActionContinueMonitoring {
		t.Errorf("PrimaryAction = %q, want continue_monitoring", set.PrimaryAction)
	}
	if set.ActionRequired {
		t.Error("ActionRequired = true, want false")
	}
	if set.Priority != model.PriorityMedium {
		t.Errorf("Priority = %q, want medium", set.Priority)
	}
	if set.Summary != "Device has 365 days RUL with 10.0% failure probability" {
		t.Errorf("Summary = %q", set.Summary)
	}
}

func TestSynthesizeImminentFailure(t *testing.T) {
	set := Synthesize(healthPred(10, 0.9), nil, priceOf(200))
	got := actions(set)
	want := []string{ActionImmediateRefurbishment, ActionPartsHarvesting}
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("actions = %v, want %v", got, want)
		}
	}
	if set.PrimaryAction != ActionImmediateRefurbishment {
		t.Errorf("PrimaryAction = %q", set.PrimaryAction)
	}
	if set.Priority != model.PriorityHigh || !set.ActionRequired {
		t.Errorf("Priority/ActionRequired = %q/%v, want high/true", set.Priority, set.ActionRequired)
	}
	if v := set.Recommendations[0].EstimatedValue; v == nil || *v != 100 {
		t.Errorf("refurbishment value = %v, want 100 (half resale)", v)
	}
	if v := set.Recommendations[1].EstimatedValue; v == nil || *v != 60 {
		t.Errorf("harvesting value = %v, want 60 (30%% resale)", v)
	}
}

func TestSynthesizeDecliningDevice(t *testing.T) {
	// RUL 87 with certain failure: maintenance and harvesting both fire,
	// overall priority escalates to high.
	set := Synthesize(healthPred(87, 1.0), nil, nil)
	got := actions(set)
	if len(got) != 2 || got[0] != ActionScheduleMaintenance || got[1] != ActionPartsHarvesting {
		t.Fatalf("actions = %v", got)
	}
	if set.Priority != model.PriorityHigh {
		t.Errorf("Priority = %q, want high", set.Priority)
	}
	if set.Recommendations[1].EstimatedValue != nil {
		t.Error("harvesting value should be nil without a price estimate")
	}
}

func TestSynthesizeGradeRules(t *testing.T) {
	set := Synthesize(healthPred(365, 0.1), gradingWith(model.GradeExcellent), priceOf(500))
	if set.PrimaryAction != ActionResale {
		t.Errorf("PrimaryAction = %q, want resale", set.PrimaryAction)
	}
	if v := set.Recommendations[0].EstimatedValue; v == nil || *v != 500 {
		t.Errorf("resale value = %v, want full price", v)
	}

	set = Synthesize(healthPred(365, 0.1), gradingWith(model.GradePoor), nil)
	if set.PrimaryAction != ActionRecycling {
		t.Errorf("PrimaryAction = %q, want recycling", set.PrimaryAction)
	}
	if v := set.Recommendations[0].EstimatedValue; v == nil || *v != 50.0 {
		t.Errorf("recycling value = %v, want 50.0", v)
	}
	if set.Priority != model.PriorityMedium || set.ActionRequired {
		t.Errorf("Priority/ActionRequired = %q/%v, want medium/false", set.Priority, set.ActionRequired)
	}
}

func TestSynthesizeHealthRulesPrecedeGradeRules(t *testing.T) {
	set := Synthesize(healthPred(10, 0.1), gradingWith(model.GradeExcellent), priceOf(300))
	got := actions(set)
	if len(got) != 2 || got[0] != ActionImmediateRefurbishment || got[1] != ActionResale {
		t.Fatalf("actions = %v", got)
	}
}
