package pricing

import (
	"math"
	"math/rand"
	"testing"
)

func newTestEngine() *Engine {
	return NewEngine(rand.New(rand.NewSource(1)))
}

func baseInput() Input {
	return Input{
		DeviceModel:   "iPhone 13",
		Manufacturer:  "Apple",
		AgeDays:       0,
		StorageGB:     256,
		RAMGB:         6,
		BatteryHealth: 100,
		BatteryCycles: 100,
		GradeScore:    4,
	}
}

func TestEstimatePristineDevice(t *testing.T) {
	got := newTestEngine().Estimate(baseInput())
	// All factors 1.0: price is the Apple/256 base.
	if got.EstimatedResalePrice != 500 {
		t.Errorf("EstimatedResalePrice = %v, want 500", got.EstimatedResalePrice)
	}
	if got.ConfidenceIntervalLower != 425 || got.ConfidenceIntervalUpper != 575 {
		t.Errorf("CI = [%v, %v], want [425, 575]", got.ConfidenceIntervalLower, got.ConfidenceIntervalUpper)
	}
	if got.RSquared != 0.85 || got.ModelVersion != "XGBoost-v1.0" {
		t.Errorf("metadata = %v/%q", got.RSquared, got.ModelVersion)
	}
}

func TestBasePriceFallbacks(t *testing.T) {
	e := newTestEngine()

	in := baseInput()
	in.Manufacturer = "Nokia" // unknown, falls back to Samsung table
	if got := e.Estimate(in); got.EstimatedResalePrice != 380 {
		t.Errorf("unknown manufacturer price = %v, want 380", got.EstimatedResalePrice)
	}

	in = baseInput()
	in.StorageGB = 333 // unknown tier
	if got := e.Estimate(in); got.EstimatedResalePrice != 300 {
		t.Errorf("unknown storage price = %v, want 300", got.EstimatedResalePrice)
	}
}

func TestOriginalPriceOverride(t *testing.T) {
	in := baseInput()
	original := 1000.0
	in.OriginalPrice = &original
	got := newTestEngine().Estimate(in)
	if got.EstimatedResalePrice != 600 {
		t.Errorf("EstimatedResalePrice = %v, want 600 (60%% of original)", got.EstimatedResalePrice)
	}
}

func TestAgeDepreciation(t *testing.T) {
	in := baseInput()
	in.AgeDays = 365
	if got := newTestEngine().Estimate(in); got.EstimatedResalePrice != 400 {
		t.Errorf("1y price = %v, want 400", got.EstimatedResalePrice)
	}

	in.AgeDays = 365 * 20 // floor kicks in at 30%
	if got := newTestEngine().Estimate(in); got.EstimatedResalePrice != 150 {
		t.Errorf("ancient price = %v, want 150 (floored)", got.EstimatedResalePrice)
	}
}

func TestBatteryCycleFactors(t *testing.T) {
	in := baseInput()
	in.BatteryCycles = 600
	if got := newTestEngine().Estimate(in); got.EstimatedResalePrice != 450 {
		t.Errorf(">500 cycles price = %v, want 450", got.EstimatedResalePrice)
	}

	in.BatteryCycles = 1200 // both reductions stack
	if got := newTestEngine().Estimate(in); got.EstimatedResalePrice != 382.5 {
		t.Errorf(">1000 cycles price = %v, want 382.5", got.EstimatedResalePrice)
	}
}

func TestGradeFactors(t *testing.T) {
	tests := []struct {
		gradeScore int
		want       float64
	}{
		{4, 500},
		{3, 425},
		{2, 325},
		{1, 225},
		{9, 350}, // unknown score falls back to 0.7
	}
	for _, tt := range tests {
		in := baseInput()
		in.GradeScore = tt.gradeScore
		if got := newTestEngine().Estimate(in); got.EstimatedResalePrice != tt.want {
			t.Errorf("grade score %d: price = %v, want %v", tt.gradeScore, got.EstimatedResalePrice, tt.want)
		}
	}
}

func TestDamageNeverIncreasesPrice(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	prev := e.Estimate(in).EstimatedResalePrice
	for d := 1.0; d <= 10; d++ {
		in.ScreenDamageScore = d
		got := e.Estimate(in).EstimatedResalePrice
		if got > prev {
			t.Errorf("screen damage %v: price rose from %v to %v", d, prev, got)
		}
		prev = got
	}

	in = baseInput()
	prev = e.Estimate(in).EstimatedResalePrice
	for d := 1.0; d <= 10; d++ {
		in.BodyDamageScore = d
		got := e.Estimate(in).EstimatedResalePrice
		if got > prev {
			t.Errorf("body damage %v: price rose from %v to %v", d, prev, got)
		}
		prev = got
	}
}

func TestBatteryHealthMonotonic(t *testing.T) {
	e := newTestEngine()
	in := baseInput()
	var prev float64 = -1
	for h := 10.0; h <= 100; h += 10 {
		in.BatteryHealth = h
		got := e.Estimate(in).EstimatedResalePrice
		if got < prev {
			t.Errorf("battery health %v: price fell from %v to %v", h, prev, got)
		}
		prev = got
	}
}

func TestMarketAverageJitterBounds(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 100; i++ {
		got := e.Estimate(baseInput())
		lo := got.EstimatedResalePrice*0.95 - 0.01
		hi := got.EstimatedResalePrice*1.10 + 0.01
		if got.MarketAveragePrice < lo || got.MarketAveragePrice > hi {
			t.Fatalf("MarketAveragePrice %v outside [%v, %v]", got.MarketAveragePrice, lo, hi)
		}
	}
}

func TestEstimateDeterministicWithSeed(t *testing.T) {
	a := NewEngine(rand.New(rand.NewSource(99)))
	b := NewEngine(rand.New(rand.NewSource(99)))
	pa := a.Estimate(baseInput())
	pb := b.Estimate(baseInput())
	if pa.MarketAveragePrice != pb.MarketAveragePrice {
		t.Errorf("identical seeds produced different market averages: %v vs %v",
			pa.MarketAveragePrice, pb.MarketAveragePrice)
	}
}

func TestFeatureImportanceStatic(t *testing.T) {
	got := newTestEngine().Estimate(baseInput())
	var sum float64
	for _, v := range got.FeatureImportance {
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("feature importance sums to %v, want 1.0", sum)
	}
	if got.FeatureImportance["age_days"] != 0.25 {
		t.Errorf("age_days importance = %v, want 0.25", got.FeatureImportance["age_days"])
	}
}
