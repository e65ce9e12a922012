// Package lifecycle maintains digital passports: lifecycle counters,
// circularity scores, and carbon footprints.
package lifecycle

import (
	"time"

	"github.com/loopphones/loop/internal/model"
)

// Emission constants in kg CO2e.
const (
	manufacturingEmissions = 70.0
	transportEmissions     = 5.0
	usageEmissionsPerYear  = 2.0
	repairSavings          = 5.0
	refurbishmentSavings   = 30.0
	partsHarvestSavings    = 15.0
)

const baseCircularityScore = 70

// CircularityScore rewards circular actions over a device's life. Bounded
// above at 100; with non-negative inputs the floor is the base score.
func CircularityScore(repairs, refurbishments, partsHarvested, recyclingEvents int, usageYears float64) int {
	score := baseCircularityScore
	score += repairs * 5
	score += refurbishments * 10
	score += partsHarvested * 8
	score += recyclingEvents * 15
	score += int(usageYears)
	if score > 100 {
		score = 100
	}
	return score
}

// CarbonFootprint estimates net lifetime emissions. Circular actions
// subtract their savings; the result is floored at zero. Recycling events
// carry no reduction term here even though they raise the circularity
// score.
func CarbonFootprint(usageYears float64, repairs, refurbishments, partsHarvested int) float64 {
	total := manufacturingEmissions + transportEmissions
	total += usageYears * usageEmissionsPerYear
	total -= float64(repairs) * repairSavings
	total -= float64(refurbishments) * refurbishmentSavings
	total -= float64(partsHarvested) * partsHarvestSavings
	if total < 0 {
		return 0
	}
	return total
}

// InitialCarbonFootprint is the footprint stamped on a freshly minted
// passport, assuming one year of usage and no circular actions yet.
func InitialCarbonFootprint() float64 {
	return CarbonFootprint(1.0, 0, 0, 0)
}

// UsageYears converts the span between purchase and now into fractional
// years of whole days.
func UsageYears(purchaseDate, now time.Time) float64 {
	days := int(now.Sub(purchaseDate).Hours() / 24)
	return float64(days) / 365
}

// Apply appends the event to the passport, bumps the matching counter, and
// recomputes both scores at the event's point in time. Unrecognized event
// types are kept in the history but bump no counter. Apply is pure; the
// returned passport is a modified copy.
func Apply(p model.Passport, ev model.LifecycleEvent, purchaseDate, now time.Time) model.Passport {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	events := make([]model.LifecycleEvent, len(p.LifecycleEvents), len(p.LifecycleEvents)+1)
	copy(events, p.LifecycleEvents)
	p.LifecycleEvents = append(events, ev)

	switch ev.EventType {
	case model.EventRepair:
		p.TotalRepairs++
	case model.EventRefurbishment:
		p.TotalRefurbishments++
	case model.EventPartsHarvested:
		p.PartsHarvested++
	case model.EventRecycling:
		p.RecyclingEvents++
	}

	usageYears := UsageYears(purchaseDate, now)
	p.CircularityScore = CircularityScore(
		p.TotalRepairs, p.TotalRefurbishments, p.PartsHarvested, p.RecyclingEvents, usageYears)
	p.CarbonFootprint = CarbonFootprint(
		usageYears, p.TotalRepairs, p.TotalRefurbishments, p.PartsHarvested)
	p.UpdatedAt = now

	return p
}
