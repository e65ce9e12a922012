package model

import "time"

// EventType classifies a lifecycle event on a passport.
type EventType string

const (
	EventRepair         EventType = "repair"
	EventRefurbishment  EventType = "refurbishment"
	EventPartsHarvested EventType = "parts_harvested"
	EventRecycling      EventType = "recycling"
	EventMinted         EventType = "minted"
)

// LifecycleEvent is one entry in a passport's event history.
type LifecycleEvent struct {
	EventType   EventType      `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LedgerTx    string         `json:"ledger_tx,omitempty"`
}

// Passport is a device's digital passport: lifecycle counters, scores, and
// the full event history, anchored to a ledger mint address.
type Passport struct {
	ID                  string           `json:"passport_id"`
	DeviceID            string           `json:"device_id"`
	MintAddress         string           `json:"mint_address"`
	OwnerAddress        string           `json:"owner_address"`
	CircularityScore    int              `json:"circularity_score"`
	TotalRepairs        int              `json:"total_repairs"`
	TotalRefurbishments int              `json:"total_refurbishments"`
	PartsHarvested      int              `json:"parts_harvested"`
	RecyclingEvents     int              `json:"recycling_events"`
	CarbonFootprint     float64          `json:"carbon_footprint_kg"`
	LifecycleEvents     []LifecycleEvent `json:"lifecycle_events"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}
