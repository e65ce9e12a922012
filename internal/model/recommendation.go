package model

// Priority orders recommendations and the overall set.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is a single suggested next action for a device.
type Recommendation struct {
	Action         string   `json:"action"`
	Priority       Priority `json:"priority"`
	Reasoning      string   `json:"reasoning"`
	EstimatedValue *float64 `json:"estimated_value,omitempty"`
}

// RecommendationSet is the synthesized recommendation output for a device.
type RecommendationSet struct {
	PrimaryAction   string           `json:"primary_action"`
	Priority        Priority         `json:"priority"`
	ActionRequired  bool             `json:"action_required"`
	Recommendations []Recommendation `json:"recommendations"`
	Summary         string           `json:"summary"`
}
