package model

import (
	"fmt"
	"time"
)

// DeviceStatus tracks where a device sits in its circular lifecycle.
type DeviceStatus string

const (
	StatusActive         DeviceStatus = "active"
	StatusGraded         DeviceStatus = "graded"
	StatusRefurbished    DeviceStatus = "refurbished"
	StatusRecycled       DeviceStatus = "recycled"
	StatusPartsHarvested DeviceStatus = "parts_harvested"
)

// ValidDeviceStatus reports whether s is a known lifecycle status.
func ValidDeviceStatus(s DeviceStatus) bool {
	switch s {
	case StatusActive, StatusGraded, StatusRefurbished, StatusRecycled, StatusPartsHarvested:
		return true
	}
	return false
}

// Device is a registered consumer-electronics device.
type Device struct {
	ID                      string       `json:"device_id"`
	Model                   string       `json:"model"`
	Manufacturer            string       `json:"manufacturer"`
	PurchaseDate            time.Time    `json:"purchase_date"`
	CurrentOwner            *string      `json:"current_owner,omitempty"`
	Status                  DeviceStatus `json:"status"`
	StorageGB               *int         `json:"storage_gb,omitempty"`
	RAMGB                   *int         `json:"ram_gb,omitempty"`
	OriginalBatteryCapacity *int         `json:"original_battery_capacity,omitempty"`
	OriginalPrice           *float64     `json:"original_price,omitempty"`
	PassportID              *string      `json:"passport_id,omitempty"`
	PassportMintAddress     *string      `json:"passport_mint_address,omitempty"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

// AgeDays returns whole days elapsed since the purchase date.
// Negative ages (purchase date in the future) are the caller's problem to
// reject; this just reports the arithmetic.
func (d Device) AgeDays(now time.Time) int {
	return int(now.Sub(d.PurchaseDate).Hours() / 24)
}

// UsageYears returns fractional years since the purchase date.
func (d Device) UsageYears(now time.Time) float64 {
	return now.Sub(d.PurchaseDate).Hours() / 24 / 365
}

// ValidateDeviceID checks that a device ID conforms to the allowed format.
// Device IDs must be 1-64 ASCII characters: alphanumeric, dots, hyphens,
// and underscores.
func ValidateDeviceID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("device_id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("device_id must be at most 64 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("device_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
