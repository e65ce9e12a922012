package model

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Request size limits. These keep a single oversized field from filling
// Postgres TEXT/JSONB columns with caller-controlled garbage.
const (
	MaxImageURLs      = 20
	MaxImageURLLen    = 2048
	MaxDescriptionLen = 4 * 1024
)

// privateIPRanges is the set of CIDR blocks considered non-public.
// Populated once at package init; used by ValidateImageURL.
var privateIPRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // link-local
		"::1/128",
		"fc00::/7",  // unique-local IPv6
		"fe80::/10", // link-local IPv6
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			privateIPRanges = append(privateIPRanges, network)
		}
	}
}

// ValidateImageURL ensures an image URL is a safe, publicly-routable
// http/https URL. Rejects javascript: and file: schemes, credentials
// embedded in the URL, and private/loopback addresses (the grading detector
// fetches these server-side).
func ValidateImageURL(rawURL string) error {
	if len(rawURL) > MaxImageURLLen {
		return fmt.Errorf("image URL exceeds maximum length of %d characters", MaxImageURLLen)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("image URL must use http or https scheme (got %q)", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("image URL must not include credentials")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("image URL must include a host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("image URL must not point to localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, r := range privateIPRanges {
			if r.Contains(ip) {
				return fmt.Errorf("image URL must not point to a private or loopback address")
			}
		}
	}
	return nil
}

// ValidateImageURLs applies ValidateImageURL to each entry and bounds the
// list size.
func ValidateImageURLs(urls []string) error {
	if len(urls) > MaxImageURLs {
		return fmt.Errorf("at most %d image URLs allowed", MaxImageURLs)
	}
	for i, u := range urls {
		if err := ValidateImageURL(u); err != nil {
			return fmt.Errorf("image_urls[%d]: %w", i, err)
		}
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// RegisterDeviceRequest is the request body for POST /v1/devices.
type RegisterDeviceRequest struct {
	DeviceID                string   `json:"device_id"`
	Model                   string   `json:"model"`
	Manufacturer            string   `json:"manufacturer"`
	PurchaseDate            string   `json:"purchase_date"` // RFC 3339 date or timestamp
	CurrentOwner            *string  `json:"current_owner,omitempty"`
	StorageGB               *int     `json:"storage_gb,omitempty"`
	RAMGB                   *int     `json:"ram_gb,omitempty"`
	OriginalBatteryCapacity *int     `json:"original_battery_capacity,omitempty"`
	OriginalPrice           *float64 `json:"original_price,omitempty"`
}

// IngestTelemetryRequest is the request body for POST /v1/telemetry.
type IngestTelemetryRequest struct {
	DeviceID            string   `json:"device_id"`
	Timestamp           *string  `json:"timestamp,omitempty"` // RFC 3339; defaults to now
	BatteryCycleCount   int      `json:"battery_cycle_count"`
	BatteryHealthPct    float64  `json:"battery_health_pct"`
	BatteryVoltage      *float64 `json:"battery_voltage,omitempty"`
	BatteryTemperature  float64  `json:"battery_temperature"`
	CPUThrottlingEvents int      `json:"cpu_throttling_events"`
	ThermalEventsCount  int      `json:"thermal_events_count"`
	CrashCount          int      `json:"crash_count"`
}

// GradeDeviceRequest is the request body for POST /v1/gradings.
type GradeDeviceRequest struct {
	DeviceID  string   `json:"device_id"`
	ImageURLs []string `json:"image_urls"`
}

// CreatePassportRequest is the request body for POST /v1/passports.
type CreatePassportRequest struct {
	DeviceID     string `json:"device_id"`
	OwnerAddress string `json:"owner_address"`
}

// RecordEventRequest is the request body for POST /v1/passports/{passport_id}/events.
type RecordEventRequest struct {
	EventType   EventType      `json:"event_type"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AnalyzeRequest is the request body for POST /v1/analysis/{device_id}.
// IncludeGrading and IncludePricing default to true when omitted.
type AnalyzeRequest struct {
	IncludeGrading *bool    `json:"include_grading,omitempty"`
	IncludePricing *bool    `json:"include_pricing,omitempty"`
	ImageURLs      []string `json:"image_urls,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateClientRequest is the request body for POST /v1/clients.
type CreateClientRequest struct {
	ClientID string     `json:"client_id"`
	Name     string     `json:"name"`
	Role     ClientRole `json:"role"`
	APIKey   string     `json:"api_key"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Ingest   string `json:"ingest,omitempty"` // MQTT consumer state, omitted when disabled
	Uptime   int64  `json:"uptime_seconds"`
}
