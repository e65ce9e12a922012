package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClientRole represents the RBAC role assigned to an API client.
type ClientRole string

const (
	RoleAdmin  ClientRole = "admin"
	RoleIngest ClientRole = "ingest"
	RoleReader ClientRole = "reader"
)

// Client is an authenticated API client (refurbisher backend, guardian app
// gateway, marketplace integration).
type Client struct {
	ID         uuid.UUID  `json:"id"`
	ClientID   string     `json:"client_id"`
	Name       string     `json:"name"`
	Role       ClientRole `json:"role"`
	APIKeyHash *string    `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r ClientRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleIngest:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole ClientRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidateClientID checks that a client ID conforms to the allowed format.
// Client IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateClientID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("client_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("client_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("client_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
