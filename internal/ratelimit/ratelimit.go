// Package ratelimit provides fixed-window request rate limiting.
//
// The in-memory implementation is per-process. Deployments running
// multiple replicas can substitute a shared-store implementation with the
// same Allow surface for cross-instance coordination.
package ratelimit

import (
	"strconv"
	"time"
)

// Rule describes one rate limit: at most Limit requests per Window,
// namespaced by Prefix so different endpoint classes do not share buckets.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Result is the outcome of one rate-limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders renders the standard rate-limit response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}
