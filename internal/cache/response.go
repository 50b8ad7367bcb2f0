package cache

import "time"

// Response is the unit stored by both cache tiers: a finished answer together
// with the classification and scoping metadata needed to serve it again.
type Response struct {
	Answer     string    `json:"answer"`
	IsFallback bool      `json:"is_fallback"`
	Timestamp  time.Time `json:"timestamp"`
	Category   *string   `json:"category,omitempty"`
	Section    *string   `json:"section,omitempty"`
}
