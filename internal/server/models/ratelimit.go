package models

import "time"

// RateLimitEntry is the state of one (identifier, purpose) window after a hit.
type RateLimitEntry struct {
	Identifier string
	Purpose    string
	Count      int
	ResetAt    time.Time
}
