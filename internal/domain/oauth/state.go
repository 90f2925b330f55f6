package oauth

import "time"

// State is the CSRF token payload persisted in the ephemeral store for the
// duration of one login round-trip. It is consumed exactly once.
type State struct {
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}
