package domain

import "time"

// Notification is an ephemeral user-facing event. It has no archive tier and
// is purged once it outlives the notification TTL.
type Notification struct {
	ID             string    `json:"id"`
	Recipient      string    `json:"recipient"`
	QuoteRequestID string    `json:"quoteRequestId,omitempty"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
	Read           bool      `json:"read"`
}

// Lease is an advisory lock record guarding a singleton job.
type Lease struct {
	Name      string
	Owner     string
	ExpiresAt time.Time
}
