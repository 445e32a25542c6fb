package domain

import "time"

// DeliveryAttempt records a single chunk-level transport call for a job.
type DeliveryAttempt struct {
	ID             string
	JobID          string
	ChunkIndex     int
	RecipientCount int
	Error          *string
	CreatedAt      time.Time
}
