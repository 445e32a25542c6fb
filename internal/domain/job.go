package domain

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a dispatch job. Progression is
// monotonic: SCHEDULED -> SENDING -> {SUCCESS | PARTIAL | FAILED}. A job may
// also be removed while still SCHEDULED (cancellation); no terminal state is
// ever re-entered.
type JobStatus string

const (
	StatusScheduled JobStatus = "SCHEDULED"
	StatusSending   JobStatus = "SENDING"
	StatusSuccess   JobStatus = "SUCCESS"
	StatusPartial   JobStatus = "PARTIAL"
	StatusFailed    JobStatus = "FAILED"
)

func (s JobStatus) String() string { return string(s) }

func (s JobStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusSending, StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

func ParseJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// DispatchResult is the aggregate outcome of one dispatch: how many
// recipients were delivered to and which addresses failed in any batch.
type DispatchResult struct {
	DeliveredCount   int
	FailedRecipients []string
	Status           JobStatus
}

// DeriveResultStatus maps failure counts to the terminal status: no failures
// is SUCCESS (vacuously so for an empty recipient list), everything failed is
// FAILED, anything in between is PARTIAL.
func DeriveResultStatus(total, failed int) JobStatus {
	switch {
	case failed == 0:
		return StatusSuccess
	case failed >= total:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// Job is a SendRequest tracked by the registry: deferred sends are created in
// SCHEDULED and picked up by the scan loop; immediate sends are recorded in
// SENDING and completed in place, so the job table doubles as send history.
type Job struct {
	ID               string
	OwnerID          string
	Request          SendRequest
	Status           JobStatus
	DeliveredCount   int
	FailedRecipients []string
	Error            *string
	ScheduledAt      *time.Time
	SentAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
