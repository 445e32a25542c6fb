package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Batch sizing bounds. MaxBatchSize is a hard ceiling: a single transport
// call blind-copies the whole chunk, and mail providers reject overly large
// recipient lists.
const (
	DefaultBatchSize = 10
	MaxBatchSize     = 50

	DefaultBatchDelay = time.Second
	MinBatchDelay     = time.Second
)

// SenderIdentity is the credential pair used to authenticate with the mail
// transport, e.g. a Gmail address plus app password.
type SenderIdentity struct {
	Address     string
	AppPassword string
}

// SendRequest is the unit of work submitted by a caller: one message fanned
// out to an ordered recipient list in fixed-size batches.
type SendRequest struct {
	Recipients []string
	Subject    string
	Body       string
	BodyIsHTML bool
	Sender     SenderIdentity
	BatchSize  int
	BatchDelay time.Duration
	// ScheduledAt defers the whole send to a future wall-clock time.
	// Nil means send immediately.
	ScheduledAt *time.Time
	// OwnerID is a caller-supplied identifier used only to filter listings.
	OwnerID string
}

// Normalize clamps batching parameters into their documented bounds and trims
// string fields. It is applied exactly once, at the request boundary; the
// dispatcher assumes a normalized request.
func (r *SendRequest) Normalize() {
	if r.BatchSize < 1 {
		r.BatchSize = DefaultBatchSize
	}
	if r.BatchSize > MaxBatchSize {
		r.BatchSize = MaxBatchSize
	}
	if r.BatchDelay < MinBatchDelay {
		r.BatchDelay = DefaultBatchDelay
	}

	r.Subject = strings.TrimSpace(r.Subject)
	r.Sender.Address = strings.TrimSpace(r.Sender.Address)
	r.OwnerID = strings.TrimSpace(r.OwnerID)

	recipients := make([]string, 0, len(r.Recipients))
	for _, addr := range r.Recipients {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			recipients = append(recipients, trimmed)
		}
	}
	r.Recipients = recipients
}

// Validate rejects a request before any work begins. now is injected so the
// future-schedule check is testable.
func (r *SendRequest) Validate(now time.Time) error {
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: recipients are required", ErrValidation)
	}
	if r.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if r.Sender.Address == "" || r.Sender.AppPassword == "" {
		return fmt.Errorf("%w: sender address and app password are required", ErrValidation)
	}
	if _, err := mail.ParseAddress(r.Sender.Address); err != nil {
		return fmt.Errorf("%w: invalid sender address %q", ErrValidation, r.Sender.Address)
	}
	if r.ScheduledAt != nil && !r.ScheduledAt.After(now) {
		return fmt.Errorf("%w: scheduled time must be in the future", ErrValidation)
	}
	return nil
}
