package mailer

import (
	"context"

	"github.com/mailblast/mailblast/internal/domain"
)

// Message is one transport call: a single email blind-copied to every address
// in Recipients.
type Message struct {
	Recipients []string
	Subject    string
	Body       string
	HTML       bool
}

// Mailer is the outbound mail delivery port. Any returned error marks the
// whole recipient chunk as failed; callers do not inspect transport-specific
// error codes.
type Mailer interface {
	Send(ctx context.Context, sender domain.SenderIdentity, msg Message) error
}
