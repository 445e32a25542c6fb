package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mailblast/mailblast/internal/domain"
)

const defaultRelayTimeout = 10 * time.Second

type relayRequest struct {
	From    string   `json:"from"`
	Bcc     []string `json:"bcc"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	IsHTML  bool     `json:"isHtml"`
}

// RelayMailer posts messages to an HTTP mail relay instead of speaking SMTP
// directly, for deployments that front Gmail with an internal gateway.
type RelayMailer struct {
	client   *resty.Client
	endpoint string
}

func NewRelayMailer(endpoint string) (*RelayMailer, error) {
	client := resty.New()
	client.SetTimeout(defaultRelayTimeout)
	client.SetRetryCount(0)

	return NewRelayMailerWithClient(endpoint, client)
}

func NewRelayMailerWithClient(endpoint string, client *resty.Client) (*RelayMailer, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("relay endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid relay endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRelayTimeout)
	}
	client.SetRetryCount(0)

	return &RelayMailer{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (m *RelayMailer) Send(ctx context.Context, sender domain.SenderIdentity, msg Message) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("relay mailer is not initialized")
	}
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	reqBody := relayRequest{
		From:    sender.Address,
		Bcc:     msg.Recipients,
		Subject: msg.Subject,
		Body:    msg.Body,
		IsHTML:  msg.HTML,
	}

	response, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBasicAuth(sender.Address, sender.AppPassword).
		SetBody(reqBody).
		Post(m.endpoint)
	if err != nil {
		return &Error{
			Message:   "relay request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &Error{
			Message:   "relay returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &Error{
		StatusCode: statusCode,
		Message:    relayErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func relayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("relay returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
