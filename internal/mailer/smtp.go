package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/mailblast/mailblast/internal/domain"
)

const (
	DefaultSMTPHost = "smtp.gmail.com"
	DefaultSMTPPort = 587
)

// SMTPMailer delivers through an SMTP submission endpoint with STARTTLS and
// plain auth, which is how Gmail app passwords are used.
type SMTPMailer struct {
	host string
	port int
}

func NewSMTPMailer(host string, port int) *SMTPMailer {
	if strings.TrimSpace(host) == "" {
		host = DefaultSMTPHost
	}
	if port <= 0 {
		port = DefaultSMTPPort
	}
	return &SMTPMailer{host: host, port: port}
}

func (m *SMTPMailer) Send(ctx context.Context, sender domain.SenderIdentity, msg Message) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &Error{Message: "failed to connect to SMTP server", Transient: true, Cause: err}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		_ = conn.Close()
		return &Error{Message: "SMTP handshake failed", Transient: true, Cause: err}
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
		return &Error{Message: "failed to start TLS", Transient: true, Cause: err}
	}

	auth := smtp.PlainAuth("", sender.Address, sender.AppPassword, m.host)
	if err := client.Auth(auth); err != nil {
		return &Error{Message: "SMTP authentication failed", Cause: err}
	}

	if err := client.Mail(sender.Address); err != nil {
		return &Error{Message: "failed to set sender", Cause: err}
	}
	for _, rcpt := range msg.Recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return &Error{Message: fmt.Sprintf("failed to set recipient %s", rcpt), Cause: err}
		}
	}

	w, err := client.Data()
	if err != nil {
		return &Error{Message: "failed to open data writer", Transient: true, Cause: err}
	}
	if _, err := w.Write(buildMessage(sender.Address, msg)); err != nil {
		return &Error{Message: "failed to write message", Transient: true, Cause: err}
	}
	if err := w.Close(); err != nil {
		return &Error{Message: "failed to close data writer", Transient: true, Cause: err}
	}

	return client.Quit()
}

// buildMessage renders the RFC 822 payload. Chunk recipients are envelope-only
// blind copies: the To header names the sender so recipient addresses are
// never exposed to each other.
func buildMessage(from string, msg Message) []byte {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("From: %s\r\n", from))
	builder.WriteString(fmt.Sprintf("To: %s\r\n", from))
	builder.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeHeader(msg.Subject)))
	builder.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML {
		builder.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	} else {
		builder.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}

	builder.WriteString("\r\n")
	builder.WriteString(msg.Body)

	return []byte(builder.String())
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}
