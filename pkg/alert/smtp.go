package alert

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Sentinel errors for SMTP delivery
var (
	ErrNoRecipients = errors.New("no alert recipients configured")
	ErrSendFailed   = errors.New("alert delivery failed")
)

// SMTPConfig holds transactional-email sink settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	To       []string
}

// SMTPSink delivers alerts as plain-text email over SMTP.
type SMTPSink struct {
	cfg     SMTPConfig
	timeout time.Duration
}

// NewSMTPSink creates an SMTP alert sink.
func NewSMTPSink(cfg SMTPConfig) *SMTPSink {
	return &SMTPSink{
		cfg:     cfg,
		timeout: 30 * time.Second,
	}
}

// Send delivers one alert. The context deadline bounds the whole exchange.
func (s *SMTPSink) Send(ctx context.Context, a Alert) error {
	if len(s.cfg.To) == 0 {
		return ErrNoRecipients
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	defer client.Close()

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	for _, rcpt := range s.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if _, err := wc.Write([]byte(s.message(a))); err != nil {
		wc.Close()
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return client.Quit()
}

// message builds the RFC 5322 payload.
func (s *SMTPSink) message(a Alert) string {
	var msg strings.Builder

	subject := a.Subject
	if a.StoreDomain != "" {
		subject = fmt.Sprintf("[%s] %s", a.StoreDomain, subject)
	}

	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.cfg.To, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: [%s] %s\r\n", a.Severity, subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(a.Body)
	if !a.OccurredAt.IsZero() {
		msg.WriteString(fmt.Sprintf("\r\n\r\nOccurred at: %s\r\n", a.OccurredAt.UTC().Format(time.RFC3339)))
	}

	return msg.String()
}
