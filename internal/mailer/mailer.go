package mailer

import (
	"context"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pulseboard/internal/config"
	"pulseboard/internal/logger"
)

// Deliverer sends one message and reports whether the outbound channel
// accepted it. Implementations never return errors; failures are logged.
type Deliverer interface {
	Deliver(ctx context.Context, to, subject, body string) bool
}

// SendFunc matches smtp.SendMail so tests can capture outgoing mail
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer delivers alert emails over SMTP
type SMTPMailer struct {
	cfg  config.SMTPConfig
	from string
	log  zerolog.Logger
	send SendFunc
}

// Option customises an SMTPMailer
type Option func(*SMTPMailer)

// WithSendFunc replaces smtp.SendMail
func WithSendFunc(fn SendFunc) Option {
	return func(m *SMTPMailer) { m.send = fn }
}

// New creates an SMTP mailer. from is the full From header value, e.g.
// "PulseBoard Alerts <alerts@example.com>".
func New(cfg config.SMTPConfig, from string, opts ...Option) *SMTPMailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	m := &SMTPMailer{
		cfg:  cfg,
		from: from,
		log:  logger.WithComponent("mailer"),
		send: smtp.SendMail,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deliver sends a plain-text email. It returns true only when the SMTP
// server accepted the message.
func (m *SMTPMailer) Deliver(ctx context.Context, to, subject, body string) bool {
	if !m.cfg.Enabled() {
		m.log.Warn().Str("to", to).Msg("smtp not configured, alert email not sent")
		return false
	}

	envelopeFrom, err := addressOnly(m.from)
	if err != nil {
		m.log.Error().Err(err).Str("from", m.from).Msg("invalid sender address")
		return false
	}
	rcpt, err := addressOnly(to)
	if err != nil {
		m.log.Error().Err(err).Str("to", to).Msg("invalid recipient address")
		return false
	}

	msg := buildMessage(m.from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	// smtp.SendMail has no context support, so bound it from the outside
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- m.send(addr, auth, envelopeFrom, []string{rcpt}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.log.Error().Err(err).Str("to", to).Str("subject", subject).Msg("error sending alert email")
			return false
		}
		m.log.Debug().Str("to", to).Str("subject", subject).Msg("alert email sent")
		return true
	case <-ctx.Done():
		m.log.Error().Err(ctx.Err()).Str("to", to).Msg("alert email timed out")
		return false
	}
}

// buildMessage renders RFC 5322 headers and a plain-text body
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

func addressOnly(v string) (string, error) {
	addr, err := mail.ParseAddress(v)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}
