package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"
)

// Notifier delivers a plain-text message to an email address
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds SMTP settings for the Mailer
type SMTPConfig struct {
	Host     string `env:"HOST"`
	Port     int    `env:"PORT" envDefault:"587"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	From     string `env:"FROM"`
}

func (c SMTPConfig) validate() error {
	if c.Host == "" {
		return errors.New("missing SMTP_HOST")
	}
	if c.Port == 0 {
		return errors.New("missing SMTP_PORT")
	}
	if c.From == "" {
		return errors.New("missing SMTP_FROM")
	}
	return nil
}

// sender abstracts gomail.Dialer so tests can capture messages
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends email over SMTP
type Mailer struct {
	from   string
	dialer sender
	logger *zerolog.Logger
}

// NewMailer creates a Mailer from SMTP settings
func NewMailer(cfg SMTPConfig, logger *zerolog.Logger) (*Mailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid mailer configuration: %w", err)
	}
	return &Mailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}, nil
}

// Send sends a single text email. The context only guards against sending after cancellation.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("no recipient specified")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.Warn().Err(err).Str("subject", subject).Msg("smtp send failed")
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// LogNotifier writes messages to the log instead of sending them. Used in dev mode.
type LogNotifier struct {
	logger *zerolog.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("no recipient specified")
	}
	n.logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("dev mail")
	return nil
}
