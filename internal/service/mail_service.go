package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/config"
	"gopkg.in/gomail.v2"
)

// Mailer delivers one-time codes to the address being verified.
type Mailer interface {
	SendOTP(ctx context.Context, email, otp string, validFor time.Duration) error
}

// NewMailer returns an SMTP mailer when SMTP is configured, otherwise a
// mailer that only logs the code.
func NewMailer(cfg *config.SMTPConfig, logger *logrus.Logger) Mailer {
	if !cfg.Enabled() {
		logger.Warn("SMTP_HOST not set, OTP codes will be logged instead of emailed")
		return &LogMailer{logger: logger}
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func (m *SMTPMailer) SendOTP(ctx context.Context, email, otp string, validFor time.Duration) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "Your vendor portal login code")

	body := fmt.Sprintf(`
		<h3>Vendor portal sign-in</h3>
		<p>Your one-time login code is <strong>%s</strong>.</p>
		<p>The code expires in %d minutes. If you did not try to sign in, you can ignore this email.</p>
	`, otp, int(validFor.Minutes()))
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send OTP email: %w", err)
	}
	return nil
}

// LogMailer is used in development when no SMTP server is configured.
type LogMailer struct {
	logger *logrus.Logger
}

func (m *LogMailer) SendOTP(ctx context.Context, email, otp string, validFor time.Duration) error {
	m.logger.WithFields(logrus.Fields{
		"email":     email,
		"otp":       otp,
		"valid_for": validFor.String(),
	}).Info("OTP generated (logged for development)")
	return nil
}
