// Package mailer sends failure reports by email.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/dbbackup-cloud/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// Subject is the subject line of every report.
const Subject = "Database backup report"

// implicitTLSPort is the SMTPS port, where TLS starts before the SMTP greeting.
const implicitTLSPort = 465

var validate = validator.New()

// Service defines the interface for email notification operations.
type Service interface {
	ValidateConfig(cfg models.EmailConfig) error
	SendMail(ctx context.Context, body string, cfg models.EmailConfig) error
}

// Sender delivers a composed message. It allows mocking the SMTP transport.
type Sender interface {
	DialAndSend(ctx context.Context, cfg models.EmailConfig, msg *mail.Msg) error
}

// SMTPSender delivers messages with authenticated, mandatory-TLS SMTP.
type SMTPSender struct {
	Timeout time.Duration
}

// DialAndSend connects to the configured server and sends msg.
func (s SMTPSender) DialAndSend(ctx context.Context, cfg models.EmailConfig, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.Timeout))
	}
	if cfg.Port == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	}

	client, err := mail.NewClient(cfg.SMTPServer, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// Impl implements the mailer Service interface.
type Impl struct {
	sender Sender
	logger zerolog.Logger
}

// New creates a new mailer service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		sender: SMTPSender{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// NewWithSender creates a new mailer service with a custom sender (for testing).
func NewWithSender(logger zerolog.Logger, sender Sender) *Impl {
	return &Impl{
		sender: sender,
		logger: logger,
	}
}

// ValidateConfig reports every missing or invalid email setting at once.
func (s *Impl) ValidateConfig(cfg models.EmailConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.NewConfigError("email", "invalid email settings", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return models.NewConfigError("email", "invalid email settings: "+strings.Join(fields, ", "), nil)
}

// SendMail sends body as a plain-text report from cfg.From to cfg.To.
// Failures are returned once and never retried.
func (s *Impl) SendMail(ctx context.Context, body string, cfg models.EmailConfig) error {
	msg := mail.NewMsg()
	if err := msg.From(cfg.From); err != nil {
		return models.NewConfigError("email", "invalid sender address "+cfg.From, err)
	}
	if err := msg.To(cfg.To); err != nil {
		return models.NewConfigError("email", "invalid recipient address "+cfg.To, err)
	}
	msg.Subject(Subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	s.logger.Info().
		Str("server", cfg.SMTPServer).
		Int("port", cfg.Port).
		Str("to", cfg.To).
		Msg("sending failure report")

	if err := s.sender.DialAndSend(ctx, cfg, msg); err != nil {
		return models.NewNotificationError("email",
			"cannot send report via "+cfg.SMTPServer+":"+strconv.Itoa(cfg.Port), err)
	}

	s.logger.Info().Msg("failure report sent")
	return nil
}

// FormatReport renders a failure report as plain text.
func FormatReport(r models.FailureReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backup of database %s failed.\n\n", r.Database)
	fmt.Fprintf(&b, "Host:        %s\n", r.Host)
	fmt.Fprintf(&b, "Run:         %s\n", r.RunID)
	if r.Source != "" {
		fmt.Fprintf(&b, "Source:      %s\n", r.Source)
	}
	if r.Bucket != "" {
		fmt.Fprintf(&b, "Bucket:      %s\n", r.Bucket)
	}
	fmt.Fprintf(&b, "Started:     %s\n", r.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration:    %s\n", r.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Failed step: %s\n", r.FailedStep)
	fmt.Fprintf(&b, "\nError: %s\n", r.ErrorMessage)

	return b.String()
}
