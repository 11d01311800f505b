package smtp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
)

// Sender defines the interface for a mail transport adapter.
type Sender interface {
	Send(ctx context.Context, msg *domain.Message) error
	GetName() string // e.g. "smtp", "mock"
}

// Config holds the SMTP connection settings for the gomail sender.
type Config struct {
	Host          string
	Port          int
	Username      string
	Password      string
	SenderAddress string // default From when the message has none
	SenderName    string
}

// GomailSender delivers messages over SMTP using gomail.
type GomailSender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
	logger        *slog.Logger
}

func NewGomailSender(cfg Config, logger *slog.Logger) *GomailSender {
	logger.Info("Initializing SMTP sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.Username)
	return &GomailSender{
		dialer:        gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		senderAddress: cfg.SenderAddress,
		senderName:    cfg.SenderName,
		logger:        logger,
	}
}

func (s *GomailSender) GetName() string { return "smtp" }

// Send builds a multipart message (plaintext body with an HTML alternative)
// and delivers it in a single SMTP session.
func (s *GomailSender) Send(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.Recipients) == 0 {
		return domain.ErrNoRecipients
	}

	fromAddr := msg.Sender.Address
	fromName := msg.Sender.Name
	if fromAddr == "" {
		fromAddr = s.senderAddress
		fromName = s.senderName
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", fromAddr, fromName)
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	for _, att := range msg.Attachments {
		data := att.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if att.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		m.Attach(att.Filename, settings...)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.ErrorContext(ctx, "SMTP send failed", "recipients", len(msg.Recipients), "subject", msg.Subject, "error", err)
		return fmt.Errorf("smtp send: %w", err)
	}

	s.logger.InfoContext(ctx, "Mail sent", "recipients", len(msg.Recipients), "subject", msg.Subject)
	return nil
}
