package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/adapters/smtp"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/templates"
	"github.com/mailalchemy/mailalchemy/internal/platform/messagebroker"
)

// NATS subjects for delivery events. Publishing is best effort and optional.
const (
	SubjectMailSent   = "mail.sent"
	SubjectMailFailed = "mail.failed"
)

// DeliveryEvent is published after each dispatch attempt.
type DeliveryEvent struct {
	EmailID     uuid.UUID `json:"email_id"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject"`
	Status      string    `json:"status"`
	AttemptedAt time.Time `json:"attempted_at"`
	Error       string    `json:"error,omitempty"`
}

// Mailer manages mail sending with scheduling and rate ceilings. It is
// constructed with its configuration and can be used immediately when a
// repository and sender are passed to NewMailer, or later via Attach for
// hosts that wire persistence after construction.
type Mailer struct {
	ceilings  Ceilings
	renderer  *templates.Renderer
	publisher messagebroker.Publisher // nil disables delivery events
	logger    *slog.Logger

	mu     sync.RWMutex
	repo   domain.EmailRepository
	sender smtp.Sender
}

func NewMailer(
	ceilings Ceilings,
	renderer *templates.Renderer,
	repo domain.EmailRepository,
	sender smtp.Sender,
	logger *slog.Logger,
) *Mailer {
	return &Mailer{
		ceilings: ceilings,
		renderer: renderer,
		repo:     repo,
		sender:   sender,
		logger:   logger,
	}
}

// Attach late-binds the repository and transport. Operations called before
// Attach (when NewMailer was given nil for either) return ErrNotAttached.
func (m *Mailer) Attach(repo domain.EmailRepository, sender smtp.Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repo = repo
	m.sender = sender
}

// WithPublisher enables best-effort delivery events on the given broker.
func (m *Mailer) WithPublisher(pub messagebroker.Publisher) *Mailer {
	m.publisher = pub
	return m
}

func (m *Mailer) attached() (domain.EmailRepository, smtp.Sender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.repo == nil || m.sender == nil {
		return nil, nil, domain.ErrNotAttached
	}
	return m.repo, m.sender, nil
}

// Send persists one record per recipient and attempts each immediately,
// subject to the rate ceilings. Records left unsent by an exhausted ceiling
// stay pending and are picked up by the dispatch worker once the window
// frees up. The created records are returned so callers can track them.
func (m *Mailer) Send(ctx context.Context, msg *domain.Message) ([]*domain.EmailRecord, error) {
	repo, _, err := m.attached()
	if err != nil {
		return nil, err
	}

	records, err := domain.RecordsFromMessage(msg, time.Time{})
	if err != nil {
		return nil, err
	}
	if err := repo.CreateBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("persist message records: %w", err)
	}

	// One round of window counts for the whole batch; each attempt below
	// consumes from the allowance locally.
	allowance, window, err := remainingAllowance(ctx, repo, m.ceilings, time.Now().UTC())
	if err != nil {
		return records, fmt.Errorf("ceiling check: %w", err)
	}

	var sendErrs []error
	for _, record := range records {
		if allowance == 0 {
			m.logger.WarnContext(ctx, "Rate ceiling reached during synchronous send; remaining records stay pending",
				"window", window, "email_id", record.ID)
			sendErrs = append(sendErrs, fmt.Errorf("%w: per-%s", domain.ErrMailLimitExceeded, window))
			break
		}

		claimed, err := repo.ClaimPending(ctx, record.ID)
		if err != nil {
			return records, fmt.Errorf("claim record: %w", err)
		}
		if !claimed {
			// A concurrent dispatcher got there first; that attempt governs.
			continue
		}

		if err := m.attemptDispatch(ctx, record); err != nil {
			sendErrs = append(sendErrs, err)
		}
		allowance--
	}

	return records, errors.Join(sendErrs...)
}

// SendMessage is a shortcut for Send, taking the Message parts directly.
func (m *Mailer) SendMessage(ctx context.Context, subject string, sender domain.Address, recipients []string, text, html string) ([]*domain.EmailRecord, error) {
	return m.Send(ctx, domain.NewMessage(subject, sender, recipients, text, html))
}

// Schedule persists one unsent record per recipient with the given send
// time. A zero scheduledAt means "due now". The dispatch worker sends the
// records once due. Attachments are not persisted; a scheduled message with
// attachments goes out without them.
func (m *Mailer) Schedule(ctx context.Context, msg *domain.Message, scheduledAt time.Time) ([]*domain.EmailRecord, error) {
	repo, _, err := m.attached()
	if err != nil {
		return nil, err
	}

	if len(msg.Attachments) > 0 {
		m.logger.WarnContext(ctx, "Scheduled message carries attachments; attachments are not persisted and will be dropped at dispatch",
			"attachments", len(msg.Attachments), "subject", msg.Subject)
	}

	records, err := domain.RecordsFromMessage(msg, scheduledAt)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("persist scheduled records: %w", err)
	}

	m.logger.InfoContext(ctx, "Message scheduled",
		"recipients", len(records), "scheduled_at", records[0].ScheduledAt, "subject", msg.Subject)
	return records, nil
}

// ScheduleMessage is a shortcut for Schedule, taking the Message parts
// directly.
func (m *Mailer) ScheduleMessage(ctx context.Context, subject string, sender domain.Address, recipients []string, text, html string, scheduledAt time.Time) ([]*domain.EmailRecord, error) {
	return m.Schedule(ctx, domain.NewMessage(subject, sender, recipients, text, html), scheduledAt)
}

// RenderTemplate fills the message's HTML and plaintext bodies from the named
// template pair.
func (m *Mailer) RenderTemplate(msg *domain.Message, name string, values map[string]any) error {
	return m.renderer.Render(msg, name, values)
}

// AttachFile reads a file and attaches it to the message, guessing the
// content type from the extension.
func (m *Mailer) AttachFile(msg *domain.Message, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read attachment %s: %w", path, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	msg.Attach(filepath.Base(path), contentType, data)
	return nil
}

// GetRecord looks up a persisted email record.
func (m *Mailer) GetRecord(ctx context.Context, id uuid.UUID) (*domain.EmailRecord, error) {
	repo, _, err := m.attached()
	if err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, id)
}

// attemptDispatch sends one claimed record through the transport and records
// the outcome. The attempt time is stamped on failure as well as success so
// failed attempts count against the ceilings. Failed records are not
// retried.
func (m *Mailer) attemptDispatch(ctx context.Context, record *domain.EmailRecord) error {
	repo, sender, err := m.attached()
	if err != nil {
		return err
	}

	timer := prometheus.NewTimer(dispatchDurationHist.WithLabelValues(sender.GetName()))
	defer timer.ObserveDuration()

	attemptedAt := time.Now().UTC()
	sendErr := sender.Send(ctx, record.Message())

	if sendErr != nil {
		m.logger.ErrorContext(ctx, "Email dispatch failed",
			"email_id", record.ID, "recipient", record.Recipient, "error", sendErr)
		if markErr := repo.MarkFailed(ctx, record.ID, attemptedAt, sendErr.Error()); markErr != nil {
			emailsDispatchedCounter.WithLabelValues(sender.GetName(), "error_mark").Inc()
			return fmt.Errorf("mark failed after dispatch error: %w", markErr)
		}
		emailsDispatchedCounter.WithLabelValues(sender.GetName(), "failed").Inc()
		m.publishEvent(ctx, SubjectMailFailed, record, attemptedAt, sendErr.Error())
		return sendErr
	}

	if markErr := repo.MarkSent(ctx, record.ID, attemptedAt); markErr != nil {
		emailsDispatchedCounter.WithLabelValues(sender.GetName(), "error_mark").Inc()
		return fmt.Errorf("mark sent: %w", markErr)
	}

	emailsDispatchedCounter.WithLabelValues(sender.GetName(), "sent").Inc()
	m.logger.InfoContext(ctx, "Email dispatched",
		"email_id", record.ID, "recipient", record.Recipient)
	m.publishEvent(ctx, SubjectMailSent, record, attemptedAt, "")
	return nil
}

func (m *Mailer) publishEvent(ctx context.Context, subject string, record *domain.EmailRecord, attemptedAt time.Time, errMsg string) {
	if m.publisher == nil {
		return
	}

	status := string(domain.StatusSent)
	if errMsg != "" {
		status = string(domain.StatusFailed)
	}
	event := DeliveryEvent{
		EmailID:     record.ID,
		Recipient:   record.Recipient,
		Subject:     record.Subject,
		Status:      status,
		AttemptedAt: attemptedAt,
		Error:       errMsg,
	}

	data, err := json.Marshal(event)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to marshal delivery event", "error", err, "email_id", record.ID)
		return
	}
	if err := m.publisher.Publish(ctx, subject, data); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish delivery event", "error", err, "subject", subject, "email_id", record.ID)
	}
}
