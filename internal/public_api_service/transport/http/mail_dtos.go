package http

import (
	"time"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
)

// TemplateRef selects a named template pair and the values to render it with.
type TemplateRef struct {
	Name   string         `json:"name" validate:"required"`
	Values map[string]any `json:"values,omitempty"`
}

// SendMailRequest DTO for POST /messages/send and POST /messages/schedule.
// Bodies can be given inline or rendered from a template; ScheduledAt is
// only honored by the schedule endpoint.
type SendMailRequest struct {
	Subject       string       `json:"subject" validate:"required"`
	SenderName    string       `json:"sender_name,omitempty"`
	SenderAddress string       `json:"sender_address,omitempty" validate:"omitempty,email"`
	Recipients    []string     `json:"recipients" validate:"required,min=1,dive,email"`
	Text          string       `json:"text,omitempty"`
	HTML          string       `json:"html,omitempty"`
	Template      *TemplateRef `json:"template,omitempty"`
	ScheduledAt   *time.Time   `json:"scheduled_at,omitempty"`
}

// QueuedEmail describes one persisted per-recipient record.
type QueuedEmail struct {
	EmailID     string    `json:"email_id"`
	Recipient   string    `json:"recipient"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// SendMailResponse DTO returned by both send and schedule.
type SendMailResponse struct {
	Emails []QueuedEmail `json:"emails"`
}

// EmailStatusResponse DTO for GET /messages/{messageID}.
type EmailStatusResponse struct {
	ID            string             `json:"id"`
	Recipient     string             `json:"recipient"`
	Subject       string             `json:"subject"`
	SenderAddress string             `json:"sender_address"`
	SenderName    string             `json:"sender_name,omitempty"`
	Status        domain.EmailStatus `json:"status"`
	ScheduledAt   time.Time          `json:"scheduled_at"`
	SentAt        *time.Time         `json:"sent_at,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// GenericErrorResponse is the error envelope for all API errors.
type GenericErrorResponse struct {
	Error string `json:"error"`
}

func emailStatusResponseFromRecord(record *domain.EmailRecord) EmailStatusResponse {
	resp := EmailStatusResponse{
		ID:            record.ID.String(),
		Recipient:     record.Recipient,
		Subject:       record.Subject,
		SenderAddress: record.SenderAddress,
		Status:        record.Status,
		ScheduledAt:   record.ScheduledAt,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
	if record.SenderName.Valid {
		resp.SenderName = record.SenderName.String
	}
	if record.SentAt.Valid {
		sentAt := record.SentAt.Time
		resp.SentAt = &sentAt
	}
	if record.ErrorMessage.Valid {
		resp.ErrorMessage = record.ErrorMessage.String
	}
	return resp
}
