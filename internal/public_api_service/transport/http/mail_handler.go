package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/app"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
	"github.com/mailalchemy/mailalchemy/internal/public_api_service/middleware"
)

// MailHandler exposes the mailer over HTTP.
type MailHandler struct {
	mailer   *app.Mailer
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMailHandler(mailer *app.Mailer, logger *slog.Logger) *MailHandler {
	return &MailHandler{
		mailer:   mailer,
		validate: validator.New(),
		logger:   logger.With("handler", "mail"),
	}
}

// RegisterRoutes registers mail routes with the given router.
func (h *MailHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages/send", h.handleSendMail)
	r.Post("/messages/schedule", h.handleScheduleMail)
	r.Get("/messages/{messageID}", h.handleGetMailStatus)
}

// handleSendMail persists the message and attempts immediate delivery within
// the rate ceilings.
func (h *MailHandler) handleSendMail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	msg, ok := h.decodeMessage(w, r, logger)
	if !ok {
		return
	}

	records, err := h.mailer.Send(ctx, msg)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMailLimitExceeded):
			logger.WarnContext(ctx, "Send rejected by rate ceiling", "error", err)
			h.jsonError(w, logger, "Rate ceiling reached; remaining messages stay queued", http.StatusTooManyRequests)
		case errors.Is(err, domain.ErrNoRecipients):
			h.jsonError(w, logger, "At least one recipient is required", http.StatusBadRequest)
		default:
			logger.ErrorContext(ctx, "Send failed", "error", err)
			h.jsonError(w, logger, "One or more deliveries failed", http.StatusBadGateway)
		}
		return
	}

	logger.InfoContext(ctx, "Message sent", "recipients", len(records))
	h.writeJSON(w, http.StatusOK, sendMailResponseFromRecords(records))
}

// handleScheduleMail persists the message for the dispatch worker. A missing
// scheduled_at means "due now".
func (h *MailHandler) handleScheduleMail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	var req SendMailRequest
	msg, ok := h.decodeMessageInto(&req, w, r, logger)
	if !ok {
		return
	}

	var scheduledAt time.Time
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	records, err := h.mailer.Schedule(ctx, msg, scheduledAt)
	if err != nil {
		if errors.Is(err, domain.ErrNoRecipients) {
			h.jsonError(w, logger, "At least one recipient is required", http.StatusBadRequest)
			return
		}
		logger.ErrorContext(ctx, "Failed to schedule message", "error", err)
		h.jsonError(w, logger, "Failed to schedule message", http.StatusInternalServerError)
		return
	}

	logger.InfoContext(ctx, "Message scheduled", "recipients", len(records), "scheduled_at", records[0].ScheduledAt)
	h.writeJSON(w, http.StatusAccepted, sendMailResponseFromRecords(records))
}

// handleGetMailStatus retrieves one persisted email record.
func (h *MailHandler) handleGetMailStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	messageID := chi.URLParam(r, "messageID")
	id, err := uuid.Parse(messageID)
	if err != nil {
		logger.WarnContext(ctx, "Invalid message ID format", "message_id", messageID)
		h.jsonError(w, logger, "Invalid message ID format", http.StatusBadRequest)
		return
	}

	record, err := h.mailer.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.jsonError(w, logger, "Message not found", http.StatusNotFound)
			return
		}
		logger.ErrorContext(ctx, "Failed to get email record", "error", err, "message_id", messageID)
		h.jsonError(w, logger, "Failed to retrieve message status", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, emailStatusResponseFromRecord(record))
}

func (h *MailHandler) decodeMessage(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*domain.Message, bool) {
	var req SendMailRequest
	return h.decodeMessageInto(&req, w, r, logger)
}

// decodeMessageInto decodes, validates and renders the request into a
// domain message. It writes the error response itself on failure.
func (h *MailHandler) decodeMessageInto(req *SendMailRequest, w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*domain.Message, bool) {
	ctx := r.Context()

	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		logger.WarnContext(ctx, "Failed to decode request body", "error", err)
		h.jsonError(w, logger, "Invalid request payload: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		logger.WarnContext(ctx, "Request validation failed", "error", err)
		h.jsonError(w, logger, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}

	sender := domain.Address{Name: req.SenderName, Address: req.SenderAddress}
	msg := domain.NewMessage(req.Subject, sender, req.Recipients, req.Text, req.HTML)

	if req.Template != nil {
		if err := h.mailer.RenderTemplate(msg, req.Template.Name, req.Template.Values); err != nil {
			if errors.Is(err, domain.ErrTemplateNotFound) {
				h.jsonError(w, logger, "Template not found: "+req.Template.Name, http.StatusBadRequest)
				return nil, false
			}
			logger.ErrorContext(ctx, "Template rendering failed", "template", req.Template.Name, "error", err)
			h.jsonError(w, logger, "Template rendering failed", http.StatusInternalServerError)
			return nil, false
		}
	}

	return msg, true
}

func sendMailResponseFromRecords(records []*domain.EmailRecord) SendMailResponse {
	resp := SendMailResponse{Emails: make([]QueuedEmail, 0, len(records))}
	for _, record := range records {
		resp.Emails = append(resp.Emails, QueuedEmail{
			EmailID:     record.ID.String(),
			Recipient:   record.Recipient,
			ScheduledAt: record.ScheduledAt,
		})
	}
	return resp
}

func (h *MailHandler) requestLogger(r *http.Request) *slog.Logger {
	logger := h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
	if client, ok := r.Context().Value(middleware.AuthenticatedClientContextKey).(middleware.AuthenticatedClient); ok {
		logger = logger.With("client", client.Subject)
	}
	return logger
}

func (h *MailHandler) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *MailHandler) jsonError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	logger.Warn("API error response", "status_code", statusCode, "message", message)
	h.writeJSON(w, statusCode, GenericErrorResponse{Error: message})
}
