package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// EmailStatus represents the delivery state of a persisted email record.
type EmailStatus string

const (
	StatusPending EmailStatus = "pending" // waiting for its scheduled time
	StatusSending EmailStatus = "sending" // claimed by a dispatcher
	StatusSent    EmailStatus = "sent"    // transport accepted the message
	StatusFailed  EmailStatus = "failed"  // transport rejected the message; not retried
)

// EmailRecord is the persisted representation of a scheduled or sent email.
// One record is stored per recipient. A record transitions
// pending -> sending -> sent|failed exactly once; SentAt is stamped when the
// attempt completes, on failure as well as success, so attempted records
// count against the rate ceilings.
//
// EmailRecord is designed for embedding: applications that need extra
// columns (say, a foreign key to their own user table) embed it in their own
// struct and supply a repository aware of the added columns.
type EmailRecord struct {
	ID            uuid.UUID      `json:"id"`
	SenderAddress string         `json:"sender_address"`
	SenderName    sql.NullString `json:"sender_name,omitempty"`
	Subject       string         `json:"subject"`
	Recipient     string         `json:"recipient"`
	MessageText   sql.NullString `json:"message_text,omitempty"`
	MessageHTML   sql.NullString `json:"message_html,omitempty"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	SentAt        sql.NullTime   `json:"sent_at,omitempty"`
	Status        EmailStatus    `json:"status"`
	ErrorMessage  sql.NullString `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// Attachments is in-memory only. The repository neither stores nor loads
	// it; records freshly fanned out from a Message carry the message's
	// attachments, records read back from the database do not.
	Attachments []Attachment `json:"-"`
}

// RecordsFromMessage fans a Message out into one pending EmailRecord per
// recipient. A zero scheduledAt means "due now".
func RecordsFromMessage(msg *Message, scheduledAt time.Time) ([]*EmailRecord, error) {
	if len(msg.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	now := time.Now().UTC()
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	records := make([]*EmailRecord, 0, len(msg.Recipients))
	for _, recipient := range msg.Recipients {
		rec := &EmailRecord{
			ID:            uuid.New(),
			SenderAddress: msg.Sender.Address,
			Subject:       msg.Subject,
			Recipient:     recipient,
			ScheduledAt:   scheduledAt.UTC(),
			Status:        StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
			Attachments:   msg.Attachments,
		}
		if msg.Sender.Name != "" {
			rec.SenderName = sql.NullString{String: msg.Sender.Name, Valid: true}
		}
		if msg.Text != "" {
			rec.MessageText = sql.NullString{String: msg.Text, Valid: true}
		}
		if msg.HTML != "" {
			rec.MessageHTML = sql.NullString{String: msg.HTML, Valid: true}
		}
		records = append(records, rec)
	}

	return records, nil
}

// Message reconstructs the transient Message for this record, for handing to
// the transport.
func (r *EmailRecord) Message() *Message {
	return &Message{
		Subject:     r.Subject,
		Sender:      Address{Name: r.SenderName.String, Address: r.SenderAddress},
		Recipients:  []string{r.Recipient},
		Text:        r.MessageText.String,
		HTML:        r.MessageHTML.String,
		Attachments: r.Attachments,
	}
}
