package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
)

// Querier is a common interface over pgxpool.Pool and pgx.Tx so repository
// methods can run within or outside a transaction (and against pgxmock in
// tests).
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type PgEmailRepository struct {
	db     Querier
	logger *slog.Logger
}

func NewPgEmailRepository(db Querier, logger *slog.Logger) *PgEmailRepository {
	return &PgEmailRepository{db: db, logger: logger}
}

const emailColumns = `id, sender_address, sender_name, subject, recipient, message_text, message_html, scheduled_at, sent_at, status, error_message, created_at, updated_at`

func (r *PgEmailRepository) Create(ctx context.Context, record *domain.EmailRecord) error {
	query := `
		INSERT INTO emails (id, sender_address, sender_name, subject, recipient, message_text, message_html, scheduled_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		record.ID, record.SenderAddress, record.SenderName, record.Subject, record.Recipient,
		record.MessageText, record.MessageHTML, record.ScheduledAt, record.Status,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating email record", "error", err, "email_id", record.ID)
		return err
	}
	r.logger.InfoContext(ctx, "Email record created", "email_id", record.ID, "recipient", record.Recipient, "scheduled_at", record.ScheduledAt)
	return nil
}

func (r *PgEmailRepository) CreateBatch(ctx context.Context, records []*domain.EmailRecord) error {
	for _, record := range records {
		if err := r.Create(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (r *PgEmailRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailRecord, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = $1`

	record := &domain.EmailRecord{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&record.ID, &record.SenderAddress, &record.SenderName, &record.Subject, &record.Recipient,
		&record.MessageText, &record.MessageHTML, &record.ScheduledAt, &record.SentAt,
		&record.Status, &record.ErrorMessage, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Email record not found", "email_id", id)
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting email record by ID", "error", err, "email_id", id)
		return nil, err
	}
	return record, nil
}

// AcquireDue claims due pending records with FOR UPDATE SKIP LOCKED so that
// concurrent dispatchers never double-claim a record.
func (r *PgEmailRepository) AcquireDue(ctx context.Context, dueTime time.Time, limit int) ([]*domain.EmailRecord, error) {
	query := `
		WITH due_email_ids AS (
			SELECT id
			FROM emails
			WHERE status = $1 AND scheduled_at <= $2
			ORDER BY scheduled_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE emails e
		SET status = $4, updated_at = $5
		FROM due_email_ids d
		WHERE e.id = d.id
		RETURNING e.id, e.sender_address, e.sender_name, e.subject, e.recipient, e.message_text, e.message_html, e.scheduled_at, e.sent_at, e.status, e.error_message, e.created_at, e.updated_at
	`
	now := time.Now().UTC()
	rows, err := r.db.Query(ctx, query, domain.StatusPending, dueTime, limit, domain.StatusSending, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error acquiring due emails", "error", err)
		return nil, err
	}
	defer rows.Close()

	var records []*domain.EmailRecord
	for rows.Next() {
		record := &domain.EmailRecord{}
		if err := rows.Scan(
			&record.ID, &record.SenderAddress, &record.SenderName, &record.Subject, &record.Recipient,
			&record.MessageText, &record.MessageHTML, &record.ScheduledAt, &record.SentAt,
			&record.Status, &record.ErrorMessage, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			r.logger.ErrorContext(ctx, "Error scanning acquired email row", "error", err)
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(records) > 0 {
		r.logger.InfoContext(ctx, "Acquired due emails", "count", len(records))
	}
	return records, nil
}

func (r *PgEmailRepository) ClaimPending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE emails
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusSending, time.Now().UTC(), id, domain.StatusPending)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming pending email", "error", err, "email_id", id)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgEmailRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE emails
		SET status = $1, sent_at = $2, updated_at = $3
		WHERE id = $4
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusSent, at, time.Now().UTC(), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking email sent", "error", err, "email_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Email record not found for MarkSent", "email_id", id)
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Email marked sent", "email_id", id)
	return nil
}

func (r *PgEmailRepository) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, errorMessage string) error {
	query := `
		UPDATE emails
		SET status = $1, sent_at = $2, error_message = $3, updated_at = $4
		WHERE id = $5
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusFailed, at, errorMessage, time.Now().UTC(), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking email failed", "error", err, "email_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Email record not found for MarkFailed", "email_id", id)
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Email marked failed", "email_id", id, "error_message", errorMessage)
	return nil
}

// CountAttemptedSince counts attempts inside a sliding window. Failed
// attempts carry a sent_at stamp too, so they count against the ceilings.
func (r *PgEmailRepository) CountAttemptedSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM emails WHERE sent_at > $1`

	var count int
	if err := r.db.QueryRow(ctx, query, since).Scan(&count); err != nil {
		r.logger.ErrorContext(ctx, "Error counting attempted emails", "error", err, "since", since)
		return 0, err
	}
	return count, nil
}
