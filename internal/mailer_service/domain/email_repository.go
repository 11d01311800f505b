package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EmailRepository defines the interface for managing EmailRecord data.
// Records are never destroyed by this system; deletion is an application
// concern.
type EmailRepository interface {
	Create(ctx context.Context, record *EmailRecord) error
	CreateBatch(ctx context.Context, records []*EmailRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*EmailRecord, error)

	// AcquireDue claims pending records whose scheduled time has passed,
	// moving them to 'sending' so that no other dispatcher sees them, and
	// returns them oldest first.
	AcquireDue(ctx context.Context, dueTime time.Time, limit int) ([]*EmailRecord, error)

	// ClaimPending claims a single pending record for a synchronous send.
	// It reports whether the claim succeeded; false means another dispatcher
	// got there first.
	ClaimPending(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkSent and MarkFailed complete an attempt, stamping sent_at with the
	// attempt time in both cases.
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, errorMessage string) error

	// CountAttemptedSince returns how many records have an attempt stamp
	// inside the sliding window (since, now]. Used for ceiling checks.
	CountAttemptedSince(ctx context.Context, since time.Time) (int, error)
}
