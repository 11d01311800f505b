package domain

import "errors"

var (
	// ErrNotFound indicates that a requested email record was not found.
	ErrNotFound = errors.New("email record not found")
	// ErrNoRecipients indicates a message without any recipient.
	ErrNoRecipients = errors.New("message has no recipients")
	// ErrMailLimitExceeded indicates that a configured rate ceiling is exhausted.
	ErrMailLimitExceeded = errors.New("mail rate ceiling exceeded")
	// ErrTemplateNotFound indicates a missing template variant.
	ErrTemplateNotFound = errors.New("mail template not found")
	// ErrNotAttached indicates the mailer was used before Attach bound its
	// repository and sender.
	ErrNotAttached = errors.New("mailer not attached to repository and sender")
)
