// Package domain holds the tenant-scoped entity model: users, characters,
// quests and summaries, their validators, and the quest lifecycle state
// machine. Entities store only IDs in each direction; object graphs are
// resolved through the cache or repository.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify with errors.Is; the command boundary maps
// each kind to its user-visible reply shape.
var (
	// ErrValidation marks malformed input or an invariant violation. The
	// message is surfaced verbatim to the user.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks a caller lacking the role or ownership a
	// transition requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound marks an absent target entity.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks duplicate signups, active cooldowns and other
	// already-in-that-state rejections.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks network timeouts, 5xx responses and connectivity
	// blips; the caller may fall back or retry.
	ErrTransient = errors.New("transient failure")
)

// ErrAlreadySignedUp is the canonical duplicate-signup rejection. The exact
// text is part of the user contract regardless of which persistence path
// produced the rejection.
var ErrAlreadySignedUp = fmt.Errorf("%w: You already requested to join this quest.", ErrConflict)

// Validationf builds an ErrValidation with a user-facing message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Conflictf builds an ErrConflict with a user-facing message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

// Unauthorizedf builds an ErrUnauthorized with a short explanation.
func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnauthorized}, args...)...)
}

// NotFoundf builds an ErrNotFound with a short explanation.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// IsTransient reports whether the error is a retryable infrastructure
// failure rather than a deterministic rejection.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// UserMessage strips the kind prefix from a classified error, leaving the
// text shown to the user. Unclassified errors pass through unchanged.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, kind := range []error{ErrValidation, ErrUnauthorized, ErrNotFound, ErrConflict, ErrTransient} {
		prefix := kind.Error() + ": "
		if errors.Is(err, kind) && len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}
