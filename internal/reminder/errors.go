package reminder

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError rejects a create request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a store failure. It is always safe to retry the
// operation later.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("reminder store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// TransientDeliveryError keeps the reminder in the store for a later scan.
type TransientDeliveryError struct {
	Err        error
	RetryAfter time.Duration // hint from the platform, 0 if unknown
}

func (e *TransientDeliveryError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transient delivery failure (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// PermanentDeliveryError retires the reminder without delivering it.
type PermanentDeliveryError struct {
	Err error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("permanent delivery failure: %v", e.Err)
}

func (e *PermanentDeliveryError) Unwrap() error { return e.Err }

// NotFoundError is returned by Cancel when no pending reminder matches.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string { return "reminder not found: " + e.Ref }

// AuthorizationError is returned by Cancel when the reminder belongs to
// another user.
type AuthorizationError struct {
	ID     int64
	UserID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("reminder %d is not owned by user %s", e.ID, e.UserID)
}

// Transient marks a gateway error as retryable.
//
//	return reminder.Transient(fmt.Errorf("send: %w", err))
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientDeliveryError{Err: err}
}

// TransientAfter is Transient with a platform-provided retry hint.
func TransientAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return &TransientDeliveryError{Err: err, RetryAfter: after}
}

// Permanent marks a gateway error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentDeliveryError{Err: err}
}

// IsPermanent reports whether err carries a *PermanentDeliveryError.
func IsPermanent(err error) bool {
	var pe *PermanentDeliveryError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err carries a *NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsUnauthorized reports whether err carries an *AuthorizationError.
func IsUnauthorized(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
