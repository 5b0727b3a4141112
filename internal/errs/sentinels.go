// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested deck or card does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a malformed or out-of-range input.
	ErrValidation = errors.New("validation")

	// ErrForbidden indicates the caller is not the owner of the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a near-duplicate card in the same deck.
	ErrConflict = errors.New("conflict")

	// ErrTransient indicates a retryable store fault (timeout, lost connection).
	ErrTransient = errors.New("transient store error")

	// ErrDataIntegrity indicates a write was aborted because the mutated deck broke an invariant.
	ErrDataIntegrity = errors.New("data integrity")
)

// Validation builds an ErrValidation with a formatted reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err may be retried by a read path.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IntegrityError lists the invariants a deck would violate if written.
type IntegrityError struct {
	Violations []string
}

func (e *IntegrityError) Error() string {
	return "data integrity: " + strings.Join(e.Violations, "; ")
}

// Unwrap lets errors.Is(err, ErrDataIntegrity) match.
func (e *IntegrityError) Unwrap() error { return ErrDataIntegrity }
