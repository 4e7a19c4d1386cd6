/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All business outcomes that reject an operation live here. They are
  deterministic results of validation, never transient I/O failures, so
  they are never retried. Every one of them is raised BEFORE any write.

ERROR CATEGORIES:
  1. ConflictError  - a tag violates the exclusion matrix
  2. CapacityError  - a free-day request exceeds remaining guard balance
  3. IntegrityError - an operation would orphan dependent ledger rows
  4. NotFoundError  - the referenced day/tag/movement does not exist (a no-op)
  5. Input errors   - malformed dates, unknown tags, zero amounts

USAGE:
  var capErr *generic.CapacityError
  if errors.As(err, &capErr) {
      fmt.Printf("short by %d days\n", capErr.Shortfall)
  }
  if errors.Is(err, generic.ErrConflict) { ... }

SEE ALSO:
  - guard/engine.go: raises these
  - api/handlers.go: maps them to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrConflict  = errors.New("tag conflict")
	ErrCapacity  = errors.New("insufficient guard balance")
	ErrIntegrity = errors.New("ledger integrity violation")
	ErrNotFound  = errors.New("not found")

	// ErrInvalidDate is returned for dates that are not YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")

	// ErrUnknownTag is returned for tag names outside the closed enumeration.
	ErrUnknownTag = errors.New("unknown tag type")

	// ErrInvalidAmount is returned for zero or out-of-range movement amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError explains why a tag cannot be added to a day.
type ConflictError struct {
	Date     TimePoint
	Tag      string
	Existing string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Date, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// CapacityError reports how far a free-day request overshoots the open guard accounts.
type CapacityError struct {
	Requested int
	Available int
	Shortfall int
	Accounts  int // open accounts that were drained before giving up
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient guard balance: requested %d, available %d across %d accounts, short by %d",
		e.Requested, e.Available, e.Accounts, e.Shortfall)
}

func (e *CapacityError) Unwrap() error { return ErrCapacity }

// IntegrityError is returned when removing something would leave dangling ledger rows.
type IntegrityError struct {
	Ref        string
	Dependents int
	Reason     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on %s: %s (%d dependent movements)", e.Ref, e.Reason, e.Dependents)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// NotFoundError names what was missing.
type NotFoundError struct {
	Kind string // "day", "tag", "movement", "guard"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsBusinessError reports whether err is an expected validation outcome
// rather than a storage failure.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrCapacity) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrNotFound) ||
		IsClientError(err)
}

// IsClientError returns true if the error is due to malformed input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrUnknownTag) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
