/*
errors.go - Centralized error types for the custody engine

PURPOSE:
  All error types for the custody/check-in/check-out flows in one place.
  Other packages (workorder, api) wrap or inspect these with errors.Is.

ERROR CATEGORIES:
  1. Validation errors - caller input fails a precondition
  2. State errors - the custody ledger does not permit the transition
  3. Persistence errors - the authoritative store rejected a write

USAGE:
  if errors.Is(err, custody.ErrAlreadyCheckedOut) {
      // surface a 409 to the caller
  }

  var mismatch *custody.OwnershipMismatchError
  if errors.As(err, &mismatch) {
      fmt.Println("held by", mismatch.Holder)
  }
*/
package custody

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when caller input fails a precondition
	// (missing required field, empty batch). Always recoverable locally.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateInBatch is returned when the same normalized cylinder
	// number is scanned twice in one uncommitted batch.
	ErrDuplicateInBatch = errors.New("duplicate cylinder in batch")

	// ErrNotFound is returned when a referenced cylinder/company/contact
	// does not exist in the catalog.
	ErrNotFound = errors.New("not found")

	// ErrInactive is returned when a catalog entry exists but is disabled.
	ErrInactive = errors.New("catalog entry is inactive")

	// ErrInvalidState is returned when the custody state does not permit the
	// requested transition (e.g., check-in without an open checkout).
	ErrInvalidState = errors.New("invalid custody state")

	// ErrOwnershipMismatch is returned when custody is open but held by a
	// different company than the one selected.
	ErrOwnershipMismatch = errors.New("custody ownership mismatch")

	// ErrAlreadyCheckedOut is returned when attempting to check out a
	// cylinder already in custody.
	ErrAlreadyCheckedOut = errors.New("cylinder already checked out")

	// ErrConflict is the store-level rejection behind ErrAlreadyCheckedOut:
	// an open custody record already exists for the cylinder.
	ErrConflict = errors.New("open custody record already exists")

	// ErrPersistence is returned when the authoritative store rejects a
	// write after validation passed.
	ErrPersistence = errors.New("persistence failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateScanError reports a second scan of the same cylinder number
// within one uncommitted batch.
type DuplicateScanError struct {
	Number string
}

func (e *DuplicateScanError) Error() string {
	return fmt.Sprintf("cylinder %s already scanned in this batch", e.Number)
}

func (e *DuplicateScanError) Unwrap() error { return ErrDuplicateInBatch }

// AlreadyCheckedOutError reports an attempted checkout of a cylinder that is
// already in custody.
type AlreadyCheckedOutError struct {
	Number string
	Holder CompanyID
}

func (e *AlreadyCheckedOutError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("cylinder %s is already checked out to company %s", e.Number, e.Holder)
	}
	return fmt.Sprintf("cylinder %s is already checked out", e.Number)
}

func (e *AlreadyCheckedOutError) Unwrap() error { return ErrAlreadyCheckedOut }

// OwnershipMismatchError reports a check-in against a company that does not
// hold the cylinder. Expected names the company that does.
type OwnershipMismatchError struct {
	Number   string
	Expected CompanyID
	Selected CompanyID
}

func (e *OwnershipMismatchError) Error() string {
	return fmt.Sprintf("cylinder %s is checked out to company %s, not company %s",
		e.Number, e.Expected, e.Selected)
}

func (e *OwnershipMismatchError) Unwrap() error { return ErrOwnershipMismatch }

// PersistenceError reports a store write rejected after validation passed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return ErrPersistence }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid operator input
// rather than a store or system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateInBatch) ||
		errors.Is(err, ErrInactive) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrOwnershipMismatch) ||
		errors.Is(err, ErrAlreadyCheckedOut)
}

// IsNotFound returns true if the error indicates a missing catalog entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
