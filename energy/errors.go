/*
errors.go - Centralized error types for the energy engine

PURPOSE:
  All error types in one place. Errors are synchronous, surfaced before any
  state mutation, and leave persisted state unchanged. Callers can retry
  with corrected input; the engine never retries internally.

ERROR CATEGORIES:
  1. Invalid input    - zero address, out-of-range period id, oversized spend
  2. Configuration    - missing/rebound collaborators at setup time
  3. Permission       - caller lacks the required role
  4. Lifecycle        - mutating operation attempted while paused

USAGE:
  Callers match with errors.Is / errors.As:

    if errors.Is(err, energy.ErrInvalidPeriodID) { ... }

    var insErr *energy.InsufficientEnergyError
    if errors.As(err, &insErr) { ... insErr.Available ... }
*/
package energy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAddress is returned when an account identifier is the zero
	// address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidPeriodID is returned when a period id is 0 or beyond the
	// registry counter.
	ErrInvalidPeriodID = errors.New("invalid period id")

	// ErrInvalidAmount is returned when a spend amount is non-positive or
	// exceeds the spendable balance. No partial spend ever occurs.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPermissionDenied is returned when the caller lacks the role a
	// mutating operation requires.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPaused is returned when a mutating operation is attempted while
	// the ledger is paused.
	ErrPaused = errors.New("ledger is paused")

	// ErrNotConfigured is returned when the engine is constructed without a
	// required collaborator. No partial configuration is committed.
	ErrNotConfigured = errors.New("missing required collaborator")

	// ErrLedgerUnderflow is returned when a consumed-amount counter exceeds
	// the computed accrual. This can only happen if a counter was mutated
	// outside UseEnergy and indicates a corrupted ledger, so it fails loudly
	// instead of clamping.
	ErrLedgerUnderflow = errors.New("consumed amount exceeds accrued energy")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientEnergyError reports a spend request that exceeds the spendable
// balance for the account and period.
type InsufficientEnergyError struct {
	Account   Address
	PeriodID  PeriodID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientEnergyError) Error() string {
	return fmt.Sprintf("invalid amount: requested %s exceeds spendable %s (account %s, period %d)",
		e.Requested, e.Available, e.Account, e.PeriodID)
}

func (e *InsufficientEnergyError) Unwrap() error {
	return ErrInvalidAmount
}

// PermissionError reports which role check failed.
type PermissionError struct {
	Caller Address
	Role   Role
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s does not hold role %q", e.Caller, e.Role)
}

func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input and
// a corrected retry can succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrInvalidPeriodID) ||
		errors.Is(err, ErrInvalidAmount)
}
