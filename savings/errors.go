/*
errors.go - Centralized error types for the savings engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; the HTTP layer maps these
  to status codes without inspecting message strings.

ERROR CATEGORIES:
  1. Validation errors  - malformed or out-of-range input (user-correctable)
  2. State conflicts    - operation not valid for the current status
  3. Amount-domain      - exceeds-target, insufficient-balance, net-too-low;
                          each carries the computed boundary value
  4. Gateway errors     - unavailable (retryable, outcome unknown) vs
                          declined (terminal)

SEE ALSO:
  - engine.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package savings

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input failures.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict is returned when an operation is not valid for the
	// plan's or entry's current status (e.g. deposit into a paused plan).
	ErrStateConflict = errors.New("operation not valid in current state")

	// ErrPendingTransactionExists is the single-pending-per-lane guard:
	// at most one pending entry of a given type may exist per plan.
	ErrPendingTransactionExists = errors.New("a pending transaction already exists for this plan")

	// ErrExceedsTarget is returned when a deposit would push the balance
	// past the plan's target amount.
	ErrExceedsTarget = errors.New("deposit exceeds plan target")

	// ErrInsufficientBalance is returned when a withdrawal asks for more
	// than the plan currently holds.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNetAmountTooLow is returned when charges/penalties consume the
	// whole requested amount.
	ErrNetAmountTooLow = errors.New("net amount after deductions is not positive")

	// ErrLimitExceeded is returned on the active-plan cap.
	ErrLimitExceeded = errors.New("active plan limit exceeded")

	// ErrPropertyUnavailable is returned when the linked property cannot
	// back a new plan.
	ErrPropertyUnavailable = errors.New("property is not available")

	// ErrDuplicatePlan is returned when the user already has an active plan
	// for the same property.
	ErrDuplicatePlan = errors.New("an active plan already exists for this property")

	// ErrPlanNotFound / ErrEntryNotFound indicate missing rows.
	ErrPlanNotFound  = errors.New("plan not found")
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrNotOwner is returned when a caller operates on someone else's
	// plan or entry.
	ErrNotOwner = errors.New("caller does not own this resource")

	// ErrGatewayUnavailable means the gateway could not be reached or timed
	// out: the payment outcome is UNKNOWN. The entry stays pending and the
	// call may be retried; it must never be treated as a decline.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayDeclined means the gateway definitively reported the
	// payment as unsuccessful. Terminal.
	ErrGatewayDeclined = errors.New("payment declined by gateway")
)

// =============================================================================
// STRUCTURED ERRORS - Carry boundary values for user feedback
// =============================================================================

// ValidationError describes a single malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ExceedsTargetError reports the maximum deposit the plan can still accept.
type ExceedsTargetError struct {
	PlanID        PlanID
	Requested     Money
	MaxAcceptable Money
}

func (e *ExceedsTargetError) Error() string {
	return fmt.Sprintf("deposit of %s exceeds target: at most %s can still be deposited",
		e.Requested, e.MaxAcceptable)
}

func (e *ExceedsTargetError) Unwrap() error { return ErrExceedsTarget }

// InsufficientBalanceError reports the available balance.
type InsufficientBalanceError struct {
	PlanID    PlanID
	Requested Money
	Available Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %s, available %s",
		e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// NetAmountTooLowError reports the deduction that swallowed the request.
type NetAmountTooLowError struct {
	PlanID    PlanID
	Requested Money
	Penalty   Money
	Net       Money
}

func (e *NetAmountTooLowError) Error() string {
	return fmt.Sprintf("net amount %s not positive: requested %s, penalty %s",
		e.Net, e.Requested, e.Penalty)
}

func (e *NetAmountTooLowError) Unwrap() error { return ErrNetAmountTooLow }

// StateConflictError names the status that blocked the operation.
type StateConflictError struct {
	PlanID    PlanID
	Operation string
	Status    PlanStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s plan %s in status %q", e.Operation, e.PlanID, e.Status)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// GatewayError wraps a transport-level gateway failure. The payment outcome
// is unknown; callers should surface this as retryable.
type GatewayError struct {
	Reference string
	Err       error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway call for %s failed: %v", e.Reference, e.Err)
}

func (e *GatewayError) Unwrap() error { return ErrGatewayUnavailable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule rejection (HTTP 4xx territory).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStateConflict) ||
		errors.Is(err, ErrPendingTransactionExists) ||
		errors.Is(err, ErrExceedsTarget) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNetAmountTooLow) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrPropertyUnavailable) ||
		errors.Is(err, ErrDuplicatePlan) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrGatewayDeclined)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPlanNotFound) || errors.Is(err, ErrEntryNotFound)
}
