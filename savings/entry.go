/*
entry.go - LedgerEntry lifecycle

PURPOSE:
  A LedgerEntry is one deposit or withdrawal attempt against a plan: the
  unit of the append-only transaction log. Entries are created pending,
  reach exactly one terminal state (completed or failed), and are immutable
  afterwards.

LIFECYCLE:

  pending ──▶ completed   (balance mutated exactly once, here)
  pending ──▶ failed      (balance untouched)

INVARIANTS:
  - at most one pending entry per (plan, type) lane; enforced by the store's
    uniqueness constraint, not by an application-level read
  - NetAmount = Amount − ChargeAmount (deposits) or Amount − PenaltyAmount
    (withdrawals)
  - a completed entry's NetAmount is reflected in the plan balance at the
    moment of the pending→completed transition, never twice

SEE ALSO:
  - engine.go: Drives the transitions inside store transactions
  - charges.go: Computes the charge/penalty breakdown
*/
package savings

import (
	"encoding/json"
	"time"
)

// =============================================================================
// ENTRY TYPE AND STATUS
// =============================================================================

type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

func (s EntryStatus) Terminal() bool { return s == EntryCompleted || s == EntryFailed }

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type LedgerEntry struct {
	ID     EntryID
	PlanID PlanID
	UserID UserID

	Type   EntryType
	Amount Money

	// Breakdown: exactly one of the two is non-zero depending on Type.
	ChargeAmount  Money
	PenaltyAmount Money
	NetAmount     Money

	Status          EntryStatus
	EarlyWithdrawal bool

	// PaymentReference is the globally unique gateway reference (deposits).
	PaymentReference string

	// GatewayPayload is the raw gateway response attached at completion,
	// kept verbatim for audit and dispute handling.
	GatewayPayload json.RawMessage

	Notes string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewDepositEntry creates a pending deposit with its charge breakdown and a
// fresh payment reference.
func NewDepositEntry(plan *SavingsPlan, amount Money, b Breakdown, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:               NewEntryID(),
		PlanID:           plan.ID,
		UserID:           plan.UserID,
		Type:             EntryDeposit,
		Amount:           amount,
		ChargeAmount:     b.Deduction,
		NetAmount:        b.Net,
		Status:           EntryPending,
		PaymentReference: NewPaymentReference(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewWithdrawalEntry creates a pending withdrawal with its penalty breakdown.
func NewWithdrawalEntry(plan *SavingsPlan, amount Money, b Breakdown, early bool, notes string, now time.Time) *LedgerEntry {
	return &LedgerEntry{
		ID:              NewEntryID(),
		PlanID:          plan.ID,
		UserID:          plan.UserID,
		Type:            EntryWithdrawal,
		Amount:          amount,
		PenaltyAmount:   b.Deduction,
		NetAmount:       b.Net,
		Status:          EntryPending,
		EarlyWithdrawal: early,
		Notes:           notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Complete marks a pending entry completed, attaching the raw gateway
// payload (may be nil for withdrawals). The caller must mutate the plan
// balance in the same store transaction.
func (e *LedgerEntry) Complete(payload json.RawMessage, now time.Time) error {
	if e.Status != EntryPending {
		return ErrStateConflict
	}
	e.Status = EntryCompleted
	e.GatewayPayload = payload
	e.UpdatedAt = now
	return nil
}

// Fail marks a pending entry failed. The balance is untouched.
func (e *LedgerEntry) Fail(payload json.RawMessage, reason string, now time.Time) error {
	if e.Status != EntryPending {
		return ErrStateConflict
	}
	e.Status = EntryFailed
	e.GatewayPayload = payload
	if reason != "" {
		if e.Notes != "" {
			e.Notes += "; "
		}
		e.Notes += reason
	}
	e.UpdatedAt = now
	return nil
}
