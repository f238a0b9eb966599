/*
plan.go - SavingsPlan aggregate and status machine

PURPOSE:
  A SavingsPlan is a user's savings goal: a target amount, a due date, and
  a running balance fed exclusively by completed ledger entries. The plan
  owns its status machine; the engine owns when transitions happen.

STATUS MACHINE:

  active ──pause──▶ paused
    ▲                  │
    └────resume────────┘

  active ──balance reaches target──▶ completed   (automatic, irreversible)
  active ──cancel (zero balance)──▶ cancelled    (terminal)
  active/completed ──withdrawal drains balance──▶ cancelled

INVARIANTS:
  - 0 ≤ CurrentAmount ≤ TargetAmount at all times
  - exactly one of PropertyID / ExternalProperty is set
  - charge and penalty rates are frozen at creation
  - plans are never deleted; cancellation is a status, not a row removal

SEE ALSO:
  - engine.go: The only caller of the mutating methods here
  - entry.go: The ledger entries that feed the balance
*/
package savings

import "time"

// =============================================================================
// PLAN STATUS
// =============================================================================

type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanPaused    PlanStatus = "paused"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
// Completed plans are terminal for status purposes but still allow
// withdrawals of the saved balance.
func (s PlanStatus) Terminal() bool {
	return s == PlanCompleted || s == PlanCancelled
}

// =============================================================================
// SAVINGS PLAN
// =============================================================================

type SavingsPlan struct {
	ID     PlanID
	UserID UserID

	// Exactly one of the two is set: a marketplace listing, or a free-text
	// description of a property outside the marketplace.
	PropertyID       *PropertyID
	ExternalProperty string

	Name          string
	TargetAmount  Money
	CurrentAmount Money
	DueDate       time.Time
	Status        PlanStatus

	// Rates snapshotted from system configuration at creation.
	DepositChargePercent          Percent
	EarlyWithdrawalPenaltyPercent Percent

	PauseReason string
	ResumeDate  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPlanInput carries the user-supplied fields for plan creation.
type NewPlanInput struct {
	UserID           UserID
	Name             string
	TargetAmount     Money
	DueDate          time.Time
	PropertyID       *PropertyID
	ExternalProperty string
}

// NewSavingsPlan validates input and constructs an active plan with a zero
// balance and the given rate snapshot. now is the creation instant.
func NewSavingsPlan(in NewPlanInput, rates Rates, now time.Time) (*SavingsPlan, error) {
	if in.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "required"}
	}
	if in.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if in.TargetAmount.LessThan(MinTargetAmount) || in.TargetAmount.GreaterThan(MaxTargetAmount) {
		return nil, &ValidationError{
			Field:   "target_amount",
			Message: "must be between " + MinTargetAmount.String() + " and " + MaxTargetAmount.String(),
		}
	}
	if !in.DueDate.After(now) {
		return nil, &ValidationError{Field: "due_date", Message: "must be in the future"}
	}
	if in.DueDate.After(now.AddDate(MaxDueDateYears, 0, 0)) {
		return nil, &ValidationError{Field: "due_date", Message: "must be within 5 years"}
	}
	hasProperty := in.PropertyID != nil && *in.PropertyID != ""
	hasExternal := in.ExternalProperty != ""
	if hasProperty == hasExternal {
		return nil, &ValidationError{
			Field:   "property",
			Message: "exactly one of property_id or external_property must be set",
		}
	}

	plan := &SavingsPlan{
		ID:                            NewPlanID(),
		UserID:                        in.UserID,
		Name:                          in.Name,
		TargetAmount:                  in.TargetAmount,
		CurrentAmount:                 ZeroMoney(),
		DueDate:                       in.DueDate,
		Status:                        PlanActive,
		DepositChargePercent:          rates.DepositChargePercent,
		EarlyWithdrawalPenaltyPercent: rates.EarlyWithdrawalPenaltyPercent,
		ExternalProperty:              in.ExternalProperty,
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
	if hasProperty {
		id := *in.PropertyID
		plan.PropertyID = &id
	}
	return plan, nil
}

// =============================================================================
// BALANCE MUTATION - Called only by the engine inside a store transaction
// =============================================================================

// Remaining returns how much can still be deposited before the target.
func (p *SavingsPlan) Remaining() Money {
	return p.TargetAmount.Sub(p.CurrentAmount)
}

// Credit adds a completed deposit's net amount to the balance. The ceiling
// is enforced at deposit initiation, so a credit past the target indicates
// a broken invariant and is rejected. Reaching the target flips the plan to
// completed in the same step.
func (p *SavingsPlan) Credit(net Money, now time.Time) error {
	if !net.IsPositive() {
		return &ValidationError{Field: "net_amount", Message: "must be positive"}
	}
	next := p.CurrentAmount.Add(net)
	if next.GreaterThan(p.TargetAmount) {
		return &ExceedsTargetError{PlanID: p.ID, Requested: net, MaxAcceptable: p.Remaining()}
	}
	p.CurrentAmount = next
	p.UpdatedAt = now
	if p.CurrentAmount.GreaterThanOrEqual(p.TargetAmount) && p.Status == PlanActive {
		p.Status = PlanCompleted
	}
	return nil
}

// Debit subtracts a completed withdrawal's net amount. Draining the balance
// to zero cancels the plan, mirroring the credit-triggers-completion rule.
func (p *SavingsPlan) Debit(net Money, now time.Time) error {
	if !net.IsPositive() {
		return &ValidationError{Field: "net_amount", Message: "must be positive"}
	}
	next := p.CurrentAmount.Sub(net)
	if next.IsNegative() {
		return &InsufficientBalanceError{PlanID: p.ID, Requested: net, Available: p.CurrentAmount}
	}
	p.CurrentAmount = next
	p.UpdatedAt = now
	if p.CurrentAmount.IsZero() {
		p.Status = PlanCancelled
	}
	return nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Pause suspends an active plan. A reason is required; an optional resume
// date records when the user intends to pick it back up.
func (p *SavingsPlan) Pause(reason string, resumeDate *time.Time, now time.Time) error {
	if p.Status != PlanActive {
		return &StateConflictError{PlanID: p.ID, Operation: "pause", Status: p.Status}
	}
	if reason == "" {
		return &ValidationError{Field: "reason", Message: "required"}
	}
	p.Status = PlanPaused
	p.PauseReason = reason
	p.ResumeDate = resumeDate
	p.UpdatedAt = now
	return nil
}

// Resume reactivates a paused plan and clears the pause bookkeeping.
func (p *SavingsPlan) Resume(now time.Time) error {
	if p.Status != PlanPaused {
		return &StateConflictError{PlanID: p.ID, Operation: "resume", Status: p.Status}
	}
	p.Status = PlanActive
	p.PauseReason = ""
	p.ResumeDate = nil
	p.UpdatedAt = now
	return nil
}

// Cancel terminates an active plan. Only allowed with a zero balance; the
// engine additionally requires no pending entries of either type.
func (p *SavingsPlan) Cancel(now time.Time) error {
	if p.Status != PlanActive {
		return &StateConflictError{PlanID: p.ID, Operation: "cancel", Status: p.Status}
	}
	if !p.CurrentAmount.IsZero() {
		return &StateConflictError{PlanID: p.ID, Operation: "cancel", Status: p.Status}
	}
	p.Status = PlanCancelled
	p.UpdatedAt = now
	return nil
}

// CanAcceptDeposit reports whether deposits are allowed in the current status.
func (p *SavingsPlan) CanAcceptDeposit() bool {
	return p.Status == PlanActive
}

// CanAcceptWithdrawal reports whether withdrawals are allowed in the current
// status. Completed plans allow withdrawing the saved balance.
func (p *SavingsPlan) CanAcceptWithdrawal() bool {
	return p.Status == PlanActive || p.Status == PlanCompleted
}
