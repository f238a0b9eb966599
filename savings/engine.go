/*
engine.go - Savings ledger engine

PURPOSE:
  The Engine orchestrates every operation on plans and ledger entries and
  is the sole mutator of plan balances. It enforces the monetary invariants
  under asynchronous, idempotency-sensitive payment confirmation.

CONTROL FLOW:

  user request ──▶ Engine validates plan/entry invariants
                        │ (deposits)
                        ▼
               PaymentGateway.Initialize ──▶ redirect URL
                        │ (later: user return or gateway callback)
                        ▼
               VerifyDeposit ──▶ balance mutated exactly once
                        │
                        ▼
               notification / audit (fire-and-forget)

CONCURRENCY:
  Every balance-mutating path (deposit verification, withdrawal completion,
  cancel) runs under a per-plan mutex AND inside the store's transaction
  boundary. Operations on different plans are fully independent. The
  single-pending guard is a storage uniqueness constraint; the engine's
  advisory pre-check only improves the error before the constraint fires.

IDEMPOTENCY:
  Verifying an already-settled deposit replays the recorded outcome without
  touching the gateway or the balance. A gateway transport failure leaves
  the entry pending ("unknown outcome"), never failed.

SEE ALSO:
  - plan.go / entry.go: The entities whose transitions this file drives
  - reconcile/: Sweep that re-runs ResolveDeposit for stale pendings
*/
package savings

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	Store      Store
	Gateway    PaymentGateway
	Rates      RateProvider
	Properties PropertyDirectory
	Notifier   NotificationSink
	Auditor    AuditSink

	// Now is the engine's clock; tests pin it for due-date arithmetic.
	Now Clock

	mu    sync.Mutex
	locks map[PlanID]*sync.Mutex
}

func NewEngine(store Store, gateway PaymentGateway, rates RateProvider, props PropertyDirectory, notifier NotificationSink, auditor AuditSink) *Engine {
	return &Engine{
		Store:      store,
		Gateway:    gateway,
		Rates:      rates,
		Properties: props,
		Notifier:   notifier,
		Auditor:    auditor,
		Now:        SystemClock,
		locks:      make(map[PlanID]*sync.Mutex),
	}
}

// planLock returns the mutex serializing mutations for one plan.
func (e *Engine) planLock(id PlanID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lk, ok := e.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[id] = lk
	}
	return lk
}

// =============================================================================
// PLAN CREATION
// =============================================================================

// CreatePlan validates input and the user's plan portfolio, snapshots the
// current system rates onto the new plan, and persists it.
func (e *Engine) CreatePlan(ctx context.Context, in NewPlanInput) (*SavingsPlan, error) {
	now := e.Now()

	plan, err := NewSavingsPlan(in, e.Rates.CurrentRates(), now)
	if err != nil {
		return nil, err
	}

	count, err := e.Store.CountActivePlans(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("count active plans: %w", err)
	}
	if count >= MaxActivePlansPerUser {
		return nil, fmt.Errorf("user %s holds %d active plans: %w", in.UserID, count, ErrLimitExceeded)
	}

	if plan.PropertyID != nil {
		available, err := e.Properties.IsAvailable(ctx, *plan.PropertyID)
		if err != nil {
			return nil, fmt.Errorf("property lookup: %w", err)
		}
		if !available {
			return nil, fmt.Errorf("property %s: %w", *plan.PropertyID, ErrPropertyUnavailable)
		}
		exists, err := e.Store.HasActivePlanForProperty(ctx, in.UserID, *plan.PropertyID)
		if err != nil {
			return nil, fmt.Errorf("property plan lookup: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("property %s: %w", *plan.PropertyID, ErrDuplicatePlan)
		}
	}

	if err := e.Store.InsertPlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("insert plan: %w", err)
	}

	e.notify(ctx, plan.UserID, "Savings plan created",
		fmt.Sprintf("Your plan %q with a target of %s is now active.", plan.Name, plan.TargetAmount))
	e.audit(ctx, "plan.created", string(plan.ID), nil, plan.Status)

	return plan, nil
}

// =============================================================================
// DEPOSITS
// =============================================================================

// DepositIntent is the result of a deposit initiation: the pending entry
// plus the hosted-checkout redirect the user must complete.
type DepositIntent struct {
	Entry       *LedgerEntry
	RedirectURL string
	Reference   string
}

// InitiateDeposit creates a pending deposit entry and opens a checkout
// session with the gateway. No balance mutation happens here; the balance
// changes only at verification.
func (e *Engine) InitiateDeposit(ctx context.Context, userID UserID, planID PlanID, amount Money, payerEmail string) (*DepositIntent, error) {
	now := e.Now()

	if amount.LessThan(MinDepositAmount) || amount.GreaterThan(MaxDepositAmount) {
		return nil, &ValidationError{
			Field:   "amount",
			Message: "must be between " + MinDepositAmount.String() + " and " + MaxDepositAmount.String(),
		}
	}

	lk := e.planLock(planID)
	lk.Lock()
	defer lk.Unlock()

	plan, err := e.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, ErrNotOwner
	}
	if !plan.CanAcceptDeposit() {
		return nil, &StateConflictError{PlanID: plan.ID, Operation: "deposit into", Status: plan.Status}
	}
	if plan.CurrentAmount.Add(amount).GreaterThan(plan.TargetAmount) {
		return nil, &ExceedsTargetError{PlanID: plan.ID, Requested: amount, MaxAcceptable: plan.Remaining()}
	}

	// Advisory pre-check for a friendlier error; InsertEntry's uniqueness
	// constraint is the authoritative guard under concurrency.
	if pending, err := e.Store.HasPendingEntry(ctx, planID, EntryDeposit); err != nil {
		return nil, err
	} else if pending {
		return nil, ErrPendingTransactionExists
	}

	entry := NewDepositEntry(plan, amount, DepositBreakdown(amount, plan.DepositChargePercent), now)
	if err := e.Store.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}

	session, err := e.Gateway.Initialize(ctx, PaymentInit{
		AmountMinor: amount.MinorUnits(),
		PayerEmail:  payerEmail,
		Reference:   entry.PaymentReference,
		Metadata: map[string]string{
			"plan_id":  string(plan.ID),
			"entry_id": string(entry.ID),
		},
	})
	if err != nil {
		// The checkout never opened, so the lane must not stay blocked.
		if ferr := entry.Fail(nil, "gateway initialization failed", now); ferr == nil {
			if uerr := e.Store.UpdateEntry(ctx, entry); uerr != nil {
				log.Printf("[engine] release failed deposit entry %s: %v", entry.ID, uerr)
			}
		}
		return nil, &GatewayError{Reference: entry.PaymentReference, Err: err}
	}

	e.audit(ctx, "deposit.initiated", string(entry.ID), nil, entry.Status)

	return &DepositIntent{
		Entry:       entry,
		RedirectURL: session.RedirectURL,
		Reference:   entry.PaymentReference,
	}, nil
}

// DepositOutcome reports the settled state of a deposit after verification.
type DepositOutcome struct {
	Entry *LedgerEntry
	Plan  *SavingsPlan

	// Credited is true if THIS call applied the balance mutation. Replays
	// of an already-settled deposit return Credited=false.
	Credited bool
}

// VerifyDeposit is the user-facing verification entry point: it checks
// ownership, then runs the idempotent resolve path.
func (e *Engine) VerifyDeposit(ctx context.Context, userID UserID, reference string) (*DepositOutcome, error) {
	entry, err := e.Store.GetEntryByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, ErrNotOwner
	}
	return e.ResolveDeposit(ctx, reference)
}

// ResolveDeposit settles a deposit by reference. Idempotent:
//   - already completed: replay the stored outcome, no second credit
//   - already failed: report the decline without re-querying the gateway
//   - pending: ask the gateway; on success, mark completed and credit the
//     plan in ONE store transaction; on decline, mark failed; on transport
//     failure, leave pending and return a retryable error
//
// Also the entry point for the reconciliation sweep.
func (e *Engine) ResolveDeposit(ctx context.Context, reference string) (*DepositOutcome, error) {
	probe, err := e.Store.GetEntryByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if probe.Type != EntryDeposit {
		return nil, fmt.Errorf("reference %s is not a deposit: %w", reference, ErrStateConflict)
	}

	lk := e.planLock(probe.PlanID)
	lk.Lock()
	defer lk.Unlock()

	// Re-read under the lock: a racing verification may have settled it.
	entry, err := e.Store.GetEntryByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	plan, err := e.Store.GetPlan(ctx, entry.PlanID)
	if err != nil {
		return nil, err
	}

	switch entry.Status {
	case EntryCompleted:
		return &DepositOutcome{Entry: entry, Plan: plan, Credited: false}, nil
	case EntryFailed:
		return &DepositOutcome{Entry: entry, Plan: plan, Credited: false}, ErrGatewayDeclined
	}

	result, err := e.Gateway.Verify(ctx, reference)
	if err != nil {
		// Unknown outcome: the gateway may still complete the charge.
		// The entry stays pending; callers retry or the sweep picks it up.
		return nil, &GatewayError{Reference: reference, Err: err}
	}

	now := e.Now()

	if !result.Success {
		if err := entry.Fail(result.Raw, "gateway reported "+result.Status, now); err != nil {
			return nil, err
		}
		if err := e.Store.UpdateEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("record failed deposit: %w", err)
		}
		e.notify(ctx, entry.UserID, "Deposit failed",
			fmt.Sprintf("Your deposit of %s could not be confirmed.", entry.Amount))
		e.audit(ctx, "deposit.failed", string(entry.ID), EntryPending, entry.Status)
		return &DepositOutcome{Entry: entry, Plan: plan, Credited: false}, ErrGatewayDeclined
	}

	// Mark completed and credit the plan as one unit. A crash between the
	// two halves would break the reconciliation invariant.
	credited := false
	err = e.Store.WithTx(ctx, func(tx Store) error {
		txEntry, err := tx.GetEntryByReference(ctx, reference)
		if err != nil {
			return err
		}
		txPlan, err := tx.GetPlan(ctx, txEntry.PlanID)
		if err != nil {
			return err
		}
		if txEntry.Status != EntryPending {
			// Settled by another writer between our read and this tx.
			entry, plan = txEntry, txPlan
			return nil
		}
		if err := txEntry.Complete(result.Raw, now); err != nil {
			return err
		}
		if err := txPlan.Credit(txEntry.NetAmount, now); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, txEntry); err != nil {
			return err
		}
		if err := tx.UpdatePlan(ctx, txPlan); err != nil {
			return err
		}
		entry, plan = txEntry, txPlan
		credited = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settle deposit %s: %w", reference, err)
	}
	if !credited {
		return &DepositOutcome{Entry: entry, Plan: plan, Credited: false}, nil
	}

	e.notify(ctx, entry.UserID, "Deposit confirmed",
		fmt.Sprintf("%s has been added to %q.", entry.NetAmount, plan.Name))
	e.audit(ctx, "deposit.completed", string(entry.ID), EntryPending, entry.Status)
	if plan.Status == PlanCompleted {
		e.notify(ctx, plan.UserID, "Savings goal reached",
			fmt.Sprintf("Congratulations, %q reached its target of %s.", plan.Name, plan.TargetAmount))
		e.audit(ctx, "plan.completed", string(plan.ID), PlanActive, plan.Status)
	}

	return &DepositOutcome{Entry: entry, Plan: plan, Credited: true}, nil
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// RequestWithdrawal creates a pending withdrawal entry with its penalty
// breakdown. Completion is NOT automatic: an administrative review calls
// CompleteWithdrawal later.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID UserID, planID PlanID, amount Money, notes string) (*LedgerEntry, error) {
	now := e.Now()

	if amount.LessThan(MinWithdrawalAmount) {
		return nil, &ValidationError{
			Field:   "amount",
			Message: "must be at least " + MinWithdrawalAmount.String(),
		}
	}

	lk := e.planLock(planID)
	lk.Lock()
	defer lk.Unlock()

	plan, err := e.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, ErrNotOwner
	}
	if !plan.CanAcceptWithdrawal() {
		return nil, &StateConflictError{PlanID: plan.ID, Operation: "withdraw from", Status: plan.Status}
	}
	if amount.GreaterThan(plan.CurrentAmount) {
		return nil, &InsufficientBalanceError{PlanID: plan.ID, Requested: amount, Available: plan.CurrentAmount}
	}

	if pending, err := e.Store.HasPendingEntry(ctx, planID, EntryWithdrawal); err != nil {
		return nil, err
	} else if pending {
		return nil, ErrPendingTransactionExists
	}

	breakdown, early := WithdrawalBreakdown(plan, amount, now)
	if !breakdown.Net.IsPositive() {
		return nil, &NetAmountTooLowError{
			PlanID:    plan.ID,
			Requested: amount,
			Penalty:   breakdown.Deduction,
			Net:       breakdown.Net,
		}
	}

	entry := NewWithdrawalEntry(plan, amount, breakdown, early, notes, now)
	if err := e.Store.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}

	e.notify(ctx, userID, "Withdrawal requested",
		fmt.Sprintf("Your withdrawal of %s from %q is pending review.", amount, plan.Name))
	e.audit(ctx, "withdrawal.requested", string(entry.ID), nil, entry.Status)

	return entry, nil
}

// WithdrawalOutcome for CompleteWithdrawal.
type WithdrawalOutcome string

const (
	WithdrawalApproved WithdrawalOutcome = "approved"
	WithdrawalRejected WithdrawalOutcome = "rejected"
)

// CompleteWithdrawal is the administrative completion entry point. Approval
// marks the entry completed and debits the plan's balance in one store
// transaction; draining the balance to zero cancels the plan. Rejection
// marks the entry failed and leaves the balance untouched.
func (e *Engine) CompleteWithdrawal(ctx context.Context, entryID EntryID, outcome WithdrawalOutcome, notes string) (*LedgerEntry, error) {
	probe, err := e.Store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if probe.Type != EntryWithdrawal {
		return nil, fmt.Errorf("entry %s is not a withdrawal: %w", entryID, ErrStateConflict)
	}

	lk := e.planLock(probe.PlanID)
	lk.Lock()
	defer lk.Unlock()

	now := e.Now()

	entry, err := e.Store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != EntryPending {
		return nil, fmt.Errorf("withdrawal %s already %s: %w", entryID, entry.Status, ErrStateConflict)
	}

	if outcome == WithdrawalRejected {
		if err := entry.Fail(nil, notes, now); err != nil {
			return nil, err
		}
		if err := e.Store.UpdateEntry(ctx, entry); err != nil {
			return nil, err
		}
		e.notify(ctx, entry.UserID, "Withdrawal rejected",
			fmt.Sprintf("Your withdrawal of %s was not approved.", entry.Amount))
		e.audit(ctx, "withdrawal.rejected", string(entry.ID), EntryPending, entry.Status)
		return entry, nil
	}

	var plan *SavingsPlan
	err = e.Store.WithTx(ctx, func(tx Store) error {
		txEntry, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if txEntry.Status != EntryPending {
			return fmt.Errorf("withdrawal %s already %s: %w", entryID, txEntry.Status, ErrStateConflict)
		}
		txPlan, err := tx.GetPlan(ctx, txEntry.PlanID)
		if err != nil {
			return err
		}
		if err := txEntry.Complete(nil, now); err != nil {
			return err
		}
		if err := txPlan.Debit(txEntry.NetAmount, now); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, txEntry); err != nil {
			return err
		}
		if err := tx.UpdatePlan(ctx, txPlan); err != nil {
			return err
		}
		entry, plan = txEntry, txPlan
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settle withdrawal %s: %w", entryID, err)
	}

	e.notify(ctx, entry.UserID, "Withdrawal completed",
		fmt.Sprintf("%s has been paid out from %q.", entry.NetAmount, plan.Name))
	e.audit(ctx, "withdrawal.completed", string(entry.ID), EntryPending, entry.Status)
	if plan.Status == PlanCancelled {
		e.audit(ctx, "plan.cancelled", string(plan.ID), nil, plan.Status)
	}

	return entry, nil
}

// =============================================================================
// PAUSE / RESUME / CANCEL
// =============================================================================

func (e *Engine) PausePlan(ctx context.Context, userID UserID, planID PlanID, reason string, resumeDate *time.Time) (*SavingsPlan, error) {
	return e.transition(ctx, userID, planID, "plan.paused", func(plan *SavingsPlan, now time.Time) error {
		return plan.Pause(reason, resumeDate, now)
	})
}

func (e *Engine) ResumePlan(ctx context.Context, userID UserID, planID PlanID) (*SavingsPlan, error) {
	return e.transition(ctx, userID, planID, "plan.resumed", func(plan *SavingsPlan, now time.Time) error {
		return plan.Resume(now)
	})
}

// CancelPlan cancels an active, zero-balance plan with no pending entries
// of either type.
func (e *Engine) CancelPlan(ctx context.Context, userID UserID, planID PlanID) (*SavingsPlan, error) {
	return e.transition(ctx, userID, planID, "plan.cancelled", func(plan *SavingsPlan, now time.Time) error {
		for _, lane := range []EntryType{EntryDeposit, EntryWithdrawal} {
			pending, err := e.Store.HasPendingEntry(ctx, planID, lane)
			if err != nil {
				return err
			}
			if pending {
				return ErrPendingTransactionExists
			}
		}
		return plan.Cancel(now)
	})
}

// transition runs a guarded status change under the plan lock and emits
// the observer calls.
func (e *Engine) transition(ctx context.Context, userID UserID, planID PlanID, action string, fn func(*SavingsPlan, time.Time) error) (*SavingsPlan, error) {
	lk := e.planLock(planID)
	lk.Lock()
	defer lk.Unlock()

	plan, err := e.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, ErrNotOwner
	}

	before := plan.Status
	if err := fn(plan, e.Now()); err != nil {
		return nil, err
	}
	if err := e.Store.UpdatePlan(ctx, plan); err != nil {
		return nil, err
	}

	e.notify(ctx, userID, "Plan updated",
		fmt.Sprintf("Plan %q is now %s.", plan.Name, plan.Status))
	e.audit(ctx, action, string(plan.ID), before, plan.Status)

	return plan, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (e *Engine) GetPlan(ctx context.Context, userID UserID, planID PlanID) (*SavingsPlan, error) {
	plan, err := e.Store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.UserID != userID {
		return nil, ErrNotOwner
	}
	return plan, nil
}

func (e *Engine) ListPlans(ctx context.Context, userID UserID) ([]*SavingsPlan, error) {
	return e.Store.ListPlansByUser(ctx, userID)
}

func (e *Engine) ListEntries(ctx context.Context, userID UserID, planID PlanID) ([]*LedgerEntry, error) {
	if _, err := e.GetPlan(ctx, userID, planID); err != nil {
		return nil, err
	}
	return e.Store.ListEntriesByPlan(ctx, planID)
}

// PlanSummary ties the plan's balance back to its completed entries.
type PlanSummary struct {
	Plan              *SavingsPlan
	TotalDeposited    Money // Σ completed deposit net amounts
	TotalWithdrawn    Money // Σ completed withdrawal net amounts
	TotalCharges      Money
	TotalPenalties    Money
	PendingDeposit    *LedgerEntry
	PendingWithdrawal *LedgerEntry
	Reconciled        bool // CurrentAmount == TotalDeposited − TotalWithdrawn
}

// Summarize recomputes the reconciliation totals from the ledger. The
// Reconciled flag must always be true; it exists so operators can detect a
// corrupted balance instead of trusting it.
func (e *Engine) Summarize(ctx context.Context, userID UserID, planID PlanID) (*PlanSummary, error) {
	plan, err := e.GetPlan(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	entries, err := e.Store.ListEntriesByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	s := &PlanSummary{
		Plan:           plan,
		TotalDeposited: ZeroMoney(),
		TotalWithdrawn: ZeroMoney(),
		TotalCharges:   ZeroMoney(),
		TotalPenalties: ZeroMoney(),
	}
	for _, entry := range entries {
		switch {
		case entry.Type == EntryDeposit && entry.Status == EntryCompleted:
			s.TotalDeposited = s.TotalDeposited.Add(entry.NetAmount)
			s.TotalCharges = s.TotalCharges.Add(entry.ChargeAmount)
		case entry.Type == EntryWithdrawal && entry.Status == EntryCompleted:
			s.TotalWithdrawn = s.TotalWithdrawn.Add(entry.NetAmount)
			s.TotalPenalties = s.TotalPenalties.Add(entry.PenaltyAmount)
		case entry.Type == EntryDeposit && entry.Status == EntryPending:
			s.PendingDeposit = entry
		case entry.Type == EntryWithdrawal && entry.Status == EntryPending:
			s.PendingWithdrawal = entry
		}
	}
	s.Reconciled = plan.CurrentAmount.Equal(s.TotalDeposited.Sub(s.TotalWithdrawn))
	return s, nil
}

// =============================================================================
// OBSERVERS - Failures are logged, never propagated
// =============================================================================

func (e *Engine) notify(ctx context.Context, userID UserID, title, message string) {
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Notify(ctx, userID, title, message, SeverityInfo); err != nil {
		log.Printf("[engine] notification dropped for user %s: %v", userID, err)
	}
}

func (e *Engine) audit(ctx context.Context, action, subject string, before, after any) {
	if e.Auditor == nil {
		return
	}
	if err := e.Auditor.Record(ctx, action, subject, before, after); err != nil {
		log.Printf("[engine] audit record dropped for %s %s: %v", action, subject, err)
	}
}
