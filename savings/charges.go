/*
charges.go - Charge and penalty arithmetic

PURPOSE:
  The two deduction rules of the savings product, isolated so the numbers
  are pinned by tests in one place:

  - Deposit charge: a percentage of the deposited amount.
      charge = amount × chargeRate
      net    = amount − charge

  - Early-withdrawal penalty: a percentage of the plan's ENTIRE current
    balance, regardless of how much is being withdrawn. A withdrawal on or
    after the due date, or from a completed plan, carries no penalty.
      penalty = currentBalance × penaltyRate   (early only)
      net     = amount − penalty
*/
package savings

import "time"

// Breakdown is the deduction arithmetic for one ledger entry.
type Breakdown struct {
	Amount    Money
	Deduction Money // charge (deposits) or penalty (withdrawals)
	Net       Money
}

// DepositBreakdown computes the charge taken from a deposit.
func DepositBreakdown(amount Money, chargeRate Percent) Breakdown {
	charge := chargeRate.ApplyTo(amount)
	return Breakdown{
		Amount:    amount,
		Deduction: charge,
		Net:       amount.Sub(charge),
	}
}

// IsEarlyWithdrawal reports whether a withdrawal requested now from the
// given plan is early: before the due date and before the goal is reached.
func IsEarlyWithdrawal(plan *SavingsPlan, now time.Time) bool {
	if plan.Status == PlanCompleted {
		return false
	}
	return now.Before(plan.DueDate)
}

// WithdrawalBreakdown computes the penalty for a withdrawal. The penalty is
// applied against the plan's current balance, not the requested amount.
func WithdrawalBreakdown(plan *SavingsPlan, amount Money, now time.Time) (Breakdown, bool) {
	early := IsEarlyWithdrawal(plan, now)
	penalty := ZeroMoney()
	if early {
		penalty = plan.EarlyWithdrawalPenaltyPercent.ApplyTo(plan.CurrentAmount)
	}
	return Breakdown{
		Amount:    amount,
		Deduction: penalty,
		Net:       amount.Sub(penalty),
	}, early
}
