package savings_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/savings-engine/savings"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func money(v int64) savings.Money { return savings.NewMoneyFromInt(v) }

func pct(v float64) savings.Percent { return savings.NewPercent(v) }

func testRates() savings.Rates {
	return savings.Rates{
		DepositChargePercent:          pct(2),
		EarlyWithdrawalPenaltyPercent: pct(5),
	}
}

// newActivePlan builds a plan with target 100,000 due one year from now.
func newActivePlan(t *testing.T, now time.Time) *savings.SavingsPlan {
	t.Helper()
	plan, err := savings.NewSavingsPlan(savings.NewPlanInput{
		UserID:           "user-1",
		Name:             "Lekki 2BR",
		TargetAmount:     money(100_000),
		DueDate:          now.AddDate(1, 0, 0),
		ExternalProperty: "2BR flat, Lekki Phase 1",
	}, testRates(), now)
	require.NoError(t, err)
	return plan
}

// =============================================================================
// DEPOSIT CHARGE
// =============================================================================

func TestDepositBreakdown_TwoPercentCharge(t *testing.T) {
	// GIVEN: A 40,000 deposit with a 2% charge
	// WHEN: Computing the breakdown
	// THEN: Charge is 800 and net is 39,200

	b := savings.DepositBreakdown(money(40_000), pct(2))

	assert.True(t, b.Amount.Equal(money(40_000)))
	assert.True(t, b.Deduction.Equal(money(800)), "charge should be 800, got %s", b.Deduction)
	assert.True(t, b.Net.Equal(money(39_200)), "net should be 39200, got %s", b.Net)
}

func TestDepositBreakdown_ZeroRate(t *testing.T) {
	b := savings.DepositBreakdown(money(40_000), pct(0))

	assert.True(t, b.Deduction.IsZero())
	assert.True(t, b.Net.Equal(money(40_000)))
}

func TestDepositBreakdown_FractionalRate_NoFloatDrift(t *testing.T) {
	// GIVEN: A rate with a decimal fraction
	// WHEN: Applied to an amount that breaks float arithmetic
	// THEN: The result is exact

	b := savings.DepositBreakdown(money(1_000), savings.MustParsePercent("2.5"))

	assert.Equal(t, "25", b.Deduction.String())
	assert.Equal(t, "975", b.Net.String())
}

// =============================================================================
// EARLY WITHDRAWAL DETECTION
// =============================================================================

func TestIsEarlyWithdrawal_BeforeDueDate(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	plan := newActivePlan(t, now)

	assert.True(t, savings.IsEarlyWithdrawal(plan, now))
}

func TestIsEarlyWithdrawal_OnOrAfterDueDate(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	plan := newActivePlan(t, now)

	assert.False(t, savings.IsEarlyWithdrawal(plan, plan.DueDate))
	assert.False(t, savings.IsEarlyWithdrawal(plan, plan.DueDate.AddDate(0, 1, 0)))
}

func TestIsEarlyWithdrawal_CompletedPlan_NeverEarly(t *testing.T) {
	// GIVEN: A plan that reached its goal before the due date
	// WHEN: Withdrawing while still before the due date
	// THEN: No penalty applies

	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	plan := newActivePlan(t, now)
	require.NoError(t, plan.Credit(money(100_000), now))
	require.Equal(t, savings.PlanCompleted, plan.Status)

	assert.False(t, savings.IsEarlyWithdrawal(plan, now))
}

// =============================================================================
// WITHDRAWAL PENALTY
// =============================================================================

func TestWithdrawalBreakdown_PenaltyOnWholeBalance(t *testing.T) {
	// GIVEN: A plan holding 39,200 with a 5% early-withdrawal penalty
	// WHEN: Withdrawing 10,000 before the due date
	// THEN: The penalty is 5% of the BALANCE (1,960), not of the request,
	//       and the net payout is 8,040

	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	plan := newActivePlan(t, now)
	require.NoError(t, plan.Credit(money(39_200), now))

	b, early := savings.WithdrawalBreakdown(plan, money(10_000), now)

	assert.True(t, early)
	assert.True(t, b.Deduction.Equal(money(1_960)), "penalty should be 1960, got %s", b.Deduction)
	assert.True(t, b.Net.Equal(money(8_040)), "net should be 8040, got %s", b.Net)
}

func TestWithdrawalBreakdown_AfterDueDate_NoPenalty(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	plan := newActivePlan(t, now)
	require.NoError(t, plan.Credit(money(39_200), now))

	b, early := savings.WithdrawalBreakdown(plan, money(10_000), plan.DueDate)

	assert.False(t, early)
	assert.True(t, b.Deduction.IsZero())
	assert.True(t, b.Net.Equal(money(10_000)))
}

func TestWithdrawalBreakdown_PenaltyCanSwallowRequest(t *testing.T) {
	// GIVEN: A large balance and a small withdrawal request
	// WHEN: The balance-proportional penalty exceeds the request
	// THEN: The net is negative; the engine rejects such requests upstream

	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	plan := newActivePlan(t, now)
	require.NoError(t, plan.Credit(money(80_000), now))

	b, early := savings.WithdrawalBreakdown(plan, money(1_000), now)

	assert.True(t, early)
	assert.True(t, b.Deduction.Equal(money(4_000)))
	assert.True(t, b.Net.IsNegative())
}
