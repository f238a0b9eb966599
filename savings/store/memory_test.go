package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/savings-engine/savings"
	"github.com/hearth/savings-engine/savings/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func testPlan(user savings.UserID) *savings.SavingsPlan {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	plan, err := savings.NewSavingsPlan(savings.NewPlanInput{
		UserID:           user,
		Name:             "test plan",
		TargetAmount:     savings.NewMoneyFromInt(100_000),
		DueDate:          now.AddDate(1, 0, 0),
		ExternalProperty: "somewhere",
	}, savings.Rates{
		DepositChargePercent:          savings.NewPercent(2),
		EarlyWithdrawalPenaltyPercent: savings.NewPercent(5),
	}, now)
	if err != nil {
		panic(err)
	}
	return plan
}

func pendingDeposit(plan *savings.SavingsPlan, amount int64) *savings.LedgerEntry {
	m := savings.NewMoneyFromInt(amount)
	return savings.NewDepositEntry(plan, m,
		savings.DepositBreakdown(m, plan.DepositChargePercent), plan.CreatedAt)
}

// =============================================================================
// SINGLE PENDING PER LANE
// =============================================================================

func TestMemory_InsertEntry_SecondPendingDepositRejected(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))

	require.NoError(t, m.InsertEntry(ctx, pendingDeposit(plan, 5_000)))

	err := m.InsertEntry(ctx, pendingDeposit(plan, 6_000))
	assert.ErrorIs(t, err, savings.ErrPendingTransactionExists)
}

func TestMemory_InsertEntry_DifferentLanesCoexist(t *testing.T) {
	// GIVEN: A pending deposit on a plan
	// WHEN: Inserting a pending WITHDRAWAL on the same plan
	// THEN: Allowed; the lanes are independent

	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))
	require.NoError(t, m.InsertEntry(ctx, pendingDeposit(plan, 5_000)))

	amount := savings.NewMoneyFromInt(1_000)
	withdrawal := savings.NewWithdrawalEntry(plan, amount,
		savings.Breakdown{Amount: amount, Deduction: savings.ZeroMoney(), Net: amount},
		false, "", plan.CreatedAt)

	assert.NoError(t, m.InsertEntry(ctx, withdrawal))
}

func TestMemory_InsertEntry_SettledEntryFreesLane(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))

	first := pendingDeposit(plan, 5_000)
	require.NoError(t, m.InsertEntry(ctx, first))
	require.NoError(t, first.Fail(nil, "declined", time.Now()))
	require.NoError(t, m.UpdateEntry(ctx, first))

	assert.NoError(t, m.InsertEntry(ctx, pendingDeposit(plan, 5_000)))
}

// =============================================================================
// LOOKUPS
// =============================================================================

func TestMemory_GetEntryByReference(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))
	entry := pendingDeposit(plan, 5_000)
	require.NoError(t, m.InsertEntry(ctx, entry))

	got, err := m.GetEntryByReference(ctx, entry.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)

	_, err = m.GetEntryByReference(ctx, "sav-unknown")
	assert.ErrorIs(t, err, savings.ErrEntryNotFound)
}

func TestMemory_ReturnsClones(t *testing.T) {
	// GIVEN: A stored plan
	// WHEN: Mutating the struct a read returned
	// THEN: The stored copy is unaffected

	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))

	read, err := m.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	read.CurrentAmount = savings.NewMoneyFromInt(999_999)
	read.Status = savings.PlanCancelled

	fresh, err := m.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, fresh.CurrentAmount.IsZero())
	assert.Equal(t, savings.PlanActive, fresh.Status)
}

func TestMemory_ListStalePendingDeposits(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))

	entry := pendingDeposit(plan, 5_000)
	require.NoError(t, m.InsertEntry(ctx, entry))

	stale, err := m.ListStalePendingDeposits(ctx, entry.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	none, err := m.ListStalePendingDeposits(ctx, entry.CreatedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestMemory_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction that updates a plan and an entry, then fails
	// WHEN: WithTx returns the error
	// THEN: Neither write is visible afterwards

	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))
	entry := pendingDeposit(plan, 5_000)
	require.NoError(t, m.InsertEntry(ctx, entry))

	boom := errors.New("boom")
	err := m.WithTx(ctx, func(tx savings.Store) error {
		txPlan, err := tx.GetPlan(ctx, plan.ID)
		require.NoError(t, err)
		require.NoError(t, txPlan.Credit(savings.NewMoneyFromInt(4_900), txPlan.CreatedAt))
		require.NoError(t, tx.UpdatePlan(ctx, txPlan))

		txEntry, err := tx.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		require.NoError(t, txEntry.Complete(nil, txEntry.CreatedAt))
		require.NoError(t, tx.UpdateEntry(ctx, txEntry))

		return boom
	})
	require.ErrorIs(t, err, boom)

	freshPlan, err := m.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, freshPlan.CurrentAmount.IsZero(), "plan update must roll back")

	freshEntry, err := m.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, savings.EntryPending, freshEntry.Status, "entry update must roll back")
}

func TestMemory_WithTx_CommitOnSuccess(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	plan := testPlan("user-1")
	require.NoError(t, m.InsertPlan(ctx, plan))

	err := m.WithTx(ctx, func(tx savings.Store) error {
		txPlan, err := tx.GetPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		if err := txPlan.Credit(savings.NewMoneyFromInt(1_000), txPlan.CreatedAt); err != nil {
			return err
		}
		return tx.UpdatePlan(ctx, txPlan)
	})
	require.NoError(t, err)

	fresh, err := m.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, fresh.CurrentAmount.Equal(savings.NewMoneyFromInt(1_000)))
}
