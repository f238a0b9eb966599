package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/savings-engine/savings"
	"github.com/hearth/savings-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func insertTestPlan(t *testing.T, s *sqlite.Store, user savings.UserID, propertyID *savings.PropertyID) *savings.SavingsPlan {
	t.Helper()
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	external := ""
	if propertyID == nil {
		external = "2BR flat, Lekki Phase 1"
	}
	plan, err := savings.NewSavingsPlan(savings.NewPlanInput{
		UserID:           user,
		Name:             "Lekki 2BR",
		TargetAmount:     savings.NewMoneyFromInt(100_000),
		DueDate:          now.AddDate(1, 0, 0),
		PropertyID:       propertyID,
		ExternalProperty: external,
	}, savings.Rates{
		DepositChargePercent:          savings.NewPercent(2),
		EarlyWithdrawalPenaltyPercent: savings.NewPercent(5),
	}, now)
	require.NoError(t, err)
	require.NoError(t, s.InsertPlan(context.Background(), plan))
	return plan
}

func insertPendingDeposit(t *testing.T, s *sqlite.Store, plan *savings.SavingsPlan, amount int64) *savings.LedgerEntry {
	t.Helper()
	m := savings.NewMoneyFromInt(amount)
	entry := savings.NewDepositEntry(plan, m,
		savings.DepositBreakdown(m, plan.DepositChargePercent), plan.CreatedAt)
	require.NoError(t, s.InsertEntry(context.Background(), entry))
	return entry
}

// =============================================================================
// PLAN ROUND-TRIPS
// =============================================================================

func TestSQLite_PlanRoundTrip(t *testing.T) {
	// GIVEN: A plan with every nullable field populated
	// WHEN: Inserting and reading it back
	// THEN: All fields survive, money as exact decimals

	store := newTestStore(t)
	ctx := context.Background()
	pid := savings.PropertyID("prop-1")
	plan := insertTestPlan(t, store, "user-1", &pid)

	got, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)

	assert.Equal(t, plan.ID, got.ID)
	assert.Equal(t, plan.UserID, got.UserID)
	require.NotNil(t, got.PropertyID)
	assert.Equal(t, pid, *got.PropertyID)
	assert.True(t, got.TargetAmount.Equal(plan.TargetAmount))
	assert.True(t, got.CurrentAmount.IsZero())
	assert.Equal(t, savings.PlanActive, got.Status)
	assert.Equal(t, "2%", got.DepositChargePercent.String())
	assert.True(t, got.DueDate.Equal(plan.DueDate))
}

func TestSQLite_PlanMoneyPrecision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)

	// A balance with a decimal fraction survives the TEXT round trip
	require.NoError(t, plan.Credit(savings.MustParseMoney("39200.45"), plan.CreatedAt))
	require.NoError(t, store.UpdatePlan(ctx, plan))

	got, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, "39200.45", got.CurrentAmount.String())
}

func TestSQLite_GetPlan_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetPlan(context.Background(), "missing")
	assert.ErrorIs(t, err, savings.ErrPlanNotFound)
}

func TestSQLite_UpdatePlan_MissingRow(t *testing.T) {
	store := newTestStore(t)
	plan := insertTestPlan(t, store, "user-1", nil)
	plan.ID = "missing"

	err := store.UpdatePlan(context.Background(), plan)
	assert.ErrorIs(t, err, savings.ErrPlanNotFound)
}

func TestSQLite_ListAndCountByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insertTestPlan(t, store, "user-1", nil)
	insertTestPlan(t, store, "user-1", nil)
	insertTestPlan(t, store, "user-2", nil)

	plans, err := store.ListPlansByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, plans, 2)

	count, err := store.CountActivePlans(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLite_OneActivePlanPerProperty(t *testing.T) {
	// GIVEN: An active plan for (user-1, prop-1)
	// WHEN: Inserting a second active plan for the same pair
	// THEN: The unique index rejects it as a duplicate

	store := newTestStore(t)
	pid := savings.PropertyID("prop-1")
	insertTestPlan(t, store, "user-1", &pid)

	plan2, err := savings.NewSavingsPlan(savings.NewPlanInput{
		UserID:       "user-1",
		Name:         "same property again",
		TargetAmount: savings.NewMoneyFromInt(50_000),
		DueDate:      time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC),
		PropertyID:   &pid,
	}, savings.Rates{}, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	err = store.InsertPlan(context.Background(), plan2)
	assert.ErrorIs(t, err, savings.ErrDuplicatePlan)

	// A different user may plan for the same property
	has, err := store.HasActivePlanForProperty(context.Background(), "user-2", pid)
	require.NoError(t, err)
	assert.False(t, has)
}

// =============================================================================
// ENTRY ROUND-TRIPS AND THE PENDING LANE INDEX
// =============================================================================

func TestSQLite_EntryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)
	entry := insertPendingDeposit(t, store, plan, 40_000)

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)

	assert.Equal(t, savings.EntryDeposit, got.Type)
	assert.Equal(t, savings.EntryPending, got.Status)
	assert.True(t, got.Amount.Equal(savings.NewMoneyFromInt(40_000)))
	assert.True(t, got.ChargeAmount.Equal(savings.NewMoneyFromInt(800)))
	assert.True(t, got.NetAmount.Equal(savings.NewMoneyFromInt(39_200)))
	assert.Equal(t, entry.PaymentReference, got.PaymentReference)
	assert.Nil(t, got.GatewayPayload)

	byRef, err := store.GetEntryByReference(ctx, entry.PaymentReference)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, byRef.ID)
}

func TestSQLite_SinglePendingIndex(t *testing.T) {
	// GIVEN: A pending deposit on a plan
	// WHEN: Inserting a second pending deposit for the same plan
	// THEN: The partial unique index fires and maps to the domain error

	store := newTestStore(t)
	plan := insertTestPlan(t, store, "user-1", nil)
	insertPendingDeposit(t, store, plan, 5_000)

	m := savings.NewMoneyFromInt(6_000)
	second := savings.NewDepositEntry(plan, m,
		savings.DepositBreakdown(m, plan.DepositChargePercent), plan.CreatedAt)

	err := store.InsertEntry(context.Background(), second)
	assert.ErrorIs(t, err, savings.ErrPendingTransactionExists)
}

func TestSQLite_SinglePendingIndex_PerLane(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)
	insertPendingDeposit(t, store, plan, 5_000)

	// A pending withdrawal is a different lane
	amount := savings.NewMoneyFromInt(1_000)
	withdrawal := savings.NewWithdrawalEntry(plan, amount,
		savings.Breakdown{Amount: amount, Deduction: savings.ZeroMoney(), Net: amount},
		false, "", plan.CreatedAt)
	assert.NoError(t, store.InsertEntry(ctx, withdrawal))
}

func TestSQLite_SettledEntryFreesLane(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)
	entry := insertPendingDeposit(t, store, plan, 5_000)

	require.NoError(t, entry.Fail(json.RawMessage(`{"status":"failed"}`), "declined", time.Now()))
	require.NoError(t, store.UpdateEntry(ctx, entry))

	// The lane is free again
	insertPendingDeposit(t, store, plan, 5_000)
}

func TestSQLite_EntryPayloadPersisted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)
	entry := insertPendingDeposit(t, store, plan, 5_000)

	payload := json.RawMessage(`{"status":"success","amount":500000}`)
	require.NoError(t, entry.Complete(payload, time.Now()))
	require.NoError(t, store.UpdateEntry(ctx, entry))

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, savings.EntryCompleted, got.Status)
	assert.JSONEq(t, string(payload), string(got.GatewayPayload))
}

func TestSQLite_HasPendingEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)

	has, err := store.HasPendingEntry(ctx, plan.ID, savings.EntryDeposit)
	require.NoError(t, err)
	assert.False(t, has)

	insertPendingDeposit(t, store, plan, 5_000)

	has, err = store.HasPendingEntry(ctx, plan.ID, savings.EntryDeposit)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasPendingEntry(ctx, plan.ID, savings.EntryWithdrawal)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestSQLite_ListStalePendingDeposits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)
	entry := insertPendingDeposit(t, store, plan, 5_000)

	stale, err := store.ListStalePendingDeposits(ctx, entry.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, entry.ID, stale[0].ID)

	none, err := store.ListStalePendingDeposits(ctx, entry.CreatedAt.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSQLite_WithTx_RollbackOnError(t *testing.T) {
	// GIVEN: A transaction settling an entry and crediting the plan
	// WHEN: fn fails after both writes
	// THEN: Neither write is visible afterwards

	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)
	entry := insertPendingDeposit(t, store, plan, 5_000)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx savings.Store) error {
		txEntry, err := tx.GetEntry(ctx, entry.ID)
		if err != nil {
			return err
		}
		if err := txEntry.Complete(nil, time.Now()); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, txEntry); err != nil {
			return err
		}
		txPlan, err := tx.GetPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		if err := txPlan.Credit(txEntry.NetAmount, time.Now()); err != nil {
			return err
		}
		if err := tx.UpdatePlan(ctx, txPlan); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	freshEntry, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, savings.EntryPending, freshEntry.Status)

	freshPlan, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, freshPlan.CurrentAmount.IsZero())
}

func TestSQLite_WithTx_Commit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	plan := insertTestPlan(t, store, "user-1", nil)
	entry := insertPendingDeposit(t, store, plan, 5_000)

	err := store.WithTx(ctx, func(tx savings.Store) error {
		txEntry, err := tx.GetEntry(ctx, entry.ID)
		if err != nil {
			return err
		}
		if err := txEntry.Complete(nil, time.Now()); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, txEntry); err != nil {
			return err
		}
		txPlan, err := tx.GetPlan(ctx, plan.ID)
		if err != nil {
			return err
		}
		if err := txPlan.Credit(txEntry.NetAmount, time.Now()); err != nil {
			return err
		}
		return tx.UpdatePlan(ctx, txPlan)
	})
	require.NoError(t, err)

	freshPlan, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.True(t, freshPlan.CurrentAmount.Equal(savings.NewMoneyFromInt(4_900)))

	entries, err := store.ListEntriesByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, savings.EntryCompleted, entries[0].Status)
}
