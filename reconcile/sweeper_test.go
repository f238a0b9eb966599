package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth/savings-engine/reconcile"
	"github.com/hearth/savings-engine/savings"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeResolver struct {
	calls    []string
	outcomes map[string]error
}

func (f *fakeResolver) ResolveDeposit(_ context.Context, reference string) (*savings.DepositOutcome, error) {
	f.calls = append(f.calls, reference)
	if err, ok := f.outcomes[reference]; ok && err != nil {
		return nil, err
	}
	entry := &savings.LedgerEntry{Status: savings.EntryCompleted, PaymentReference: reference}
	return &savings.DepositOutcome{Entry: entry, Credited: true}, nil
}

type fakeLister struct {
	entries []*savings.LedgerEntry
	err     error
	cutoff  time.Time
}

func (f *fakeLister) ListStalePendingDeposits(_ context.Context, createdBefore time.Time) ([]*savings.LedgerEntry, error) {
	f.cutoff = createdBefore
	return f.entries, f.err
}

func stalePending(reference string) *savings.LedgerEntry {
	return &savings.LedgerEntry{
		Status:           savings.EntryPending,
		Type:             savings.EntryDeposit,
		PaymentReference: reference,
	}
}

// =============================================================================
// SWEEP
// =============================================================================

func TestSweep_ResolvesAllStaleDeposits(t *testing.T) {
	resolver := &fakeResolver{outcomes: map[string]error{}}
	lister := &fakeLister{entries: []*savings.LedgerEntry{
		stalePending("sav-1"),
		stalePending("sav-2"),
	}}
	s := reconcile.NewSweeper(resolver, lister, 15*time.Minute)

	resolved, failed := s.Sweep(context.Background())

	assert.Equal(t, 2, resolved)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"sav-1", "sav-2"}, resolver.calls)
}

func TestSweep_CutoffUsesMaxAge(t *testing.T) {
	resolver := &fakeResolver{outcomes: map[string]error{}}
	lister := &fakeLister{}
	s := reconcile.NewSweeper(resolver, lister, 20*time.Minute)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	s.Sweep(context.Background())

	assert.Equal(t, now.Add(-20*time.Minute), lister.cutoff)
}

func TestSweep_DeclinedCountsAsResolved(t *testing.T) {
	// GIVEN: One stale deposit the gateway declines
	// WHEN: Sweeping
	// THEN: It counts as resolved; the entry reached a terminal state

	resolver := &fakeResolver{outcomes: map[string]error{
		"sav-declined": savings.ErrGatewayDeclined,
	}}
	lister := &fakeLister{entries: []*savings.LedgerEntry{stalePending("sav-declined")}}
	s := reconcile.NewSweeper(resolver, lister, 15*time.Minute)

	resolved, failed := s.Sweep(context.Background())

	assert.Equal(t, 1, resolved)
	assert.Equal(t, 0, failed)
}

func TestSweep_TransportFailureLeavesEntryForNextPass(t *testing.T) {
	// GIVEN: The gateway is unreachable for one of two references
	// WHEN: Sweeping
	// THEN: The unreachable one counts as unresolved; the other settles

	resolver := &fakeResolver{outcomes: map[string]error{
		"sav-down": &savings.GatewayError{Reference: "sav-down", Err: errors.New("timeout")},
	}}
	lister := &fakeLister{entries: []*savings.LedgerEntry{
		stalePending("sav-down"),
		stalePending("sav-ok"),
	}}
	s := reconcile.NewSweeper(resolver, lister, 15*time.Minute)

	resolved, failed := s.Sweep(context.Background())

	assert.Equal(t, 1, resolved)
	assert.Equal(t, 1, failed)
}

func TestSweep_ListFailure(t *testing.T) {
	resolver := &fakeResolver{outcomes: map[string]error{}}
	lister := &fakeLister{err: errors.New("db closed")}
	s := reconcile.NewSweeper(resolver, lister, 15*time.Minute)

	resolved, failed := s.Sweep(context.Background())

	assert.Zero(t, resolved)
	assert.Zero(t, failed)
	assert.Empty(t, resolver.calls)
}

func TestSweep_StopsOnCancelledContext(t *testing.T) {
	resolver := &fakeResolver{outcomes: map[string]error{}}
	lister := &fakeLister{entries: []*savings.LedgerEntry{
		stalePending("sav-1"),
		stalePending("sav-2"),
	}}
	s := reconcile.NewSweeper(resolver, lister, 15*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolved, failed := s.Sweep(ctx)

	assert.Zero(t, resolved)
	assert.Zero(t, failed)
	assert.Empty(t, resolver.calls, "no gateway traffic after cancellation")
}

// =============================================================================
// SCHEDULING
// =============================================================================

func TestStart_InvalidSpecRejected(t *testing.T) {
	s := reconcile.NewSweeper(&fakeResolver{}, &fakeLister{}, 15*time.Minute)

	err := s.Start(context.Background(), "not a cron spec")
	assert.Error(t, err)
}

func TestStartStop_ValidSpec(t *testing.T) {
	s := reconcile.NewSweeper(&fakeResolver{}, &fakeLister{}, 15*time.Minute)

	require.NoError(t, s.Start(context.Background(), "*/10 * * * *"))
	s.Stop()
}
