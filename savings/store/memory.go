// Package store provides an in-memory savings.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hearth/savings-engine/savings"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory implements savings.Store with map-backed tables. It mirrors the
// sqlite store's contract: InsertEntry enforces the single-pending-per-lane
// uniqueness, and WithTx rolls back every write when fn fails.
type Memory struct {
	mu          sync.Mutex
	plans       map[savings.PlanID]*savings.SavingsPlan
	entries     map[savings.EntryID]*savings.LedgerEntry
	byReference map[string]savings.EntryID
}

func NewMemory() *Memory {
	return &Memory{
		plans:       make(map[savings.PlanID]*savings.SavingsPlan),
		entries:     make(map[savings.EntryID]*savings.LedgerEntry),
		byReference: make(map[string]savings.EntryID),
	}
}

// =============================================================================
// PLAN STORE
// =============================================================================

func (m *Memory) InsertPlan(_ context.Context, plan *savings.SavingsPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPlanLocked(plan)
}

func (m *Memory) insertPlanLocked(plan *savings.SavingsPlan) error {
	m.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (m *Memory) UpdatePlan(_ context.Context, plan *savings.SavingsPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePlanLocked(plan)
}

func (m *Memory) updatePlanLocked(plan *savings.SavingsPlan) error {
	if _, ok := m.plans[plan.ID]; !ok {
		return savings.ErrPlanNotFound
	}
	m.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (m *Memory) GetPlan(_ context.Context, id savings.PlanID) (*savings.SavingsPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getPlanLocked(id)
}

func (m *Memory) getPlanLocked(id savings.PlanID) (*savings.SavingsPlan, error) {
	plan, ok := m.plans[id]
	if !ok {
		return nil, savings.ErrPlanNotFound
	}
	return clonePlan(plan), nil
}

func (m *Memory) ListPlansByUser(_ context.Context, userID savings.UserID) ([]*savings.SavingsPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*savings.SavingsPlan
	for _, plan := range m.plans {
		if plan.UserID == userID {
			out = append(out, clonePlan(plan))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountActivePlans(_ context.Context, userID savings.UserID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, plan := range m.plans {
		if plan.UserID == userID && plan.Status == savings.PlanActive {
			count++
		}
	}
	return count, nil
}

func (m *Memory) HasActivePlanForProperty(_ context.Context, userID savings.UserID, propertyID savings.PropertyID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, plan := range m.plans {
		if plan.UserID == userID && plan.Status == savings.PlanActive &&
			plan.PropertyID != nil && *plan.PropertyID == propertyID {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (m *Memory) InsertEntry(_ context.Context, entry *savings.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEntryLocked(entry)
}

func (m *Memory) insertEntryLocked(entry *savings.LedgerEntry) error {
	// Single-pending-per-lane guard, atomic with the insert.
	if entry.Status == savings.EntryPending {
		for _, existing := range m.entries {
			if existing.PlanID == entry.PlanID && existing.Type == entry.Type &&
				existing.Status == savings.EntryPending {
				return savings.ErrPendingTransactionExists
			}
		}
	}
	m.entries[entry.ID] = cloneEntry(entry)
	if entry.PaymentReference != "" {
		m.byReference[entry.PaymentReference] = entry.ID
	}
	return nil
}

func (m *Memory) UpdateEntry(_ context.Context, entry *savings.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateEntryLocked(entry)
}

func (m *Memory) updateEntryLocked(entry *savings.LedgerEntry) error {
	if _, ok := m.entries[entry.ID]; !ok {
		return savings.ErrEntryNotFound
	}
	m.entries[entry.ID] = cloneEntry(entry)
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id savings.EntryID) (*savings.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEntryLocked(id)
}

func (m *Memory) getEntryLocked(id savings.EntryID) (*savings.LedgerEntry, error) {
	entry, ok := m.entries[id]
	if !ok {
		return nil, savings.ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

func (m *Memory) GetEntryByReference(_ context.Context, reference string) (*savings.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getEntryByReferenceLocked(reference)
}

func (m *Memory) getEntryByReferenceLocked(reference string) (*savings.LedgerEntry, error) {
	id, ok := m.byReference[reference]
	if !ok {
		return nil, savings.ErrEntryNotFound
	}
	return m.getEntryLocked(id)
}

func (m *Memory) ListEntriesByPlan(_ context.Context, planID savings.PlanID) ([]*savings.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*savings.LedgerEntry
	for _, entry := range m.entries {
		if entry.PlanID == planID {
			out = append(out, cloneEntry(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) HasPendingEntry(_ context.Context, planID savings.PlanID, entryType savings.EntryType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.entries {
		if entry.PlanID == planID && entry.Type == entryType && entry.Status == savings.EntryPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListStalePendingDeposits(_ context.Context, createdBefore time.Time) ([]*savings.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*savings.LedgerEntry
	for _, entry := range m.entries {
		if entry.Type == savings.EntryDeposit && entry.Status == savings.EntryPending &&
			entry.CreatedAt.Before(createdBefore) {
			out = append(out, cloneEntry(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx serializes fn against all other writers and rolls every write back
// if fn returns an error.
func (m *Memory) WithTx(ctx context.Context, fn func(savings.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapPlans := make(map[savings.PlanID]*savings.SavingsPlan, len(m.plans))
	for k, v := range m.plans {
		snapPlans[k] = clonePlan(v)
	}
	snapEntries := make(map[savings.EntryID]*savings.LedgerEntry, len(m.entries))
	for k, v := range m.entries {
		snapEntries[k] = cloneEntry(v)
	}
	snapRefs := make(map[string]savings.EntryID, len(m.byReference))
	for k, v := range m.byReference {
		snapRefs[k] = v
	}

	if err := fn(&txView{parent: m}); err != nil {
		m.plans = snapPlans
		m.entries = snapEntries
		m.byReference = snapRefs
		return err
	}
	return nil
}

// txView dispatches to the parent's locked methods; the parent's mutex is
// already held for the whole transaction.
type txView struct {
	parent *Memory
}

func (t *txView) InsertPlan(_ context.Context, plan *savings.SavingsPlan) error {
	return t.parent.insertPlanLocked(plan)
}

func (t *txView) UpdatePlan(_ context.Context, plan *savings.SavingsPlan) error {
	return t.parent.updatePlanLocked(plan)
}

func (t *txView) GetPlan(_ context.Context, id savings.PlanID) (*savings.SavingsPlan, error) {
	return t.parent.getPlanLocked(id)
}

func (t *txView) ListPlansByUser(ctx context.Context, userID savings.UserID) ([]*savings.SavingsPlan, error) {
	var out []*savings.SavingsPlan
	for _, plan := range t.parent.plans {
		if plan.UserID == userID {
			out = append(out, clonePlan(plan))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *txView) CountActivePlans(_ context.Context, userID savings.UserID) (int, error) {
	count := 0
	for _, plan := range t.parent.plans {
		if plan.UserID == userID && plan.Status == savings.PlanActive {
			count++
		}
	}
	return count, nil
}

func (t *txView) HasActivePlanForProperty(_ context.Context, userID savings.UserID, propertyID savings.PropertyID) (bool, error) {
	for _, plan := range t.parent.plans {
		if plan.UserID == userID && plan.Status == savings.PlanActive &&
			plan.PropertyID != nil && *plan.PropertyID == propertyID {
			return true, nil
		}
	}
	return false, nil
}

func (t *txView) InsertEntry(_ context.Context, entry *savings.LedgerEntry) error {
	return t.parent.insertEntryLocked(entry)
}

func (t *txView) UpdateEntry(_ context.Context, entry *savings.LedgerEntry) error {
	return t.parent.updateEntryLocked(entry)
}

func (t *txView) GetEntry(_ context.Context, id savings.EntryID) (*savings.LedgerEntry, error) {
	return t.parent.getEntryLocked(id)
}

func (t *txView) GetEntryByReference(_ context.Context, reference string) (*savings.LedgerEntry, error) {
	return t.parent.getEntryByReferenceLocked(reference)
}

func (t *txView) ListEntriesByPlan(_ context.Context, planID savings.PlanID) ([]*savings.LedgerEntry, error) {
	var out []*savings.LedgerEntry
	for _, entry := range t.parent.entries {
		if entry.PlanID == planID {
			out = append(out, cloneEntry(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *txView) HasPendingEntry(_ context.Context, planID savings.PlanID, entryType savings.EntryType) (bool, error) {
	for _, entry := range t.parent.entries {
		if entry.PlanID == planID && entry.Type == entryType && entry.Status == savings.EntryPending {
			return true, nil
		}
	}
	return false, nil
}

func (t *txView) ListStalePendingDeposits(_ context.Context, createdBefore time.Time) ([]*savings.LedgerEntry, error) {
	var out []*savings.LedgerEntry
	for _, entry := range t.parent.entries {
		if entry.Type == savings.EntryDeposit && entry.Status == savings.EntryPending &&
			entry.CreatedAt.Before(createdBefore) {
			out = append(out, cloneEntry(entry))
		}
	}
	return out, nil
}

func (t *txView) WithTx(ctx context.Context, fn func(savings.Store) error) error {
	// Already inside a transaction; just run against the same view.
	return fn(t)
}

// =============================================================================
// CLONING - Callers never share pointers with the store
// =============================================================================

func clonePlan(p *savings.SavingsPlan) *savings.SavingsPlan {
	c := *p
	if p.PropertyID != nil {
		id := *p.PropertyID
		c.PropertyID = &id
	}
	if p.ResumeDate != nil {
		d := *p.ResumeDate
		c.ResumeDate = &d
	}
	return &c
}

func cloneEntry(e *savings.LedgerEntry) *savings.LedgerEntry {
	c := *e
	if e.GatewayPayload != nil {
		c.GatewayPayload = append([]byte(nil), e.GatewayPayload...)
	}
	return &c
}
