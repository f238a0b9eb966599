/*
store.go - Persistence interfaces

PURPOSE:
  The engine talks to storage through these interfaces. Two implementations
  exist: store/sqlite (production) and savings/store (memory, for tests).

CONTRACT NOTES:
  - InsertEntry must enforce the single-pending-per-lane invariant at the
    storage level: inserting a pending entry when the plan already has a
    pending entry of the same type returns ErrPendingTransactionExists,
    atomically with the insert. An application-level read-then-insert is
    not an acceptable implementation.
  - WithTx runs fn against a transactional view; either every write in fn
    is applied or none is. The engine performs every
    "mark entry terminal + mutate plan balance" pair inside WithTx.
  - Get* return ErrPlanNotFound / ErrEntryNotFound for missing rows.
*/
package savings

import (
	"context"
	"time"
)

// PlanStore persists SavingsPlan rows. Plans are never deleted.
type PlanStore interface {
	InsertPlan(ctx context.Context, plan *SavingsPlan) error
	UpdatePlan(ctx context.Context, plan *SavingsPlan) error
	GetPlan(ctx context.Context, id PlanID) (*SavingsPlan, error)
	ListPlansByUser(ctx context.Context, userID UserID) ([]*SavingsPlan, error)

	// CountActivePlans returns the number of active plans the user holds.
	CountActivePlans(ctx context.Context, userID UserID) (int, error)

	// HasActivePlanForProperty reports whether the user already has an
	// active plan linked to the property.
	HasActivePlanForProperty(ctx context.Context, userID UserID, propertyID PropertyID) (bool, error)
}

// EntryStore persists LedgerEntry rows. Terminal entries are never updated
// again; UpdateEntry is only the pending→terminal transition.
type EntryStore interface {
	InsertEntry(ctx context.Context, entry *LedgerEntry) error
	UpdateEntry(ctx context.Context, entry *LedgerEntry) error
	GetEntry(ctx context.Context, id EntryID) (*LedgerEntry, error)
	GetEntryByReference(ctx context.Context, reference string) (*LedgerEntry, error)
	ListEntriesByPlan(ctx context.Context, planID PlanID) ([]*LedgerEntry, error)

	// HasPendingEntry reports whether the plan has a pending entry of the
	// given type. Advisory only; InsertEntry is the authoritative guard.
	HasPendingEntry(ctx context.Context, planID PlanID, entryType EntryType) (bool, error)

	// ListStalePendingDeposits returns pending deposits created before the
	// cutoff, for the reconciliation sweep.
	ListStalePendingDeposits(ctx context.Context, createdBefore time.Time) ([]*LedgerEntry, error)
}

// Store is the full persistence surface with a transaction boundary.
type Store interface {
	PlanStore
	EntryStore

	// WithTx executes fn atomically against a transactional Store view.
	WithTx(ctx context.Context, fn func(Store) error) error
}
