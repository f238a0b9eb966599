/*
sweeper.go - Background reconciliation of stale pending deposits

PURPOSE:
  A deposit can stay pending forever if the payer closes the checkout tab
  and never triggers verification. The sweeper periodically lists pending
  deposits older than a configurable age and drives each one through the
  engine's normal resolution path, so the ledger converges on the
  gateway's truth without any user action.

SAFETY:
  The sweep only ever calls Engine.ResolveDeposit, which is idempotent
  and never fails an entry when the gateway is unreachable. A sweep that
  races a user-triggered verification is harmless: one of the two writers
  settles the entry, the other observes the settled state.

SEE ALSO:
  - savings/engine.go: ResolveDeposit, the single settlement path
*/
package reconcile

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hearth/savings-engine/savings"
)

// Resolver is the slice of the engine the sweeper needs.
type Resolver interface {
	ResolveDeposit(ctx context.Context, reference string) (*savings.DepositOutcome, error)
}

// Lister is the slice of the store the sweeper needs.
type Lister interface {
	ListStalePendingDeposits(ctx context.Context, createdBefore time.Time) ([]*savings.LedgerEntry, error)
}

// Sweeper runs the reconciliation sweep on a cron schedule.
type Sweeper struct {
	Resolver Resolver
	Lister   Lister
	// MaxAge is how old a pending deposit must be before the sweep
	// touches it. Fresh entries are left to the interactive flow.
	MaxAge time.Duration
	Now    savings.Clock

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewSweeper builds a stopped sweeper. maxAge <= 0 defaults to 15 minutes.
func NewSweeper(resolver Resolver, lister Lister, maxAge time.Duration) *Sweeper {
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &Sweeper{
		Resolver: resolver,
		Lister:   lister,
		MaxAge:   maxAge,
		Now:      savings.SystemClock,
		cron:     cron.New(),
	}
}

// Start registers the sweep under the given cron spec and starts the
// scheduler. Spec uses the standard 5-field cron format.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	id, err := s.cron.AddFunc(spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	log.Printf("[reconcile] sweep scheduled: spec=%q max_age=%s", spec, s.MaxAge)
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep runs one reconciliation pass. It is safe to call directly, the
// cron schedule is just a driver.
func (s *Sweeper) Sweep(ctx context.Context) (resolved int, failed int) {
	cutoff := s.Now().Add(-s.MaxAge)
	stale, err := s.Lister.ListStalePendingDeposits(ctx, cutoff)
	if err != nil {
		log.Printf("[reconcile] listing stale deposits failed: %v", err)
		return 0, 0
	}
	if len(stale) == 0 {
		return 0, 0
	}

	log.Printf("[reconcile] sweeping %d stale pending deposit(s)", len(stale))
	for _, entry := range stale {
		if ctx.Err() != nil {
			return resolved, failed
		}
		outcome, err := s.Resolver.ResolveDeposit(ctx, entry.PaymentReference)
		switch {
		case errors.Is(err, savings.ErrGatewayDeclined):
			// Declined is a settled outcome: the entry is now failed.
			resolved++
			log.Printf("[reconcile] reference=%s settled as declined", entry.PaymentReference)
		case err != nil:
			// Unknown outcome or transient store error. The entry stays
			// pending and the next sweep retries it.
			failed++
			log.Printf("[reconcile] reference=%s unresolved: %v", entry.PaymentReference, err)
		default:
			resolved++
			log.Printf("[reconcile] reference=%s settled: status=%s credited=%t",
				entry.PaymentReference, outcome.Entry.Status, outcome.Credited)
		}
	}
	return resolved, failed
}
