/*
Package savings implements the savings ledger and payment reconciliation
engine for the rental marketplace.

PURPOSE:
  A user opens a goal-based savings plan (a "rent savings plan") with a
  target amount and a due date. Money moves in and out through ledger
  entries: deposits confirmed by an external payment gateway, withdrawals
  completed by an administrative review step. The engine is the sole
  mutator of plan balances and enforces every monetary invariant.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary quantity backed by decimal.Decimal (major units)
  - Percent: A rate such as a deposit charge or withdrawal penalty
  - Plan/Entry IDs: Type-safe identifiers
  - Limits: System-wide bounds on targets, deposits, and plan counts

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. Exactly-once: a completed entry's net amount hits the balance once
  3. Type Safety: strong typing for IDs prevents mixing plan/entry/user IDs
  4. Auditability: every balance change traces to exactly one ledger entry

SEE ALSO:
  - plan.go: SavingsPlan aggregate and status machine
  - entry.go: LedgerEntry lifecycle
  - engine.go: Orchestration and invariant enforcement
*/
package savings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary quantity in major currency units
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money        { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money        { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool       { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool    { return m.Value.LessThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool {
	return m.Value.GreaterThanOrEqual(o.Value)
}
func (m Money) LessThanOrEqual(o Money) bool { return m.Value.LessThanOrEqual(o.Value) }

func (m Money) String() string { return m.Value.String() }

// MinorUnits returns the amount in minor currency units (e.g. kobo, cents),
// rounding to the nearest unit. The gateway contract transmits minor units.
func (m Money) MinorUnits() int64 {
	return m.Value.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// =============================================================================
// PERCENT - A rate applied to monetary amounts
// =============================================================================

// Percent is a human-scale rate: Percent{Value: 2.5} means 2.5%.
type Percent struct {
	Value decimal.Decimal
}

func NewPercent(value float64) Percent {
	return Percent{Value: decimal.NewFromFloat(value)}
}

func MustParsePercent(s string) Percent {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Percent{Value: decimal.Zero}
	}
	return Percent{Value: d}
}

// ApplyTo returns amount × rate, e.g. 2% of 40,000 = 800.
func (p Percent) ApplyTo(amount Money) Money {
	hundred := decimal.NewFromInt(100)
	return Money{Value: amount.Value.Mul(p.Value).Div(hundred)}
}

func (p Percent) IsZero() bool     { return p.Value.IsZero() }
func (p Percent) IsNegative() bool { return p.Value.IsNegative() }
func (p Percent) String() string   { return p.Value.String() + "%" }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PlanID string
type EntryID string
type UserID string
type PropertyID string

func NewPlanID() PlanID   { return PlanID(uuid.NewString()) }
func NewEntryID() EntryID { return EntryID(uuid.NewString()) }

// NewPaymentReference generates a globally unique reference for a deposit.
// The gateway keys the hosted checkout session on this value.
func NewPaymentReference() string {
	return "sav-" + uuid.NewString()
}

// =============================================================================
// SYSTEM LIMITS
// =============================================================================

const (
	// MaxActivePlansPerUser caps concurrently active plans per user.
	MaxActivePlansPerUser = 10

	// MaxDueDateYears caps how far out a plan's due date may be.
	MaxDueDateYears = 5
)

var (
	// Target amount bounds for plan creation.
	MinTargetAmount = NewMoneyFromInt(1_000)
	MaxTargetAmount = NewMoneyFromInt(50_000_000)

	// Deposit amount bounds per initiation.
	MinDepositAmount = NewMoneyFromInt(100)
	MaxDepositAmount = NewMoneyFromInt(10_000_000)

	// Minimum withdrawal request amount.
	MinWithdrawalAmount = NewMoneyFromInt(100)
)

// =============================================================================
// RATES - Snapshotted onto plans at creation
// =============================================================================

// Rates are the system-wide charge and penalty percentages. They are copied
// onto a SavingsPlan when it is created and frozen for the plan's life, so a
// later configuration change never retroactively alters an existing plan.
type Rates struct {
	DepositChargePercent          Percent
	EarlyWithdrawalPenaltyPercent Percent
}

// RateProvider supplies the current system rates. Injected once into the
// engine; consulted only at plan creation.
type RateProvider interface {
	CurrentRates() Rates
}

// StaticRates is a RateProvider returning fixed rates (config-backed).
type StaticRates struct {
	Rates Rates
}

func (s StaticRates) CurrentRates() Rates { return s.Rates }

// =============================================================================
// PROPERTY DIRECTORY - Read-only collaborator for plan creation
// =============================================================================

// PropertyDirectory answers whether a listed property can back a new plan.
// The property subsystem itself is outside this module.
type PropertyDirectory interface {
	IsAvailable(ctx context.Context, propertyID PropertyID) (bool, error)
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Engine and entities take a Clock so tests
// can pin "today" when exercising due-date arithmetic.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
