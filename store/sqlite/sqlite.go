/*
Package sqlite provides the SQLite-backed implementation of savings.Store.

PURPOSE:
  Persists SavingsPlan and LedgerEntry rows. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INVARIANTS ENFORCED AT THE SCHEMA LEVEL:
  idx_entries_single_pending:
      At most one pending entry per (plan, type) lane. This closes the
      check-then-insert race: two concurrent deposit initiations cannot
      both create a pending entry, whatever the application read saw.
  idx_entries_reference:
      Payment references are globally unique.
  idx_plans_active_property:
      At most one ACTIVE plan per (user, property).

MONEY COLUMNS:
  Amounts and rates are stored as decimal strings (TEXT), never floats.
  Arithmetic happens in the domain layer; the database only round-trips.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers,
  single writer, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/savings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - savings/store.go: Interface definitions and contract notes
  - savings/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hearth/savings-engine/savings"
)

// Store implements savings.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		property_id TEXT,
		external_property TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		target_amount TEXT NOT NULL,
		current_amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		deposit_charge_percent TEXT NOT NULL,
		early_withdrawal_penalty_percent TEXT NOT NULL,
		pause_reason TEXT NOT NULL DEFAULT '',
		resume_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_user
		ON plans(user_id);
	CREATE INDEX IF NOT EXISTS idx_plans_user_status
		ON plans(user_id, status);

	-- One active plan per (user, property).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_plans_active_property
		ON plans(user_id, property_id)
		WHERE status = 'active' AND property_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES plans(id),
		user_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		charge_amount TEXT NOT NULL,
		penalty_amount TEXT NOT NULL,
		net_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		early_withdrawal BOOLEAN NOT NULL DEFAULT FALSE,
		payment_reference TEXT,
		gateway_payload TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one pending entry per (plan, type) lane.
	-- This is the authoritative double-submission guard.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_single_pending
		ON entries(plan_id, entry_type)
		WHERE status = 'pending';

	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_reference
		ON entries(payment_reference)
		WHERE payment_reference IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_entries_plan
		ON entries(plan_id, created_at);

	-- For the stale-pending sweep.
	CREATE INDEX IF NOT EXISTS idx_entries_status_type
		ON entries(status, entry_type, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// executor abstracts *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PLAN STORE
// =============================================================================

func (s *Store) InsertPlan(ctx context.Context, plan *savings.SavingsPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPlan(ctx, s.db, plan)
}

func insertPlan(ctx context.Context, db executor, plan *savings.SavingsPlan) error {
	query := `
		INSERT INTO plans
		(id, user_id, property_id, external_property, name, target_amount, current_amount,
		 due_date, status, deposit_charge_percent, early_withdrawal_penalty_percent,
		 pause_reason, resume_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		plan.ID,
		plan.UserID,
		nullProperty(plan.PropertyID),
		plan.ExternalProperty,
		plan.Name,
		plan.TargetAmount.String(),
		plan.CurrentAmount.String(),
		plan.DueDate.UTC().Format(time.RFC3339),
		plan.Status,
		plan.DepositChargePercent.Value.String(),
		plan.EarlyWithdrawalPenaltyPercent.Value.String(),
		plan.PauseReason,
		nullTime(plan.ResumeDate),
		plan.CreatedAt.UTC().Format(time.RFC3339),
		plan.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintError(err, "idx_plans_active_property", "plans.user_id, plans.property_id") {
			return savings.ErrDuplicatePlan
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}
	return nil
}

func (s *Store) UpdatePlan(ctx context.Context, plan *savings.SavingsPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePlan(ctx, s.db, plan)
}

func updatePlan(ctx context.Context, db executor, plan *savings.SavingsPlan) error {
	query := `
		UPDATE plans SET
			current_amount = ?,
			status = ?,
			pause_reason = ?,
			resume_date = ?,
			updated_at = ?
		WHERE id = ?
	`

	res, err := db.ExecContext(ctx, query,
		plan.CurrentAmount.String(),
		plan.Status,
		plan.PauseReason,
		nullTime(plan.ResumeDate),
		plan.UpdatedAt.UTC().Format(time.RFC3339),
		plan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return savings.ErrPlanNotFound
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id savings.PlanID) (*savings.SavingsPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getPlan(ctx, s.db, id)
}

const planColumns = `id, user_id, property_id, external_property, name, target_amount,
	current_amount, due_date, status, deposit_charge_percent,
	early_withdrawal_penalty_percent, pause_reason, resume_date, created_at, updated_at`

func getPlan(ctx context.Context, db executor, id savings.PlanID) (*savings.SavingsPlan, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ?`, id)

	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, savings.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Store) ListPlansByUser(ctx context.Context, userID savings.UserID) ([]*savings.SavingsPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []*savings.SavingsPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (s *Store) CountActivePlans(ctx context.Context, userID savings.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countActivePlans(ctx, s.db, userID)
}

func countActivePlans(ctx context.Context, db executor, userID savings.UserID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plans WHERE user_id = ? AND status = 'active'`, userID,
	).Scan(&count)
	return count, err
}

func (s *Store) HasActivePlanForProperty(ctx context.Context, userID savings.UserID, propertyID savings.PropertyID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hasActivePlanForProperty(ctx, s.db, userID, propertyID)
}

func hasActivePlanForProperty(ctx context.Context, db executor, userID savings.UserID, propertyID savings.PropertyID) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM plans WHERE user_id = ? AND property_id = ? AND status = 'active'`,
		userID, propertyID,
	).Scan(&count)
	return count > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*savings.SavingsPlan, error) {
	var (
		plan           savings.SavingsPlan
		propertyID     sql.NullString
		target         string
		current        string
		dueDate        string
		chargePercent  string
		penaltyPercent string
		resumeDate     sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&plan.ID, &plan.UserID, &propertyID, &plan.ExternalProperty, &plan.Name,
		&target, &current, &dueDate, &plan.Status, &chargePercent, &penaltyPercent,
		&plan.PauseReason, &resumeDate, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if propertyID.Valid {
		id := savings.PropertyID(propertyID.String)
		plan.PropertyID = &id
	}
	plan.TargetAmount = savings.MustParseMoney(target)
	plan.CurrentAmount = savings.MustParseMoney(current)
	plan.DueDate, _ = time.Parse(time.RFC3339, dueDate)
	plan.DepositChargePercent = savings.MustParsePercent(chargePercent)
	plan.EarlyWithdrawalPenaltyPercent = savings.MustParsePercent(penaltyPercent)
	if resumeDate.Valid {
		t, _ := time.Parse(time.RFC3339, resumeDate.String)
		plan.ResumeDate = &t
	}
	plan.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	plan.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &plan, nil
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (s *Store) InsertEntry(ctx context.Context, entry *savings.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEntry(ctx, s.db, entry)
}

func insertEntry(ctx context.Context, db executor, entry *savings.LedgerEntry) error {
	query := `
		INSERT INTO entries
		(id, plan_id, user_id, entry_type, amount, charge_amount, penalty_amount,
		 net_amount, status, early_withdrawal, payment_reference, gateway_payload,
		 notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		entry.ID,
		entry.PlanID,
		entry.UserID,
		entry.Type,
		entry.Amount.String(),
		entry.ChargeAmount.String(),
		entry.PenaltyAmount.String(),
		entry.NetAmount.String(),
		entry.Status,
		entry.EarlyWithdrawal,
		nullString(entry.PaymentReference),
		nullBytes(entry.GatewayPayload),
		entry.Notes,
		entry.CreatedAt.UTC().Format(time.RFC3339),
		entry.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintError(err, "idx_entries_single_pending", "entries.plan_id, entries.entry_type") {
			return savings.ErrPendingTransactionExists
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, entry *savings.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEntry(ctx, s.db, entry)
}

func updateEntry(ctx context.Context, db executor, entry *savings.LedgerEntry) error {
	query := `
		UPDATE entries SET
			status = ?,
			gateway_payload = ?,
			notes = ?,
			updated_at = ?
		WHERE id = ?
	`

	res, err := db.ExecContext(ctx, query,
		entry.Status,
		nullBytes(entry.GatewayPayload),
		entry.Notes,
		entry.UpdatedAt.UTC().Format(time.RFC3339),
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return savings.ErrEntryNotFound
	}
	return nil
}

const entryColumns = `id, plan_id, user_id, entry_type, amount, charge_amount,
	penalty_amount, net_amount, status, early_withdrawal, payment_reference,
	gateway_payload, notes, created_at, updated_at`

func (s *Store) GetEntry(ctx context.Context, id savings.EntryID) (*savings.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, db executor, id savings.EntryID) (*savings.LedgerEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, savings.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) GetEntryByReference(ctx context.Context, reference string) (*savings.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getEntryByReference(ctx, s.db, reference)
}

func getEntryByReference(ctx context.Context, db executor, reference string) (*savings.LedgerEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE payment_reference = ?`, reference)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, savings.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) ListEntriesByPlan(ctx context.Context, planID savings.PlanID) ([]*savings.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listEntriesByPlan(ctx, s.db, planID)
}

func listEntriesByPlan(ctx context.Context, db executor, planID savings.PlanID) ([]*savings.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE plan_id = ? ORDER BY created_at ASC, id ASC`,
		planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*savings.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) HasPendingEntry(ctx context.Context, planID savings.PlanID, entryType savings.EntryType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hasPendingEntry(ctx, s.db, planID, entryType)
}

func hasPendingEntry(ctx context.Context, db executor, planID savings.PlanID, entryType savings.EntryType) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE plan_id = ? AND entry_type = ? AND status = 'pending'`,
		planID, entryType,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) ListStalePendingDeposits(ctx context.Context, createdBefore time.Time) ([]*savings.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listStalePendingDeposits(ctx, s.db, createdBefore)
}

func listStalePendingDeposits(ctx context.Context, db executor, createdBefore time.Time) ([]*savings.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE status = 'pending' AND entry_type = 'deposit' AND created_at < ?
		 ORDER BY created_at ASC`,
		createdBefore.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query stale deposits: %w", err)
	}
	defer rows.Close()

	var entries []*savings.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*savings.LedgerEntry, error) {
	var (
		entry     savings.LedgerEntry
		amount    string
		charge    string
		penalty   string
		net       string
		reference sql.NullString
		payload   sql.NullString
		createdAt string
		updatedAt string
	)

	err := row.Scan(
		&entry.ID, &entry.PlanID, &entry.UserID, &entry.Type,
		&amount, &charge, &penalty, &net, &entry.Status, &entry.EarlyWithdrawal,
		&reference, &payload, &entry.Notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Amount = savings.MustParseMoney(amount)
	entry.ChargeAmount = savings.MustParseMoney(charge)
	entry.PenaltyAmount = savings.MustParseMoney(penalty)
	entry.NetAmount = savings.MustParseMoney(net)
	entry.PaymentReference = reference.String
	if payload.Valid && payload.String != "" {
		entry.GatewayPayload = []byte(payload.String)
	}
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &entry, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(savings.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the shared *sql.Tx. The parent's mutex
// is held for the duration of the transaction.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) InsertPlan(ctx context.Context, plan *savings.SavingsPlan) error {
	return insertPlan(ctx, t.tx, plan)
}

func (t *txStore) UpdatePlan(ctx context.Context, plan *savings.SavingsPlan) error {
	return updatePlan(ctx, t.tx, plan)
}

func (t *txStore) GetPlan(ctx context.Context, id savings.PlanID) (*savings.SavingsPlan, error) {
	return getPlan(ctx, t.tx, id)
}

func (t *txStore) ListPlansByUser(ctx context.Context, userID savings.UserID) ([]*savings.SavingsPlan, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*savings.SavingsPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (t *txStore) CountActivePlans(ctx context.Context, userID savings.UserID) (int, error) {
	return countActivePlans(ctx, t.tx, userID)
}

func (t *txStore) HasActivePlanForProperty(ctx context.Context, userID savings.UserID, propertyID savings.PropertyID) (bool, error) {
	return hasActivePlanForProperty(ctx, t.tx, userID, propertyID)
}

func (t *txStore) InsertEntry(ctx context.Context, entry *savings.LedgerEntry) error {
	return insertEntry(ctx, t.tx, entry)
}

func (t *txStore) UpdateEntry(ctx context.Context, entry *savings.LedgerEntry) error {
	return updateEntry(ctx, t.tx, entry)
}

func (t *txStore) GetEntry(ctx context.Context, id savings.EntryID) (*savings.LedgerEntry, error) {
	return getEntry(ctx, t.tx, id)
}

func (t *txStore) GetEntryByReference(ctx context.Context, reference string) (*savings.LedgerEntry, error) {
	return getEntryByReference(ctx, t.tx, reference)
}

func (t *txStore) ListEntriesByPlan(ctx context.Context, planID savings.PlanID) ([]*savings.LedgerEntry, error) {
	return listEntriesByPlan(ctx, t.tx, planID)
}

func (t *txStore) HasPendingEntry(ctx context.Context, planID savings.PlanID, entryType savings.EntryType) (bool, error) {
	return hasPendingEntry(ctx, t.tx, planID, entryType)
}

func (t *txStore) ListStalePendingDeposits(ctx context.Context, createdBefore time.Time) ([]*savings.LedgerEntry, error) {
	return listStalePendingDeposits(ctx, t.tx, createdBefore)
}

func (t *txStore) WithTx(ctx context.Context, fn func(savings.Store) error) error {
	// Already inside a transaction; run against the same one.
	return fn(t)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullProperty(id *savings.PropertyID) sql.NullString {
	if id == nil || *id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isConstraintError matches a UNIQUE violation against any of the given
// markers. SQLite names the index for expression indexes but lists the
// columns for plain ones, so callers pass both forms.
func isConstraintError(err error, markers ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
