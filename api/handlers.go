/*
handlers.go - HTTP API handlers for the savings engine

PURPOSE:
  Exposes the savings engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Plans:
    GET    /api/plans                       List caller's plans
    POST   /api/plans                       Create plan
    GET    /api/plans/{id}                  Get plan details
    GET    /api/plans/{id}/entries          Ledger history
    GET    /api/plans/{id}/summary          Reconciliation summary
    POST   /api/plans/{id}/pause            Pause contributions
    POST   /api/plans/{id}/resume           Resume contributions
    POST   /api/plans/{id}/cancel           Cancel (zero balance only)

  Deposits:
    POST   /api/plans/{id}/deposits         Initiate deposit (checkout)
    POST   /api/deposits/{reference}/verify Verify and settle

  Withdrawals:
    POST   /api/plans/{id}/withdrawals      Request withdrawal

  Admin:
    POST   /api/admin/withdrawals/{id}/approve
    POST   /api/admin/withdrawals/{id}/reject
    POST   /api/admin/reconcile             Run the sweep now

IDENTITY:
  The caller's user ID comes from the X-User-ID header, populated by the
  gateway in front of this service. Requests without it are rejected.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 402: Gateway declined the payment
  - 404: Resource not found, or caller does not own it
  - 409: State conflicts, pending-transaction guard, duplicates
  - 502: Gateway unreachable, outcome unknown (retryable)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hearth/savings-engine/savings"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *savings.Engine
	Sweeper Sweeper
}

// Sweeper is the admin-triggered reconciliation hook. Optional.
type Sweeper interface {
	Sweep(ctx context.Context) (resolved int, failed int)
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *savings.Engine, sweeper Sweeper) *Handler {
	return &Handler{Engine: engine, Sweeper: sweeper}
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// CreatePlan creates a new savings plan for the caller.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	target, err := parseMoney(req.TargetAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target_amount", err)
		return
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date format (use YYYY-MM-DD)", err)
		return
	}

	in := savings.NewPlanInput{
		UserID:           userID,
		Name:             req.Name,
		TargetAmount:     target,
		DueDate:          dueDate,
		ExternalProperty: req.ExternalProperty,
	}
	if req.PropertyID != "" {
		pid := savings.PropertyID(req.PropertyID)
		in.PropertyID = &pid
	}

	plan, err := h.Engine.CreatePlan(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanDTO(plan))
}

// ListPlans returns all of the caller's plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	plans, err := h.Engine.ListPlans(r.Context(), userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPlan returns a single plan owned by the caller.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	plan, err := h.Engine.GetPlan(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// ListEntries returns a plan's full ledger history.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	entries, err := h.Engine.ListEntries(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns the reconciliation summary for a plan.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	s, err := h.Engine.Summarize(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dto := SummaryDTO{
		Plan:           toPlanDTO(s.Plan),
		TotalDeposited: s.TotalDeposited.String(),
		TotalWithdrawn: s.TotalWithdrawn.String(),
		TotalCharges:   s.TotalCharges.String(),
		TotalPenalties: s.TotalPenalties.String(),
		Reconciled:     s.Reconciled,
	}
	if s.PendingDeposit != nil {
		e := toEntryDTO(s.PendingDeposit)
		dto.PendingDeposit = &e
	}
	if s.PendingWithdrawal != nil {
		e := toEntryDTO(s.PendingWithdrawal)
		dto.PendingWithdrawal = &e
	}
	writeJSON(w, http.StatusOK, dto)
}

// PausePlan suspends contributions to a plan.
func (h *Handler) PausePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req PausePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var resumeDate *time.Time
	if req.ResumeDate != "" {
		d, err := time.Parse("2006-01-02", req.ResumeDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid resume_date format (use YYYY-MM-DD)", err)
			return
		}
		resumeDate = &d
	}

	plan, err := h.Engine.PausePlan(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")), req.Reason, resumeDate)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// ResumePlan reactivates a paused plan.
func (h *Handler) ResumePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	plan, err := h.Engine.ResumePlan(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// CancelPlan cancels a zero-balance plan.
func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	plan, err := h.Engine.CancelPlan(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// =============================================================================
// DEPOSIT HANDLERS
// =============================================================================

// InitiateDeposit opens a checkout session for a deposit into a plan.
func (h *Handler) InitiateDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req InitiateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	intent, err := h.Engine.InitiateDeposit(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")), amount, req.PayerEmail)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, DepositIntentDTO{
		Entry:       toEntryDTO(intent.Entry),
		RedirectURL: intent.RedirectURL,
		Reference:   intent.Reference,
	})
}

// VerifyDeposit settles a deposit by its payment reference. Idempotent:
// verifying an already-settled deposit replays the recorded outcome.
func (h *Handler) VerifyDeposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	reference := chi.URLParam(r, "reference")
	outcome, err := h.Engine.VerifyDeposit(r.Context(), userID, reference)
	if errors.Is(err, savings.ErrGatewayDeclined) && outcome != nil {
		// A declined payment is a settled outcome, not an API failure.
		writeJSON(w, http.StatusOK, DepositOutcomeDTO{
			Entry:    toEntryDTO(outcome.Entry),
			Plan:     toPlanDTO(outcome.Plan),
			Credited: false,
		})
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, DepositOutcomeDTO{
		Entry:    toEntryDTO(outcome.Entry),
		Plan:     toPlanDTO(outcome.Plan),
		Credited: outcome.Credited,
	})
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

// RequestWithdrawal creates a pending withdrawal for administrative review.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req RequestWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	entry, err := h.Engine.RequestWithdrawal(r.Context(), userID, savings.PlanID(chi.URLParam(r, "id")), amount, req.Notes)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// ApproveWithdrawal completes a pending withdrawal and debits the plan.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.completeWithdrawal(w, r, savings.WithdrawalApproved)
}

// RejectWithdrawal fails a pending withdrawal; the balance is untouched.
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.completeWithdrawal(w, r, savings.WithdrawalRejected)
}

func (h *Handler) completeWithdrawal(w http.ResponseWriter, r *http.Request, outcome savings.WithdrawalOutcome) {
	var req CompleteWithdrawalRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	entry, err := h.Engine.CompleteWithdrawal(r.Context(), savings.EntryID(chi.URLParam(r, "id")), outcome, req.Notes)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerReconcile runs one reconciliation sweep immediately.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	if h.Sweeper == nil {
		writeError(w, http.StatusNotImplemented, "Reconciliation sweep not configured", nil)
		return
	}
	resolved, failed := h.Sweeper.Sweep(r.Context())
	writeJSON(w, http.StatusOK, SweepResultDTO{Resolved: resolved, Unresolved: failed})
}

// =============================================================================
// HELPERS
// =============================================================================

// callerID extracts the authenticated user from the request. Writes a 401
// and returns ok=false when the header is missing.
func callerID(w http.ResponseWriter, r *http.Request) (savings.UserID, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Missing X-User-ID header", nil)
		return "", false
	}
	return savings.UserID(id), true
}

func parseMoney(s string) (savings.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return savings.ZeroMoney(), err
	}
	return savings.Money{Value: d}, nil
}

// writeEngineError maps domain errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case savings.IsNotFound(err) || errors.Is(err, savings.ErrNotOwner):
		// Not-owner deliberately reads as not-found: resource existence is
		// not disclosed across users.
		writeError(w, http.StatusNotFound, "Not found", nil)
	case errors.Is(err, savings.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, savings.ErrGatewayDeclined):
		writeError(w, http.StatusPaymentRequired, "Payment declined", err)
	case errors.Is(err, savings.ErrPendingTransactionExists),
		errors.Is(err, savings.ErrStateConflict),
		errors.Is(err, savings.ErrDuplicatePlan),
		errors.Is(err, savings.ErrLimitExceeded):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, savings.ErrExceedsTarget),
		errors.Is(err, savings.ErrInsufficientBalance),
		errors.Is(err, savings.ErrNetAmountTooLow),
		errors.Is(err, savings.ErrPropertyUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "Request cannot be processed", err)
	case savings.IsRetryable(err):
		writeError(w, http.StatusBadGateway, "Payment gateway unavailable, retry later", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
