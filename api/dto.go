/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY ENCODING:
  All monetary fields are decimal strings in major units ("39200",
  "1960.5"). Clients must not parse them as floats.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/hearth/savings-engine/savings"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreatePlanRequest creates a new savings plan. Exactly one of property_id
// and external_property must be set.
type CreatePlanRequest struct {
	Name             string `json:"name"`
	TargetAmount     string `json:"target_amount"`
	DueDate          string `json:"due_date"` // YYYY-MM-DD
	PropertyID       string `json:"property_id,omitempty"`
	ExternalProperty string `json:"external_property,omitempty"`
}

// InitiateDepositRequest opens a checkout session for a deposit.
type InitiateDepositRequest struct {
	Amount     string `json:"amount"`
	PayerEmail string `json:"payer_email"`
}

// RequestWithdrawalRequest asks for a payout from a plan's balance.
type RequestWithdrawalRequest struct {
	Amount string `json:"amount"`
	Notes  string `json:"notes,omitempty"`
}

// CompleteWithdrawalRequest is the administrative review verdict.
type CompleteWithdrawalRequest struct {
	Notes string `json:"notes,omitempty"`
}

// PausePlanRequest suspends contributions to a plan.
type PausePlanRequest struct {
	Reason     string `json:"reason"`
	ResumeDate string `json:"resume_date,omitempty"` // YYYY-MM-DD
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// PlanDTO represents a savings plan in API responses.
type PlanDTO struct {
	ID                 string  `json:"id"`
	UserID             string  `json:"user_id"`
	Name               string  `json:"name"`
	PropertyID         *string `json:"property_id,omitempty"`
	ExternalProperty   string  `json:"external_property,omitempty"`
	TargetAmount       string  `json:"target_amount"`
	CurrentAmount      string  `json:"current_amount"`
	Remaining          string  `json:"remaining"`
	DueDate            string  `json:"due_date"`
	Status             string  `json:"status"`
	DepositChargePct   string  `json:"deposit_charge_percent"`
	EarlyWithdrawalPct string  `json:"early_withdrawal_penalty_percent"`
	PauseReason        string  `json:"pause_reason,omitempty"`
	ResumeDate         *string `json:"resume_date,omitempty"`
	CreatedAt          string  `json:"created_at"`
	UpdatedAt          string  `json:"updated_at"`
}

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID               string `json:"id"`
	PlanID           string `json:"plan_id"`
	Type             string `json:"type"`
	Status           string `json:"status"`
	Amount           string `json:"amount"`
	ChargeAmount     string `json:"charge_amount"`
	PenaltyAmount    string `json:"penalty_amount"`
	NetAmount        string `json:"net_amount"`
	EarlyWithdrawal  bool   `json:"early_withdrawal"`
	PaymentReference string `json:"payment_reference,omitempty"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// DepositIntentDTO is returned by deposit initiation: the pending entry plus
// the checkout redirect.
type DepositIntentDTO struct {
	Entry       EntryDTO `json:"entry"`
	RedirectURL string   `json:"redirect_url"`
	Reference   string   `json:"reference"`
}

// DepositOutcomeDTO is returned by deposit verification.
type DepositOutcomeDTO struct {
	Entry    EntryDTO `json:"entry"`
	Plan     PlanDTO  `json:"plan"`
	Credited bool     `json:"credited"`
}

// SummaryDTO ties a plan's balance back to its completed entries.
type SummaryDTO struct {
	Plan              PlanDTO   `json:"plan"`
	TotalDeposited    string    `json:"total_deposited"`
	TotalWithdrawn    string    `json:"total_withdrawn"`
	TotalCharges      string    `json:"total_charges"`
	TotalPenalties    string    `json:"total_penalties"`
	PendingDeposit    *EntryDTO `json:"pending_deposit,omitempty"`
	PendingWithdrawal *EntryDTO `json:"pending_withdrawal,omitempty"`
	Reconciled        bool      `json:"reconciled"`
}

// SweepResultDTO reports one reconciliation pass.
type SweepResultDTO struct {
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toPlanDTO(p *savings.SavingsPlan) PlanDTO {
	dto := PlanDTO{
		ID:                 string(p.ID),
		UserID:             string(p.UserID),
		Name:               p.Name,
		ExternalProperty:   p.ExternalProperty,
		TargetAmount:       p.TargetAmount.String(),
		CurrentAmount:      p.CurrentAmount.String(),
		Remaining:          p.Remaining().String(),
		DueDate:            p.DueDate.Format("2006-01-02"),
		Status:             string(p.Status),
		DepositChargePct:   p.DepositChargePercent.Value.String(),
		EarlyWithdrawalPct: p.EarlyWithdrawalPenaltyPercent.Value.String(),
		PauseReason:        p.PauseReason,
		CreatedAt:          p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          p.UpdatedAt.Format(time.RFC3339),
	}
	if p.PropertyID != nil {
		id := string(*p.PropertyID)
		dto.PropertyID = &id
	}
	if p.ResumeDate != nil {
		d := p.ResumeDate.Format("2006-01-02")
		dto.ResumeDate = &d
	}
	return dto
}

func toEntryDTO(e *savings.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:               string(e.ID),
		PlanID:           string(e.PlanID),
		Type:             string(e.Type),
		Status:           string(e.Status),
		Amount:           e.Amount.String(),
		ChargeAmount:     e.ChargeAmount.String(),
		PenaltyAmount:    e.PenaltyAmount.String(),
		NetAmount:        e.NetAmount.String(),
		EarlyWithdrawal:  e.EarlyWithdrawal,
		PaymentReference: e.PaymentReference,
		Notes:            e.Notes,
		CreatedAt:        e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        e.UpdatedAt.Format(time.RFC3339),
	}
}
