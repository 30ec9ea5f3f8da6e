/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures decoupling the engine's domain model from the HTTP
  contract. Amounts and multipliers travel as decimal strings, timestamps
  as unix seconds.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Handlers validate; DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/energy-ledger/energy"
)

// =============================================================================
// PERIODS
// =============================================================================

// PeriodDTO represents a catalogue entry in API responses.
type PeriodDTO struct {
	ID              uint64 `json:"id"`
	Start           int64  `json:"start"`
	End             int64  `json:"end"`
	TokenMultiplier string `json:"token_multiplier"`
	LPMultiplier    string `json:"lp_multiplier"`
	BonusMultiplier string `json:"bonus_multiplier"`
}

// PeriodRequest is the body for period create/update calls.
type PeriodRequest struct {
	Start           int64  `json:"start"`
	End             int64  `json:"end"`
	TokenMultiplier string `json:"token_multiplier"`
	LPMultiplier    string `json:"lp_multiplier"`
	BonusMultiplier string `json:"bonus_multiplier"`
}

// PeriodBatchRequest appends several periods in call order.
type PeriodBatchRequest struct {
	Periods []PeriodRequest `json:"periods"`
}

func periodDTO(id energy.PeriodID, p energy.Period) PeriodDTO {
	return PeriodDTO{
		ID:              uint64(id),
		Start:           p.Start,
		End:             p.End,
		TokenMultiplier: p.TokenMultiplier.String(),
		LPMultiplier:    p.LPMultiplier.String(),
		BonusMultiplier: p.BonusMultiplier.String(),
	}
}

// =============================================================================
// BALANCES
// =============================================================================

// BalanceDTO is the spendable-balance answer for one account and period.
type BalanceDTO struct {
	Account   string `json:"account"`
	PeriodID  uint64 `json:"period_id"`
	Spendable string `json:"spendable"`
}

// BreakdownDTO exposes every component behind a spendable balance.
type BreakdownDTO struct {
	Account         string `json:"account"`
	PeriodID        uint64 `json:"period_id"`
	Accrued         string `json:"accrued"`
	ConsumedPrimary string `json:"consumed_primary"`
	AvailableBonus  string `json:"available_bonus"`
	ConsumedBonus   string `json:"consumed_bonus"`
	RemainingBonus  string `json:"remaining_bonus"`
	Spendable       string `json:"spendable"`
}

func breakdownDTO(b energy.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		Account:         string(b.Account),
		PeriodID:        uint64(b.PeriodID),
		Accrued:         b.Accrued.String(),
		ConsumedPrimary: b.ConsumedPrimary.String(),
		AvailableBonus:  b.AvailableBonus.String(),
		ConsumedBonus:   b.ConsumedBonus.String(),
		RemainingBonus:  b.RemainingBonus.String(),
		Spendable:       b.Spendable.String(),
	}
}

// =============================================================================
// SPENDING & INGESTION
// =============================================================================

// SpendRequest debits an account's energy for a period.
type SpendRequest struct {
	PeriodID uint64 `json:"period_id"`
	Amount   string `json:"amount"`
}

// SnapshotRequest records a staking balance snapshot.
type SnapshotRequest struct {
	Asset     string `json:"asset"`
	Timestamp int64  `json:"timestamp"`
	Amount    string `json:"amount"`
}

// ClaimableRequest records an account's bootstrap-auction claimable.
type ClaimableRequest struct {
	Amount string `json:"amount"`
}

// =============================================================================
// ADMIN
// =============================================================================

// RoleRequest grants or revokes a role.
type RoleRequest struct {
	Action    string `json:"action"` // "grant" or "revoke"
	Role      string `json:"role"`
	Principal string `json:"principal"`
}

// =============================================================================
// EVENTS
// =============================================================================

// EventDTO is one audit record.
type EventDTO struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	At       int64             `json:"at"`
	Account  string            `json:"account,omitempty"`
	PeriodID uint64            `json:"period_id,omitempty"`
	Amount   string            `json:"amount,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
}

func eventDTO(ev energy.Event) EventDTO {
	dto := EventDTO{
		ID:       ev.ID,
		Type:     string(ev.Type),
		At:       ev.At,
		Account:  string(ev.Account),
		PeriodID: uint64(ev.PeriodID),
		Detail:   ev.Detail,
	}
	if !ev.Amount.IsZero() {
		dto.Amount = ev.Amount.String()
	}
	return dto
}
