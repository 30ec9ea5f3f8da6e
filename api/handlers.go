/*
handlers.go - HTTP API handlers for the energy ledger

PURPOSE:
  Exposes the energy engine via REST. Handlers parse and validate HTTP
  input, delegate to the engine, and map engine errors to status codes.

ENDPOINTS:
  Periods:
    GET    /api/periods              List the catalogue
    POST   /api/periods              Append a period (dao/multisig)
    POST   /api/periods/batch        Append several periods in order
    PUT    /api/periods/{id}         Overwrite a period (dao/multisig)
    GET    /api/periods/{id}         Fetch one period
    GET    /api/periods/current      Period containing the current time

  Accounts:
    GET    /api/accounts/{address}/energy     Spendable balance
    GET    /api/accounts/{address}/bonus      Remaining bonus energy
    GET    /api/accounts/{address}/breakdown  All balance components
    POST   /api/accounts/{address}/spend      Debit energy (consumer role)
    POST   /api/accounts/{address}/history    Record a stake snapshot (controller)
    POST   /api/accounts/{address}/claimable  Record auction claimable (controller)

  Admin:
    POST   /api/admin/pause | /api/admin/unpause   (controller)
    POST   /api/admin/roles                        grant/revoke (controller)

  Audit:
    GET    /api/events

CALLER IDENTITY:
  Role-gated endpoints read the caller address from the X-Caller-Address
  header. There is no authentication layer in front of it; deployments are
  expected to terminate auth upstream.

ERROR MAPPING:
  invalid input          400
  unknown period/account 404 (only where a lookup is the operation itself)
  permission denied      403
  paused                 409
  anything else          500

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: routing and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/energy-ledger/energy"
	"github.com/warp/energy-ledger/store/sqlite"
)

// CallerHeader carries the caller identity for role-gated endpoints.
const CallerHeader = "X-Caller-Address"

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *energy.Engine
	Store   *sqlite.Store // ingestion surface (snapshots, claimables)
	Metrics *Metrics
	Clock   energy.Clock
}

// NewHandler creates a handler around an engine and its store.
func NewHandler(engine *energy.Engine, store *sqlite.Store, metrics *Metrics, clock energy.Clock) *Handler {
	if clock == nil {
		clock = energy.SystemClock{}
	}
	return &Handler{Engine: engine, Store: store, Metrics: metrics, Clock: clock}
}

func caller(r *http.Request) energy.Address {
	return energy.Address(r.Header.Get(CallerHeader))
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// ListPeriods returns the whole catalogue in id order.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	periods := h.Engine.Registry().All()
	dtos := make([]PeriodDTO, len(periods))
	for i, p := range periods {
		dtos[i] = periodDTO(energy.PeriodID(i+1), p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePeriod appends one period.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req PeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	p, err := periodFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	id, err := h.Engine.AddPeriod(r.Context(), caller(r), p)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, periodDTO(id, p))
}

// CreatePeriodBatch appends several periods in call order.
func (h *Handler) CreatePeriodBatch(w http.ResponseWriter, r *http.Request) {
	var req PeriodBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	periods := make([]energy.Period, len(req.Periods))
	for i, pr := range req.Periods {
		p, err := periodFromRequest(pr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		periods[i] = p
	}

	ids, err := h.Engine.AddPeriods(r.Context(), caller(r), periods)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]PeriodDTO, len(ids))
	for i, id := range ids {
		dtos[i] = periodDTO(id, periods[i])
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// UpdatePeriod overwrites the period at id.
func (h *Handler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := parsePeriodID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period id", err)
		return
	}

	var req PeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	p, err := periodFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.Engine.UpdatePeriod(r.Context(), caller(r), id, p); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, periodDTO(id, p))
}

// GetPeriod fetches one period by id.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := parsePeriodID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period id", err)
		return
	}

	p, err := h.Engine.Registry().Get(id)
	if errors.Is(err, energy.ErrInvalidPeriodID) {
		writeError(w, http.StatusNotFound, "invalid period id", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load period", err)
		return
	}
	writeJSON(w, http.StatusOK, periodDTO(id, p))
}

// GetCurrentPeriod returns the period containing the current time, or 404.
func (h *Handler) GetCurrentPeriod(w http.ResponseWriter, r *http.Request) {
	id := h.Engine.Registry().CurrentPeriodID(h.Clock.Now())
	if id == energy.InvalidPeriodID {
		writeError(w, http.StatusNotFound, "no period contains the current time", nil)
		return
	}
	p, err := h.Engine.Registry().Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load period", err)
		return
	}
	writeJSON(w, http.StatusOK, periodDTO(id, p))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// resolvePeriod picks the period id from the query string, defaulting to
// the current period.
func (h *Handler) resolvePeriod(r *http.Request) (energy.PeriodID, error) {
	q := r.URL.Query().Get("period")
	if q == "" {
		id := h.Engine.Registry().CurrentPeriodID(h.Clock.Now())
		if id == energy.InvalidPeriodID {
			return id, energy.ErrInvalidPeriodID
		}
		return id, nil
	}
	return parsePeriodID(q)
}

// GetEnergy returns the spendable balance.
func (h *Handler) GetEnergy(w http.ResponseWriter, r *http.Request) {
	account := energy.Address(chi.URLParam(r, "address"))
	periodID, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err)
		return
	}

	spendable, err := h.Engine.Energy(r.Context(), account, periodID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		Account:   string(account),
		PeriodID:  uint64(periodID),
		Spendable: spendable.String(),
	})
}

// GetBonus returns the remaining bonus energy.
func (h *Handler) GetBonus(w http.ResponseWriter, r *http.Request) {
	account := energy.Address(chi.URLParam(r, "address"))
	periodID, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err)
		return
	}

	remaining, err := h.Engine.RemainingBonus(r.Context(), account, periodID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		Account:   string(account),
		PeriodID:  uint64(periodID),
		Spendable: remaining.String(),
	})
}

// GetBreakdown returns every balance component.
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	account := energy.Address(chi.URLParam(r, "address"))
	periodID, err := h.resolvePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid period", err)
		return
	}

	b, err := h.Engine.Breakdown(r.Context(), account, periodID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdownDTO(b))
}

// Spend debits energy from the account.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	account := energy.Address(chi.URLParam(r, "address"))

	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	spent, err := h.Engine.UseEnergy(r.Context(), caller(r), account, energy.PeriodID(req.PeriodID), amount)
	if err != nil {
		if h.Metrics != nil && energy.IsClientError(err) {
			h.Metrics.SpendsRejected.Inc()
		}
		writeEngineError(w, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.ObserveSpend(energy.SourceBonus, spent.Bonus)
		h.Metrics.ObserveSpend(energy.SourcePrimary, spent.Primary)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bonus_spent":   spent.Bonus.String(),
		"primary_spent": spent.Primary.String(),
	})
}

// AddSnapshot records a staking balance snapshot. Controller only.
func (h *Handler) AddSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.Engine.Access().HasRole(energy.RoleController, caller(r)) {
		writeError(w, http.StatusForbidden, "permission denied", nil)
		return
	}
	account := energy.Address(chi.URLParam(r, "address"))
	if account.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid address", nil)
		return
	}

	var req SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	asset := energy.AssetClass(req.Asset)
	if asset != energy.AssetToken && asset != energy.AssetLPToken {
		writeError(w, http.StatusBadRequest, "unknown asset class", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	point := energy.BalancePoint{Timestamp: req.Timestamp, Amount: amount}
	if err := h.Store.AddSnapshot(r.Context(), asset, account, point); err != nil {
		writeError(w, http.StatusConflict, "snapshot already recorded", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// SetClaimable records the account's bootstrap-auction claimable snapshot.
// Controller only.
func (h *Handler) SetClaimable(w http.ResponseWriter, r *http.Request) {
	if !h.Engine.Access().HasRole(energy.RoleController, caller(r)) {
		writeError(w, http.StatusForbidden, "permission denied", nil)
		return
	}
	account := energy.Address(chi.URLParam(r, "address"))
	if account.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid address", nil)
		return
	}

	var req ClaimableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	if err := h.Store.SetClaimable(r.Context(), account, amount); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record claimable", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Pause halts mutating operations.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Pause(r.Context(), caller(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Unpause resumes mutating operations.
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Unpause(r.Context(), caller(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// ChangeRole grants or revokes a role.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	role := energy.Role(req.Role)
	principal := energy.Address(req.Principal)
	var err error
	switch req.Action {
	case "grant":
		err = h.Engine.GrantRole(r.Context(), caller(r), role, principal)
	case "revoke":
		err = h.Engine.RevokeRole(r.Context(), caller(r), role, principal)
	default:
		writeError(w, http.StatusBadRequest, "action must be grant or revoke", nil)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListEvents returns audit events, optionally filtered by type and account.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var filter energy.EventFilter
	if t := r.URL.Query().Get("type"); t != "" {
		filter.Types = []energy.EventType{energy.EventType(t)}
	}
	if a := r.URL.Query().Get("account"); a != "" {
		addr := energy.Address(a)
		filter.Account = &addr
	}

	events, err := h.Store.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query events", err)
		return
	}

	dtos := make([]EventDTO, len(events))
	for i, ev := range events {
		dtos[i] = eventDTO(ev)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness and the pause state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"paused": h.Engine.Lifecycle().IsPaused(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func periodFromRequest(req PeriodRequest) (energy.Period, error) {
	token, err := decimal.NewFromString(req.TokenMultiplier)
	if err != nil {
		return energy.Period{}, errors.New("invalid token_multiplier")
	}
	lp, err := decimal.NewFromString(req.LPMultiplier)
	if err != nil {
		return energy.Period{}, errors.New("invalid lp_multiplier")
	}
	bonus, err := decimal.NewFromString(req.BonusMultiplier)
	if err != nil {
		return energy.Period{}, errors.New("invalid bonus_multiplier")
	}
	return energy.Period{
		Start:           req.Start,
		End:             req.End,
		TokenMultiplier: token,
		LPMultiplier:    lp,
		BonusMultiplier: bonus,
	}, nil
}

func parsePeriodID(s string) (energy.PeriodID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return energy.InvalidPeriodID, err
	}
	return energy.PeriodID(id), nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, energy.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, energy.ErrPaused):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case energy.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		log.Printf("[API] %s: %v", msg, err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
