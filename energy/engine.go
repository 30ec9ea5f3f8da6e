/*
engine.go - Spend orchestration

PURPOSE:
  The Engine combines the period registry, the staking history provider,
  the bootstrap-auction provider, and the two consumed-amount ledgers into
  account-level balances, and applies spends across the two credit sources
  in a fixed priority order: bonus energy is always depleted before primary
  energy.

BALANCE FORMULA:
  Energy(account, period) =
        CalculateEnergy(account, period)   accrued from staking history
      - consumedPrimary(account)           already spent primary energy
      + RemainingBonus(account, period)    accrued-minus-spent bonus

  The primary term must never go negative: UseEnergy is the only writer of
  the consumed counters and it validates before mutating, so a negative net
  means the ledger was corrupted and the engine fails loudly
  (ErrLedgerUnderflow) instead of clamping or wrapping.

SPEND ALGORITHM (UseEnergy):
  1. Reject while paused; reject callers without the consumer role.
  2. Reject the zero address, an invalid period id, a non-positive amount.
  3. Reject amount > Energy(account, period). No partial spend.
  4. bonusToSpend = min(amount, RemainingBonus); remainder goes to primary.
  5. Apply both counter increments (atomically when the ledgers support
     AtomicSpender), then emit one event per touched source.

CONCURRENCY:
  All spends are serialized by a single engine lock. Balance reads are pure
  recomputations over monotonically growing inputs and take no lock.
*/
package energy

import (
	"context"
	"log"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config binds the engine to its collaborators. All fields except Clock,
// Events, Access, and Lifecycle are required; binding happens exactly once,
// at construction.
type Config struct {
	Registry *Registry
	History  HistoryProvider
	Auction  AuctionProvider

	// PrimaryLedger and BonusLedger are the two consumed-amount counters.
	PrimaryLedger ConsumedLedger
	BonusLedger   ConsumedLedger

	// Spender optionally applies both increments of a spend atomically.
	// Typically the store backing both ledgers.
	Spender AtomicSpender

	Access    *AccessControl
	Lifecycle *Lifecycle
	Events    EventLog
	Clock     Clock
}

// Engine orchestrates balance calculation and consumption.
type Engine struct {
	registry *Registry
	history  HistoryProvider
	auction  AuctionProvider
	primary  ConsumedLedger
	bonus    ConsumedLedger
	spender  AtomicSpender

	access    *AccessControl
	lifecycle *Lifecycle
	events    EventLog
	clock     Clock

	// spendMu serializes all spends: a single writer at a time over the two
	// consumed counters, matching the serialized transaction model the
	// balance formula assumes.
	spendMu sync.Mutex
}

// New validates the configuration and returns the engine. A missing
// required collaborator yields ErrNotConfigured and nothing is committed.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil || cfg.History == nil || cfg.Auction == nil ||
		cfg.PrimaryLedger == nil || cfg.BonusLedger == nil {
		return nil, ErrNotConfigured
	}
	if cfg.Access == nil {
		cfg.Access = NewAccessControl()
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = NewLifecycle()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Engine{
		registry:  cfg.Registry,
		history:   cfg.History,
		auction:   cfg.Auction,
		primary:   cfg.PrimaryLedger,
		bonus:     cfg.BonusLedger,
		spender:   cfg.Spender,
		access:    cfg.Access,
		lifecycle: cfg.Lifecycle,
		events:    cfg.Events,
		clock:     cfg.Clock,
	}, nil
}

// Registry exposes the period catalogue for the API layer.
func (e *Engine) Registry() *Registry { return e.registry }

// Access exposes role membership for the API layer.
func (e *Engine) Access() *AccessControl { return e.access }

// Lifecycle exposes the pause gate for the API layer.
func (e *Engine) Lifecycle() *Lifecycle { return e.lifecycle }

// =============================================================================
// BALANCE CALCULATION (read-only, pure over persisted state)
// =============================================================================

// CalculateEnergy returns the energy accrued from staking history for the
// account within the period, with accrual time clamped to the period end so
// snapshots never accrue beyond the period boundary.
func (e *Engine) CalculateEnergy(ctx context.Context, account Address, periodID PeriodID) (decimal.Decimal, error) {
	if account.IsZero() {
		return decimal.Zero, ErrInvalidAddress
	}
	period, err := e.registry.Get(periodID)
	if err != nil {
		return decimal.Zero, err
	}

	asOf := minTime(e.clock.Now(), period.End)

	total := decimal.Zero
	for _, asset := range AssetClasses {
		history, err := e.history.History(ctx, asset, account, asOf)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(EnergyForAsset(history, period.MultiplierFor(asset), asOf))
	}
	return total, nil
}

// AvailableBonus returns the total bonus energy accrued by now for the
// account under the period's bonus multiplier, ignoring consumption.
func (e *Engine) AvailableBonus(ctx context.Context, account Address, periodID PeriodID) (decimal.Decimal, error) {
	if account.IsZero() {
		return decimal.Zero, ErrInvalidAddress
	}
	period, err := e.registry.Get(periodID)
	if err != nil {
		return decimal.Zero, err
	}

	release, err := e.auction.ReleaseTime(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	claimable, err := e.auction.ClaimableAmount(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	return BonusFor(claimable, period.BonusMultiplier, release, e.clock.Now()), nil
}

// RemainingBonus returns AvailableBonus minus the consumed bonus counter,
// floored at zero.
func (e *Engine) RemainingBonus(ctx context.Context, account Address, periodID PeriodID) (decimal.Decimal, error) {
	available, err := e.AvailableBonus(ctx, account, periodID)
	if err != nil {
		return decimal.Zero, err
	}
	consumed, err := e.bonus.Consumed(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	remaining := available.Sub(consumed)
	if remaining.IsNegative() {
		return decimal.Zero, nil
	}
	return remaining, nil
}

// Energy returns the spendable balance:
// accrued - consumedPrimary + remainingBonus.
func (e *Engine) Energy(ctx context.Context, account Address, periodID PeriodID) (decimal.Decimal, error) {
	breakdown, err := e.Breakdown(ctx, account, periodID)
	if err != nil {
		return decimal.Zero, err
	}
	return breakdown.Spendable, nil
}

// Breakdown reports the components behind a spendable balance.
type Breakdown struct {
	Account         Address
	PeriodID        PeriodID
	Accrued         decimal.Decimal // primary energy accrued from history
	ConsumedPrimary decimal.Decimal
	AvailableBonus  decimal.Decimal
	ConsumedBonus   decimal.Decimal
	RemainingBonus  decimal.Decimal
	Spendable       decimal.Decimal
}

// Breakdown computes all balance components for the account and period.
func (e *Engine) Breakdown(ctx context.Context, account Address, periodID PeriodID) (Breakdown, error) {
	accrued, err := e.CalculateEnergy(ctx, account, periodID)
	if err != nil {
		return Breakdown{}, err
	}
	consumedPrimary, err := e.primary.Consumed(ctx, account)
	if err != nil {
		return Breakdown{}, err
	}
	net := accrued.Sub(consumedPrimary)
	if net.IsNegative() {
		return Breakdown{}, ErrLedgerUnderflow
	}

	availableBonus, err := e.AvailableBonus(ctx, account, periodID)
	if err != nil {
		return Breakdown{}, err
	}
	consumedBonus, err := e.bonus.Consumed(ctx, account)
	if err != nil {
		return Breakdown{}, err
	}
	remainingBonus := availableBonus.Sub(consumedBonus)
	if remainingBonus.IsNegative() {
		remainingBonus = decimal.Zero
	}

	return Breakdown{
		Account:         account,
		PeriodID:        periodID,
		Accrued:         accrued,
		ConsumedPrimary: consumedPrimary,
		AvailableBonus:  availableBonus,
		ConsumedBonus:   consumedBonus,
		RemainingBonus:  remainingBonus,
		Spendable:       net.Add(remainingBonus),
	}, nil
}

// =============================================================================
// CONSUMPTION
// =============================================================================

// Spent reports how a single spend split across the two credit sources.
// Bonus + Primary always equals the requested amount.
type Spent struct {
	Bonus   decimal.Decimal
	Primary decimal.Decimal
}

// UseEnergy spends amount from the account's balance for the period,
// depleting bonus energy before primary energy, and returns the split.
// Only callers holding the consumer role may spend, and only while
// unpaused. The spend is all-or-nothing: every validation failure leaves
// both counters untouched.
func (e *Engine) UseEnergy(ctx context.Context, caller, account Address, periodID PeriodID, amount decimal.Decimal) (Spent, error) {
	if err := e.lifecycle.Guard(); err != nil {
		return Spent{}, err
	}
	if err := e.access.require(RoleConsumer, caller); err != nil {
		return Spent{}, err
	}
	if account.IsZero() {
		return Spent{}, ErrInvalidAddress
	}
	if !amount.IsPositive() {
		return Spent{}, ErrInvalidAmount
	}

	e.spendMu.Lock()
	defer e.spendMu.Unlock()

	breakdown, err := e.Breakdown(ctx, account, periodID)
	if err != nil {
		return Spent{}, err
	}
	if amount.GreaterThan(breakdown.Spendable) {
		return Spent{}, &InsufficientEnergyError{
			Account:   account,
			PeriodID:  periodID,
			Available: breakdown.Spendable,
			Requested: amount,
		}
	}

	// Bonus first, always.
	bonusToSpend := decimal.Min(amount, breakdown.RemainingBonus)
	remainder := amount.Sub(bonusToSpend)

	if err := e.applySpend(ctx, account, bonusToSpend, remainder); err != nil {
		return Spent{}, err
	}

	now := e.clock.Now()
	if bonusToSpend.IsPositive() {
		e.emitSpend(ctx, EventBonusEnergyUsed, account, periodID, bonusToSpend, now)
	}
	if remainder.IsPositive() {
		e.emitSpend(ctx, EventPrimaryEnergyUsed, account, periodID, remainder, now)
	}
	return Spent{Bonus: bonusToSpend, Primary: remainder}, nil
}

// applySpend writes the counter increments, atomically when possible.
func (e *Engine) applySpend(ctx context.Context, account Address, bonusDelta, primaryDelta decimal.Decimal) error {
	if e.spender != nil {
		return e.spender.Spend(ctx, account, bonusDelta, primaryDelta)
	}
	if bonusDelta.IsPositive() {
		if err := e.bonus.IncreaseConsumed(ctx, account, bonusDelta); err != nil {
			return err
		}
	}
	if primaryDelta.IsPositive() {
		return e.primary.IncreaseConsumed(ctx, account, primaryDelta)
	}
	return nil
}

func (e *Engine) emitSpend(ctx context.Context, t EventType, account Address, periodID PeriodID, amount decimal.Decimal, at int64) {
	if e.events == nil {
		return
	}
	ev := newEvent(t, at)
	ev.Account = account
	ev.PeriodID = periodID
	ev.Amount = amount
	if err := e.events.Append(ctx, ev); err != nil {
		// The spend is committed; losing the audit record is logged, not
		// propagated.
		log.Printf("[Engine] audit event %s dropped: %v", t, err)
	}
}

// =============================================================================
// PERIOD ADMINISTRATION (dao/multisig-gated)
// =============================================================================

// requireScheduleRole admits dao or multisig callers.
func (e *Engine) requireScheduleRole(caller Address) error {
	if e.access.HasRole(RoleDAO, caller) || e.access.HasRole(RoleMultisig, caller) {
		return nil
	}
	return &PermissionError{Caller: caller, Role: RoleDAO}
}

// AddPeriod appends a period to the catalogue. DAO or multisig only, and
// only while unpaused.
func (e *Engine) AddPeriod(ctx context.Context, caller Address, p Period) (PeriodID, error) {
	if err := e.lifecycle.Guard(); err != nil {
		return InvalidPeriodID, err
	}
	if err := e.requireScheduleRole(caller); err != nil {
		return InvalidPeriodID, err
	}
	return e.registry.Append(ctx, p)
}

// AddPeriods appends a batch of periods in call order.
func (e *Engine) AddPeriods(ctx context.Context, caller Address, periods []Period) ([]PeriodID, error) {
	if err := e.lifecycle.Guard(); err != nil {
		return nil, err
	}
	if err := e.requireScheduleRole(caller); err != nil {
		return nil, err
	}
	return e.registry.AppendBatch(ctx, periods)
}

// UpdatePeriod overwrites the period at id.
func (e *Engine) UpdatePeriod(ctx context.Context, caller Address, id PeriodID, p Period) error {
	if err := e.lifecycle.Guard(); err != nil {
		return err
	}
	if err := e.requireScheduleRole(caller); err != nil {
		return err
	}
	return e.registry.Update(ctx, id, p)
}

// =============================================================================
// ADMINISTRATION (controller-gated)
// =============================================================================

// Pause halts all mutating operations. Controller only.
func (e *Engine) Pause(ctx context.Context, caller Address) error {
	if err := e.access.require(RoleController, caller); err != nil {
		return err
	}
	e.lifecycle.Pause()
	e.emitAdmin(ctx, EventPaused, caller, "", "")
	return nil
}

// Unpause resumes mutating operations. Controller only.
func (e *Engine) Unpause(ctx context.Context, caller Address) error {
	if err := e.access.require(RoleController, caller); err != nil {
		return err
	}
	e.lifecycle.Unpause()
	e.emitAdmin(ctx, EventUnpaused, caller, "", "")
	return nil
}

// GrantRole gives principal the role. Controller only; pause does not block
// role rotation (the controller must be able to rotate a compromised
// consumer while paused).
func (e *Engine) GrantRole(ctx context.Context, caller Address, role Role, principal Address) error {
	if err := e.access.require(RoleController, caller); err != nil {
		return err
	}
	if err := e.access.Grant(role, principal); err != nil {
		return err
	}
	e.emitAdmin(ctx, EventRoleGranted, principal, role, "")
	return nil
}

// RevokeRole removes the role from principal. Controller only.
func (e *Engine) RevokeRole(ctx context.Context, caller Address, role Role, principal Address) error {
	if err := e.access.require(RoleController, caller); err != nil {
		return err
	}
	e.access.Revoke(role, principal)
	e.emitAdmin(ctx, EventRoleRevoked, principal, role, "")
	return nil
}

func (e *Engine) emitAdmin(ctx context.Context, t EventType, account Address, role Role, note string) {
	if e.events == nil {
		return
	}
	ev := newEvent(t, e.clock.Now())
	ev.Account = account
	if role != "" || note != "" {
		ev.Detail = map[string]string{}
		if role != "" {
			ev.Detail["role"] = string(role)
		}
		if note != "" {
			ev.Detail["note"] = note
		}
	}
	if err := e.events.Append(ctx, ev); err != nil {
		log.Printf("[Engine] audit event %s dropped: %v", t, err)
	}
}
