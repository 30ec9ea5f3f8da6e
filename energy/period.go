/*
period.go - Period catalogue

PURPOSE:
  Periods are the time windows that scope energy accrual. Each carries its
  own multipliers for the two staking asset classes plus the bonus stream.
  The Registry is an ordered, append/update-only catalogue: ids are dense,
  1-based, assigned in call order, and nothing is ever deleted.

DELIBERATE NON-VALIDATION:
  The registry does not check Start < End, contiguity, or overlap. Callers
  own period shape. For overlapping windows, CurrentPeriodID returns the
  FIRST match in id order - downstream consumers depend on this tie-break,
  so it must not be "fixed" to latest-match or narrowest-match.

SEE ALSO:
  - accrual.go: uses Period.End to clamp accrual time
  - engine.go:  resolves periods for every balance calculation
*/
package energy

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD - A time window with accrual multipliers
// =============================================================================

// Period is a half-open time window [Start, End) with the multipliers
// applied to each credit stream while the window scopes the calculation.
type Period struct {
	Start int64
	End   int64

	// TokenMultiplier scales accrual from the primary staking token.
	TokenMultiplier decimal.Decimal

	// LPMultiplier scales accrual from the liquidity-pool token.
	LPMultiplier decimal.Decimal

	// BonusMultiplier scales the bootstrap-auction bonus stream.
	BonusMultiplier decimal.Decimal
}

// Contains reports whether t falls inside the half-open window [Start, End).
func (p Period) Contains(t int64) bool {
	return t >= p.Start && t < p.End
}

// MultiplierFor returns the accrual multiplier for an asset class.
func (p Period) MultiplierFor(asset AssetClass) decimal.Decimal {
	if asset == AssetLPToken {
		return p.LPMultiplier
	}
	return p.TokenMultiplier
}

// =============================================================================
// PERIOD STORE - Persistence behind the registry
// =============================================================================

// PeriodStore persists the catalogue. The registry is the single writer;
// stores only need durable save/load, not validation.
type PeriodStore interface {
	// SavePeriod inserts or overwrites the period at id.
	SavePeriod(ctx context.Context, id PeriodID, p Period) error

	// SavePeriods persists a batch starting at firstID, atomically:
	// either all rows land or none do.
	SavePeriods(ctx context.Context, firstID PeriodID, periods []Period) error

	// LoadPeriods returns all periods ordered by id (dense from 1).
	LoadPeriods(ctx context.Context) ([]Period, error)
}

// =============================================================================
// REGISTRY - Ordered, append/update catalogue
// =============================================================================

// Registry holds the period catalogue. All writers are serialized by the
// internal lock; reads see a consistent snapshot.
type Registry struct {
	mu      sync.RWMutex
	periods []Period

	store  PeriodStore // optional write-through persistence
	events EventLog    // optional audit log
	clock  Clock
}

// NewRegistry creates a registry, loading any previously persisted periods
// from store. Both store and events may be nil (pure in-memory registry).
func NewRegistry(ctx context.Context, store PeriodStore, events EventLog, clock Clock) (*Registry, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	r := &Registry{store: store, events: events, clock: clock}
	if store != nil {
		periods, err := store.LoadPeriods(ctx)
		if err != nil {
			return nil, err
		}
		r.periods = periods
	}
	return r, nil
}

// Count returns the number of periods; valid ids are 1..Count.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.periods)
}

// Append stores a new period under the next sequential id and returns the
// id. The period's fields are not validated.
func (r *Registry) Append(ctx context.Context, p Period) (PeriodID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := PeriodID(len(r.periods) + 1)
	if r.store != nil {
		if err := r.store.SavePeriod(ctx, id, p); err != nil {
			return InvalidPeriodID, err
		}
	}
	r.periods = append(r.periods, p)
	r.emitPeriodEvent(ctx, EventPeriodAdded, id, p)
	return id, nil
}

// AppendBatch appends each period in order and returns the assigned ids.
// The batch is atomic: a persistence failure leaves the catalogue unchanged.
func (r *Registry) AppendBatch(ctx context.Context, periods []Period) ([]PeriodID, error) {
	if len(periods) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	firstID := PeriodID(len(r.periods) + 1)
	if r.store != nil {
		if err := r.store.SavePeriods(ctx, firstID, periods); err != nil {
			return nil, err
		}
	}

	ids := make([]PeriodID, len(periods))
	for i, p := range periods {
		id := firstID + PeriodID(i)
		r.periods = append(r.periods, p)
		ids[i] = id
		r.emitPeriodEvent(ctx, EventPeriodAdded, id, p)
	}
	return ids, nil
}

// Update overwrites the period at id. Fails with ErrInvalidPeriodID when
// id is 0 or beyond the counter.
func (r *Registry) Update(ctx context.Context, id PeriodID, p Period) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == InvalidPeriodID || int(id) > len(r.periods) {
		return ErrInvalidPeriodID
	}
	if r.store != nil {
		if err := r.store.SavePeriod(ctx, id, p); err != nil {
			return err
		}
	}
	r.periods[id-1] = p
	r.emitPeriodEvent(ctx, EventPeriodUpdated, id, p)
	return nil
}

// Get returns a copy of the period at id, or ErrInvalidPeriodID.
func (r *Registry) Get(id PeriodID) (Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id == InvalidPeriodID || int(id) > len(r.periods) {
		return Period{}, ErrInvalidPeriodID
	}
	return r.periods[id-1], nil
}

// All returns a copy of the catalogue in id order.
func (r *Registry) All() []Period {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Period, len(r.periods))
	copy(out, r.periods)
	return out
}

// CurrentPeriodID returns the id of the first period (lowest id) whose
// window contains now, or InvalidPeriodID when none does. Linear scan in id
// order: for overlapping windows the earliest-created period wins.
func (r *Registry) CurrentPeriodID(now int64) PeriodID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, p := range r.periods {
		if p.Contains(now) {
			return PeriodID(i + 1)
		}
	}
	return InvalidPeriodID
}

func (r *Registry) emitPeriodEvent(ctx context.Context, t EventType, id PeriodID, p Period) {
	if r.events == nil {
		return
	}
	ev := newEvent(t, r.clock.Now())
	ev.PeriodID = id
	ev.Detail = map[string]string{
		"start":            strconv.FormatInt(p.Start, 10),
		"end":              strconv.FormatInt(p.End, 10),
		"token_multiplier": p.TokenMultiplier.String(),
		"lp_multiplier":    p.LPMultiplier.String(),
		"bonus_multiplier": p.BonusMultiplier.String(),
	}
	// Audit only: a failed event write must not roll back a committed
	// catalogue change.
	_ = r.events.Append(ctx, ev)
}
