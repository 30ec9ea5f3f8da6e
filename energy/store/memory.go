// Package store provides in-memory implementations of the energy engine's
// collaborator interfaces, for tests and development. The persistent
// implementations live in store/sqlite.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/energy-ledger/energy"
)

// =============================================================================
// MEMORY HISTORY - staking balance snapshots
// =============================================================================

// MemoryHistory implements energy.HistoryProvider over an in-memory map.
type MemoryHistory struct {
	mu        sync.RWMutex
	snapshots map[historyKey][]energy.BalancePoint
}

type historyKey struct {
	Asset   energy.AssetClass
	Account energy.Address
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{snapshots: make(map[historyKey][]energy.BalancePoint)}
}

// AddSnapshot records a balance point, keeping the timeline time-ascending
// regardless of insertion order.
func (m *MemoryHistory) AddSnapshot(asset energy.AssetClass, account energy.Address, point energy.BalancePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := historyKey{Asset: asset, Account: account}
	points := m.snapshots[k]

	i := sort.Search(len(points), func(i int) bool {
		return points[i].Timestamp > point.Timestamp
	})
	points = append(points, energy.BalancePoint{})
	copy(points[i+1:], points[i:])
	points[i] = point
	m.snapshots[k] = points
}

func (m *MemoryHistory) History(_ context.Context, asset energy.AssetClass, account energy.Address, asOf int64) ([]energy.BalancePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []energy.BalancePoint
	for _, p := range m.snapshots[historyKey{Asset: asset, Account: account}] {
		if p.Timestamp <= asOf {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// MEMORY AUCTION - bootstrap-auction fixture
// =============================================================================

// MemoryAuction implements energy.AuctionProvider with settable data.
type MemoryAuction struct {
	mu        sync.RWMutex
	release   int64
	claimable map[energy.Address]decimal.Decimal
}

func NewMemoryAuction(releaseTime int64) *MemoryAuction {
	return &MemoryAuction{
		release:   releaseTime,
		claimable: make(map[energy.Address]decimal.Decimal),
	}
}

func (m *MemoryAuction) SetReleaseTime(t int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release = t
}

func (m *MemoryAuction) SetClaimable(account energy.Address, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimable[account] = amount
}

func (m *MemoryAuction) ReleaseTime(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.release, nil
}

func (m *MemoryAuction) ClaimableAmount(_ context.Context, account energy.Address) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if amount, ok := m.claimable[account]; ok {
		return amount, nil
	}
	return decimal.Zero, nil
}

// =============================================================================
// MEMORY LEDGERS - consumed-amount counters for both sources
// =============================================================================

// MemoryLedgers holds both consumed-amount counters behind one lock, so the
// two increments of a spend are atomic (implements energy.AtomicSpender).
type MemoryLedgers struct {
	mu       sync.RWMutex
	consumed map[energy.Source]map[energy.Address]decimal.Decimal
}

func NewMemoryLedgers() *MemoryLedgers {
	return &MemoryLedgers{
		consumed: map[energy.Source]map[energy.Address]decimal.Decimal{
			energy.SourcePrimary: {},
			energy.SourceBonus:   {},
		},
	}
}

// Ledger returns the ConsumedLedger view for one source.
func (m *MemoryLedgers) Ledger(source energy.Source) energy.ConsumedLedger {
	return &memoryLedger{parent: m, source: source}
}

// Spend applies both increments of a single spend under one lock.
func (m *MemoryLedgers) Spend(_ context.Context, account energy.Address, bonusDelta, primaryDelta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bonusDelta.IsNegative() || primaryDelta.IsNegative() {
		return fmt.Errorf("consumed counters are increment-only")
	}
	m.addLocked(energy.SourceBonus, account, bonusDelta)
	m.addLocked(energy.SourcePrimary, account, primaryDelta)
	return nil
}

func (m *MemoryLedgers) addLocked(source energy.Source, account energy.Address, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	m.consumed[source][account] = m.consumed[source][account].Add(delta)
}

type memoryLedger struct {
	parent *MemoryLedgers
	source energy.Source
}

func (l *memoryLedger) Consumed(_ context.Context, account energy.Address) (decimal.Decimal, error) {
	l.parent.mu.RLock()
	defer l.parent.mu.RUnlock()
	return l.parent.consumed[l.source][account], nil
}

func (l *memoryLedger) IncreaseConsumed(_ context.Context, account energy.Address, delta decimal.Decimal) error {
	l.parent.mu.Lock()
	defer l.parent.mu.Unlock()

	if delta.IsNegative() {
		return fmt.Errorf("consumed counters are increment-only")
	}
	l.parent.addLocked(l.source, account, delta)
	return nil
}

// =============================================================================
// MEMORY EVENTS - append-only audit log
// =============================================================================

// MemoryEvents implements energy.EventLog over a slice.
type MemoryEvents struct {
	mu     sync.RWMutex
	events []energy.Event
}

func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{}
}

func (m *MemoryEvents) Append(_ context.Context, ev energy.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryEvents) Query(_ context.Context, filter energy.EventFilter) ([]energy.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []energy.Event
	for _, ev := range m.events {
		if filter.Match(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// =============================================================================
// MEMORY PERIODS - PeriodStore without persistence
// =============================================================================

// MemoryPeriods implements energy.PeriodStore; useful when the registry is
// wanted write-through in tests.
type MemoryPeriods struct {
	mu      sync.RWMutex
	periods []energy.Period
}

func NewMemoryPeriods() *MemoryPeriods {
	return &MemoryPeriods{}
}

func (m *MemoryPeriods) SavePeriod(_ context.Context, id energy.PeriodID, p energy.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case int(id) == len(m.periods)+1:
		m.periods = append(m.periods, p)
	case id >= 1 && int(id) <= len(m.periods):
		m.periods[id-1] = p
	default:
		return fmt.Errorf("non-sequential period id %d", id)
	}
	return nil
}

func (m *MemoryPeriods) SavePeriods(_ context.Context, firstID energy.PeriodID, periods []energy.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(firstID) != len(m.periods)+1 {
		return fmt.Errorf("non-sequential period id %d", firstID)
	}
	m.periods = append(m.periods, periods...)
	return nil
}

func (m *MemoryPeriods) LoadPeriods(_ context.Context) ([]energy.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]energy.Period, len(m.periods))
	copy(out, m.periods)
	return out, nil
}
