/*
providers.go - External collaborator interfaces

PURPOSE:
  The engine never owns staking history, auction data, or consumed counters;
  it reads and increments them through these interfaces. Implementations:
  - store/memory.go:        in-memory, for tests and dev
  - store/sqlite/sqlite.go: persistent

CONTRACTS:
  HistoryProvider    immutable, time-ascending balance snapshots per account
                     per asset class, bounded to entries at or before asOf
  AuctionProvider    bootstrap-auction release time and per-account fixed
                     claimable snapshot
  ConsumedLedger     monotonic increment-only counter per account; one
                     instance per credit source
  AtomicSpender      optional capability: apply both source increments of a
                     single spend atomically
*/
package energy

import (
	"context"

	"github.com/shopspring/decimal"
)

// HistoryProvider supplies staking balance history.
type HistoryProvider interface {
	// History returns the snapshots for account/asset with Timestamp <= asOf,
	// in ascending timestamp order. An unknown account yields an empty slice,
	// not an error.
	History(ctx context.Context, asset AssetClass, account Address, asOf int64) ([]BalancePoint, error)
}

// AuctionProvider supplies bootstrap-auction data.
type AuctionProvider interface {
	// ReleaseTime returns the unix timestamp at which bonus accrual starts.
	ReleaseTime(ctx context.Context) (int64, error)

	// ClaimableAmount returns the account's fixed claimable snapshot. It does
	// not vary with time.
	ClaimableAmount(ctx context.Context, account Address) (decimal.Decimal, error)
}

// ConsumedLedger is a per-source monotonic counter. Counters only increase;
// they are never reset or decreased by this engine.
type ConsumedLedger interface {
	Consumed(ctx context.Context, account Address) (decimal.Decimal, error)
	IncreaseConsumed(ctx context.Context, account Address, delta decimal.Decimal) error
}

// AtomicSpender is an optional extension over a pair of ConsumedLedgers
// backed by the same store: it applies the bonus and primary increments of
// one spend as a single atomic write. When the engine's ledgers implement
// it, UseEnergy routes through it; otherwise the increments are applied
// sequentially (bonus first).
type AtomicSpender interface {
	Spend(ctx context.Context, account Address, bonusDelta, primaryDelta decimal.Decimal) error
}
