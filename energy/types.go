/*
Package energy implements a time-weighted staking energy ledger.

PURPOSE:
  Converts a variable-rate staking balance history into a period-scoped,
  monotonically accruing credit balance ("energy"), merges it with a second
  independently accruing credit stream ("bonus energy") tied to a bootstrap
  auction, and enforces a deterministic spend order between the two sources.

KEY CONCEPTS IN THIS FILE (types.go):
  - Address: account identifier; the zero address is always invalid
  - AssetClass: one of the two staking instruments (token, LP token)
  - BalancePoint: a single staking balance snapshot {timestamp, amount}
  - PeriodID: 1-based sequential period identifier; 0 is the invalid sentinel

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all amounts, never float64
  2. Pure math: accrual calculators are side-effect-free functions of
     (history, multiplier, now) and can be replayed at will
  3. Explicit time: "now" is always an input, never a hidden clock read
  4. Auditability: every state change produces an Event

SEE ALSO:
  - period.go:  Period type and the Registry
  - accrual.go: Staking energy accrual math
  - bonus.go:   Bonus energy accrual math
  - engine.go:  Spend orchestration (Energy / UseEnergy)
*/
package energy

import (
	"github.com/shopspring/decimal"
)

// SecondsPerDay is the accrual normalization divisor: energy formulas
// integrate balance over seconds, then truncate-divide by this constant.
const SecondsPerDay = 86400

// =============================================================================
// ADDRESS - Account identifier
// =============================================================================

// Address identifies an account. The empty string and the all-zero hex
// address are both treated as the invalid zero address.
type Address string

// ZeroAddress is the canonical invalid account identifier.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// IsZero reports whether the address is the invalid zero identifier.
func (a Address) IsZero() bool {
	return a == "" || a == ZeroAddress
}

// =============================================================================
// ASSET CLASSES - The two staking instruments
// =============================================================================

// AssetClass identifies a staking instrument with its own balance history
// and per-period multiplier.
type AssetClass string

const (
	// AssetToken is the primary staking token.
	AssetToken AssetClass = "token"

	// AssetLPToken is the liquidity-pool staking token.
	AssetLPToken AssetClass = "lp_token"
)

// AssetClasses lists the classes that contribute to energy accrual, in the
// order they are summed.
var AssetClasses = []AssetClass{AssetToken, AssetLPToken}

// =============================================================================
// BALANCE HISTORY
// =============================================================================

// BalancePoint records that an account's staked balance became Amount at
// Timestamp and stayed there until the next point (or now). Sequences are
// time-ascending.
type BalancePoint struct {
	Timestamp int64
	Amount    decimal.Decimal
}

// =============================================================================
// CREDIT SOURCES
// =============================================================================

// Source names one of the two independently consumed credit streams.
type Source string

const (
	// SourcePrimary is energy accrued from staking balance history.
	SourcePrimary Source = "primary"

	// SourceBonus is energy accrued from the bootstrap-auction claimable.
	SourceBonus Source = "bonus"
)

// =============================================================================
// PERIOD IDENTIFIERS
// =============================================================================

// PeriodID is a 1-based sequential period identifier assigned by the
// Registry. InvalidPeriodID (0) is the "no period" sentinel.
type PeriodID uint64

const InvalidPeriodID PeriodID = 0

func minTime(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
