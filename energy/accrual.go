/*
accrual.go - Staking energy accrual math

PURPOSE:
  Pure functions converting a balance-history timeline into accrued energy.
  The model: between consecutive snapshots the balance is constant, so each
  snapshot contributes

      elapsedSeconds * balance * multiplier

  where elapsed runs to the next snapshot, or to "now" for the newest one.
  The summed product is truncate-divided by SecondsPerDay.

EDGE CASES (pinned by tests in accrual_test.go):
  - Empty history accrues 0.
  - A newest snapshot with timestamp > now is skipped entirely; it never
    produces negative elapsed time.
  - A newest snapshot with timestamp == now contributes zero elapsed time.
  - Older snapshots always accrue up to their successor's timestamp, even
    when now falls before it; the provider bounds history by asOf, so such
    sequences only occur when the caller passes a stale now on purpose.
*/
package energy

import "github.com/shopspring/decimal"

var secondsPerDay = decimal.NewFromInt(SecondsPerDay)

// EnergyForAsset integrates a time-ascending balance history up to now and
// returns the accrued energy for one asset class:
//
//	sum(elapsed_i * balance_i) * multiplier / SecondsPerDay
//
// truncated to an integer amount. The result is 0 for an empty history or
// when now predates the entire timeline.
func EnergyForAsset(history []BalancePoint, multiplier decimal.Decimal, now int64) decimal.Decimal {
	if len(history) == 0 {
		return decimal.Zero
	}

	weighted := decimal.Zero
	last := len(history) - 1
	for i := last; i >= 0; i-- {
		point := history[i]

		var until int64
		if i == last {
			if now < point.Timestamp {
				// Not yet active; it still bounds the previous interval.
				continue
			}
			until = now
		} else {
			until = history[i+1].Timestamp
		}

		elapsed := until - point.Timestamp
		if elapsed <= 0 {
			continue
		}
		weighted = weighted.Add(decimal.NewFromInt(elapsed).Mul(point.Amount))
	}

	return weighted.Mul(multiplier).Div(secondsPerDay).Floor()
}
