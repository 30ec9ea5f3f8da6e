/*
bonus.go - Bonus energy accrual math

PURPOSE:
  The secondary credit stream. Accounts that participated in the bootstrap
  auction hold a fixed claimable snapshot; once the auction's release time
  passes, bonus energy accrues continuously:

      elapsed * claimable * bonusMultiplier / SecondsPerDay

  The available amount grows unboundedly with time since release - it is
  available, not capped, until consumed.
*/
package energy

import "github.com/shopspring/decimal"

// BonusFor returns the bonus energy accrued by now for a fixed claimable
// amount released at releaseTime. Before release the result is 0.
func BonusFor(claimable decimal.Decimal, bonusMultiplier decimal.Decimal, releaseTime, now int64) decimal.Decimal {
	if now < releaseTime {
		return decimal.Zero
	}
	elapsed := decimal.NewFromInt(now - releaseTime)
	return elapsed.Mul(claimable).Mul(bonusMultiplier).Div(secondsPerDay).Floor()
}
