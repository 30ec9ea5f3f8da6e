/*
engine_test.go - Spend orchestration behavior

These tests pin down the orchestrator's laws:

  Order law:     a spend depletes bonus energy first; the primary counter
                 only takes the remainder.
  Rejection law: an over-balance spend fails before any counter moves.
  Monotonicity:  consumed counters never decrease.
  Gating:        consumer role and unpaused state are preconditions, checked
                 before any mutation.
*/
package energy_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/energy-ledger/energy"
	"github.com/warp/energy-ledger/energy/store"
)

const (
	ctrl     = energy.Address("0xc001")
	dao      = energy.Address("0xdao1")
	consumer = energy.Address("0xc0ff")
	alice    = energy.Address("0xa11c")
	outsider = energy.Address("0xbad1")
)

type testEnv struct {
	engine   *energy.Engine
	registry *energy.Registry
	history  *store.MemoryHistory
	auction  *store.MemoryAuction
	ledgers  *store.MemoryLedgers
	events   *store.MemoryEvents
	clock    *energy.ManualClock
}

// newTestEnv wires an engine over memory collaborators with one period
// covering the first 30 days: token multiplier 1, LP multiplier 2, bonus
// multiplier 1. Roles: ctrl is controller, dao is dao, consumer may spend.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	clock := energy.NewManualClock(0)
	events := store.NewMemoryEvents()

	registry, err := energy.NewRegistry(ctx, nil, events, clock)
	require.NoError(t, err)
	_, err = registry.Append(ctx, energy.Period{
		Start:           0,
		End:             30 * 86400,
		TokenMultiplier: dec(1),
		LPMultiplier:    dec(2),
		BonusMultiplier: dec(1),
	})
	require.NoError(t, err)

	history := store.NewMemoryHistory()
	auction := store.NewMemoryAuction(0)
	ledgers := store.NewMemoryLedgers()

	access := energy.NewAccessControl()
	require.NoError(t, access.Grant(energy.RoleController, ctrl))
	require.NoError(t, access.Grant(energy.RoleDAO, dao))
	require.NoError(t, access.Grant(energy.RoleConsumer, consumer))

	engine, err := energy.New(energy.Config{
		Registry:      registry,
		History:       history,
		Auction:       auction,
		PrimaryLedger: ledgers.Ledger(energy.SourcePrimary),
		BonusLedger:   ledgers.Ledger(energy.SourceBonus),
		Spender:       ledgers,
		Access:        access,
		Events:        events,
		Clock:         clock,
	})
	require.NoError(t, err)

	return &testEnv{
		engine:   engine,
		registry: registry,
		history:  history,
		auction:  auction,
		ledgers:  ledgers,
		events:   events,
		clock:    clock,
	}
}

func (env *testEnv) consumed(t *testing.T, source energy.Source, account energy.Address) decimal.Decimal {
	t.Helper()
	got, err := env.ledgers.Ledger(source).Consumed(context.Background(), account)
	require.NoError(t, err)
	return got
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestNew_MissingCollaborator(t *testing.T) {
	_, err := energy.New(energy.Config{})
	assert.ErrorIs(t, err, energy.ErrNotConfigured)
}

// =============================================================================
// BALANCE CALCULATION
// =============================================================================

func TestCalculateEnergy_SumsBothAssetClasses(t *testing.T) {
	// GIVEN: 100 token staked and 10 LP staked since t=0 (LP multiplier 2)
	// WHEN: one day has elapsed
	// THEN: 100*1 + 10*2 = 120

	env := newTestEnv(t)
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.history.AddSnapshot(energy.AssetLPToken, alice, point(0, 10))
	env.clock.Set(86400)

	got, err := env.engine.CalculateEnergy(context.Background(), alice, 1)
	require.NoError(t, err)
	assert.True(t, dec(120).Equal(got), "expected 120, got %s", got)
}

func TestCalculateEnergy_ClampsToPeriodEnd(t *testing.T) {
	// GIVEN: a period ending at t=50000 and stake held since t=0
	// WHEN: the clock is far past the period end
	// THEN: accrual stops at the boundary: 50000*100/86400 = 57

	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.registry.Append(ctx, energy.Period{
		Start: 0, End: 50000,
		TokenMultiplier: dec(1), LPMultiplier: dec(1), BonusMultiplier: dec(1),
	})
	require.NoError(t, err)

	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(2 * 86400)

	got, err := env.engine.CalculateEnergy(ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, dec(57).Equal(got), "expected 57, got %s", got)
}

func TestCalculateEnergy_SnapshotAfterPeriodEndIgnored(t *testing.T) {
	// A snapshot recorded after the period end must not alter that
	// period's accrual.

	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.registry.Append(ctx, energy.Period{
		Start: 0, End: 50000,
		TokenMultiplier: dec(1), LPMultiplier: dec(1), BonusMultiplier: dec(1),
	})
	require.NoError(t, err)

	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(2 * 86400)
	before, err := env.engine.CalculateEnergy(ctx, alice, id)
	require.NoError(t, err)

	env.history.AddSnapshot(energy.AssetToken, alice, point(60000, 1_000_000))
	after, err := env.engine.CalculateEnergy(ctx, alice, id)
	require.NoError(t, err)

	assert.True(t, before.Equal(after), "out-of-period snapshot changed accrual: %s -> %s", before, after)
}

func TestCalculateEnergy_InvalidInputs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.CalculateEnergy(ctx, energy.ZeroAddress, 1)
	assert.ErrorIs(t, err, energy.ErrInvalidAddress)

	_, err = env.engine.CalculateEnergy(ctx, alice, 0)
	assert.ErrorIs(t, err, energy.ErrInvalidPeriodID)

	_, err = env.engine.CalculateEnergy(ctx, alice, 99)
	assert.ErrorIs(t, err, energy.ErrInvalidPeriodID)
}

func TestEnergy_NonNegativeWithoutConsumption(t *testing.T) {
	// With well-formed history and no consumption the spendable balance is
	// never negative, even for accounts with no history at all.
	env := newTestEnv(t)
	env.clock.Set(86400)

	got, err := env.engine.Energy(context.Background(), alice, 1)
	require.NoError(t, err)
	assert.False(t, got.IsNegative())
}

func TestEnergy_CombinesAllThreeTerms(t *testing.T) {
	// Energy = accrued - consumedPrimary + remainingBonus

	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.auction.SetClaimable(alice, dec(200))
	env.clock.Set(86400)

	// accrued 100, bonus 200
	got, err := env.engine.Energy(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, dec(300).Equal(got), "expected 300, got %s", got)

	// Spend 250: bonus absorbs 200, primary 50. New spendable = 50.
	_, err = env.engine.UseEnergy(ctx, consumer, alice, 1, dec(250))
	require.NoError(t, err)

	got, err = env.engine.Energy(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, dec(50).Equal(got), "expected 50, got %s", got)
}

func TestEnergy_ReadsAreIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.auction.SetClaimable(alice, dec(200))
	env.clock.Set(86400)

	first, err := env.engine.Energy(ctx, alice, 1)
	require.NoError(t, err)
	second, err := env.engine.Energy(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestEnergy_FailsLoudlyOnUnderflow(t *testing.T) {
	// GIVEN: a primary counter inflated outside UseEnergy
	// THEN: the balance calculation refuses to clamp or wrap

	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(86400)

	require.NoError(t, env.ledgers.Ledger(energy.SourcePrimary).IncreaseConsumed(ctx, alice, dec(1000)))

	_, err := env.engine.Energy(ctx, alice, 1)
	assert.ErrorIs(t, err, energy.ErrLedgerUnderflow)
}

// =============================================================================
// BONUS STREAM
// =============================================================================

func TestRemainingBonus_AfterConsumption(t *testing.T) {
	// GIVEN: claimable 200 released at t=1000, multiplier 1, one day later
	// WHEN: 50 bonus is consumed
	// THEN: remaining bonus = 150

	env := newTestEnv(t)
	ctx := context.Background()
	env.auction.SetReleaseTime(1000)
	env.auction.SetClaimable(alice, dec(200))
	env.clock.Set(1000 + 86400)

	available, err := env.engine.AvailableBonus(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, dec(200).Equal(available), "expected 200, got %s", available)

	_, err = env.engine.UseEnergy(ctx, consumer, alice, 1, dec(50))
	require.NoError(t, err)

	remaining, err := env.engine.RemainingBonus(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, dec(150).Equal(remaining), "expected 150, got %s", remaining)
}

func TestAvailableBonus_ZeroBeforeRelease(t *testing.T) {
	env := newTestEnv(t)
	env.auction.SetReleaseTime(5000)
	env.auction.SetClaimable(alice, dec(200))
	env.clock.Set(4999)

	got, err := env.engine.AvailableBonus(context.Background(), alice, 1)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

// =============================================================================
// SPEND ORCHESTRATION
// =============================================================================

func TestUseEnergy_OrderLaw_BonusDepletedFirst(t *testing.T) {
	// For a single spend, bonus-consumed increases by
	// min(amount, remainingBonus) and primary takes exactly the rest.

	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.auction.SetClaimable(alice, dec(200))
	env.clock.Set(86400)

	spent, err := env.engine.UseEnergy(ctx, consumer, alice, 1, dec(250))
	require.NoError(t, err)

	assert.True(t, dec(200).Equal(spent.Bonus), "bonus split: expected 200, got %s", spent.Bonus)
	assert.True(t, dec(50).Equal(spent.Primary), "primary split: expected 50, got %s", spent.Primary)
	assert.True(t, dec(200).Equal(env.consumed(t, energy.SourceBonus, alice)))
	assert.True(t, dec(50).Equal(env.consumed(t, energy.SourcePrimary, alice)))
}

func TestUseEnergy_BonusOnlySpendLeavesPrimaryUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.auction.SetClaimable(alice, dec(200))
	env.clock.Set(86400)

	spent, err := env.engine.UseEnergy(ctx, consumer, alice, 1, dec(120))
	require.NoError(t, err)

	assert.True(t, dec(120).Equal(spent.Bonus))
	assert.True(t, spent.Primary.IsZero())
	assert.True(t, env.consumed(t, energy.SourcePrimary, alice).IsZero())
}

func TestUseEnergy_RejectionLaw_CountersUntouched(t *testing.T) {
	// A request exceeding the spendable balance by one unit fails and both
	// counters keep their pre-call values.

	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.auction.SetClaimable(alice, dec(200))
	env.clock.Set(86400)

	spendable, err := env.engine.Energy(ctx, alice, 1)
	require.NoError(t, err)

	_, err = env.engine.UseEnergy(ctx, consumer, alice, 1, spendable.Add(dec(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, energy.ErrInvalidAmount)

	var insErr *energy.InsufficientEnergyError
	require.ErrorAs(t, err, &insErr)
	assert.True(t, spendable.Equal(insErr.Available))

	assert.True(t, env.consumed(t, energy.SourceBonus, alice).IsZero())
	assert.True(t, env.consumed(t, energy.SourcePrimary, alice).IsZero())
}

func TestUseEnergy_ExactBalanceSpendable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(86400)

	spendable, err := env.engine.Energy(ctx, alice, 1)
	require.NoError(t, err)

	_, err = env.engine.UseEnergy(ctx, consumer, alice, 1, spendable)
	require.NoError(t, err)

	remaining, err := env.engine.Energy(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, remaining.IsZero())
}

func TestUseEnergy_MonotonicCounters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 1000))
	env.auction.SetClaimable(alice, dec(100))
	env.clock.Set(86400)

	prevBonus, prevPrimary := decimal.Zero, decimal.Zero
	for _, amount := range []int64{30, 80, 50} {
		_, err := env.engine.UseEnergy(ctx, consumer, alice, 1, dec(amount))
		require.NoError(t, err)

		bonus := env.consumed(t, energy.SourceBonus, alice)
		primary := env.consumed(t, energy.SourcePrimary, alice)
		assert.False(t, bonus.LessThan(prevBonus), "bonus counter decreased")
		assert.False(t, primary.LessThan(prevPrimary), "primary counter decreased")
		prevBonus, prevPrimary = bonus, primary
	}

	// 160 total: 100 bonus, 60 primary.
	assert.True(t, dec(100).Equal(prevBonus))
	assert.True(t, dec(60).Equal(prevPrimary))
}

func TestUseEnergy_InvalidInputs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(86400)

	_, err := env.engine.UseEnergy(ctx, consumer, energy.ZeroAddress, 1, dec(1))
	assert.ErrorIs(t, err, energy.ErrInvalidAddress)

	_, err = env.engine.UseEnergy(ctx, consumer, alice, 42, dec(1))
	assert.ErrorIs(t, err, energy.ErrInvalidPeriodID)

	_, err = env.engine.UseEnergy(ctx, consumer, alice, 1, dec(0))
	assert.ErrorIs(t, err, energy.ErrInvalidAmount)

	_, err = env.engine.UseEnergy(ctx, consumer, alice, 1, dec(-5))
	assert.ErrorIs(t, err, energy.ErrInvalidAmount)
}

func TestUseEnergy_RequiresConsumerRole(t *testing.T) {
	env := newTestEnv(t)
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(86400)

	_, err := env.engine.UseEnergy(context.Background(), outsider, alice, 1, dec(1))
	assert.ErrorIs(t, err, energy.ErrPermissionDenied)
	assert.True(t, env.consumed(t, energy.SourcePrimary, alice).IsZero())
}

func TestUseEnergy_RejectedWhilePaused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(86400)

	require.NoError(t, env.engine.Pause(ctx, ctrl))
	_, err := env.engine.UseEnergy(ctx, consumer, alice, 1, dec(1))
	assert.ErrorIs(t, err, energy.ErrPaused)

	require.NoError(t, env.engine.Unpause(ctx, ctrl))
	_, err = env.engine.UseEnergy(ctx, consumer, alice, 1, dec(1))
	assert.NoError(t, err)
}

func TestUseEnergy_EmitsEventsPerTouchedSource(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.auction.SetClaimable(alice, dec(40))
	env.clock.Set(86400)

	// 100 spend: 40 bonus + 60 primary -> one event per source.
	_, err := env.engine.UseEnergy(ctx, consumer, alice, 1, dec(100))
	require.NoError(t, err)

	bonusEvents, err := env.events.Query(ctx, energy.EventFilter{Types: []energy.EventType{energy.EventBonusEnergyUsed}})
	require.NoError(t, err)
	require.Len(t, bonusEvents, 1)
	assert.True(t, dec(40).Equal(bonusEvents[0].Amount))
	assert.Equal(t, alice, bonusEvents[0].Account)

	primaryEvents, err := env.events.Query(ctx, energy.EventFilter{Types: []energy.EventType{energy.EventPrimaryEnergyUsed}})
	require.NoError(t, err)
	require.Len(t, primaryEvents, 1)
	assert.True(t, dec(60).Equal(primaryEvents[0].Amount))
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

func TestPeriodAdministration_Gating(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// dao may append; an outsider may not.
	_, err := env.engine.AddPeriod(ctx, dao, simplePeriod(1000, 2000))
	assert.NoError(t, err)

	_, err = env.engine.AddPeriod(ctx, outsider, simplePeriod(2000, 3000))
	assert.ErrorIs(t, err, energy.ErrPermissionDenied)

	// Paused blocks schedule changes too.
	require.NoError(t, env.engine.Pause(ctx, ctrl))
	_, err = env.engine.AddPeriod(ctx, dao, simplePeriod(2000, 3000))
	assert.ErrorIs(t, err, energy.ErrPaused)
}

func TestRoleRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.history.AddSnapshot(energy.AssetToken, alice, point(0, 100))
	env.clock.Set(86400)

	next := energy.Address("0xnext")
	require.NoError(t, env.engine.GrantRole(ctx, ctrl, energy.RoleConsumer, next))
	require.NoError(t, env.engine.RevokeRole(ctx, ctrl, energy.RoleConsumer, consumer))

	_, err := env.engine.UseEnergy(ctx, consumer, alice, 1, dec(1))
	assert.ErrorIs(t, err, energy.ErrPermissionDenied, "revoked consumer must not spend")

	_, err = env.engine.UseEnergy(ctx, next, alice, 1, dec(1))
	assert.NoError(t, err, "rotated consumer spends")
}

func TestGrantRole_RequiresController(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.GrantRole(context.Background(), outsider, energy.RoleConsumer, outsider)
	assert.ErrorIs(t, err, energy.ErrPermissionDenied)
}

func TestPause_RequiresController(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.Pause(context.Background(), dao)
	assert.ErrorIs(t, err, energy.ErrPermissionDenied)
	assert.False(t, env.engine.Lifecycle().IsPaused())
}
