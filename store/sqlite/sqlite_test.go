package sqlite

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/energy-ledger/energy"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func testPeriod(start, end int64) energy.Period {
	return energy.Period{
		Start:           start,
		End:             end,
		TokenMultiplier: decimal.RequireFromString("1.5"),
		LPMultiplier:    dec(2),
		BonusMultiplier: dec(1),
	}
}

// =============================================================================
// PERIODS
// =============================================================================

func TestStore_PeriodsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SavePeriod(ctx, 1, testPeriod(0, 100)))
	require.NoError(t, st.SavePeriod(ctx, 2, testPeriod(100, 200)))

	periods, err := st.LoadPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, int64(0), periods[0].Start)
	assert.Equal(t, int64(200), periods[1].End)
	assert.True(t, decimal.RequireFromString("1.5").Equal(periods[0].TokenMultiplier),
		"multipliers must round-trip exactly")
}

func TestStore_SavePeriodUpserts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SavePeriod(ctx, 1, testPeriod(0, 100)))

	updated := testPeriod(0, 100)
	updated.TokenMultiplier = dec(9)
	require.NoError(t, st.SavePeriod(ctx, 1, updated))

	periods, err := st.LoadPeriods(ctx)
	require.NoError(t, err)
	require.Len(t, periods, 1, "upsert must not create a second row")
	assert.True(t, dec(9).Equal(periods[0].TokenMultiplier))
}

func TestStore_SavePeriodsBatchIsAtomic(t *testing.T) {
	// GIVEN: id 2 already taken
	// WHEN: a batch starting at id 2 is saved
	// THEN: the whole batch fails and id 3 is never written

	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SavePeriods(ctx, 1, []energy.Period{testPeriod(0, 100), testPeriod(100, 200)}))

	err := st.SavePeriods(ctx, 2, []energy.Period{testPeriod(200, 300), testPeriod(300, 400)})
	require.Error(t, err)

	periods, err := st.LoadPeriods(ctx)
	require.NoError(t, err)
	assert.Len(t, periods, 2)
}

func TestStore_BacksRegistry(t *testing.T) {
	// The store works as the registry's write-through backend across a
	// reopen of the same database handle.
	st := newTestStore(t)
	ctx := context.Background()

	r1, err := energy.NewRegistry(ctx, st, nil, energy.NewManualClock(0))
	require.NoError(t, err)
	_, err = r1.Append(ctx, testPeriod(0, 100))
	require.NoError(t, err)

	r2, err := energy.NewRegistry(ctx, st, nil, energy.NewManualClock(0))
	require.NoError(t, err)
	assert.Equal(t, 1, r2.Count())
}

// =============================================================================
// STAKE HISTORY
// =============================================================================

func TestStore_HistoryBoundedByAsOf(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	account := energy.Address("0xa11c")

	for _, ts := range []int64{100, 200, 300} {
		require.NoError(t, st.AddSnapshot(ctx, energy.AssetToken, account,
			energy.BalancePoint{Timestamp: ts, Amount: dec(ts)}))
	}

	points, err := st.History(ctx, energy.AssetToken, account, 250)
	require.NoError(t, err)
	require.Len(t, points, 2, "snapshot at t=300 is beyond asOf")
	assert.Equal(t, int64(100), points[0].Timestamp)
	assert.Equal(t, int64(200), points[1].Timestamp)

	// asOf is inclusive.
	points, err = st.History(ctx, energy.AssetToken, account, 300)
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestStore_HistoryIsolatedByAssetAndAccount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.AddSnapshot(ctx, energy.AssetToken, "0xa11c",
		energy.BalancePoint{Timestamp: 100, Amount: dec(1)}))
	require.NoError(t, st.AddSnapshot(ctx, energy.AssetLPToken, "0xa11c",
		energy.BalancePoint{Timestamp: 100, Amount: dec(2)}))
	require.NoError(t, st.AddSnapshot(ctx, energy.AssetToken, "0xb0b0",
		energy.BalancePoint{Timestamp: 100, Amount: dec(3)}))

	points, err := st.History(ctx, energy.AssetToken, "0xa11c", 1000)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, dec(1).Equal(points[0].Amount))
}

func TestStore_HistoryIsImmutable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	point := energy.BalancePoint{Timestamp: 100, Amount: dec(1)}

	require.NoError(t, st.AddSnapshot(ctx, energy.AssetToken, "0xa11c", point))

	err := st.AddSnapshot(ctx, energy.AssetToken, "0xa11c", point)
	assert.Error(t, err, "re-recording the same timestamp must be rejected")
}

// =============================================================================
// AUCTION
// =============================================================================

func TestStore_AuctionRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Defaults before any write.
	release, err := st.ReleaseTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), release)

	claimable, err := st.ClaimableAmount(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, claimable.IsZero())

	require.NoError(t, st.SetReleaseTime(ctx, 5000))
	require.NoError(t, st.SetClaimable(ctx, "0xa11c", dec(200)))

	release, err = st.ReleaseTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), release)

	claimable, err = st.ClaimableAmount(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, dec(200).Equal(claimable))
}

// =============================================================================
// CONSUMED COUNTERS
// =============================================================================

func TestStore_LedgerIncrements(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ledger := st.Ledger(energy.SourcePrimary)

	got, err := ledger.Consumed(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	require.NoError(t, ledger.IncreaseConsumed(ctx, "0xa11c", dec(30)))
	require.NoError(t, ledger.IncreaseConsumed(ctx, "0xa11c", dec(12)))

	got, err = ledger.Consumed(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, dec(42).Equal(got))
}

func TestStore_LedgerRejectsDecrease(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ledger := st.Ledger(energy.SourceBonus)

	require.NoError(t, ledger.IncreaseConsumed(ctx, "0xa11c", dec(10)))
	require.Error(t, ledger.IncreaseConsumed(ctx, "0xa11c", dec(-5)))

	got, err := ledger.Consumed(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, dec(10).Equal(got))
}

func TestStore_LedgersIndependentPerSource(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Ledger(energy.SourceBonus).IncreaseConsumed(ctx, "0xa11c", dec(7)))

	got, err := st.Ledger(energy.SourcePrimary).Consumed(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestStore_SpendUpdatesBothCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Spend(ctx, "0xa11c", dec(200), dec(50)))

	bonus, err := st.Ledger(energy.SourceBonus).Consumed(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, dec(200).Equal(bonus))

	primary, err := st.Ledger(energy.SourcePrimary).Consumed(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, dec(50).Equal(primary))
}

func TestStore_SpendRejectsNegativeDelta(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.Error(t, st.Spend(ctx, "0xa11c", dec(-1), dec(5)))

	primary, err := st.Ledger(energy.SourcePrimary).Consumed(ctx, "0xa11c")
	require.NoError(t, err)
	assert.True(t, primary.IsZero(), "rejected spend must not touch either counter")
}

// =============================================================================
// EVENTS
// =============================================================================

func TestStore_EventsAppendAndFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alice := energy.Address("0xa11c")

	events := []energy.Event{
		{ID: "ev-1", Type: energy.EventPeriodAdded, At: 10, PeriodID: 1, Amount: decimal.Zero},
		{ID: "ev-2", Type: energy.EventBonusEnergyUsed, At: 20, Account: alice, PeriodID: 1, Amount: dec(40),
			Detail: map[string]string{"caller": "0xc0ff"}},
		{ID: "ev-3", Type: energy.EventPrimaryEnergyUsed, At: 20, Account: alice, PeriodID: 1, Amount: dec(60)},
		{ID: "ev-4", Type: energy.EventBonusEnergyUsed, At: 30, Account: "0xb0b0", PeriodID: 1, Amount: dec(5)},
	}
	for _, ev := range events {
		require.NoError(t, st.Append(ctx, ev))
	}

	// Unfiltered query returns everything in time order.
	all, err := st.Query(ctx, energy.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "ev-1", all[0].ID)

	// Type filter.
	bonus, err := st.Query(ctx, energy.EventFilter{Types: []energy.EventType{energy.EventBonusEnergyUsed}})
	require.NoError(t, err)
	assert.Len(t, bonus, 2)

	// Account + type filter, details round-trip.
	got, err := st.Query(ctx, energy.EventFilter{
		Types:   []energy.EventType{energy.EventBonusEnergyUsed},
		Account: &alice,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ev-2", got[0].ID)
	assert.Equal(t, "0xc0ff", got[0].Detail["caller"])
	assert.True(t, dec(40).Equal(got[0].Amount))

	// Time window.
	from, to := int64(15), int64(25)
	window, err := st.Query(ctx, energy.EventFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestStore_EventsAppendOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ev := energy.Event{ID: "ev-1", Type: energy.EventPaused, At: 10, Amount: decimal.Zero}

	require.NoError(t, st.Append(ctx, ev))
	assert.Error(t, st.Append(ctx, ev), "duplicate event ids must be rejected")
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_DrivesEngine(t *testing.T) {
	// GIVEN: an engine wired entirely over one SQLite store
	// WHEN: history and auction data are ingested and a spend runs
	// THEN: balances and counters match the memory-backed behavior

	st := newTestStore(t)
	ctx := context.Background()
	clock := energy.NewManualClock(0)
	alice := energy.Address("0xa11c")
	consumer := energy.Address("0xc0ff")

	registry, err := energy.NewRegistry(ctx, st, st, clock)
	require.NoError(t, err)
	_, err = registry.Append(ctx, energy.Period{
		Start: 0, End: 30 * 86400,
		TokenMultiplier: dec(1), LPMultiplier: dec(2), BonusMultiplier: dec(1),
	})
	require.NoError(t, err)

	access := energy.NewAccessControl()
	require.NoError(t, access.Grant(energy.RoleConsumer, consumer))

	engine, err := energy.New(energy.Config{
		Registry:      registry,
		History:       st,
		Auction:       st,
		PrimaryLedger: st.Ledger(energy.SourcePrimary),
		BonusLedger:   st.Ledger(energy.SourceBonus),
		Spender:       st,
		Access:        access,
		Events:        st,
		Clock:         clock,
	})
	require.NoError(t, err)

	require.NoError(t, st.AddSnapshot(ctx, energy.AssetToken, alice, energy.BalancePoint{Timestamp: 0, Amount: dec(100)}))
	require.NoError(t, st.SetClaimable(ctx, alice, dec(200)))
	clock.Set(86400)

	spendable, err := engine.Energy(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, dec(300).Equal(spendable), "expected 300, got %s", spendable)

	spent, err := engine.UseEnergy(ctx, consumer, alice, 1, dec(250))
	require.NoError(t, err)
	assert.True(t, dec(200).Equal(spent.Bonus))
	assert.True(t, dec(50).Equal(spent.Primary))

	remaining, err := engine.Energy(ctx, alice, 1)
	require.NoError(t, err)
	assert.True(t, dec(50).Equal(remaining))

	spendEvents, err := st.Query(ctx, energy.EventFilter{
		Types: []energy.EventType{energy.EventBonusEnergyUsed, energy.EventPrimaryEnergyUsed},
	})
	require.NoError(t, err)
	assert.Len(t, spendEvents, 2)
}
