/*
Package sqlite provides the SQLite-backed implementation of the energy
engine's collaborator interfaces.

PURPOSE:
  One Store implements every persistence contract the engine consumes:
  energy.PeriodStore, energy.HistoryProvider, energy.AuctionProvider,
  energy.ConsumedLedger (per source, via Ledger()), energy.AtomicSpender,
  and energy.EventLog.

KEY TABLES:
  periods          the period catalogue, keyed by dense 1-based id
  stake_history    immutable balance snapshots per account per asset class
  consumed         monotonic consumed-amount counters (account, source)
  auction_claims   fixed bootstrap-auction claimable per account
  auction_meta     auction release timestamp
  events           append-only audit log

MUTATION DISCIPLINE:
  stake_history and events are append-only; consumed rows only ever grow.
  The single UPDATE surface is the periods table (explicit update-by-id)
  and auction data ingestion. Spend increments for both sources run in one
  SQL transaction (AtomicSpender).

AMOUNT ENCODING:
  Amounts and multipliers are stored as decimal strings, never floats, so
  values round-trip exactly.

WAL MODE:
  Opened with WAL for concurrent readers with a single writer, matching
  the engine's serialized-writer model.

USAGE:
  st, err := sqlite.New("./data/energy.db")   // ":memory:" for tests
  ...
  engine, err := energy.New(energy.Config{
      History:       st,
      Auction:       st,
      PrimaryLedger: st.Ledger(energy.SourcePrimary),
      BonusLedger:   st.Ledger(energy.SourceBonus),
      Spender:       st,
      Events:        st,
      ...
  })
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/energy-ledger/energy"
)

// Store implements all persistence interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers; readers go straight to the db
}

// New opens (and migrates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Period catalogue (dense 1-based ids, update-by-id allowed)
	CREATE TABLE IF NOT EXISTS periods (
		id INTEGER PRIMARY KEY,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL,
		token_multiplier TEXT NOT NULL,
		lp_multiplier TEXT NOT NULL,
		bonus_multiplier TEXT NOT NULL
	);

	-- Staking balance snapshots (append-only)
	CREATE TABLE IF NOT EXISTS stake_history (
		asset TEXT NOT NULL,
		account TEXT NOT NULL,
		ts INTEGER NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (asset, account, ts)
	);

	CREATE INDEX IF NOT EXISTS idx_history_account_asof
		ON stake_history(asset, account, ts);

	-- Consumed-amount counters (monotonic, increment-only)
	CREATE TABLE IF NOT EXISTS consumed (
		account TEXT NOT NULL,
		source TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (account, source)
	);

	-- Bootstrap-auction data
	CREATE TABLE IF NOT EXISTS auction_claims (
		account TEXT PRIMARY KEY,
		amount TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auction_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	-- Audit events (append-only)
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		at INTEGER NOT NULL,
		account TEXT,
		period_id INTEGER,
		amount TEXT,
		detail_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_type_at ON events(type, at);
	CREATE INDEX IF NOT EXISTS idx_events_account ON events(account);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PERIOD STORE
// =============================================================================

func (s *Store) SavePeriod(ctx context.Context, id energy.PeriodID, p energy.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO periods (id, start_time, end_time, token_multiplier, lp_multiplier, bonus_multiplier)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			token_multiplier = excluded.token_multiplier,
			lp_multiplier = excluded.lp_multiplier,
			bonus_multiplier = excluded.bonus_multiplier`,
		id, p.Start, p.End,
		p.TokenMultiplier.String(), p.LPMultiplier.String(), p.BonusMultiplier.String())
	return err
}

func (s *Store) SavePeriods(ctx context.Context, firstID energy.PeriodID, periods []energy.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, p := range periods {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO periods (id, start_time, end_time, token_multiplier, lp_multiplier, bonus_multiplier)
			VALUES (?, ?, ?, ?, ?, ?)`,
			firstID+energy.PeriodID(i), p.Start, p.End,
			p.TokenMultiplier.String(), p.LPMultiplier.String(), p.BonusMultiplier.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadPeriods(ctx context.Context) ([]energy.Period, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_time, end_time, token_multiplier, lp_multiplier, bonus_multiplier
		FROM periods ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []energy.Period
	for rows.Next() {
		var p energy.Period
		var token, lp, bonus string
		if err := rows.Scan(&p.Start, &p.End, &token, &lp, &bonus); err != nil {
			return nil, err
		}
		if p.TokenMultiplier, err = decimal.NewFromString(token); err != nil {
			return nil, fmt.Errorf("corrupt token multiplier %q: %w", token, err)
		}
		if p.LPMultiplier, err = decimal.NewFromString(lp); err != nil {
			return nil, fmt.Errorf("corrupt lp multiplier %q: %w", lp, err)
		}
		if p.BonusMultiplier, err = decimal.NewFromString(bonus); err != nil {
			return nil, fmt.Errorf("corrupt bonus multiplier %q: %w", bonus, err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// =============================================================================
// HISTORY PROVIDER
// =============================================================================

// AddSnapshot appends a staking balance snapshot. Re-recording the same
// (asset, account, timestamp) is rejected: history is immutable.
func (s *Store) AddSnapshot(ctx context.Context, asset energy.AssetClass, account energy.Address, point energy.BalancePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stake_history (asset, account, ts, amount) VALUES (?, ?, ?, ?)`,
		asset, account, point.Timestamp, point.Amount.String())
	return err
}

func (s *Store) History(ctx context.Context, asset energy.AssetClass, account energy.Address, asOf int64) ([]energy.BalancePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, amount FROM stake_history
		WHERE asset = ? AND account = ? AND ts <= ?
		ORDER BY ts`,
		asset, account, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []energy.BalancePoint
	for rows.Next() {
		var p energy.BalancePoint
		var amount string
		if err := rows.Scan(&p.Timestamp, &amount); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt balance amount %q: %w", amount, err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// =============================================================================
// AUCTION PROVIDER
// =============================================================================

const releaseTimeKey = "release_time"

// SetReleaseTime records the bootstrap-auction release timestamp.
func (s *Store) SetReleaseTime(ctx context.Context, t int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auction_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		releaseTimeKey, fmt.Sprintf("%d", t))
	return err
}

func (s *Store) ReleaseTime(ctx context.Context) (int64, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM auction_meta WHERE key = ?`, releaseTimeKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var t int64
	if _, err := fmt.Sscanf(value, "%d", &t); err != nil {
		return 0, fmt.Errorf("corrupt release time %q: %w", value, err)
	}
	return t, nil
}

// SetClaimable records an account's fixed claimable snapshot.
func (s *Store) SetClaimable(ctx context.Context, account energy.Address, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auction_claims (account, amount) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET amount = excluded.amount`,
		account, amount.String())
	return err
}

func (s *Store) ClaimableAmount(ctx context.Context, account energy.Address) (decimal.Decimal, error) {
	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM auction_claims WHERE account = ?`, account).Scan(&amount)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt claimable amount %q: %w", amount, err)
	}
	return d, nil
}

// =============================================================================
// CONSUMED LEDGERS + ATOMIC SPENDER
// =============================================================================

// Ledger returns the ConsumedLedger view for one source.
func (s *Store) Ledger(source energy.Source) energy.ConsumedLedger {
	return &sqliteLedger{store: s, source: source}
}

// Spend applies both counter increments of one spend in a single SQL
// transaction.
func (s *Store) Spend(ctx context.Context, account energy.Address, bonusDelta, primaryDelta decimal.Decimal) error {
	if bonusDelta.IsNegative() || primaryDelta.IsNegative() {
		return fmt.Errorf("consumed counters are increment-only")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := increaseConsumed(ctx, tx, account, energy.SourceBonus, bonusDelta); err != nil {
		return err
	}
	if err := increaseConsumed(ctx, tx, account, energy.SourcePrimary, primaryDelta); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteLedger struct {
	store  *Store
	source energy.Source
}

func (l *sqliteLedger) Consumed(ctx context.Context, account energy.Address) (decimal.Decimal, error) {
	var amount string
	err := l.store.db.QueryRowContext(ctx,
		`SELECT amount FROM consumed WHERE account = ? AND source = ?`,
		account, l.source).Scan(&amount)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt consumed amount %q: %w", amount, err)
	}
	return d, nil
}

func (l *sqliteLedger) IncreaseConsumed(ctx context.Context, account energy.Address, delta decimal.Decimal) error {
	if delta.IsNegative() {
		return fmt.Errorf("consumed counters are increment-only")
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := increaseConsumed(ctx, tx, account, l.source, delta); err != nil {
		return err
	}
	return tx.Commit()
}

// increaseConsumed reads, adds, and writes back one counter inside tx.
// Decimal strings don't admit an arithmetic UPDATE, hence read-modify-write;
// the store lock keeps it single-writer.
func increaseConsumed(ctx context.Context, tx *sql.Tx, account energy.Address, source energy.Source, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}

	var current string
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM consumed WHERE account = ? AND source = ?`,
		account, source).Scan(&current)
	if err == sql.ErrNoRows {
		current = "0"
	} else if err != nil {
		return err
	}

	d, err := decimal.NewFromString(current)
	if err != nil {
		return fmt.Errorf("corrupt consumed amount %q: %w", current, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO consumed (account, source, amount) VALUES (?, ?, ?)
		ON CONFLICT(account, source) DO UPDATE SET amount = excluded.amount`,
		account, source, d.Add(delta).String())
	return err
}

// =============================================================================
// EVENT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, ev energy.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detail []byte
	if ev.Detail != nil {
		var err error
		if detail, err = json.Marshal(ev.Detail); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, at, account, period_id, amount, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.At, ev.Account, ev.PeriodID, ev.Amount.String(), string(detail))
	return err
}

func (s *Store) Query(ctx context.Context, filter energy.EventFilter) ([]energy.Event, error) {
	// Filters are applied in Go; the event log is small relative to the
	// ledger tables and the filter combinatorics don't justify SQL building.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, at, account, period_id, amount, detail_json
		FROM events ORDER BY at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []energy.Event
	for rows.Next() {
		var ev energy.Event
		var amount, detail string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.At, &ev.Account, &ev.PeriodID, &amount, &detail); err != nil {
			return nil, err
		}
		if ev.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt event amount %q: %w", amount, err)
		}
		if detail != "" {
			if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
				return nil, err
			}
		}
		if filter.Match(ev) {
			out = append(out, ev)
		}
	}
	return out, rows.Err()
}

// Compile-time interface checks.
var (
	_ energy.PeriodStore     = (*Store)(nil)
	_ energy.HistoryProvider = (*Store)(nil)
	_ energy.AuctionProvider = (*Store)(nil)
	_ energy.AtomicSpender   = (*Store)(nil)
	_ energy.EventLog        = (*Store)(nil)
	_ energy.ConsumedLedger  = (*sqliteLedger)(nil)
)
