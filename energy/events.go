/*
events.go - Append-only audit events

PURPOSE:
  Every state change emits an Event into an append-only log: period
  added/updated, primary/bonus energy used, pause transitions, role changes.
  The log is an audit trail, not a source of truth - balances are always
  recomputed from history and counters, never replayed from events.

SEE ALSO:
  - engine.go:   emits spend events
  - period.go:   emits period events
  - store/:      memory EventLog
  - store/sqlite: persistent EventLog
*/
package energy

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names an audit event.
type EventType string

const (
	EventPeriodAdded       EventType = "period_added"
	EventPeriodUpdated     EventType = "period_updated"
	EventPrimaryEnergyUsed EventType = "primary_energy_used"
	EventBonusEnergyUsed   EventType = "bonus_energy_used"
	EventPaused            EventType = "paused"
	EventUnpaused          EventType = "unpaused"
	EventRoleGranted       EventType = "role_granted"
	EventRoleRevoked       EventType = "role_revoked"
)

// Event is a single audit record. Fields that do not apply to a given type
// are left at their zero values.
type Event struct {
	ID       string
	Type     EventType
	At       int64 // unix seconds, from the engine clock
	Account  Address
	PeriodID PeriodID
	Amount   decimal.Decimal
	Detail   map[string]string
}

// EventLog stores events. Append-only: no update, no delete.
type EventLog interface {
	Append(ctx context.Context, ev Event) error
	Query(ctx context.Context, filter EventFilter) ([]Event, error)
}

// EventFilter narrows a Query. Nil/empty fields match everything.
type EventFilter struct {
	Types    []EventType
	Account  *Address
	PeriodID *PeriodID
	From     *int64
	To       *int64
}

// Match reports whether ev passes the filter. Implementations may use it
// directly or translate the filter to a query.
func (f EventFilter) Match(ev Event) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if ev.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Account != nil && ev.Account != *f.Account {
		return false
	}
	if f.PeriodID != nil && ev.PeriodID != *f.PeriodID {
		return false
	}
	if f.From != nil && ev.At < *f.From {
		return false
	}
	if f.To != nil && ev.At > *f.To {
		return false
	}
	return true
}

func newEvent(t EventType, at int64) Event {
	return Event{ID: uuid.NewString(), Type: t, At: at}
}
