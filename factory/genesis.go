/*
Package factory converts JSON genesis definitions into engine state.

PURPOSE:
  The initial period schedule, the auction release time, and role bindings
  are configuration, not code. Operators describe them in a JSON document;
  the factory validates it and applies it at startup.

JSON SCHEMA:
  {
    "periods": [
      {
        "start": 1700000000,
        "end": 1707776000,
        "token_multiplier": "1",
        "lp_multiplier": "2.5",
        "bonus_multiplier": "1"
      }
    ],
    "release_time": 1700000000,
    "roles": {
      "controller": ["0xabc..."],
      "consumer":   ["0xdef..."]
    }
  }

  Multipliers are decimal strings so they round-trip exactly.

APPLYING GENESIS:
  Genesis application is idempotent-by-count for periods: when the registry
  already holds at least as many periods as the document defines, the period
  batch is skipped (a restart must not duplicate the schedule). Role grants
  and the release time are reapplied unconditionally.

SEE ALSO:
  - energy/period.go: Registry
  - cmd/server/main.go: wiring at startup
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/energy-ledger/energy"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// GenesisJSON is the JSON representation of the initial ledger state.
type GenesisJSON struct {
	Periods     []PeriodJSON        `json:"periods"`
	ReleaseTime int64               `json:"release_time"`
	Roles       map[string][]string `json:"roles,omitempty"`
}

// PeriodJSON is one period in the genesis schedule.
type PeriodJSON struct {
	Start           int64  `json:"start"`
	End             int64  `json:"end"`
	TokenMultiplier string `json:"token_multiplier"`
	LPMultiplier    string `json:"lp_multiplier"`
	BonusMultiplier string `json:"bonus_multiplier"`
}

// =============================================================================
// GENESIS - Parsed, validated startup state
// =============================================================================

// Genesis is the parsed form, ready to apply.
type Genesis struct {
	Periods     []energy.Period
	ReleaseTime int64
	Roles       map[energy.Role][]energy.Address
}

var knownRoles = map[energy.Role]bool{
	energy.RoleController: true,
	energy.RoleDAO:        true,
	energy.RoleMultisig:   true,
	energy.RoleConsumer:   true,
}

// Parse decodes and validates a genesis document.
func Parse(data []byte) (*Genesis, error) {
	var doc GenesisJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid genesis JSON: %w", err)
	}

	g := &Genesis{
		ReleaseTime: doc.ReleaseTime,
		Roles:       make(map[energy.Role][]energy.Address),
	}

	for i, pj := range doc.Periods {
		p, err := parsePeriod(pj)
		if err != nil {
			return nil, fmt.Errorf("period %d: %w", i+1, err)
		}
		g.Periods = append(g.Periods, p)
	}

	for roleName, principals := range doc.Roles {
		role := energy.Role(roleName)
		if !knownRoles[role] {
			return nil, fmt.Errorf("unknown role %q", roleName)
		}
		for _, p := range principals {
			addr := energy.Address(p)
			if addr.IsZero() {
				return nil, fmt.Errorf("role %q: zero address", roleName)
			}
			g.Roles[role] = append(g.Roles[role], addr)
		}
	}
	return g, nil
}

func parsePeriod(pj PeriodJSON) (energy.Period, error) {
	token, err := parseMultiplier(pj.TokenMultiplier, "token_multiplier")
	if err != nil {
		return energy.Period{}, err
	}
	lp, err := parseMultiplier(pj.LPMultiplier, "lp_multiplier")
	if err != nil {
		return energy.Period{}, err
	}
	bonus, err := parseMultiplier(pj.BonusMultiplier, "bonus_multiplier")
	if err != nil {
		return energy.Period{}, err
	}
	// Start/End shape is deliberately unchecked: the registry accepts
	// whatever the operator configured.
	return energy.Period{
		Start:           pj.Start,
		End:             pj.End,
		TokenMultiplier: token,
		LPMultiplier:    lp,
		BonusMultiplier: bonus,
	}, nil
}

func parseMultiplier(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("missing %s", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}

// =============================================================================
// APPLICATION
// =============================================================================

// ReleaseTimeSetter is the ingestion half of the auction provider; the
// sqlite store implements it.
type ReleaseTimeSetter interface {
	SetReleaseTime(ctx context.Context, t int64) error
}

// Apply installs the genesis state: period schedule (skipped when already
// present), release time, and role grants.
func (g *Genesis) Apply(ctx context.Context, registry *energy.Registry, access *energy.AccessControl, release ReleaseTimeSetter) error {
	if registry.Count() < len(g.Periods) {
		missing := g.Periods[registry.Count():]
		if _, err := registry.AppendBatch(ctx, missing); err != nil {
			return fmt.Errorf("applying genesis periods: %w", err)
		}
	}

	if release != nil && g.ReleaseTime > 0 {
		if err := release.SetReleaseTime(ctx, g.ReleaseTime); err != nil {
			return fmt.Errorf("applying release time: %w", err)
		}
	}

	for role, principals := range g.Roles {
		for _, p := range principals {
			if err := access.Grant(role, p); err != nil {
				return fmt.Errorf("granting %s to %s: %w", role, p, err)
			}
		}
	}
	return nil
}
