// Package safety implements the SafetyGuard: the per-epic ceremony cap,
// cooldowns, and circuit breaker. It is a standalone,
// store-backed gate consulted before every ceremony hold.
package safety

import (
	"fmt"
	"time"

	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/store"
)

// Store is the narrow read/write surface SafetyGuard needs from
// internal/store, kept as an interface so it can be faked in tests without
// spinning up SQLite.
type Store interface {
	GetSafetyState(project string, epicNum int, ctype model.CeremonyType) (model.SafetyState, error)
	LastCeremony(project string, epicNum int, ctype model.CeremonyType) (model.Ceremony, bool, error)
	CountCeremoniesThisEpic(project string, epicNum int) (int, error)
	RecordSafetyOutcome(tx *store.Tx, project string, epicNum int, ctype model.CeremonyType, outcome model.Outcome, heldAt time.Time) error
}

// Guard enforces the safety rules: the per-epic ceremony cap, per-type cooldowns, and the circuit breaker.
type Guard struct {
	store   Store
	project string
	cfg     config.Safety
}

// New constructs a Guard bound to a project's store and safety config.
func New(store Store, project string, cfg config.Safety) *Guard {
	return &Guard{store: store, project: project, cfg: cfg}
}

// Decision is the result of a canHold check.
type Decision struct {
	Allow  bool
	Reason string
}

func cooldownFor(cfg config.Safety, ctype model.CeremonyType) time.Duration {
	switch ctype {
	case model.CeremonyPlanning:
		return cfg.PlanningCooldown.Duration
	case model.CeremonyStandup:
		return cfg.StandupCooldown.Duration
	case model.CeremonyRetrospective:
		return cfg.RetrospectiveCooldown.Duration
	default:
		return 0
	}
}

// CanHold evaluates whether a ceremony of the given type may run for the
// epic right now. manual=true bypasses the cooldown check; manual holds
// still respect the per-epic cap and the open circuit.
func (g *Guard) CanHold(epicNum int, ctype model.CeremonyType, manual bool, now time.Time) (Decision, error) {
	total, err := g.store.CountCeremoniesThisEpic(g.project, epicNum)
	if err != nil {
		return Decision{}, err
	}
	cap := g.cfg.MaxCeremoniesPerEpic
	if cap == 0 {
		cap = model.MaxCeremoniesPerEpic
	}
	if total >= cap {
		return Decision{Allow: false, Reason: fmt.Sprintf("epic %d has reached the %d-ceremony cap", epicNum, cap)}, nil
	}

	state, err := g.store.GetSafetyState(g.project, epicNum, ctype)
	if err != nil {
		return Decision{}, err
	}
	if state.CircuitOpen {
		return Decision{Allow: false, Reason: fmt.Sprintf("circuit breaker open for %s ceremonies on epic %d", ctype, epicNum)}, nil
	}

	if !manual {
		last, ok, err := g.store.LastCeremony(g.project, epicNum, ctype)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			cooldown := cooldownFor(g.cfg, ctype)
			if elapsed := now.Sub(last.HeldAt); elapsed < cooldown {
				return Decision{Allow: false, Reason: fmt.Sprintf("%s cooldown not elapsed (%s remaining)", ctype, (cooldown - elapsed).Round(time.Second))}, nil
			}
		}
	}

	return Decision{Allow: true}, nil
}

// RecordOutcome updates SafetyState for (epic, ceremony type) within an
// already-open write transaction, applying the circuit-breaker rule:
// consecutive failures reset on success, and the circuit opens on the
// CircuitOpenThreshold'th consecutive failure (the failing ceremony itself
// still runs; only the *next* one is blocked).
func (g *Guard) RecordOutcome(tx *store.Tx, epicNum int, ctype model.CeremonyType, outcome model.Outcome, heldAt time.Time) error {
	return g.store.RecordSafetyOutcome(tx, g.project, epicNum, ctype, outcome, heldAt)
}
