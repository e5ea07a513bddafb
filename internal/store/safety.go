package store

import (
	"database/sql"
	"time"

	"github.com/gao-dev/gaodev/internal/model"
)

// GetSafetyState returns the SafetyState row for (project, epic, type),
// creating an empty in-memory default if none exists yet (closed circuit,
// zero counters) without writing it — the row materializes on first write.
func (s *Store) GetSafetyState(project string, epicNum int, ctype model.CeremonyType) (model.SafetyState, error) {
	st := model.SafetyState{EpicNum: epicNum, CeremonyType: ctype}
	var lastHeld sql.NullTime
	err := s.db.QueryRow(`
		SELECT last_held_at, consecutive_failures, circuit_open, total_ceremonies_this_epic
		FROM safety_state WHERE project = ? AND epic_num = ? AND ceremony_type = ?
	`, project, epicNum, ctype).Scan(&lastHeld, &st.ConsecutiveFailures, &st.CircuitOpen, &st.TotalCeremoniesThisEpic)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return model.SafetyState{}, err
	}
	if lastHeld.Valid {
		t := lastHeld.Time
		st.LastHeldAt = &t
	}
	return st, nil
}

// RecordSafetyOutcome upserts the SafetyState row within tx after a
// ceremony of the given type completes, applying the circuit-breaker and
// cooldown bookkeeping rules: consecutive_failures resets on success, the
// circuit opens once it reaches model.CircuitOpenThreshold, and
// total_ceremonies_this_epic increments unconditionally.
func (s *Store) RecordSafetyOutcome(tx *Tx, project string, epicNum int, ctype model.CeremonyType, outcome model.Outcome, heldAt time.Time) error {
	cur, err := s.GetSafetyState(project, epicNum, ctype)
	if err != nil {
		return err
	}

	if outcome == model.OutcomeSuccess {
		cur.ConsecutiveFailures = 0
		cur.CircuitOpen = false
	} else if outcome == model.OutcomeFailed {
		cur.ConsecutiveFailures++
		if cur.ConsecutiveFailures >= model.CircuitOpenThreshold {
			cur.CircuitOpen = true
		}
	}
	cur.TotalCeremoniesThisEpic++
	cur.LastHeldAt = &heldAt

	_, err = tx.tx.Exec(`
		INSERT INTO safety_state (project, epic_num, ceremony_type, last_held_at, consecutive_failures, circuit_open, total_ceremonies_this_epic)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, epic_num, ceremony_type) DO UPDATE SET
			last_held_at = excluded.last_held_at,
			consecutive_failures = excluded.consecutive_failures,
			circuit_open = excluded.circuit_open,
			total_ceremonies_this_epic = excluded.total_ceremonies_this_epic
	`, project, epicNum, ctype, cur.LastHeldAt, cur.ConsecutiveFailures, cur.CircuitOpen, cur.TotalCeremoniesThisEpic)
	if err != nil {
		return model.Transient("E026", "record safety outcome", err)
	}
	return nil
}
