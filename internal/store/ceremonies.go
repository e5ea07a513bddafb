package store

import (
	"database/sql"
	"strings"

	"github.com/gao-dev/gaodev/internal/model"
)

// RecordCeremony inserts a ceremony row within tx, deduplicating on
// idempotency_key: a second call with the same key returns the existing
// row's id with inserted=false and writes nothing.
func (s *Store) RecordCeremony(tx *Tx, project string, c model.Ceremony) (id int64, inserted bool, err error) {
	if c.IdempotencyKey != "" {
		var existing int64
		err := tx.tx.QueryRow(`SELECT id FROM ceremonies WHERE project = ? AND idempotency_key = ?`, project, c.IdempotencyKey).Scan(&existing)
		if err == nil {
			return existing, false, nil
		}
		if err != sql.ErrNoRows {
			return 0, false, model.Transient("E024", "check ceremony idempotency", err)
		}
	}

	var storyNum sql.NullInt64
	if c.StoryNum != nil {
		storyNum = sql.NullInt64{Int64: int64(*c.StoryNum), Valid: true}
	}

	res, err := tx.tx.Exec(`
		INSERT INTO ceremonies (project, epic_num, story_num, type, phase, held_at, duration_ms, participants, transcript, summary, outcome, idempotency_key, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, project, c.EpicNum, storyNum, c.Type, c.Phase, c.HeldAt, c.DurationMS, strings.Join(c.Participants, ","), c.Transcript, c.Summary, c.Outcome, c.IdempotencyKey,
		c.Cost.InputTokens, c.Cost.OutputTokens, c.Cost.CostUSD)
	if err != nil {
		return 0, false, model.Transient("E024", "insert ceremony", err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return newID, true, nil
}

// SetCeremonyCommit records the git SHA a ceremony's artifact was committed
// under, used by crash recovery to detect rows with no matching commit.
func (s *Store) SetCeremonyCommit(tx *Tx, id int64, sha string) error {
	_, err := tx.tx.Exec(`UPDATE ceremonies SET commit_sha = ? WHERE id = ?`, sha, id)
	return err
}

// CeremoniesWithoutCommit returns ceremony rows that have no recorded git
// SHA. StateCoordinator stamps the SHA inside the same transaction that
// inserts the row, so such rows only come from a database written outside
// that protocol; reconciliation removes them so every surviving row has its
// commit.
func (s *Store) CeremoniesWithoutCommit(project string) ([]model.Ceremony, error) {
	rows, err := s.db.Query(`SELECT id, epic_num, type, idempotency_key FROM ceremonies WHERE project = ? AND commit_sha = ''`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ceremony
	for rows.Next() {
		var c model.Ceremony
		if err := rows.Scan(&c.ID, &c.EpicNum, &c.Type, &c.IdempotencyKey); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCeremony removes a ceremony row; used only by the crash-recovery
// rollback path to restore the one-commit-per-row pairing.
func (s *Store) DeleteCeremony(tx *Tx, id int64) error {
	_, err := tx.tx.Exec(`DELETE FROM ceremonies WHERE id = ?`, id)
	return err
}

// PlanningExists reports whether a planning ceremony already exists for the
// epic (at most one per epic, per the data-model invariant).
func (s *Store) PlanningExists(project string, epicNum int) (bool, error) {
	return s.ceremonyExists(project, epicNum, model.CeremonyPlanning, "")
}

// MidRetroExists reports whether a mid-epic retrospective has already fired.
// "Mid" is tracked via the phase column carrying the sentinel "mid".
func (s *Store) MidRetroExists(project string, epicNum int) (bool, error) {
	return s.ceremonyExists(project, epicNum, model.CeremonyRetrospective, "mid")
}

// PhaseRetroExists reports whether a retrospective already ran for this
// (epic, phase) pair, used by the scale-4 phase-boundary trigger rule.
func (s *Store) PhaseRetroExists(project string, epicNum int, phase string) (bool, error) {
	return s.ceremonyExists(project, epicNum, model.CeremonyRetrospective, phase)
}

func (s *Store) ceremonyExists(project string, epicNum int, ctype model.CeremonyType, phase string) (bool, error) {
	var count int
	var err error
	if phase == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM ceremonies WHERE project = ? AND epic_num = ? AND type = ?`, project, epicNum, ctype).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM ceremonies WHERE project = ? AND epic_num = ? AND type = ? AND phase = ?`, project, epicNum, ctype, phase).Scan(&count)
	}
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LastCeremony returns the most recently held ceremony of a given type for
// an epic, used by SafetyGuard's cooldown check. Returns ok=false if none.
func (s *Store) LastCeremony(project string, epicNum int, ctype model.CeremonyType) (c model.Ceremony, ok bool, err error) {
	row := s.db.QueryRow(`
		SELECT id, type, held_at, outcome FROM ceremonies
		WHERE project = ? AND epic_num = ? AND type = ?
		ORDER BY held_at DESC LIMIT 1
	`, project, epicNum, ctype)
	if err := row.Scan(&c.ID, &c.Type, &c.HeldAt, &c.Outcome); err != nil {
		if err == sql.ErrNoRows {
			return model.Ceremony{}, false, nil
		}
		return model.Ceremony{}, false, err
	}
	return c, true, nil
}

// CountCeremoniesThisEpic returns the total ceremonies ever held for an
// epic, backing the per-epic cap of 10.
func (s *Store) CountCeremoniesThisEpic(project string, epicNum int) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ceremonies WHERE project = ? AND epic_num = ?`, project, epicNum).Scan(&count)
	return count, err
}

// RecentOutcomes returns the outcomes of the N most recent ceremonies of a
// type for an epic, most-recent-first, used to compute consecutive failures
// for the circuit breaker.
func (s *Store) RecentOutcomes(project string, epicNum int, ctype model.CeremonyType, n int) ([]model.Outcome, error) {
	rows, err := s.db.Query(`
		SELECT outcome FROM ceremonies
		WHERE project = ? AND epic_num = ? AND type = ?
		ORDER BY held_at DESC LIMIT ?
	`, project, epicNum, ctype, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Outcome
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
