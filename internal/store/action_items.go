package store

import (
	"database/sql"
	"time"

	"github.com/gao-dev/gaodev/internal/model"
)

// CreateActionItem inserts a new action item within tx, tied to the
// ceremony that surfaced it.
func (s *Store) CreateActionItem(tx *Tx, project string, a model.ActionItem) (int64, error) {
	res, err := tx.tx.Exec(`
		INSERT INTO action_items (ceremony_id, project, epic_num, priority, description, status, auto_promote_to_story, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.CeremonyID, project, a.EpicNum, a.Priority, a.Description, a.Status, a.AutoPromoteToStory, a.CreatedAt)
	if err != nil {
		return 0, model.Transient("E025", "insert action item", err)
	}
	return res.LastInsertId()
}

// OpenActionItems returns open action items for an epic, most recent first.
func (s *Store) OpenActionItems(project string, epicNum int) ([]model.ActionItem, error) {
	rows, err := s.db.Query(`
		SELECT id, ceremony_id, priority, description, status, auto_promote_to_story, created_at, closed_at
		FROM action_items
		WHERE project = ? AND epic_num = ? AND status = 'open'
		ORDER BY created_at DESC
	`, project, epicNum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActionItems(rows, epicNum)
}

// PromotionCandidates returns open action items whose priority is eligible
// for auto-promotion to a story on the next planning step (high or
// critical, per the resolved open question).
func (s *Store) PromotionCandidates(project string, epicNum int) ([]model.ActionItem, error) {
	rows, err := s.db.Query(`
		SELECT id, ceremony_id, priority, description, status, auto_promote_to_story, created_at, closed_at
		FROM action_items
		WHERE project = ? AND epic_num = ? AND status = 'open' AND priority IN ('high', 'critical')
		ORDER BY created_at ASC
	`, project, epicNum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActionItems(rows, epicNum)
}

func scanActionItems(rows *sql.Rows, epicNum int) ([]model.ActionItem, error) {
	var out []model.ActionItem
	for rows.Next() {
		a := model.ActionItem{EpicNum: epicNum}
		var closedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.CeremonyID, &a.Priority, &a.Description, &a.Status, &a.AutoPromoteToStory, &a.CreatedAt, &closedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time
			a.ClosedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ExpireStaleActionItems marks open low- and medium-priority items older
// than model.ActionItemTTL as expired as of "now"; high and critical items
// are promotion candidates and never expire. Calling it twice for the same
// now is a no-op the second time since only currently-open rows match the
// WHERE clause.
func (s *Store) ExpireStaleActionItems(tx *Tx, project string, now time.Time) (int64, error) {
	cutoff := now.Add(-model.ActionItemTTL)
	res, err := tx.tx.Exec(`
		UPDATE action_items SET status = 'expired', closed_at = ?
		WHERE project = ? AND status = 'open' AND priority IN ('low', 'medium') AND created_at < ?
	`, now, project, cutoff)
	if err != nil {
		return 0, model.Transient("E025", "expire stale action items", err)
	}
	return res.RowsAffected()
}

// CloseActionItem marks an item done/cancelled within tx.
func (s *Store) CloseActionItem(tx *Tx, id int64, status model.ActionItemStatus, closedAt time.Time) error {
	_, err := tx.tx.Exec(`UPDATE action_items SET status = ?, closed_at = ? WHERE id = ?`, status, closedAt, id)
	return err
}
