package store

import (
	"database/sql"
	"time"

	"github.com/gao-dev/gaodev/internal/model"
)

// CreateEpic inserts a new epic row within tx. The caller (StateCoordinator)
// is responsible for pairing this with a git commit in the same transaction
// boundary.
func (s *Store) CreateEpic(tx *Tx, e model.Epic) (model.Epic, error) {
	if !e.Valid() {
		return model.Epic{}, model.DataInvariant("E012", "epic fails stories_completed invariant", nil)
	}
	_, err := tx.tx.Exec(`
		INSERT INTO epics (epic_num, project, feature_name, scale_level, status, total_stories, stories_completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EpicNum, e.Project, e.FeatureName, e.ScaleLevel, e.Status, e.TotalStories, e.StoriesCompleted, e.CreatedAt)
	if err != nil {
		return model.Epic{}, model.Transient("E023", "insert epic", err)
	}
	return e, nil
}

// GetEpic returns a single epic snapshot.
func (s *Store) GetEpic(project string, epicNum int) (model.Epic, error) {
	row := s.db.QueryRow(`
		SELECT epic_num, project, feature_name, scale_level, status, total_stories, stories_completed, created_at, completed_at
		FROM epics WHERE project = ? AND epic_num = ?
	`, project, epicNum)
	return scanEpic(row)
}

func scanEpic(row *sql.Row) (model.Epic, error) {
	var e model.Epic
	var completedAt sql.NullTime
	if err := row.Scan(&e.EpicNum, &e.Project, &e.FeatureName, &e.ScaleLevel, &e.Status,
		&e.TotalStories, &e.StoriesCompleted, &e.CreatedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Epic{}, model.DataInvariant("E013", "epic not found", err)
		}
		return model.Epic{}, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return e, nil
}

// UpdateEpicProgress advances stories_completed/status within tx, enforcing
// the data-model invariant before committing the write.
func (s *Store) UpdateEpicProgress(tx *Tx, project string, epicNum, storiesCompleted int, status model.EpicStatus, completedAt *time.Time) error {
	epic, err := s.GetEpic(project, epicNum)
	if err != nil {
		return err
	}
	epic.StoriesCompleted = storiesCompleted
	epic.Status = status
	epic.CompletedAt = completedAt
	if !epic.Valid() {
		return model.DataInvariant("E012", "epic update violates stories_completed invariant", nil)
	}
	_, err = tx.tx.Exec(`
		UPDATE epics SET stories_completed = ?, status = ?, completed_at = ?
		WHERE project = ? AND epic_num = ?
	`, storiesCompleted, status, completedAt, project, epicNum)
	if err != nil {
		return model.Transient("E023", "update epic progress", err)
	}
	return nil
}

// CreateStory inserts a new story row within tx.
func (s *Store) CreateStory(tx *Tx, st model.Story, project string) error {
	_, err := tx.tx.Exec(`
		INSERT INTO stories (project, epic_num, story_num, title, status, cycle_time_seconds, rework_count, quality_gates_passed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, project, st.EpicNum, st.StoryNum, st.Title, st.Status, st.CycleTimeSeconds, st.ReworkCount, st.QualityGatesPassed)
	if err != nil {
		return model.Transient("E023", "insert story", err)
	}
	return nil
}

// GetStory returns a single story snapshot.
func (s *Store) GetStory(project string, epicNum, storyNum int) (model.Story, error) {
	var st model.Story
	st.EpicNum, st.StoryNum = epicNum, storyNum
	err := s.db.QueryRow(`
		SELECT title, status, cycle_time_seconds, rework_count, quality_gates_passed, input_tokens, output_tokens, cost_usd
		FROM stories WHERE project = ? AND epic_num = ? AND story_num = ?
	`, project, epicNum, storyNum).Scan(&st.Title, &st.Status, &st.CycleTimeSeconds, &st.ReworkCount, &st.QualityGatesPassed,
		&st.Cost.InputTokens, &st.Cost.OutputTokens, &st.Cost.CostUSD)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Story{}, model.DataInvariant("E013", "story not found", err)
		}
		return model.Story{}, err
	}
	return st, nil
}

const listStoriesQuery = `
	SELECT story_num, title, status, cycle_time_seconds, rework_count, quality_gates_passed, input_tokens, output_tokens, cost_usd
	FROM stories WHERE project = ? AND epic_num = ? ORDER BY story_num
`

// ListStories returns every story under an epic, ordered by story_num.
func (s *Store) ListStories(project string, epicNum int) ([]model.Story, error) {
	rows, err := s.db.Query(listStoriesQuery, project, epicNum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStories(rows, epicNum)
}

// ListStoriesTx is ListStories reading through an open write transaction,
// so a status update made earlier in the same transaction is visible to
// the caller (plain ListStories only sees the last committed snapshot).
func (s *Store) ListStoriesTx(tx *Tx, project string, epicNum int) ([]model.Story, error) {
	rows, err := tx.tx.Query(listStoriesQuery, project, epicNum)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStories(rows, epicNum)
}

func scanStories(rows *sql.Rows, epicNum int) ([]model.Story, error) {
	var out []model.Story
	for rows.Next() {
		st := model.Story{EpicNum: epicNum}
		if err := rows.Scan(&st.StoryNum, &st.Title, &st.Status, &st.CycleTimeSeconds, &st.ReworkCount, &st.QualityGatesPassed,
			&st.Cost.InputTokens, &st.Cost.OutputTokens, &st.Cost.CostUSD); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateStoryStatus transitions a story's status within tx, incrementing
// rework_count when the caller signals a review -> in_progress rework loop.
// Cost usage accumulates across transitions so a reworked story keeps the
// spend from its earlier attempts.
func (s *Store) UpdateStoryStatus(tx *Tx, project string, epicNum, storyNum int, status model.StoryStatus, rework bool, cycleTimeSeconds int64, gates model.QualityGates, cost model.AgentCost) error {
	reworkIncr := 0
	if rework {
		reworkIncr = 1
	}
	_, err := tx.tx.Exec(`
		UPDATE stories SET status = ?, rework_count = rework_count + ?, cycle_time_seconds = ?, quality_gates_passed = ?,
			input_tokens = input_tokens + ?, output_tokens = output_tokens + ?, cost_usd = cost_usd + ?
		WHERE project = ? AND epic_num = ? AND story_num = ?
	`, status, reworkIncr, cycleTimeSeconds, gates, cost.InputTokens, cost.OutputTokens, cost.CostUSD, project, epicNum, storyNum)
	if err != nil {
		return model.Transient("E023", "update story status", err)
	}
	return nil
}
