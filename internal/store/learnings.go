package store

import (
	"database/sql"
	"math"
	"strings"

	"github.com/gao-dev/gaodev/internal/model"
)

// CreateLearning inserts a new learning row within tx. application_count,
// success_rate, and confidence_score start at zero; they are maintained by
// RecordLearningApplication as LearningApplication rows accrue.
func (s *Store) CreateLearning(tx *Tx, project string, l model.Learning) (int64, error) {
	res, err := tx.tx.Exec(`
		INSERT INTO learnings (project, category, text, tags, scale_level, project_type, base_relevance, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, project, l.Category, l.Text, strings.Join(l.Tags, ","), l.ScaleLevel, l.ProjectType, l.BaseRelevance, l.IndexedAt)
	if err != nil {
		return 0, model.Transient("E027", "insert learning", err)
	}
	return res.LastInsertId()
}

// GetLearning returns a single learning by id.
func (s *Store) GetLearning(id int64) (model.Learning, error) {
	row := s.db.QueryRow(`
		SELECT id, category, text, tags, scale_level, project_type, base_relevance,
		       application_count, success_rate, confidence_score, indexed_at, superseded_by
		FROM learnings WHERE id = ?
	`, id)
	return scanLearning(row)
}

// CandidateLearnings returns unsuperseded learnings for scoring, optionally
// narrowed by an FTS5 tag/text prefilter when tags are supplied; falls back
// to a full scan when no tags are given or the FTS query matches nothing.
func (s *Store) CandidateLearnings(project string, tags []string) ([]model.Learning, error) {
	if len(tags) > 0 {
		ftsQuery := strings.Join(tags, " OR ")
		rows, err := s.db.Query(`
			SELECT l.id, l.category, l.text, l.tags, l.scale_level, l.project_type, l.base_relevance,
			       l.application_count, l.success_rate, l.confidence_score, l.indexed_at, l.superseded_by
			FROM learnings l
			JOIN learnings_fts f ON l.id = f.rowid
			WHERE l.project = ? AND l.superseded_by IS NULL AND learnings_fts MATCH ?
			ORDER BY bm25(learnings_fts)
		`, project, ftsQuery)
		if err == nil {
			defer rows.Close()
			out, err := scanLearnings(rows)
			if err == nil && len(out) > 0 {
				return out, nil
			}
		}
	}

	rows, err := s.db.Query(`
		SELECT id, category, text, tags, scale_level, project_type, base_relevance,
		       application_count, success_rate, confidence_score, indexed_at, superseded_by
		FROM learnings WHERE project = ? AND superseded_by IS NULL
	`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLearnings(rows)
}

func scanLearning(row *sql.Row) (model.Learning, error) {
	var l model.Learning
	var tagsStr string
	var superseded sql.NullInt64
	if err := row.Scan(&l.ID, &l.Category, &l.Text, &tagsStr, &l.ScaleLevel, &l.ProjectType, &l.BaseRelevance,
		&l.ApplicationCount, &l.SuccessRate, &l.ConfidenceScore, &l.IndexedAt, &superseded); err != nil {
		if err == sql.ErrNoRows {
			return model.Learning{}, model.DataInvariant("E013", "learning not found", err)
		}
		return model.Learning{}, err
	}
	if tagsStr != "" {
		l.Tags = strings.Split(tagsStr, ",")
	}
	if superseded.Valid {
		v := superseded.Int64
		l.SupersededBy = &v
	}
	return l, nil
}

func scanLearnings(rows *sql.Rows) ([]model.Learning, error) {
	var out []model.Learning
	for rows.Next() {
		var l model.Learning
		var tagsStr string
		var superseded sql.NullInt64
		if err := rows.Scan(&l.ID, &l.Category, &l.Text, &tagsStr, &l.ScaleLevel, &l.ProjectType, &l.BaseRelevance,
			&l.ApplicationCount, &l.SuccessRate, &l.ConfidenceScore, &l.IndexedAt, &superseded); err != nil {
			return nil, err
		}
		if tagsStr != "" {
			l.Tags = strings.Split(tagsStr, ",")
		}
		if superseded.Valid {
			v := superseded.Int64
			l.SupersededBy = &v
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecordLearningApplication appends a LearningApplication row within tx and
// recomputes the learning's application_count, success_rate, and
// confidence_score. Outcome "partial" counts as 0.5 successes for
// success_rate; for confidence it counts as a 0.5-weighted application, so
// a string of partials doesn't earn full-success confidence runway.
func (s *Store) RecordLearningApplication(tx *Tx, project string, a model.LearningApplication) error {
	var storyNum sql.NullInt64
	if a.StoryNum != nil {
		storyNum = sql.NullInt64{Int64: int64(*a.StoryNum), Valid: true}
	}
	if _, err := tx.tx.Exec(`
		INSERT INTO learning_applications (learning_id, project, epic_num, story_num, outcome, applied_at, context)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.LearningID, project, a.EpicNum, storyNum, a.Outcome, a.AppliedAt, a.Context); err != nil {
		return model.Transient("E028", "insert learning application", err)
	}

	rows, err := tx.tx.Query(`SELECT outcome FROM learning_applications WHERE learning_id = ?`, a.LearningID)
	if err != nil {
		return err
	}
	var successes, partials, failures float64
	var rowCount int
	for rows.Next() {
		var o model.Outcome
		if err := rows.Scan(&o); err != nil {
			rows.Close()
			return err
		}
		rowCount++
		switch o {
		case model.OutcomeSuccess:
			successes++
		case model.OutcomePartial:
			partials++
		case model.OutcomeFailed:
			failures++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	successRate := 0.0
	if rowCount > 0 {
		successRate = (successes + 0.5*partials) / float64(rowCount)
	}
	weightedN := successes + 0.5*partials + failures
	confidence := ConfidenceScore(weightedN, successRate)

	if _, err := tx.tx.Exec(`
		UPDATE learnings SET application_count = ?, success_rate = ?, confidence_score = ?
		WHERE id = ?
	`, rowCount, successRate, confidence, a.LearningID); err != nil {
		return model.Transient("E028", "update learning counters", err)
	}
	return nil
}

// ConfidenceScore implements the confidence curve:
// 0.5 + 0.4*(1 - e^(-n/10)), multiplied by successRate when successRate < 0.5.
func ConfidenceScore(n float64, successRate float64) float64 {
	score := confidenceBase(n)
	if successRate < 0.5 {
		score *= successRate
	}
	return score
}

func confidenceBase(n float64) float64 {
	return 0.5 + 0.4*(1-math.Exp(-n/10))
}
