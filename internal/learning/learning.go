// Package learning implements the Self-Learning Feedback Loop's scoring
// half: a pure ranking layer over Store snapshots. Recording an
// application is a thin delegation to internal/store, which owns the
// application_count/success_rate/confidence_score bookkeeping; this
// package owns only the relevance math used to pick candidates.
package learning

import (
	"sort"
	"time"

	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/store"
)

// Threshold is the minimum composite score a learning must clear to be
// considered applicable.
const Threshold = 0.3

// Query describes the work item a caller wants learnings for.
type Query struct {
	ScaleLevel  int
	ProjectType string
	Tags        []string
	Now         time.Time
}

// Store is the narrow read/write surface LearningService needs.
type Store interface {
	CandidateLearnings(project string, tags []string) ([]model.Learning, error)
	RecordLearningApplication(tx *store.Tx, project string, a model.LearningApplication) error
}

// Service scores and selects learnings for a project.
type Service struct {
	store   Store
	project string
}

// New constructs a learning Service bound to a project's store.
func New(s Store, project string) *Service {
	return &Service{store: s, project: project}
}

// Scored pairs a Learning with the composite score it earned against a
// Query, for callers that want to inspect or log the ranking.
type Scored struct {
	Learning model.Learning
	Score    float64
}

// Select returns the learnings whose composite score clears Threshold for
// the given query, ordered highest score first. Superseded learnings never
// reach this point: CandidateLearnings already excludes them.
func (s *Service) Select(q Query) ([]Scored, error) {
	candidates, err := s.store.CandidateLearnings(s.project, q.Tags)
	if err != nil {
		return nil, err
	}

	var out []Scored
	for _, l := range candidates {
		if !l.Scored() {
			continue
		}
		score := Score(l, q)
		if score < Threshold {
			continue
		}
		out = append(out, Scored{Learning: l, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// RecordApplication delegates to the store so the outcome is persisted
// atomically within the caller's transaction; StateCoordinator is
// responsible for opening and committing tx.
func (s *Service) RecordApplication(tx *store.Tx, a model.LearningApplication) error {
	return s.store.RecordLearningApplication(tx, s.project, a)
}

// Score computes the composite relevance score for a single learning
// against a query: base_relevance * success_rate * confidence * decay *
// similarity. A learning with zero applications has success_rate and
// confidence_score 0 by construction (internal/store initializes them that
// way), which would zero out every never-applied learning, so until it has
// at least one application its success_rate is treated as neutral (1.0)
// and its confidence as the curve's zero-application value (0.5), keeping
// new learnings reachable.
func Score(l model.Learning, q Query) float64 {
	successRate := l.SuccessRate
	confidence := l.ConfidenceScore
	if l.ApplicationCount == 0 {
		successRate = 1.0
		confidence = store.ConfidenceScore(0, successRate)
	}
	d := decay(l.IndexedAt, q.Now)
	sim := similarity(l, q)
	return l.BaseRelevance * successRate * confidence * d * sim
}

// decay implements the piecewise-linear staleness curve: learnings decay
// fastest between 30 and 90 days old, then more slowly out to a 0.5 floor
// past 180 days.
func decay(indexedAt, now time.Time) float64 {
	days := now.Sub(indexedAt).Hours() / 24
	switch {
	case days <= 30:
		return 1.0
	case days <= 90:
		return 1.0 - (days-30)/60*0.2
	case days <= 180:
		return 0.8 - (days-90)/90*0.2
	default:
		return 0.5
	}
}

// similarity is a weighted sum of scale-level proximity, project-type
// match, tag Jaccard overlap, and a category-universal bonus, clamped to
// [0, 1].
func similarity(l model.Learning, q Query) float64 {
	var score float64

	switch diff := abs(l.ScaleLevel - q.ScaleLevel); diff {
	case 0:
		score += 0.3
	case 1:
		score += 0.15
	}

	if l.ProjectType != "" && l.ProjectType == q.ProjectType {
		score += 0.2
	}

	score += jaccard(l.Tags, q.Tags) * 0.3

	switch l.Category {
	case model.CategoryQuality, model.CategoryArchitectural, model.CategoryProcess:
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	var intersection int
	union := make(map[string]bool, len(a)+len(b))
	for _, t := range a {
		union[t] = true
	}
	for _, t := range b {
		union[t] = true
		if set[t] {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
