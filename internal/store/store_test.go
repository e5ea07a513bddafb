package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gao-dev/gaodev/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetEpic(t *testing.T) {
	st := openTestStore(t)
	tx, err := st.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	epic := model.Epic{
		EpicNum: 1, Project: "proj", FeatureName: "checkout", ScaleLevel: 3,
		Status: model.EpicPlanned, TotalStories: 5, CreatedAt: time.Now(),
	}
	if _, err := st.CreateEpic(tx, epic); err != nil {
		t.Fatalf("CreateEpic: %v", err)
	}
	if err := st.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := st.GetEpic("proj", 1)
	if err != nil {
		t.Fatalf("GetEpic: %v", err)
	}
	if got.FeatureName != "checkout" || got.TotalStories != 5 {
		t.Fatalf("unexpected epic: %+v", got)
	}
}

func TestUpdateEpicProgressRejectsInvariantViolation(t *testing.T) {
	st := openTestStore(t)
	tx, _ := st.Begin()
	st.CreateEpic(tx, model.Epic{EpicNum: 1, Project: "p", FeatureName: "f", ScaleLevel: 2, Status: model.EpicPlanned, TotalStories: 3, CreatedAt: time.Now()})
	st.Commit(tx)

	tx, _ = st.Begin()
	defer st.Rollback(tx)
	err := st.UpdateEpicProgress(tx, "p", 1, 10, model.EpicActive, nil)
	if err == nil {
		t.Fatal("expected invariant violation error for stories_completed > total_stories")
	}
}

func TestNestedTransactionRejected(t *testing.T) {
	st := openTestStore(t)
	tx, err := st.Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer st.Rollback(tx)

	if _, err := st.Begin(); err == nil {
		t.Fatal("expected nested Begin to fail with ErrInTransaction")
	}
}

func TestRecordCeremonyIdempotent(t *testing.T) {
	st := openTestStore(t)
	tx, _ := st.Begin()
	st.CreateEpic(tx, model.Epic{EpicNum: 1, Project: "p", FeatureName: "f", ScaleLevel: 3, Status: model.EpicActive, TotalStories: 4, CreatedAt: time.Now()})
	st.Commit(tx)

	c := model.Ceremony{
		EpicNum: 1, Type: model.CeremonyStandup, HeldAt: time.Now(),
		Outcome: model.OutcomeSuccess, IdempotencyKey: "standup-2026-07-29T00:00-1",
	}

	tx, _ = st.Begin()
	id1, inserted1, err := st.RecordCeremony(tx, "p", c)
	if err != nil {
		t.Fatalf("RecordCeremony: %v", err)
	}
	if !inserted1 {
		t.Fatal("expected first call to insert")
	}
	st.Commit(tx)

	tx, _ = st.Begin()
	id2, inserted2, err := st.RecordCeremony(tx, "p", c)
	if err != nil {
		t.Fatalf("RecordCeremony (dup): %v", err)
	}
	if inserted2 {
		t.Fatal("expected second call with same idempotency key to be a no-op")
	}
	if id1 != id2 {
		t.Fatalf("expected same ceremony id, got %d and %d", id1, id2)
	}
	st.Commit(tx)
}

func TestExpireStaleActionItemsTwiceIsNoop(t *testing.T) {
	st := openTestStore(t)
	tx, _ := st.Begin()
	st.CreateEpic(tx, model.Epic{EpicNum: 1, Project: "p", FeatureName: "f", ScaleLevel: 2, Status: model.EpicActive, TotalStories: 2, CreatedAt: time.Now()})
	cid, _, _ := st.RecordCeremony(tx, "p", model.Ceremony{EpicNum: 1, Type: model.CeremonyStandup, HeldAt: time.Now(), Outcome: model.OutcomeSuccess})
	old := time.Now().Add(-40 * 24 * time.Hour)
	st.CreateActionItem(tx, "p", model.ActionItem{CeremonyID: cid, EpicNum: 1, Priority: model.PriorityLow, Description: "stale", Status: model.ActionItemOpen, CreatedAt: old})
	st.Commit(tx)

	now := time.Now()
	tx, _ = st.Begin()
	n1, err := st.ExpireStaleActionItems(tx, "p", now)
	if err != nil {
		t.Fatalf("ExpireStaleActionItems: %v", err)
	}
	st.Commit(tx)
	if n1 != 1 {
		t.Fatalf("expected 1 row expired, got %d", n1)
	}

	tx, _ = st.Begin()
	n2, err := st.ExpireStaleActionItems(tx, "p", now)
	if err != nil {
		t.Fatalf("ExpireStaleActionItems (2nd): %v", err)
	}
	st.Commit(tx)
	if n2 != 0 {
		t.Fatalf("expected second call to be a no-op, got %d rows", n2)
	}
}

func TestLearningApplicationCountMatchesRows(t *testing.T) {
	st := openTestStore(t)
	tx, _ := st.Begin()
	lid, err := st.CreateLearning(tx, "p", model.Learning{Category: model.CategoryQuality, Text: "write tests first", Tags: []string{"auth", "api"}, BaseRelevance: 0.9, IndexedAt: time.Now()})
	if err != nil {
		t.Fatalf("CreateLearning: %v", err)
	}
	st.Commit(tx)

	tx, _ = st.Begin()
	for _, outcome := range []model.Outcome{model.OutcomeSuccess, model.OutcomePartial, model.OutcomeFailed} {
		if err := st.RecordLearningApplication(tx, "p", model.LearningApplication{LearningID: lid, EpicNum: 1, Outcome: outcome, AppliedAt: time.Now()}); err != nil {
			t.Fatalf("RecordLearningApplication: %v", err)
		}
	}
	st.Commit(tx)

	l, err := st.GetLearning(lid)
	if err != nil {
		t.Fatalf("GetLearning: %v", err)
	}
	if l.ApplicationCount != 3 {
		t.Fatalf("expected application_count == 3 rows, got %d", l.ApplicationCount)
	}
	wantSuccessRate := (1.0 + 0.5) / 3.0
	if diff := l.SuccessRate - wantSuccessRate; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("unexpected success_rate: got %v want %v", l.SuccessRate, wantSuccessRate)
	}
}

func TestSafetyCircuitOpensOnThirdConsecutiveFailure(t *testing.T) {
	st := openTestStore(t)
	tx, _ := st.Begin()
	st.CreateEpic(tx, model.Epic{EpicNum: 1, Project: "p", FeatureName: "f", ScaleLevel: 3, Status: model.EpicActive, TotalStories: 4, CreatedAt: time.Now()})
	st.Commit(tx)

	for i := 0; i < 2; i++ {
		tx, _ = st.Begin()
		if err := st.RecordSafetyOutcome(tx, "p", 1, model.CeremonyRetrospective, model.OutcomeFailed, time.Now()); err != nil {
			t.Fatalf("RecordSafetyOutcome: %v", err)
		}
		st.Commit(tx)
	}
	state, _ := st.GetSafetyState("p", 1, model.CeremonyRetrospective)
	if state.CircuitOpen {
		t.Fatal("circuit should not open before the 3rd consecutive failure")
	}

	tx, _ = st.Begin()
	st.RecordSafetyOutcome(tx, "p", 1, model.CeremonyRetrospective, model.OutcomeFailed, time.Now())
	st.Commit(tx)

	state, _ = st.GetSafetyState("p", 1, model.CeremonyRetrospective)
	if !state.CircuitOpen {
		t.Fatal("circuit should open on the 3rd consecutive failure")
	}
	if state.TotalCeremoniesThisEpic != 3 {
		t.Fatalf("expected 3 total ceremonies recorded, got %d", state.TotalCeremoniesThisEpic)
	}
}
