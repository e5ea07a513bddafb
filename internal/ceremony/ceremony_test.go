package ceremony

import (
	"context"
	"testing"
	"time"

	"github.com/gao-dev/gaodev/internal/coordinator"
	"github.com/gao-dev/gaodev/internal/learning"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/safety"
	"github.com/gao-dev/gaodev/internal/store"
)

type fakeStore struct{}

func (fakeStore) OpenActionItems(project string, epicNum int) ([]model.ActionItem, error) {
	return nil, nil
}
func (fakeStore) Begin() (*store.Tx, error)   { return &store.Tx{}, nil }
func (fakeStore) Commit(tx *store.Tx) error   { return nil }
func (fakeStore) Rollback(tx *store.Tx) error { return nil }

type fakeCoordinator struct {
	recorded []coordinator.RecordCeremonyParams
}

func (f *fakeCoordinator) RecordCeremony(p coordinator.RecordCeremonyParams) (model.Ceremony, error) {
	f.recorded = append(f.recorded, p)
	return model.Ceremony{ID: int64(len(f.recorded)), Type: p.Type, EpicNum: p.EpicNum, Outcome: p.Outcome}, nil
}

type fakeGuard struct {
	decision safety.Decision
	outcomes []model.Outcome
}

func (f *fakeGuard) CanHold(epicNum int, ctype model.CeremonyType, manual bool, now time.Time) (safety.Decision, error) {
	return f.decision, nil
}
func (f *fakeGuard) RecordOutcome(tx *store.Tx, epicNum int, ctype model.CeremonyType, outcome model.Outcome, heldAt time.Time) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

type fakeLearning struct{}

func (fakeLearning) Select(q learning.Query) ([]learning.Scored, error) { return nil, nil }

type scriptedRunner struct {
	transcripts []string
	calls       int
}

func (r *scriptedRunner) ExecuteCeremony(ctx context.Context, req Request) (Result, error) {
	i := r.calls
	if i >= len(r.transcripts) {
		i = len(r.transcripts) - 1
	}
	r.calls++
	return Result{Transcript: r.transcripts[i], DurationMS: 1000, Participants: []string{"agent"}}, nil
}

const goodTranscript = `# Summary

Shipped the checkout flow.

# Action Items

- [P1] Tighten the retry budget | why: flaky under load

# Learnings

- [quality] tags: checkout,retry | relevance: 0.8 — Retries without jitter amplify load spikes.
`

const emptyTranscript = `# Notes

Nothing structured here.
`

func TestHoldDeniedBySafetyGuard(t *testing.T) {
	guard := &fakeGuard{decision: safety.Decision{Allow: false, Reason: "circuit open"}}
	o := New(fakeStore{}, &fakeCoordinator{}, guard, fakeLearning{}, &scriptedRunner{transcripts: []string{goodTranscript}}, "demo")

	res, err := o.Hold(context.Background(), HoldRequest{Type: model.CeremonyStandup, EpicNum: 1, Now: time.Now()})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if !res.Denied {
		t.Fatal("expected HoldResult.Denied when SafetyGuard refuses")
	}
}

func TestHoldSuccessRecordsCeremony(t *testing.T) {
	coord := &fakeCoordinator{}
	guard := &fakeGuard{decision: safety.Decision{Allow: true}}
	o := New(fakeStore{}, coord, guard, fakeLearning{}, &scriptedRunner{transcripts: []string{goodTranscript}}, "demo")

	res, err := o.Hold(context.Background(), HoldRequest{Type: model.CeremonyRetrospective, EpicNum: 1, FeatureName: "checkout", Now: time.Now()})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("outcome = %v, want success", res.Outcome)
	}
	if len(coord.recorded) != 1 {
		t.Fatalf("expected exactly one RecordCeremony call, got %d", len(coord.recorded))
	}
	if len(coord.recorded[0].ActionItems) != 1 || len(coord.recorded[0].Learnings) != 1 {
		t.Fatalf("expected 1 action item and 1 learning parsed, got %+v", coord.recorded[0])
	}
	if len(guard.outcomes) != 1 || guard.outcomes[0] != model.OutcomeSuccess {
		t.Fatalf("expected SafetyGuard.RecordOutcome(success), got %v", guard.outcomes)
	}
}

func TestHoldEmptyTranscriptDowngradesToPartial(t *testing.T) {
	guard := &fakeGuard{decision: safety.Decision{Allow: true}}
	o := New(fakeStore{}, &fakeCoordinator{}, guard, fakeLearning{}, &scriptedRunner{transcripts: []string{emptyTranscript}}, "demo")

	res, err := o.Hold(context.Background(), HoldRequest{Type: model.CeremonyStandup, EpicNum: 1, Now: time.Now()})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if res.Outcome != model.OutcomePartial {
		t.Fatalf("outcome = %v, want partial for an unparseable transcript", res.Outcome)
	}
	if res.Abort {
		t.Fatal("a partial standup must never abort the plan")
	}
}

const partlyMalformedTranscript = `# Summary

Shipped the checkout flow.

# Learnings

- [quality] learning with no tags or dash separator
`

func TestHoldMalformedBulletDowngradesToPartial(t *testing.T) {
	guard := &fakeGuard{decision: safety.Decision{Allow: true}}
	o := New(fakeStore{}, &fakeCoordinator{}, guard, fakeLearning{}, &scriptedRunner{transcripts: []string{partlyMalformedTranscript}}, "demo")

	res, err := o.Hold(context.Background(), HoldRequest{Type: model.CeremonyStandup, EpicNum: 1, Now: time.Now()})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if res.Outcome != model.OutcomePartial {
		t.Fatalf("outcome = %v, want partial when any bullet fails its quality check", res.Outcome)
	}
}

func TestHoldFailedPlanningAborts(t *testing.T) {
	guard := &fakeGuard{decision: safety.Decision{Allow: true}}
	o := New(fakeStore{}, &fakeCoordinator{}, guard, fakeLearning{}, failingRunner{}, "demo")

	res, err := o.Hold(context.Background(), HoldRequest{Type: model.CeremonyPlanning, EpicNum: 1, Now: time.Now()})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if res.Outcome != model.OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", res.Outcome)
	}
	if !res.Abort {
		t.Fatal("a failed planning ceremony must abort the plan")
	}
}

func TestHoldFailedStandupContinues(t *testing.T) {
	guard := &fakeGuard{decision: safety.Decision{Allow: true}}
	o := New(fakeStore{}, &fakeCoordinator{}, guard, fakeLearning{}, failingRunner{}, "demo")

	res, err := o.Hold(context.Background(), HoldRequest{Type: model.CeremonyStandup, EpicNum: 1, Now: time.Now()})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if res.Abort {
		t.Fatal("a failed standup must never abort the plan")
	}
}

func TestHoldFailedRetrospectiveRetriesOnce(t *testing.T) {
	runner := &failThenSucceedRunner{}
	guard := &fakeGuard{decision: safety.Decision{Allow: true}}
	o := New(fakeStore{}, &fakeCoordinator{}, guard, fakeLearning{}, runner, "demo")

	res, err := o.Hold(context.Background(), HoldRequest{Type: model.CeremonyRetrospective, EpicNum: 1, FeatureName: "checkout", Now: time.Now()})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	if runner.calls != 2 {
		t.Fatalf("expected exactly one retry (2 total calls), got %d", runner.calls)
	}
	if res.Outcome != model.OutcomeSuccess {
		t.Fatalf("outcome = %v, want success once the retry produces a usable transcript", res.Outcome)
	}
	if res.Abort {
		t.Fatal("a retrospective must never abort the plan, even after exhausting its retry")
	}
}

type failingRunner struct{}

func (failingRunner) ExecuteCeremony(ctx context.Context, req Request) (Result, error) {
	return Result{}, context.DeadlineExceeded
}

type failThenSucceedRunner struct{ calls int }

func (r *failThenSucceedRunner) ExecuteCeremony(ctx context.Context, req Request) (Result, error) {
	r.calls++
	if r.calls == 1 {
		return Result{}, context.DeadlineExceeded
	}
	return Result{Transcript: goodTranscript, DurationMS: 500, Participants: []string{"agent"}}, nil
}
