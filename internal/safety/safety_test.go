package safety

import (
	"testing"
	"time"

	"github.com/gao-dev/gaodev/internal/config"
	"github.com/gao-dev/gaodev/internal/model"
	"github.com/gao-dev/gaodev/internal/store"
)

type fakeStore struct {
	state       model.SafetyState
	lastHeld    *model.Ceremony
	total       int
	recordCalls int
}

func (f *fakeStore) GetSafetyState(project string, epicNum int, ctype model.CeremonyType) (model.SafetyState, error) {
	return f.state, nil
}
func (f *fakeStore) LastCeremony(project string, epicNum int, ctype model.CeremonyType) (model.Ceremony, bool, error) {
	if f.lastHeld == nil {
		return model.Ceremony{}, false, nil
	}
	return *f.lastHeld, true, nil
}
func (f *fakeStore) CountCeremoniesThisEpic(project string, epicNum int) (int, error) {
	return f.total, nil
}
func (f *fakeStore) RecordSafetyOutcome(tx *store.Tx, project string, epicNum int, ctype model.CeremonyType, outcome model.Outcome, heldAt time.Time) error {
	f.recordCalls++
	return nil
}

func testCfg() config.Safety {
	return config.Safety{
		MaxCeremoniesPerEpic:  10,
		PlanningCooldown:      config.Duration{Duration: 24 * time.Hour},
		StandupCooldown:       config.Duration{Duration: 12 * time.Hour},
		RetrospectiveCooldown: config.Duration{Duration: 24 * time.Hour},
		CircuitOpenThreshold:  3,
	}
}

func TestCanHoldDeniesAtCap(t *testing.T) {
	fs := &fakeStore{total: 10}
	g := New(fs, "p", testCfg())
	d, err := g.CanHold(1, model.CeremonyStandup, false, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow {
		t.Fatal("expected denial at the per-epic cap")
	}
}

func TestCanHoldDeniesOpenCircuit(t *testing.T) {
	fs := &fakeStore{state: model.SafetyState{CircuitOpen: true}}
	g := New(fs, "p", testCfg())
	d, err := g.CanHold(1, model.CeremonyRetrospective, false, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow {
		t.Fatal("expected denial when circuit is open")
	}
}

func TestCanHoldDeniesDuringCooldown(t *testing.T) {
	last := model.Ceremony{HeldAt: time.Now().Add(-1 * time.Hour), Outcome: model.OutcomeSuccess}
	fs := &fakeStore{lastHeld: &last}
	g := New(fs, "p", testCfg())
	d, err := g.CanHold(1, model.CeremonyStandup, false, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow {
		t.Fatal("expected denial within the 12h standup cooldown")
	}
}

func TestManualHoldBypassesCooldownButNotCap(t *testing.T) {
	last := model.Ceremony{HeldAt: time.Now().Add(-1 * time.Minute), Outcome: model.OutcomeSuccess}
	fs := &fakeStore{lastHeld: &last}
	g := New(fs, "p", testCfg())
	d, err := g.CanHold(1, model.CeremonyStandup, true, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow {
		t.Fatalf("expected manual hold to bypass cooldown, got deny: %s", d.Reason)
	}

	fs.total = 10
	d, err = g.CanHold(1, model.CeremonyStandup, true, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.Allow {
		t.Fatal("expected manual hold to still respect the per-epic cap")
	}
}

func TestCanHoldAllowsAfterCooldownElapsed(t *testing.T) {
	last := model.Ceremony{HeldAt: time.Now().Add(-25 * time.Hour), Outcome: model.OutcomeSuccess}
	fs := &fakeStore{lastHeld: &last}
	g := New(fs, "p", testCfg())
	d, err := g.CanHold(1, model.CeremonyPlanning, false, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allow {
		t.Fatalf("expected allow once the 24h planning cooldown has elapsed, got deny: %s", d.Reason)
	}
}
