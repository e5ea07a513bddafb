package workflow

import (
	"testing"
)

var devProfile = AgentProfile{
	Name:        "dev",
	Default:     true,
	MatchLabels: []string{"dev", "code", "feature", "bug"},
	MatchTypes:  []string{"story", "bug", "feature"},
	Stages: []Stage{
		{Name: "implement", Role: "coder", PromptTemplate: "implement", AutoAdvance: true},
		{Name: "test", Role: "reviewer", PromptTemplate: "test", Gate: "go test ./..."},
		{Name: "review", Role: "reviewer", PromptTemplate: "review", Tier: "premium"},
	},
}

var contentProfile = AgentProfile{
	Name:        "content",
	MatchLabels: []string{"docs", "content", "blog"},
	MatchTypes:  []string{},
	Stages: []Stage{
		{Name: "draft", Role: "coder", PromptTemplate: "draft"},
		{Name: "edit", Role: "reviewer", PromptTemplate: "edit"},
	},
}

func TestStageIndex(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"implement", 0},
		{"test", 1},
		{"review", 2},
		{"nonexistent", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := devProfile.StageIndex(tt.name)
			if got != tt.want {
				t.Errorf("StageIndex(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestNextStage(t *testing.T) {
	next := devProfile.NextStage("implement")
	if next == nil || next.Name != "test" {
		t.Errorf("NextStage(implement) = %v, want test", next)
	}

	next = devProfile.NextStage("test")
	if next == nil || next.Name != "review" {
		t.Errorf("NextStage(test) = %v, want review", next)
	}

	next = devProfile.NextStage("review")
	if next != nil {
		t.Errorf("NextStage(review) = %v, want nil", next)
	}

	next = devProfile.NextStage("nonexistent")
	if next != nil {
		t.Errorf("NextStage(nonexistent) = %v, want nil", next)
	}
}

func TestFirstLastStage(t *testing.T) {
	first := devProfile.FirstStage()
	if first == nil || first.Name != "implement" {
		t.Errorf("FirstStage() = %v, want implement", first)
	}

	last := devProfile.LastStage()
	if last == nil || last.Name != "review" {
		t.Errorf("LastStage() = %v, want review", last)
	}

	empty := AgentProfile{Name: "empty"}
	if empty.FirstStage() != nil {
		t.Error("empty.FirstStage() should be nil")
	}
	if empty.LastStage() != nil {
		t.Error("empty.LastStage() should be nil")
	}
}

func TestMatchesWork(t *testing.T) {
	tests := []struct {
		name      string
		workKind  string
		labels    []string
		wantMatch bool
	}{
		{"type match", "story", nil, true},
		{"type match bug", "bug", nil, true},
		{"label match", "epic", []string{"code"}, true},
		{"label match feature", "epic", []string{"feature"}, true},
		{"no match", "epic", []string{"trading"}, false},
		{"no match empty", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := devProfile.MatchesWork(tt.workKind, tt.labels)
			if got != tt.wantMatch {
				t.Errorf("MatchesWork(%q, %v) = %v, want %v", tt.workKind, tt.labels, got, tt.wantMatch)
			}
		})
	}
}

func TestProfileCatalog(t *testing.T) {
	cat := NewProfileCatalog([]AgentProfile{devProfile, contentProfile})

	if p := cat.Get("dev"); p == nil || p.Name != "dev" {
		t.Errorf("Get(dev) = %v, want dev profile", p)
	}
	if p := cat.Get("content"); p == nil || p.Name != "content" {
		t.Errorf("Get(content) = %v, want content profile", p)
	}
	if p := cat.Get("nonexistent"); p != nil {
		t.Errorf("Get(nonexistent) = %v, want nil", p)
	}

	if p := cat.Default(); p == nil || p.Name != "dev" {
		t.Errorf("Default() = %v, want dev", p)
	}

	names := cat.Names()
	if len(names) != 2 {
		t.Errorf("Names() has %d items, want 2", len(names))
	}
}

func TestProfileCatalogResolve(t *testing.T) {
	cat := NewProfileCatalog([]AgentProfile{devProfile, contentProfile})

	p := cat.Resolve("story", nil)
	if p == nil || p.Name != "dev" {
		t.Errorf("Resolve(story) = %v, want dev", p)
	}

	p = cat.Resolve("epic", []string{"docs"})
	if p == nil || p.Name != "content" {
		t.Errorf("Resolve(epic, [docs]) = %v, want content", p)
	}

	p = cat.Resolve("epic", []string{"trading"})
	if p == nil || p.Name != "dev" {
		t.Errorf("Resolve(epic, [trading]) = %v, want dev (default)", p)
	}
}
